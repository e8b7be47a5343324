// Package media offloads inline screenshot data from community posts to
// S3-compatible object storage. Posts store screenshots as base64 blobs; the
// dashboard serves them as short-lived presigned URLs instead of re-sending
// megabytes of inline data on every thread load.
package media

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const presignExpiry = 15 * time.Minute

// Screenshots uploads and signs screenshot objects. A nil *Screenshots is
// valid: callers then fall back to inline data URLs.
type Screenshots struct {
	client *minio.Client
	bucket string
}

// NewScreenshots connects to object storage and ensures the bucket exists.
func NewScreenshots(endpoint, accessKey, secretKey, bucket string, useSSL bool) (*Screenshots, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("init object storage client: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}
	return &Screenshots{client: client, bucket: bucket}, nil
}

// URL returns a presigned URL for a post's screenshot, uploading it first
// when the object does not exist yet. With no object storage configured it
// returns the inline data URL unchanged.
func (s *Screenshots) URL(ctx context.Context, postID, inlineBase64 string) (string, error) {
	if inlineBase64 == "" {
		return "", nil
	}
	if s == nil {
		return DataURL(inlineBase64), nil
	}
	key := "screenshots/" + postID + ".png"
	if _, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{}); err != nil {
		raw, decErr := decodeInline(inlineBase64)
		if decErr != nil {
			return "", decErr
		}
		_, err = s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(raw), int64(len(raw)),
			minio.PutObjectOptions{ContentType: "image/png"})
		if err != nil {
			return "", fmt.Errorf("upload screenshot: %w", err)
		}
	}
	url, err := s.client.PresignedGetObject(ctx, s.bucket, key, presignExpiry, nil)
	if err != nil {
		return "", fmt.Errorf("presign screenshot: %w", err)
	}
	return url.String(), nil
}

// DataURL normalizes an inline screenshot to a browser-usable data URL.
// Stored values may or may not already carry the data: prefix.
func DataURL(inlineBase64 string) string {
	if strings.HasPrefix(inlineBase64, "data:image/") {
		return inlineBase64
	}
	return "data:image/png;base64," + inlineBase64
}

func decodeInline(inlineBase64 string) ([]byte, error) {
	payload := inlineBase64
	if idx := strings.Index(payload, ","); strings.HasPrefix(payload, "data:") && idx >= 0 {
		payload = payload[idx+1:]
	}
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("decode screenshot data: %w", err)
	}
	return raw, nil
}
