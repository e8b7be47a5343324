package media

import (
	"context"
	"strings"
	"testing"
)

func TestDataURLAddsPrefixOnce(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"raw base64", "aGVsbG8=", "data:image/png;base64,aGVsbG8="},
		{"already a data url", "data:image/jpeg;base64,aGVsbG8=", "data:image/jpeg;base64,aGVsbG8="},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := DataURL(tc.in); got != tc.want {
				t.Fatalf("got %q want %q", got, tc.want)
			}
		})
	}
}

func TestNilScreenshotsFallsBackToInline(t *testing.T) {
	var s *Screenshots
	got, err := s.URL(context.Background(), "post-1", "aGVsbG8=")
	if err != nil {
		t.Fatalf("url: %v", err)
	}
	if !strings.HasPrefix(got, "data:image/png;base64,") {
		t.Fatalf("expected inline data url, got %q", got)
	}
}

func TestURLEmptyInlineIsEmpty(t *testing.T) {
	var s *Screenshots
	got, err := s.URL(context.Background(), "post-1", "")
	if err != nil || got != "" {
		t.Fatalf("expected empty url, got %q err=%v", got, err)
	}
}

func TestDecodeInlineStripsDataPrefix(t *testing.T) {
	raw, err := decodeInline("data:image/png;base64,aGVsbG8=")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(raw) != "hello" {
		t.Fatalf("decoded %q", raw)
	}
	if _, err := decodeInline("!!not-base64!!"); err == nil {
		t.Fatal("expected decode error")
	}
}
