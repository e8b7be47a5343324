// Package loader fetches backend collections and shapes them into the view
// models the dashboard renders. Loaders are thin consumers of the document
// store; they never own state beyond their dependencies.
package loader

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"mathgamified/internal/docstore"
	"mathgamified/internal/identity"
	"mathgamified/internal/media"
)

const postsCollection = "community_posts"

// ErrEmptyMessage is returned when a comment has no content after trimming.
var ErrEmptyMessage = errors.New("message must not be empty")

// Thread is the list/detail view model for a community post. Only posts that
// are questions or carry a screenshot are visible on the dashboard.
type Thread struct {
	ID            string    `json:"id"`
	Author        string    `json:"author"`
	Grade         string    `json:"grade"`
	Message       string    `json:"message,omitempty"`
	ScreenshotURL string    `json:"screenshotUrl,omitempty"`
	Question      bool      `json:"question"`
	Posted        time.Time `json:"posted"`
}

// Kind labels the post for rendering: screenshot posts get their own styling.
func (t Thread) Kind() string {
	if t.ScreenshotURL != "" {
		return "Screenshot"
	}
	return "Discussion"
}

// Comment is a response inside a thread.
type Comment struct {
	ID     string    `json:"id"`
	Author string    `json:"author"`
	Grade  string    `json:"grade"`
	Message string   `json:"message"`
	Posted time.Time `json:"posted"`
}

// ThreadDetail is a thread together with its ordered responses.
type ThreadDetail struct {
	Thread   Thread    `json:"thread"`
	Comments []Comment `json:"comments"`
}

// Threads loads the community forum collections.
type Threads struct {
	docs   docstore.Store
	shots  *media.Screenshots
	logger *slog.Logger
}

// NewThreads builds the forum loader. shots may be nil; screenshots are then
// served inline.
func NewThreads(docs docstore.Store, shots *media.Screenshots, logger *slog.Logger) *Threads {
	if logger == nil {
		logger = slog.Default()
	}
	return &Threads{docs: docs, shots: shots, logger: logger}
}

// Load returns visible posts, newest first.
func (l *Threads) Load(ctx context.Context) ([]Thread, error) {
	docs, err := l.docs.Get(ctx, postsCollection, docstore.Query{
		OrderBy:    "timestamp",
		Descending: true,
	})
	if err != nil {
		return nil, err
	}
	threads := make([]Thread, 0, len(docs))
	for _, doc := range docs {
		inline := doc.String("imageBase64")
		if !doc.Bool("question") && inline == "" {
			continue
		}
		threads = append(threads, l.toThread(ctx, doc, inline))
	}
	return threads, nil
}

// Detail fetches a thread and its comments concurrently.
func (l *Threads) Detail(ctx context.Context, threadID string) (ThreadDetail, error) {
	var (
		detail ThreadDetail
		g, gctx = errgroup.WithContext(ctx)
	)
	g.Go(func() error {
		doc, err := l.docs.GetDoc(gctx, postsCollection, threadID)
		if err != nil {
			return err
		}
		detail.Thread = l.toThread(gctx, doc, doc.String("imageBase64"))
		return nil
	})
	g.Go(func() error {
		comments, err := l.Comments(gctx, threadID)
		if err != nil {
			return err
		}
		detail.Comments = comments
		return nil
	})
	if err := g.Wait(); err != nil {
		return ThreadDetail{}, err
	}
	return detail, nil
}

// Comments returns a thread's responses, oldest first.
func (l *Threads) Comments(ctx context.Context, threadID string) ([]Comment, error) {
	docs, err := l.docs.Get(ctx, commentsCollection(threadID), docstore.Query{
		OrderBy: "timestamp",
	})
	if err != nil {
		return nil, err
	}
	comments := make([]Comment, 0, len(docs))
	for _, doc := range docs {
		comments = append(comments, Comment{
			ID:      doc.ID,
			Author:  fallback(doc.String("userName"), "Anonymous"),
			Grade:   doc.String("userGrade"),
			Message: doc.String("message"),
			Posted:  doc.Time("timestamp"),
		})
	}
	return comments, nil
}

// PostComment adds a response authored by the signed-in teacher.
func (l *Threads) PostComment(ctx context.Context, threadID string, author identity.Identity, message string) (Comment, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return Comment{}, ErrEmptyMessage
	}
	if _, err := l.docs.GetDoc(ctx, postsCollection, threadID); err != nil {
		return Comment{}, err
	}
	now := time.Now().UTC()
	id, err := l.docs.Add(ctx, commentsCollection(threadID), map[string]any{
		"message":         message,
		"userName":        author.Email,
		"userId":          author.UID,
		"userGrade":       "Teacher",
		"timestamp":       now,
		"avatarIndex":     0,
		"parentCommentId": nil,
	})
	if err != nil {
		return Comment{}, err
	}
	return Comment{
		ID:      id,
		Author:  author.Email,
		Grade:   "Teacher",
		Message: message,
		Posted:  now,
	}, nil
}

func (l *Threads) toThread(ctx context.Context, doc docstore.Document, inline string) Thread {
	t := Thread{
		ID:       doc.ID,
		Author:   fallback(doc.String("userName"), "Anonymous"),
		Grade:    fallback(doc.String("userGrade"), "Grade 4"),
		Message:  doc.String("message"),
		Question: doc.Bool("question"),
		Posted:   doc.Time("timestamp"),
	}
	if inline == "" {
		return t
	}
	url, err := l.shots.URL(ctx, doc.ID, inline)
	if err != nil {
		l.logger.Warn("screenshot offload failed, serving inline", "post", doc.ID, "err", err)
		url = media.DataURL(inline)
	}
	t.ScreenshotURL = url
	return t
}

func commentsCollection(threadID string) string {
	return postsCollection + "/" + threadID + "/comments"
}

func fallback(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
