package loader

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"mathgamified/internal/docstore"
	"mathgamified/internal/identity"
)

const pointsCollection = "teacher_points"

// Points keeps per-teacher score records.
type Points struct {
	docs   docstore.Store
	logger *slog.Logger
}

func NewPoints(docs docstore.Store, logger *slog.Logger) *Points {
	if logger == nil {
		logger = slog.Default()
	}
	return &Points{docs: docs, logger: logger}
}

// Ensure creates the teacher's points record when missing. An existing record
// is never touched, so accumulated points survive repeated sign-ins.
func (p *Points) Ensure(ctx context.Context, id identity.Identity) error {
	_, err := p.docs.GetDoc(ctx, pointsCollection, id.UID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, docstore.ErrNotFound) {
		return err
	}
	name := id.Email
	if at := strings.Index(name, "@"); at > 0 {
		name = name[:at]
	}
	return p.docs.Set(ctx, pointsCollection, id.UID, map[string]any{
		"email":       id.Email,
		"name":        name,
		"points":      0,
		"lastUpdated": time.Now().UTC(),
	}, false)
}
