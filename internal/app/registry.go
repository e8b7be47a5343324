package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"mathgamified/internal/docstore"
)

const teachersCollection = "teachers"

// TeacherRecord is a pre-provisioned registry entry. A teacher may only
// register or sign in when a record for their email already exists; uid stays
// empty until the first successful sign-in or registration binds it, and is
// immutable afterwards.
type TeacherRecord struct {
	ID         string
	UID        string
	Email      string
	EmailLower string
	Status     string
	LastActive time.Time
}

// registry reads and binds TeacherRecords in the teachers collection.
type registry struct {
	docs   docstore.Store
	logger *slog.Logger
}

// lookup finds the record by normalized email, falling back to the exact
// email as stored. A missing record is ErrUnregisteredAccount.
func (r *registry) lookup(ctx context.Context, emailLower, exact string) (TeacherRecord, error) {
	rec, err := r.byField(ctx, "emailLower", emailLower)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, ErrUnregisteredAccount) {
		return TeacherRecord{}, err
	}
	return r.byField(ctx, "email", exact)
}

// lookupExact finds the record by the email exactly as entered. Registration
// deliberately skips the normalized fallback: the admin-entered email is the
// contract.
func (r *registry) lookupExact(ctx context.Context, email string) (TeacherRecord, error) {
	return r.byField(ctx, "email", email)
}

func (r *registry) byField(ctx context.Context, field, value string) (TeacherRecord, error) {
	if value == "" {
		return TeacherRecord{}, ErrUnregisteredAccount
	}
	docs, err := r.docs.Get(ctx, teachersCollection, docstore.Query{
		FilterField: field,
		FilterValue: value,
	})
	if err != nil {
		return TeacherRecord{}, fmt.Errorf("teacher lookup by %s: %w", field, err)
	}
	if len(docs) == 0 {
		return TeacherRecord{}, ErrUnregisteredAccount
	}
	doc := docs[0]
	return TeacherRecord{
		ID:         doc.ID,
		UID:        doc.String("uid"),
		Email:      doc.String("email"),
		EmailLower: doc.String("emailLower"),
		Status:     doc.String("status"),
		LastActive: doc.Time("lastActive"),
	}, nil
}

// bind merge-writes the uid and normalized email onto an unbound record.
func (r *registry) bind(ctx context.Context, rec TeacherRecord, uid, emailLower string, extra map[string]any) error {
	fields := map[string]any{
		"uid":        uid,
		"emailLower": emailLower,
	}
	for k, v := range extra {
		fields[k] = v
	}
	if err := r.docs.Set(ctx, teachersCollection, rec.ID, fields, true); err != nil {
		return fmt.Errorf("bind teacher record %s: %w", rec.ID, err)
	}
	return nil
}
