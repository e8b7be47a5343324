package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DocumentModel is the GORM row backing one document. Fields live in a JSONB
// column so collections stay schemaless, matching the hosted document
// database this service was written against.
type DocumentModel struct {
	Collection string         `gorm:"primaryKey;size:512"`
	DocID      string         `gorm:"primaryKey;size:128"`
	Data       datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt  time.Time      `gorm:"not null;index"`
	UpdatedAt  time.Time      `gorm:"not null"`
}

// TableName keeps the table name stable across GORM naming strategies.
func (DocumentModel) TableName() string { return "documents" }

// GormStore implements Store using GORM + Postgres.
//
// Queries are answered by fetching the collection and applying filter/sort in
// memory. That mirrors the tolerate-missing-index contract of the upstream
// document database and keeps value comparisons identical to MemoryStore.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.AutoMigrate(&DocumentModel{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return &GormStore{db: db}, nil
}

// Get returns the documents of a collection matching the query.
func (s *GormStore) Get(ctx context.Context, collection string, q Query) ([]Document, error) {
	var models []DocumentModel
	err := s.db.WithContext(ctx).
		Where("collection = ?", collection).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	docs := make([]Document, 0, len(models))
	for _, m := range models {
		doc, err := docFromModel(m)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return Apply(docs, q), nil
}

// GetDoc returns a single document by id.
func (s *GormStore) GetDoc(ctx context.Context, collection, id string) (Document, error) {
	var model DocumentModel
	err := s.db.WithContext(ctx).
		First(&model, "collection = ? AND doc_id = ?", collection, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Document{}, ErrNotFound
		}
		return Document{}, err
	}
	return docFromModel(model)
}

// Add stores a new document under a generated id.
func (s *GormStore) Add(ctx context.Context, collection string, fields map[string]any) (string, error) {
	id := NewDocID()
	if err := s.Set(ctx, collection, id, fields, false); err != nil {
		return "", err
	}
	return id, nil
}

// Update rewrites named fields of an existing document.
func (s *GormStore) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	if _, err := s.GetDoc(ctx, collection, id); err != nil {
		return err
	}
	return s.Set(ctx, collection, id, fields, true)
}

// Set writes a document at a known id, merging when requested.
func (s *GormStore) Set(ctx context.Context, collection, id string, fields map[string]any, merge bool) error {
	write := fields
	if merge {
		existing, err := s.GetDoc(ctx, collection, id)
		if err == nil {
			merged := make(map[string]any, len(existing.Fields)+len(fields))
			for k, v := range existing.Fields {
				merged[k] = v
			}
			for k, v := range fields {
				merged[k] = v
			}
			write = merged
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}
	}
	data, err := json.Marshal(normalizeFields(write))
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	model := DocumentModel{
		Collection: collection,
		DocID:      id,
		Data:       datatypes.JSON(data),
		CreatedAt:  time.Now().UTC(),
		UpdatedAt:  time.Now().UTC(),
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "collection"}, {Name: "doc_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"data", "updated_at"}),
	}).Create(&model).Error
}

// Delete removes a document; deleting a missing id is ErrNotFound.
func (s *GormStore) Delete(ctx context.Context, collection, id string) error {
	res := s.db.WithContext(ctx).
		Delete(&DocumentModel{}, "collection = ? AND doc_id = ?", collection, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func docFromModel(m DocumentModel) (Document, error) {
	fields := make(map[string]any)
	if len(m.Data) > 0 {
		if err := json.Unmarshal(m.Data, &fields); err != nil {
			return Document{}, fmt.Errorf("decode document %s/%s: %w", m.Collection, m.DocID, err)
		}
	}
	return Document{ID: m.DocID, Fields: fields}, nil
}

// normalizeFields converts time values to RFC3339 strings so JSON round-trips
// compare the same way in both store implementations.
func normalizeFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		if t, ok := v.(time.Time); ok {
			out[k] = t.UTC().Format(time.RFC3339Nano)
			continue
		}
		out[k] = v
	}
	return out
}
