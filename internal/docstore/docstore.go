package docstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when a document id does not exist in a collection.
	ErrNotFound = errors.New("document not found")

	// ErrIndexRequired is returned when a filtered + ordered query needs a
	// composite index the backend does not have. Callers are expected to fall
	// back to an unfiltered fetch and apply the query in memory.
	ErrIndexRequired = errors.New("query requires a composite index")
)

// Query narrows a collection read: at most one equality filter and one order
// field. The zero value fetches the whole collection.
type Query struct {
	FilterField string
	FilterValue any
	OrderBy     string
	Descending  bool
}

// Document is a schemaless record from a collection.
type Document struct {
	ID     string
	Fields map[string]any
}

// Store is the document database boundary. Collections are addressed by
// path, so "community_posts/<id>/comments" names a subcollection.
type Store interface {
	Get(ctx context.Context, collection string, q Query) ([]Document, error)
	GetDoc(ctx context.Context, collection, id string) (Document, error)
	Add(ctx context.Context, collection string, fields map[string]any) (string, error)
	// Update rewrites named fields of an existing document; missing id is ErrNotFound.
	Update(ctx context.Context, collection, id string, fields map[string]any) error
	// Set writes a document at a known id. With merge it only touches the named
	// fields and creates the document when absent.
	Set(ctx context.Context, collection, id string, fields map[string]any, merge bool) error
	Delete(ctx context.Context, collection, id string) error
}

// String returns a field as string, or empty when absent or another type.
func (d Document) String(key string) string {
	s, _ := d.Fields[key].(string)
	return s
}

// Bool returns a field as bool.
func (d Document) Bool(key string) bool {
	b, _ := d.Fields[key].(bool)
	return b
}

// Int returns a numeric field as int, tolerating float64 from JSON decoding.
func (d Document) Int(key string) int {
	switch v := d.Fields[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

// Time returns a timestamp field, accepting time.Time or an RFC3339 string.
func (d Document) Time(key string) time.Time {
	switch v := d.Fields[key].(type) {
	case time.Time:
		return v
	case string:
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return t
		}
	}
	return time.Time{}
}

// Apply evaluates a query against already-fetched documents. Both adapters
// and the in-memory fallback path of loaders share this so filter and sort
// semantics never diverge.
func Apply(docs []Document, q Query) []Document {
	out := docs
	if q.FilterField != "" {
		out = make([]Document, 0, len(docs))
		for _, d := range docs {
			if fieldEquals(d.Fields[q.FilterField], q.FilterValue) {
				out = append(out, d)
			}
		}
	}
	if q.OrderBy != "" {
		sorted := make([]Document, len(out))
		copy(sorted, out)
		sort.SliceStable(sorted, func(i, j int) bool {
			less := fieldLess(sorted[i].Fields[q.OrderBy], sorted[j].Fields[q.OrderBy])
			if q.Descending {
				return fieldLess(sorted[j].Fields[q.OrderBy], sorted[i].Fields[q.OrderBy])
			}
			return less
		})
		out = sorted
	}
	return out
}

func fieldEquals(a, b any) bool {
	if a == nil || b == nil {
		return a == b
	}
	if fa, aok := toFloat(a); aok {
		if fb, bok := toFloat(b); bok {
			return fa == fb
		}
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

// fieldLess orders numbers numerically, times chronologically and everything
// else lexically. Missing values sort first.
func fieldLess(a, b any) bool {
	if a == nil {
		return b != nil
	}
	if b == nil {
		return false
	}
	if fa, aok := toFloat(a); aok {
		if fb, bok := toFloat(b); bok {
			return fa < fb
		}
	}
	if ta, aok := toTime(a); aok {
		if tb, bok := toTime(b); bok {
			return ta.Before(tb)
		}
	}
	return strings.Compare(fmt.Sprintf("%v", a), fmt.Sprintf("%v", b)) < 0
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	}
	return 0, false
}

func toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		if parsed, err := time.Parse(time.RFC3339, t); err == nil {
			return parsed, true
		}
	}
	return time.Time{}, false
}
