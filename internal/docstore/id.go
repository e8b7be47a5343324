package docstore

import "github.com/google/uuid"

// NewDocID returns a random identifier for a new document.
func NewDocID() string {
	return uuid.New().String()
}
