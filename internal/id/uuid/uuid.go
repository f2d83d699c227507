// Package uuid generates session and task identifiers.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator creates time-ordered UUIDv7 identifiers so sessions and tasks
// sort by creation time in logs and storage.
type Generator struct{}

// New creates a new Generator.
func New() *Generator {
	return &Generator{}
}

// NewRawID returns a UUIDv7.
func (Generator) NewRawID() (uuid.UUID, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.Nil, fmt.Errorf("generate uuid7: %w", err)
	}
	return id, nil
}
