// Package uuid includes tests for the identifier generator.
package uuid

import (
	"testing"
)

// TestGeneratorNewRawIDUnique ensures generated IDs differ and order by time.
func TestGeneratorNewRawIDUnique(t *testing.T) {
	t.Parallel()

	gen := New()
	id1, err := gen.NewRawID()
	if err != nil {
		t.Fatalf("NewRawID() error = %v", err)
	}
	id2, err := gen.NewRawID()
	if err != nil {
		t.Fatalf("NewRawID() error = %v", err)
	}
	if id1 == id2 {
		t.Fatalf("expected unique IDs, got %s and %s", id1, id2)
	}
	if id1.String() > id2.String() {
		t.Fatalf("expected %s to sort before %s", id1, id2)
	}
}

// TestGeneratorNewRawIDIsVersion7 checks raw IDs are time-ordered v7 values.
func TestGeneratorNewRawIDIsVersion7(t *testing.T) {
	t.Parallel()

	gen := New()
	id, err := gen.NewRawID()
	if err != nil {
		t.Fatalf("NewRawID() error = %v", err)
	}
	if id.Version() != 7 {
		t.Fatalf("expected version 7, got %d", id.Version())
	}
}
