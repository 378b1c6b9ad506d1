package testutil

import (
	"fmt"
	"sync/atomic"
)

// SequentialIDs generates session IDs "<prefix>-0001", "<prefix>-0002", ...
//
// Tests use it instead of UUIDv7 so that stored traces and golden output
// are reproducible.
//
// Thread-safety: SequentialIDs is safe for concurrent use.
type SequentialIDs struct {
	prefix string
	n      atomic.Uint64
}

// NewSequentialIDs creates a generator. An empty prefix means "session".
func NewSequentialIDs(prefix string) *SequentialIDs {
	if prefix == "" {
		prefix = "session"
	}
	return &SequentialIDs{prefix: prefix}
}

// Generate returns the next ID.
func (g *SequentialIDs) Generate() string {
	return fmt.Sprintf("%s-%04d", g.prefix, g.n.Add(1))
}
