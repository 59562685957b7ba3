package testutil

import (
	"fmt"
	"sync"
)

// IDSequence generates sequential execution ids with a fixed prefix.
//
// Unlike the engine's default UUIDv7 generator, IDSequence produces the
// same ids on every run ("exec-000001", "exec-000002", ...), so traces
// that embed execution ids can be compared against golden files.
//
// Thread-safety: all methods are safe for concurrent use.
type IDSequence struct {
	mu     sync.Mutex
	prefix string
	n      int64
}

// NewIDSequence creates a sequence with the given prefix. An empty
// prefix defaults to "exec".
func NewIDSequence(prefix string) *IDSequence {
	if prefix == "" {
		prefix = "exec"
	}
	return &IDSequence{prefix: prefix}
}

// Next returns the next id in the sequence. The first call returns
// "<prefix>-000001".
func (s *IDSequence) Next() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("%s-%06d", s.prefix, s.n)
}

// Reset rewinds the sequence. After Reset the next call to Next returns
// "<prefix>-000001" again.
func (s *IDSequence) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n = 0
}
