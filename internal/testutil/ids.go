package testutil

import (
	"fmt"
	"sync"
)

// SequentialIDGenerator generates predictable event IDs for tests.
//
// This enables deterministic test execution and golden snapshot comparison:
// the same scenario with the same generator produces byte-identical event
// logs. IDs take the form "<prefix>-000000001".
//
// Implements eventlog.IDGenerator.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type SequentialIDGenerator struct {
	mu     sync.Mutex
	prefix string
	n      int64
}

// NewSequentialIDGenerator creates a generator with the given prefix.
//
// If prefix is empty, "test-event" is used.
func NewSequentialIDGenerator(prefix string) *SequentialIDGenerator {
	if prefix == "" {
		prefix = "test-event"
	}
	return &SequentialIDGenerator{prefix: prefix}
}

// Generate returns the next ID in sequence.
func (g *SequentialIDGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%09d", g.prefix, g.n)
}

// FixedIDGenerator returns the same ID every time.
//
// Useful where a scenario needs all events to share one token rather than a
// sequence.
type FixedIDGenerator struct {
	token string
}

// NewFixedIDGenerator creates a fixed generator.
//
// If token is empty, Generate() returns "test-event-default".
func NewFixedIDGenerator(token string) *FixedIDGenerator {
	if token == "" {
		token = "test-event-default"
	}
	return &FixedIDGenerator{token: token}
}

// Generate returns the fixed token.
func (g *FixedIDGenerator) Generate() string {
	return g.token
}
