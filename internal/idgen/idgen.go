// Package idgen produces the write-correlation identifiers used to tie every
// row in one atomic write group together (spec.md C9). Each id is a 128-bit
// value: a random base with its low 8 bytes overwritten by a process-global
// monotonic counter seeded from wall-clock time at process start, so ids
// minted on the same host compare consistently by insertion order in common
// SQL collations without a central allocator.
package idgen

import (
	"encoding/binary"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Generator mints write-uuids. The zero value is not usable; use New.
type Generator struct {
	counter atomic.Uint64
}

// New creates a Generator whose counter is seeded from the current wall
// clock, expressed as nanoseconds since the Unix epoch. Counter wraparound
// relative to wall clock across process restarts is tolerated: ids remain
// unique within a process lifetime (the random upper bytes dominate
// cross-process collisions), and ordering only needs to hold within the
// life of one write batch.
func New() *Generator {
	g := &Generator{}
	g.counter.Store(uint64(time.Now().UnixNano()))
	return g
}

// Next returns the next write-uuid: a fresh random uuid.UUID with its low 8
// bytes replaced by the next value of the monotonic counter.
func (g *Generator) Next() uuid.UUID {
	id := uuid.New()
	n := g.counter.Add(1)
	binary.BigEndian.PutUint64(id[8:], n)
	return id
}
