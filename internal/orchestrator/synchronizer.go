// Package orchestrator coordinates the task constellation: it serializes
// graph mutation against device result callbacks, drives the lifecycle state
// machine, and dispatches ready tasks to eligible devices.
package orchestrator

import (
	"sync"
)

// Synchronizer hands out per-constellation exclusive sections. Structural
// edits, ready-set recomputation, and terminal-state checks for one
// constellation all run inside its section and therefore never interleave;
// sections for different constellations are independent locks and never
// block each other.
type Synchronizer struct {
	mu       sync.Mutex
	sections map[string]*sync.Mutex
}

// NewSynchronizer creates an empty Synchronizer.
func NewSynchronizer() *Synchronizer {
	return &Synchronizer{sections: make(map[string]*sync.Mutex)}
}

// WithExclusive runs fn while holding the exclusive section for the given
// constellation. The section must only contain short data operations; network
// I/O belongs outside it.
func (s *Synchronizer) WithExclusive(constellationID string, fn func() error) error {
	sec := s.section(constellationID)
	sec.Lock()
	defer sec.Unlock()
	return fn()
}

func (s *Synchronizer) section(constellationID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	sec, ok := s.sections[constellationID]
	if !ok {
		sec = &sync.Mutex{}
		s.sections[constellationID] = sec
	}
	return sec
}

// Forget drops the section for a constellation that has been archived.
func (s *Synchronizer) Forget(constellationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sections, constellationID)
}
