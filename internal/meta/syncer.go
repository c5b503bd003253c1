package meta

import "sync"

// Syncer holds the single shared checkpoint position for a running
// pipeline: the pipeline writes it after every successfully-sunk commit,
// the extractor reads it to decide what to acknowledge on its next
// heartbeat (spec.md §4.1/§4.4). One Syncer is shared between exactly one
// extractor and one pipeline.
type Syncer struct {
	mu       sync.Mutex
	position Position
}

func NewSyncer() *Syncer {
	return &Syncer{}
}

// Set stores pos as the current checkpoint. Callers (the pipeline) are
// responsible for only calling this after a commit's sinks have all
// succeeded; Syncer itself does not enforce monotonicity, matching
// ape-dts's Syncer which trusts its single writer.
func (s *Syncer) Set(pos Position) {
	s.mu.Lock()
	s.position = pos
	s.mu.Unlock()
}

// Get returns the current checkpoint position.
func (s *Syncer) Get() Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.position
}
