package engine

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"a2e/internal/domain"
)

// RunLog is the append-only record of every decision made during a run.
// Entries are never modified or removed once appended, so two runs over the
// same inputs serialize to identical bytes.
type RunLog struct {
	mu      sync.Mutex
	entries []domain.RunEntry
}

// NewRunLog creates an empty run log.
func NewRunLog() *RunLog {
	return &RunLog{}
}

// Append records one entry.
func (rl *RunLog) Append(e domain.RunEntry) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.entries = append(rl.entries, e)
}

// Len returns the number of recorded entries.
func (rl *RunLog) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.entries)
}

// Entries returns a copy of the recorded entries in append order.
func (rl *RunLog) Entries() []domain.RunEntry {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	out := make([]domain.RunEntry, len(rl.entries))
	copy(out, rl.entries)
	return out
}

// WriteJSONL serializes the log as one JSON object per line, in append
// order. The encoding is deterministic for identical logs.
func (rl *RunLog) WriteJSONL(w io.Writer) error {
	enc := json.NewEncoder(w)
	for i, e := range rl.Entries() {
		if err := enc.Encode(e); err != nil {
			return fmt.Errorf("encoding run log entry %d: %w", i, err)
		}
	}
	return nil
}
