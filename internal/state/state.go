// Package state persists and restores the JobQueue snapshot, mirroring
// original_source/src/state.rs: a single pretty-printed JSON file,
// rewritten in full after every successful mutation. A missing or
// unparseable state file is never fatal — the daemon falls back to an
// empty queue and logs a warning, matching State::from / State::load_queue.
package state

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/ikmb/qmanager/internal/job"
)

// defaultLastID mirrors state.rs::DEFAULT_STATE_LAST_ID: the first
// submitted job after a fresh start gets id 1.
const defaultLastID = job.ID(0)

// Store configures the on-disk location of the program state.
type Store struct {
	path string
}

// New returns a Store bound to path. It performs no I/O.
func New(path string) *Store {
	return &Store{path: path}
}

// Load reads the queue snapshot from disk. If the file does not exist, a
// fresh empty queue is returned and a warning logged. If the file exists
// but cannot be parsed, the same fallback applies — the source never
// overwrites the unparseable file, it simply proceeds with empty state
// until the next successful save recreates it.
func (s *Store) Load() *job.JobQueue {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Warn("state file does not exist, starting from an empty queue", "path", s.path)
		} else {
			slog.Error("cannot read state file, starting from an empty queue", "path", s.path, "error", err)
		}
		return job.NewQueue()
	}

	var snap job.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		slog.Warn("could not parse state file, starting from an empty queue", "path", s.path, "error", err)
		return job.NewQueue()
	}

	q := job.NewQueue()
	q.Restore(snap)
	slog.Debug("loaded program state", "path", s.path, "last_id", snap.LastID)
	return q
}

// Save rewrites the state file with the full contents of q. The write is
// a truncate-and-rewrite, not an atomic replace; spec.md §9 records this
// as an open question the source leaves as-is (a crash mid-write leaves a
// truncated/corrupt file, which Load treats as unparseable and recovers
// from, safely but with data loss). Failures are logged and returned so
// the caller can decide whether they are fatal; the supervisor treats
// them as non-fatal per spec.md §7.
func (s *Store) Save(q *job.JobQueue) error {
	f, err := os.Create(s.path)
	if err != nil {
		slog.Error("cannot create or open state file", "path", s.path, "error", err)
		return fmt.Errorf("create state file: %w", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(q.Export()); err != nil {
		slog.Error("cannot write state file", "path", s.path, "error", err)
		return fmt.Errorf("write state file: %w", err)
	}
	slog.Debug("state file updated", "path", s.path)
	return nil
}
