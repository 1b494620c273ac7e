package job

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Sentinel errors surfaced by queue store operations. The dispatcher maps
// these (via errors.Is) onto the wire-level Error response of spec.md §7.
var (
	ErrBadAppkey    = errors.New("appkey not found")
	ErrNotFound     = errors.New("job not found")
	ErrRunning      = errors.New("job is currently running")
	ErrIllegalState = errors.New("illegal queue state transition")
)

// Resolver maps the appkey (first whitespace-delimited token of a cmdline)
// to an absolute executable path. It is implemented by internal/appkey.Registry.
type Resolver interface {
	Resolve(cmdline string) (path string, rest string, err error)
}

// JobQueue is the in-memory container of queued, running, and finished
// jobs, guarded by its own lock so every public method is independently
// safe to call from dispatcher goroutines and the runner goroutine.
//
// queued is a strict FIFO ordered by submission (== by ID). running holds
// at most one job. finished is insertion (== completion) order.
type JobQueue struct {
	mu       sync.Mutex
	lastID   ID
	queued   []*Job
	running  *Job
	finished []*Job
}

// NewQueue returns an empty JobQueue with last_id = 0, matching
// state.rs::DEFAULT_STATE_LAST_ID so the first submitted job gets ID 1.
func NewQueue() *JobQueue {
	return &JobQueue{}
}

// Submit allocates the next ID, validates the cmdline's appkey against
// resolver, and appends a new Queued job. It returns ErrBadAppkey if the
// first token of cmdline is not a registered appkey.
func (q *JobQueue) Submit(cmdline string, resolver Resolver) (ID, error) {
	if strings.TrimSpace(cmdline) == "" {
		return 0, fmt.Errorf("%w: empty cmdline", ErrBadAppkey)
	}
	if _, _, err := resolver.Resolve(cmdline); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBadAppkey, err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	q.lastID++
	j := &Job{
		ID:        q.lastID,
		Cmdline:   cmdline,
		Status:    StatusQueued,
		Submitted: time.Now().UTC(),
	}
	q.queued = append(q.queued, j)
	return j.ID, nil
}

// NextPending returns the head of the queued sequence without removing it,
// or ok=false if the queue is empty.
func (q *JobQueue) NextPending() (j *Job, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.queued) == 0 {
		return nil, false
	}
	return q.queued[0].Clone(), true
}

// HasRunning reports whether a job is currently occupying the running slot.
func (q *JobQueue) HasRunning() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running != nil
}

// HasQueued reports whether the queued sequence is non-empty.
func (q *JobQueue) HasQueued() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queued) > 0
}

// MarkRunning moves the head of queued into the running slot. It fails if
// id does not match the queue head, or if the running slot is occupied.
func (q *JobQueue) MarkRunning(id ID, pid uint32, expandedCmdline string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.running != nil {
		return fmt.Errorf("%w: job #%d already running", ErrIllegalState, q.running.ID)
	}
	if len(q.queued) == 0 || q.queued[0].ID != id {
		return fmt.Errorf("%w: job #%d is not at the head of the queue", ErrNotFound, id)
	}

	j := q.queued[0]
	q.queued = q.queued[1:]

	now := time.Now().UTC()
	j.Status = StatusRunning
	j.Started = &now
	j.PID = &pid
	j.ExpandedCmdline = &expandedCmdline
	q.running = j
	return nil
}

// MarkFinished moves the running job into finished, recording its terminal
// status and captured output. It fails if id does not match the running slot.
func (q *JobQueue) MarkFinished(id ID, exit ExitStatus, stdout, stderr string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.running == nil || q.running.ID != id {
		return fmt.Errorf("%w: job #%d is not running", ErrNotFound, id)
	}

	j := q.running
	q.running = nil

	now := time.Now().UTC()
	j.Status = StatusTerminated
	j.ExitStatus = &exit
	j.Stdout = stdout
	j.Stderr = stderr
	j.Finished = &now
	j.PID = nil
	q.finished = append(q.finished, j)
	return nil
}

// Remove deletes the job with the given id from queued or finished and
// returns a copy of it. Removal of the running job is rejected with
// ErrRunning; an unknown id yields ErrNotFound.
func (q *JobQueue) Remove(id ID) (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.running != nil && q.running.ID == id {
		return nil, fmt.Errorf("%w: job #%d", ErrRunning, id)
	}

	for i, j := range q.queued {
		if j.ID == id {
			q.queued = append(q.queued[:i], q.queued[i+1:]...)
			return j.Clone(), nil
		}
	}
	for i, j := range q.finished {
		if j.ID == id {
			q.finished = append(q.finished[:i], q.finished[i+1:]...)
			return j.Clone(), nil
		}
	}
	return nil, fmt.Errorf("%w: job #%d", ErrNotFound, id)
}

// Kill returns the pid of the running job iff id matches the running slot.
func (q *JobQueue) Kill(id ID) (uint32, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.running == nil || q.running.ID != id {
		return 0, fmt.Errorf("%w: job #%d is not running", ErrNotFound, id)
	}
	if q.running.PID == nil {
		return 0, fmt.Errorf("%w: job #%d has no pid yet", ErrNotFound, id)
	}
	return *q.running.PID, nil
}

// Get returns a copy of the job with the given id, searching all three
// sequences, or ErrNotFound.
func (q *JobQueue) Get(id ID) (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.running != nil && q.running.ID == id {
		return q.running.Clone(), nil
	}
	for _, j := range q.queued {
		if j.ID == id {
			return j.Clone(), nil
		}
	}
	for _, j := range q.finished {
		if j.ID == id {
			return j.Clone(), nil
		}
	}
	return nil, fmt.Errorf("%w: job #%d", ErrNotFound, id)
}

// ListQueued returns the queued jobs followed by the running job, if any
// (spec.md's GetQueuedJobs == "queued ∪ running").
func (q *JobQueue) ListQueued() []*Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]*Job, 0, len(q.queued)+1)
	for _, j := range q.queued {
		out = append(out, j.Clone())
	}
	if q.running != nil {
		out = append(out, q.running.Clone())
	}
	return out
}

// ListFinished returns the finished jobs in completion order.
func (q *JobQueue) ListFinished() []*Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]*Job, 0, len(q.finished))
	for _, j := range q.finished {
		out = append(out, j.Clone())
	}
	return out
}

// ListAll returns every job known to the queue: queued, running, finished.
func (q *JobQueue) ListAll() []*Job {
	out := q.ListQueued()
	return append(out, q.ListFinished()...)
}

// LastID returns the highest ID ever assigned.
func (q *JobQueue) LastID() ID {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.lastID
}

// Snapshot is the full, serializable state of a JobQueue, used by
// internal/state to persist and restore it across restarts.
type Snapshot struct {
	LastID   ID     `json:"last_id"`
	Queued   []*Job `json:"queued"`
	Running  *Job   `json:"running"`
	Finished []*Job `json:"finished"`
}

// Export captures the current state as a Snapshot.
func (q *JobQueue) Export() Snapshot {
	q.mu.Lock()
	defer q.mu.Unlock()

	s := Snapshot{LastID: q.lastID}
	for _, j := range q.queued {
		s.Queued = append(s.Queued, j.Clone())
	}
	s.Running = q.running.Clone()
	for _, j := range q.finished {
		s.Finished = append(s.Finished, j.Clone())
	}
	return s
}

// Restore replaces the queue's contents with those of a Snapshot. Any job
// found in the running slot of a restored snapshot is treated as having
// been interrupted by a crash: it is requeued at the front of queued so it
// will be retried, matching the "safe but lossy" restart semantics
// described in spec.md §9.
func (q *JobQueue) Restore(s Snapshot) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.lastID = s.LastID
	q.finished = append([]*Job(nil), s.Finished...)
	q.queued = append([]*Job(nil), s.Queued...)
	if s.Running != nil {
		interrupted := s.Running.Clone()
		interrupted.Status = StatusQueued
		interrupted.Started = nil
		interrupted.PID = nil
		interrupted.ExpandedCmdline = nil
		q.queued = append([]*Job{interrupted}, q.queued...)
	}
	q.running = nil
}

// Len reports the number of jobs in each sequence, for tests and logging.
func (q *JobQueue) Len() (queued, running, finished int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	r := 0
	if q.running != nil {
		r = 1
	}
	return len(q.queued), r, len(q.finished)
}
