// Package queue implements the single-consumer execution supervisor
// described by spec.md §4/§5: exactly one job runs at a time, submissions
// and administrative state changes are accepted from any goroutine, and
// the consumer loop is woken whenever there is new work or a state change
// to react to.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"syscall"
	"time"

	"github.com/ikmb/qmanager/internal/appkey"
	"github.com/ikmb/qmanager/internal/history"
	"github.com/ikmb/qmanager/internal/job"
	"github.com/ikmb/qmanager/internal/state"
	"github.com/ikmb/qmanager/internal/webhook"
	"github.com/ikmb/qmanager/internal/worker"
)

// admin is the two-valued administrative mode a client can request via
// SetQueueState; the richer, reported job.QueueState is derived from this
// plus the live contents of the queue (see Supervisor.State).
type admin int

const (
	adminRunning admin = iota
	adminStopped
)

// Supervisor owns the JobQueue, the appkey registry used to resolve
// submissions, the snapshot store, and the single background goroutine
// that runs jobs one at a time.
type Supervisor struct {
	queue     *job.JobQueue
	resolver  *appkey.Registry
	store     *state.Store
	history   *history.Store
	notifyURL string

	mu        sync.Mutex
	admin     admin
	current   *worker.Process
	currentID job.ID

	wake chan struct{}
	done chan struct{}
}

// Option configures optional Supervisor dependencies.
type Option func(*Supervisor)

// WithHistory attaches a best-effort durable archive of finished jobs.
func WithHistory(h *history.Store) Option {
	return func(s *Supervisor) { s.history = h }
}

// WithNotifyURL sets the webhook target POSTed to on every job completion.
func WithNotifyURL(url string) Option {
	return func(s *Supervisor) { s.notifyURL = url }
}

// New builds a Supervisor around an already-restored queue.
func New(q *job.JobQueue, resolver *appkey.Registry, store *state.Store, opts ...Option) *Supervisor {
	s := &Supervisor{
		queue:    q,
		resolver: resolver,
		store:    store,
		admin:    adminRunning,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Supervisor) wakeUp() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Submit validates and enqueues cmdline, returning its assigned ID.
func (s *Supervisor) Submit(cmdline string) (job.ID, error) {
	id, err := s.queue.Submit(cmdline, s.resolver)
	if err != nil {
		return 0, err
	}
	s.persist()
	s.wakeUp()
	return id, nil
}

// Remove deletes a queued or finished job. It rejects the currently
// running job with job.ErrRunning, per spec.md §4.3.
func (s *Supervisor) Remove(id job.ID) (*job.Job, error) {
	j, err := s.queue.Remove(id)
	if err != nil {
		return nil, err
	}
	s.persist()
	return j, nil
}

// Kill delivers a single SIGTERM to the running job's child process. It
// does not wait for exit and never escalates to SIGKILL, per spec.md §4.5.
func (s *Supervisor) Kill(id job.ID) error {
	if _, err := s.queue.Kill(id); err != nil {
		return err
	}

	s.mu.Lock()
	proc := s.current
	matches := s.currentID == id
	s.mu.Unlock()

	if proc == nil || !matches {
		return fmt.Errorf("%w: job #%d is not currently executing", job.ErrNotFound, id)
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("signal job #%d: %w", id, err)
	}
	return nil
}

// Get returns a copy of a single job by id.
func (s *Supervisor) Get(id job.ID) (*job.Job, error) { return s.queue.Get(id) }

// ListQueued returns queued ∪ running jobs.
func (s *Supervisor) ListQueued() []*job.Job { return s.queue.ListQueued() }

// ListFinished returns finished jobs in completion order.
func (s *Supervisor) ListFinished() []*job.Job { return s.queue.ListFinished() }

// SetState applies an administrative request. Only QueueRunning and
// QueueStopping are acceptable requests (spec.md §2/§4.5): a client asks
// the queue to run or to stop accepting new work, and Stopping collapses
// to the adminStopped mode immediately — whether the reported state is
// Stopping or Stopped depends on whether a job is still finishing, which
// State derives on its own. QueueStopped and QueueEmpty are reported
// states only, never requestable, and are rejected as illegal.
func (s *Supervisor) SetState(desired job.QueueState) error {
	switch desired {
	case job.QueueRunning:
		s.mu.Lock()
		s.admin = adminRunning
		s.mu.Unlock()
		s.wakeUp()
		return nil
	case job.QueueStopping:
		s.mu.Lock()
		s.admin = adminStopped
		s.mu.Unlock()
		s.wakeUp()
		return nil
	default:
		return fmt.Errorf("%w: %q is not a settable queue state", job.ErrIllegalState, desired)
	}
}

// State reports the queue's current administrative/activity state, per
// spec.md §4.7:
//
//   - stopped:  administratively stopped and no job is executing
//   - stopping: administratively stopped but a job is still finishing
//   - running:  administratively running and at least one job is queued
//     or executing
//   - empty:    administratively running with nothing queued or executing
func (s *Supervisor) State() job.QueueState {
	s.mu.Lock()
	admin := s.admin
	s.mu.Unlock()

	queuedOrRunning := s.queue.HasQueued() || s.queue.HasRunning()

	switch {
	case admin == adminStopped && s.queue.HasRunning():
		return job.QueueStopping
	case admin == adminStopped:
		return job.QueueStopped
	case queuedOrRunning:
		return job.QueueRunning
	default:
		return job.QueueEmpty
	}
}

// Run is the single-consumer execution loop. It blocks until ctx is
// canceled; a job already running when that happens is allowed to finish
// before Run returns, matching spec.md §4.7's graceful-shutdown behavior.
func (s *Supervisor) Run(ctx context.Context) {
	defer close(s.done)
	for {
		if ctx.Err() != nil {
			return
		}

		s.mu.Lock()
		stopped := s.admin == adminStopped
		s.mu.Unlock()

		j, ok := s.nextIfAccepting(stopped)
		if ok {
			s.execute(ctx, j)
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-s.wake:
		case <-time.After(5 * time.Second):
			// Safety-net poll: a missed wake (e.g. a SetState racing the
			// select above) self-heals within this bound.
		}
	}
}

// nextIfAccepting returns the next pending job iff the queue is accepting work.
func (s *Supervisor) nextIfAccepting(stopped bool) (*job.Job, bool) {
	if stopped {
		return nil, false
	}
	return s.queue.NextPending()
}

// Stopped is closed once Run has returned.
func (s *Supervisor) Stopped() <-chan struct{} { return s.done }

func (s *Supervisor) execute(ctx context.Context, j *job.Job) {
	path, rest, err := s.resolver.Resolve(j.Cmdline)
	if err != nil {
		// The appkey was valid at submission time but the registry no
		// longer resolves it (e.g. unloaded between submit and run); treat
		// like a spawn failure rather than panicking the loop.
		s.fail(j.ID, fmt.Sprintf("%s %s", path, rest), err)
		return
	}
	expanded := path
	if rest != "" {
		expanded = path + " " + rest
	}

	args := worker.SplitArgs(rest)
	proc, pid, err := worker.Start(path, args)
	if err != nil {
		s.fail(j.ID, expanded, err)
		return
	}

	if err := s.queue.MarkRunning(j.ID, pid, expanded); err != nil {
		slog.Error("supervisor: mark running failed after spawn", "job_id", j.ID, "error", err)
	}
	s.persist()

	s.mu.Lock()
	s.current = proc
	s.currentID = j.ID
	s.mu.Unlock()

	exit, stdout, stderr := proc.Wait()

	s.mu.Lock()
	s.current = nil
	s.currentID = 0
	s.mu.Unlock()

	if err := s.queue.MarkFinished(j.ID, exit, stdout, stderr); err != nil {
		slog.Error("supervisor: mark finished failed", "job_id", j.ID, "error", err)
	}
	s.persist()
	s.archive(j.ID)

	webhook.Notify(ctx, s.notifyURL, j.ID, exit)
}

// fail moves a job that could not be spawned straight to Terminated with a
// synthetic failure status, per spec.md §7's SpawnFailed handling.
func (s *Supervisor) fail(id job.ID, expanded string, spawnErr error) {
	if err := s.queue.MarkRunning(id, 0, expanded); err != nil {
		slog.Error("supervisor: mark running failed before recording spawn failure", "job_id", id, "error", err)
		return
	}
	s.persist()

	exit := job.Normal(-1)
	if err := s.queue.MarkFinished(id, exit, "", spawnErr.Error()); err != nil {
		slog.Error("supervisor: mark finished failed while recording spawn failure", "job_id", id, "error", err)
	}
	s.persist()
	s.archive(id)
	slog.Error("supervisor: spawn failed", "job_id", id, "error", spawnErr)
}

func (s *Supervisor) archive(id job.ID) {
	if s.history == nil {
		return
	}
	j, err := s.queue.Get(id)
	if err != nil {
		return
	}
	if err := s.history.Record(context.Background(), j); err != nil {
		slog.Warn("supervisor: failed to archive finished job", "job_id", id, "error", err)
	}
}

func (s *Supervisor) persist() {
	if s.store == nil {
		return
	}
	if err := s.store.Save(s.queue); err != nil {
		slog.Error("supervisor: failed to persist state", "error", err)
	}
}
