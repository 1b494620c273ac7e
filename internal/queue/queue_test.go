package queue

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ikmb/qmanager/internal/appkey"
	"github.com/ikmb/qmanager/internal/job"
	"github.com/ikmb/qmanager/internal/state"
)

func newTestSupervisor(t *testing.T, appkeys map[string]string) (*Supervisor, context.CancelFunc) {
	t.Helper()
	reg := appkey.Load(appkeys)
	q := job.NewQueue()
	st := state.New(filepath.Join(t.TempDir(), "q.state"))
	sup := New(q, reg, st)

	ctx, cancel := context.WithCancel(context.Background())
	go sup.Run(ctx)
	return sup, cancel
}

func waitForStatus(t *testing.T, sup *Supervisor, id job.ID, status job.Status) {
	t.Helper()
	require.Eventually(t, func() bool {
		j, err := sup.Get(id)
		return err == nil && j.Status == status
	}, 2*time.Second, 5*time.Millisecond)
}

func TestSupervisorRunsSubmittedJobToCompletion(t *testing.T) {
	sup, cancel := newTestSupervisor(t, map[string]string{"echo": "/bin/echo"})
	defer cancel()

	id, err := sup.Submit("echo hello")
	require.NoError(t, err)

	waitForStatus(t, sup, id, job.StatusTerminated)

	j, err := sup.Get(id)
	require.NoError(t, err)
	assert.Equal(t, job.ExitNormal, j.ExitStatus.Kind)
	assert.Equal(t, 0, j.ExitStatus.Code)
	assert.Equal(t, "hello\n", j.Stdout)
}

func TestSupervisorRunsJobsOneAtATime(t *testing.T) {
	sup, cancel := newTestSupervisor(t, map[string]string{"sleep": "/bin/sleep"})
	defer cancel()

	id1, err := sup.Submit("sleep 0.1")
	require.NoError(t, err)
	id2, err := sup.Submit("sleep 0.1")
	require.NoError(t, err)

	waitForStatus(t, sup, id1, job.StatusRunning)

	j2, err := sup.Get(id2)
	require.NoError(t, err)
	assert.Equal(t, job.StatusQueued, j2.Status)

	waitForStatus(t, sup, id1, job.StatusTerminated)
	waitForStatus(t, sup, id2, job.StatusTerminated)
}

func TestSupervisorStopPreventsNewJobsButFinishesCurrent(t *testing.T) {
	sup, cancel := newTestSupervisor(t, map[string]string{"sleep": "/bin/sleep"})
	defer cancel()

	id1, err := sup.Submit("sleep 0.2")
	require.NoError(t, err)
	waitForStatus(t, sup, id1, job.StatusRunning)

	require.NoError(t, sup.SetState(job.QueueStopping))
	assert.Equal(t, job.QueueStopping, sup.State())

	id2, err := sup.Submit("sleep 0.01")
	require.NoError(t, err)

	waitForStatus(t, sup, id1, job.StatusTerminated)

	time.Sleep(50 * time.Millisecond)
	j2, err := sup.Get(id2)
	require.NoError(t, err)
	assert.Equal(t, job.StatusQueued, j2.Status, "stopped supervisor must not start new jobs")

	assert.Equal(t, job.QueueStopped, sup.State())

	require.NoError(t, sup.SetState(job.QueueRunning))
	waitForStatus(t, sup, id2, job.StatusTerminated)
}

func TestSupervisorSetStateRejectsIllegalValue(t *testing.T) {
	sup, cancel := newTestSupervisor(t, nil)
	defer cancel()

	// Stopped and Empty are reported states only, never requestable — a
	// client may only ask for Running or Stopping (spec.md §2/§4.5).
	err := sup.SetState(job.QueueStopped)
	assert.ErrorIs(t, err, job.ErrIllegalState)

	err = sup.SetState(job.QueueEmpty)
	assert.ErrorIs(t, err, job.ErrIllegalState)
}

func TestSupervisorKillSendsSignalToRunningJob(t *testing.T) {
	sup, cancel := newTestSupervisor(t, map[string]string{"sleep": "/bin/sleep"})
	defer cancel()

	id, err := sup.Submit("sleep 30")
	require.NoError(t, err)
	waitForStatus(t, sup, id, job.StatusRunning)

	require.NoError(t, sup.Kill(id))
	waitForStatus(t, sup, id, job.StatusTerminated)

	j, err := sup.Get(id)
	require.NoError(t, err)
	assert.Equal(t, job.ExitSignal, j.ExitStatus.Kind)
}

func TestSupervisorSpawnFailureTerminatesJobWithSyntheticFailure(t *testing.T) {
	sup, cancel := newTestSupervisor(t, map[string]string{"ghost": "/nonexistent/binary"})
	defer cancel()

	id, err := sup.Submit("ghost")
	require.NoError(t, err)

	waitForStatus(t, sup, id, job.StatusTerminated)

	j, err := sup.Get(id)
	require.NoError(t, err)
	assert.NotEmpty(t, j.Stderr)
}
