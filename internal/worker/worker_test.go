package worker

import (
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ikmb/qmanager/internal/job"
)

func scriptPath(t *testing.T, name, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o755))
	return path
}

func TestStartWaitNormalExit(t *testing.T) {
	path := scriptPath(t, "ok.sh", "#!/bin/bash\necho out-line\necho err-line >&2\nexit 0\n")

	p, pid, err := Start(path, nil)
	require.NoError(t, err)
	assert.NotZero(t, pid)

	status, stdout, stderr := p.Wait()
	assert.Equal(t, job.ExitNormal, status.Kind)
	assert.Equal(t, 0, status.Code)
	assert.Equal(t, "out-line\n", stdout)
	assert.Equal(t, "err-line\n", stderr)
}

func TestStartWaitNonZeroExit(t *testing.T) {
	path := scriptPath(t, "fail.sh", "#!/bin/bash\nexit 7\n")

	p, _, err := Start(path, nil)
	require.NoError(t, err)

	status, _, _ := p.Wait()
	assert.Equal(t, job.ExitNormal, status.Kind)
	assert.Equal(t, 7, status.Code)
}

func TestStartWithArgs(t *testing.T) {
	path := scriptPath(t, "args.sh", "#!/bin/bash\necho \"$@\"\n")

	p, _, err := Start(path, SplitArgs("one two three"))
	require.NoError(t, err)

	status, stdout, _ := p.Wait()
	assert.Equal(t, 0, status.Code)
	assert.Equal(t, "one two three\n", stdout)
}

func TestUnsignaledExitReportsNormal(t *testing.T) {
	path := scriptPath(t, "sleep.sh", "#!/bin/bash\ntrap '' TERM\nsleep 0.05\nexit 3\n")

	p, _, err := Start(path, nil)
	require.NoError(t, err)

	status, _, _ := p.Wait()
	assert.Equal(t, job.ExitNormal, status.Kind)
}

func TestSignalKillsLongRunningChild(t *testing.T) {
	// exec, so the SIGTERM reaches sleep itself rather than leaving an
	// orphaned sleep holding the output pipes open until it exits.
	path := scriptPath(t, "forever.sh", "#!/bin/bash\nexec sleep 30\n")

	p, _, err := Start(path, nil)
	require.NoError(t, err)

	require.NoError(t, p.Signal(syscall.SIGTERM))

	done := make(chan struct{})
	var status job.ExitStatus
	go func() {
		status, _, _ = p.Wait()
		close(done)
	}()

	select {
	case <-done:
		assert.Equal(t, job.ExitSignal, status.Kind)
		assert.Equal(t, int(syscall.SIGTERM), status.Code)
	case <-time.After(5 * time.Second):
		t.Fatal("child was not terminated by SIGTERM in time")
	}
}

func TestSpawnFailedForMissingExecutable(t *testing.T) {
	_, _, err := Start(filepath.Join(t.TempDir(), "does-not-exist"), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSpawnFailed)
}

func TestSplitArgs(t *testing.T) {
	assert.Nil(t, SplitArgs(""))
	assert.Nil(t, SplitArgs("   "))
	assert.Equal(t, []string{"-r", "/a", "/b"}, SplitArgs("-r /a /b"))
}
