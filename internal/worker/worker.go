// Package worker executes a single resolved command line as a child OS
// process, capturing its stdout and stderr into separate in-memory buffers and translating
// its termination into the job.ExitStatus sum described in spec.md §3.
//
// Spawning and waiting deliberately hold no queue-store lock (spec.md
// §4.6): callers record the pid and terminal status into the job.JobQueue
// themselves, around these short, lock-free calls.
package worker

import (
	"bytes"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"syscall"

	"github.com/ikmb/qmanager/internal/job"
)

// ErrSpawnFailed wraps any error returned by the OS when a child process
// could not be created at all — spec.md §7's SpawnFailed error kind.
var ErrSpawnFailed = errors.New("spawn failed")

// Process is a started but not yet waited-for child.
type Process struct {
	cmd    *exec.Cmd
	stdout *bytes.Buffer
	stderr *bytes.Buffer
}

// SplitArgs performs the same naive whitespace tokenization as
// appkey.Registry.Resolve's remainder: no shell parsing, no quoting, no
// variable expansion. A remainder of "-r /a /b" becomes ["-r", "/a", "/b"],
// appended after the resolved executable path.
func SplitArgs(rest string) []string {
	if strings.TrimSpace(rest) == "" {
		return nil
	}
	return strings.Fields(rest)
}

// Start spawns path with args, wiring stdout and stderr to in-memory
// buffers, and returns once the OS has handed back a pid (or failed to).
// A failure here is a SpawnFailed, not a job.ExitStatus: the caller is
// expected to move the job straight to Terminated with a synthetic
// failure status, per spec.md §7.
func Start(path string, args []string) (*Process, uint32, error) {
	cmd := exec.Command(path, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrSpawnFailed, err)
	}

	return &Process{cmd: cmd, stdout: &stdout, stderr: &stderr}, uint32(cmd.Process.Pid), nil //nolint:gosec
}

// Signal delivers sig to the running child. KillJob uses this to send
// exactly one SIGTERM; spec.md §4.5 rules out any SIGKILL escalation, so
// there is no forceful variant here.
func (p *Process) Signal(sig syscall.Signal) error {
	return p.cmd.Process.Signal(sig)
}

// Wait blocks until the child exits, by any means, and returns its
// terminal status along with the captured stdout/stderr. Wait itself
// never fails: every way a child can stop is representable as an
// ExitStatus.
func (p *Process) Wait() (job.ExitStatus, string, string) {
	err := p.cmd.Wait()
	return exitStatusOf(err), p.stdout.String(), p.stderr.String()
}

// exitStatusOf converts the error returned by (*exec.Cmd).Wait into the
// normal/signaled sum described by spec.md §3.
func exitStatusOf(err error) job.ExitStatus {
	if err == nil {
		return job.Normal(0)
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			if ws.Signaled() {
				return job.Signaled(int(ws.Signal()))
			}
			return job.Normal(ws.ExitStatus())
		}
		return job.Normal(exitErr.ExitCode())
	}

	// Some other failure reaping the process; there is no better status to
	// report than a generic non-zero exit.
	return job.Normal(-1)
}
