package state

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ikmb/qmanager/internal/job"
)

func TestLoadMissingFileReturnsEmptyQueue(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "does-not-exist.state"))
	q := s.Load()
	assert.Equal(t, job.ID(0), q.LastID())
	assert.Empty(t, q.ListAll())
}

func TestLoadUnparseableFileReturnsEmptyQueue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbage.state")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o600))

	s := New(path)
	q := s.Load()
	assert.Equal(t, job.ID(0), q.LastID())
}

func TestSaveThenLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "q.state")
	s := New(path)

	q := job.NewQueue()
	resolver := stubResolver{"echo": true}
	id, err := q.Submit("echo hi", resolver)
	require.NoError(t, err)
	require.NoError(t, q.MarkRunning(id, 99, "/bin/echo hi"))
	require.NoError(t, q.MarkFinished(id, job.Normal(0), "hi\n", ""))

	require.NoError(t, s.Save(q))

	restored := s.Load()
	assert.Equal(t, q.LastID(), restored.LastID())

	finished := restored.ListFinished()
	require.Len(t, finished, 1)
	assert.Equal(t, id, finished[0].ID)
	assert.Equal(t, "hi\n", finished[0].Stdout)
	assert.Equal(t, job.ExitNormal, finished[0].ExitStatus.Kind)
}

type stubResolver map[string]bool

func (r stubResolver) Resolve(cmdline string) (string, string, error) {
	name := cmdline
	rest := ""
	for i, c := range cmdline {
		if c == ' ' {
			name, rest = cmdline[:i], cmdline[i+1:]
			break
		}
	}
	if !r[name] {
		return "", "", job.ErrBadAppkey
	}
	return "/bin/" + name, rest, nil
}
