package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("config", "", "")
	fs.String("host", DefaultHost, "")
	fs.Int("port", DefaultPort, "")
	fs.String("state", DefaultState, "")
	fs.String("notify-url", "", "")
	fs.String("cert", "", "")
	fs.String("key", "", "")
	fs.String("ca", "", "")
	fs.Bool("insecure", false, "")
	fs.Float64("rate-limit", 0, "")
	fs.String("log-level", "info", "")
	fs.Bool("dump-json", false, "")
	fs.StringToString("appkey", nil, "")
	return fs
}

func TestLoadDefaultsWhenNothingSet(t *testing.T) {
	fs := newFlagSet()
	require.NoError(t, fs.Parse(nil))

	cfg, err := Load(fs)
	require.NoError(t, err)
	assert.Equal(t, DefaultHost, cfg.Host)
	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultState, cfg.StateFile)
}

func TestFlagsOverrideFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "qmanager.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
host = "file-host"
port = 9000
`), 0o644))

	fs := newFlagSet()
	require.NoError(t, fs.Parse([]string{"--config", path, "--host", "flag-host"}))

	cfg, err := Load(fs)
	require.NoError(t, err)
	assert.Equal(t, "flag-host", cfg.Host) // flag wins over file
	assert.Equal(t, 9000, cfg.Port)        // file wins over default
}

func TestAppkeyFlagsAccumulate(t *testing.T) {
	fs := newFlagSet()
	require.NoError(t, fs.Parse([]string{"--appkey", "echo=/bin/echo", "--appkey", "ls=/bin/ls"}))

	cfg, err := Load(fs)
	require.NoError(t, err)
	assert.Equal(t, "/bin/echo", cfg.Appkeys["echo"])
	assert.Equal(t, "/bin/ls", cfg.Appkeys["ls"])
}

func TestVerifyRejectsCertWithoutKey(t *testing.T) {
	fs := newFlagSet()
	require.NoError(t, fs.Parse([]string{"--cert", "/tmp/a.pem"}))

	_, err := Load(fs)
	assert.Error(t, err)
}

func TestVerifyRejectsInsecureWithCA(t *testing.T) {
	fs := newFlagSet()
	require.NoError(t, fs.Parse([]string{"--insecure", "--ca", "/tmp/ca.pem"}))

	_, err := Load(fs)
	assert.Error(t, err)
}

func TestVerifyRejectsBadPort(t *testing.T) {
	fs := newFlagSet()
	require.NoError(t, fs.Parse([]string{"--port", "0"}))

	_, err := Load(fs)
	assert.Error(t, err)
}
