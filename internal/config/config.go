// Package config assembles the daemon's runtime configuration from three
// layers, in increasing priority: built-in defaults, an optional TOML
// config file, and command-line flags. This mirrors original_source's
// Opt::merge_config / Opt::verify: flags always win, the file fills in
// anything a flag did not set, and defaults fill in the rest.
package config

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/spf13/pflag"
)

// Built-in defaults, ported from original_source/src/cliopts.rs.
const (
	DefaultPort  = 1337
	DefaultHost  = "localhost"
	DefaultState = "/var/lib/qmanager/qmanager.state"
)

// Config is the fully resolved, validated daemon configuration.
type Config struct {
	Host      string
	Port      int
	StateFile string

	// Appkeys maps a client-visible command name to the absolute
	// executable path it is allowed to run (spec.md §2.4).
	Appkeys map[string]string

	NotifyURL string

	// TLS controls the daemon's listening socket and the CLI client's
	// connection to it. Insecure mirrors original_source's create_client,
	// which accepts invalid certs/hostnames when set; spec.md §9 flags
	// this as something a re-implementation should make an explicit,
	// opt-in flag rather than silent default behavior.
	CertFile string
	KeyFile  string
	CAFile   string
	Insecure bool

	// RateLimit is the maximum SubmitJob requests per second accepted
	// from a single client IP; 0 disables rate limiting.
	RateLimit float64
	RateBurst int

	// HistoryPath, if set, enables the supplemental SQLite archive of
	// finished jobs (internal/history). Empty disables it; history is
	// never required for correct protocol behavior.
	HistoryPath string

	LogLevel string
	DumpJSON bool
}

// fileConfig mirrors the on-disk TOML schema. Pointer fields distinguish
// "absent from the file" from "explicitly set to the zero value", which
// matters for precedence against flag defaults.
type fileConfig struct {
	Host      *string           `toml:"host"`
	Port      *int              `toml:"port"`
	State     *string           `toml:"state"`
	Appkeys   map[string]string `toml:"appkeys"`
	NotifyURL *string           `toml:"notify_url"`
	Cert      *string           `toml:"cert"`
	Key       *string           `toml:"key"`
	CA        *string           `toml:"ca"`
	Insecure  *bool             `toml:"insecure"`
	RateLimit   *float64 `toml:"rate_limit"`
	RateBurst   *int     `toml:"rate_burst"`
	HistoryPath *string  `toml:"history_path"`
	LogLevel    *string  `toml:"log_level"`
}

// Defaults returns a Config populated with the built-in fallback values
// only, before any file or flag layer is applied.
func Defaults() *Config {
	return &Config{
		Host:      DefaultHost,
		Port:      DefaultPort,
		StateFile: DefaultState,
		Appkeys:   map[string]string{},
		LogLevel:  "info",
		RateBurst: 1,
	}
}

// Load builds a Config from defaults, an optional --config TOML file, and
// the flags already parsed onto fs. fs must have been parsed (cobra does
// this before RunE is called) so that fs.Changed reflects explicit
// command-line overrides.
func Load(fs *pflag.FlagSet) (*Config, error) {
	cfg := Defaults()

	if path, _ := fs.GetString("config"); path != "" {
		var fc fileConfig
		if _, err := toml.DecodeFile(path, &fc); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
		cfg.mergeFile(&fc)
	}

	if err := cfg.mergeFlags(fs); err != nil {
		return nil, err
	}

	if err := cfg.verify(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(fc *fileConfig) {
	if fc.Host != nil {
		c.Host = *fc.Host
	}
	if fc.Port != nil {
		c.Port = *fc.Port
	}
	if fc.State != nil {
		c.StateFile = *fc.State
	}
	if len(fc.Appkeys) > 0 {
		for name, path := range fc.Appkeys {
			c.Appkeys[name] = path
		}
	}
	if fc.NotifyURL != nil {
		c.NotifyURL = *fc.NotifyURL
	}
	if fc.Cert != nil {
		c.CertFile = *fc.Cert
	}
	if fc.Key != nil {
		c.KeyFile = *fc.Key
	}
	if fc.CA != nil {
		c.CAFile = *fc.CA
	}
	if fc.Insecure != nil {
		c.Insecure = *fc.Insecure
	}
	if fc.RateLimit != nil {
		c.RateLimit = *fc.RateLimit
	}
	if fc.RateBurst != nil {
		c.RateBurst = *fc.RateBurst
	}
	if fc.HistoryPath != nil {
		c.HistoryPath = *fc.HistoryPath
	}
	if fc.LogLevel != nil {
		c.LogLevel = *fc.LogLevel
	}
}

// mergeFlags applies only the flags the user actually passed (fs.Changed),
// so an unset flag never clobbers a value already supplied by the config
// file.
func (c *Config) mergeFlags(fs *pflag.FlagSet) error {
	apply := func(name string, set func(*pflag.FlagSet) error) error {
		if fs.Lookup(name) == nil || !fs.Changed(name) {
			return nil
		}
		return set(fs)
	}

	if err := apply("host", func(fs *pflag.FlagSet) error {
		v, err := fs.GetString("host")
		c.Host = v
		return err
	}); err != nil {
		return err
	}
	if err := apply("port", func(fs *pflag.FlagSet) error {
		v, err := fs.GetInt("port")
		c.Port = v
		return err
	}); err != nil {
		return err
	}
	if err := apply("state", func(fs *pflag.FlagSet) error {
		v, err := fs.GetString("state")
		c.StateFile = v
		return err
	}); err != nil {
		return err
	}
	if err := apply("notify-url", func(fs *pflag.FlagSet) error {
		v, err := fs.GetString("notify-url")
		c.NotifyURL = v
		return err
	}); err != nil {
		return err
	}
	if err := apply("cert", func(fs *pflag.FlagSet) error {
		v, err := fs.GetString("cert")
		c.CertFile = v
		return err
	}); err != nil {
		return err
	}
	if err := apply("key", func(fs *pflag.FlagSet) error {
		v, err := fs.GetString("key")
		c.KeyFile = v
		return err
	}); err != nil {
		return err
	}
	if err := apply("ca", func(fs *pflag.FlagSet) error {
		v, err := fs.GetString("ca")
		c.CAFile = v
		return err
	}); err != nil {
		return err
	}
	if err := apply("insecure", func(fs *pflag.FlagSet) error {
		v, err := fs.GetBool("insecure")
		c.Insecure = v
		return err
	}); err != nil {
		return err
	}
	if err := apply("rate-limit", func(fs *pflag.FlagSet) error {
		v, err := fs.GetFloat64("rate-limit")
		c.RateLimit = v
		return err
	}); err != nil {
		return err
	}
	if err := apply("rate-burst", func(fs *pflag.FlagSet) error {
		v, err := fs.GetInt("rate-burst")
		c.RateBurst = v
		return err
	}); err != nil {
		return err
	}
	if err := apply("log-level", func(fs *pflag.FlagSet) error {
		v, err := fs.GetString("log-level")
		c.LogLevel = v
		return err
	}); err != nil {
		return err
	}
	if err := apply("dump-json", func(fs *pflag.FlagSet) error {
		v, err := fs.GetBool("dump-json")
		c.DumpJSON = v
		return err
	}); err != nil {
		return err
	}
	if err := apply("history", func(fs *pflag.FlagSet) error {
		v, err := fs.GetString("history")
		c.HistoryPath = v
		return err
	}); err != nil {
		return err
	}
	if err := apply("appkey", func(fs *pflag.FlagSet) error {
		v, err := fs.GetStringToString("appkey")
		for name, path := range v {
			c.Appkeys[name] = path
		}
		return err
	}); err != nil {
		return err
	}

	return nil
}

// verify validates cross-field invariants that Opt::verify enforced in
// original_source: a cert implies a key and vice versa, and insecure mode
// cannot be combined with an explicit CA file (they express contradictory
// intents).
func (c *Config) verify() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if strings.TrimSpace(c.Host) == "" {
		return fmt.Errorf("host must not be empty")
	}
	if (c.CertFile == "") != (c.KeyFile == "") {
		return fmt.Errorf("--cert and --key must be specified together")
	}
	if c.Insecure && c.CAFile != "" {
		return fmt.Errorf("--insecure and --ca are mutually exclusive")
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("rate-limit must be >= 0")
	}
	return nil
}
