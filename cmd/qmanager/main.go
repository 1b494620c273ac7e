// Command qmanager is the single-host job queue daemon and its CLI
// client, combined into one binary the way original_source's qmanager
// binary works: `qmanager daemon` runs the server, every other subcommand
// talks to it over the wire protocol.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ikmb/qmanager/internal/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "qmanager",
		Short:         "A single-host job queue daemon and client",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	pf := root.PersistentFlags()
	pf.String("config", "", "path to a TOML config file")
	pf.String("host", config.DefaultHost, "daemon host")
	pf.Int("port", config.DefaultPort, "daemon port")
	pf.String("state", config.DefaultState, "path to the state snapshot file (daemon only)")
	pf.String("notify-url", "", "webhook URL POSTed on job completion (daemon only)")
	pf.String("cert", "", "TLS certificate file")
	pf.String("key", "", "TLS private key file")
	pf.String("ca", "", "TLS CA certificate file, for verifying the daemon (client only)")
	pf.Bool("insecure", false, "skip TLS certificate and hostname verification")
	pf.Float64("rate-limit", 0, "SubmitJob requests per second per client IP, 0 disables (daemon only)")
	pf.Int("rate-burst", 1, "SubmitJob burst size per client IP (daemon only)")
	pf.String("history", "", "path to the optional SQLite finished-job archive (daemon only)")
	pf.String("log-level", "info", "log level: debug, info, warn, error")
	pf.Bool("dump-json", false, "print the raw request/response JSON for every RPC (client only)")
	pf.StringToString("appkey", nil, "appkey=executable-path mapping, repeatable (daemon only)")

	root.AddCommand(
		newDaemonCmd(),
		newSubmitCmd(),
		newRemoveCmd(),
		newKillCmd(),
		newStatusCmd(),
		newStartCmd(),
		newStopCmd(),
		newCleanupCmd(),
		newHistoryCmd(),
	)
	return root
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	return config.Load(cmd.Flags())
}

// configureLogging sets the default slog handler. The daemon gets
// structured JSON (fit for a log collector); every client subcommand
// gets human-readable text on stderr, matching the split the teacher
// draws between its server and CLI output paths.
func configureLogging(level string, structured bool) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}

	var handler slog.Handler
	if structured {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}
