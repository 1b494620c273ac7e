package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ikmb/qmanager/internal/history"
)

// newHistoryCmd reads the SQLite archive directly. Unlike every other
// subcommand it never talks to a running daemon over the wire protocol —
// history is supplemental operator tooling, not part of spec.md's RPC
// surface, so it only needs the --history path, not --host/--port.
func newHistoryCmd() *cobra.Command {
	var since time.Duration
	var appkeyFilter string

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Query the supplemental finished-job archive",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			configureLogging(cfg.LogLevel, false)
			if cfg.HistoryPath == "" {
				return fmt.Errorf("no --history path configured; the daemon must be run with one to archive anything")
			}

			store, err := history.Open(cfg.HistoryPath)
			if err != nil {
				return fmt.Errorf("open history archive: %w", err)
			}
			defer store.Close()

			records, err := store.Since(cmd.Context(), time.Now().Add(-since))
			if err != nil {
				return fmt.Errorf("query history: %w", err)
			}

			for _, r := range records {
				if appkeyFilter != "" {
					name, _, _ := strings.Cut(r.Cmdline, " ")
					if name != appkeyFilter {
						continue
					}
				}
				fmt.Printf("#%-6d %-12s exit=%s(%d) finished=%s\n",
					r.ID, r.Cmdline, r.ExitStatus.Kind, r.ExitStatus.Code, r.Finished.Format(time.RFC3339))
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&since, "since", 7*24*time.Hour, "only show jobs finished within this duration")
	cmd.Flags().StringVar(&appkeyFilter, "appkey", "", "only show jobs submitted under this appkey")
	return cmd
}
