package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/ikmb/qmanager/internal/client"
	"github.com/ikmb/qmanager/internal/job"
	"github.com/ikmb/qmanager/internal/protocol"
)

func newClient(cmd *cobra.Command) (*client.Client, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	configureLogging(cfg.LogLevel, false)
	return client.New(cfg)
}

// printResponse renders a Response the way a human at a terminal expects:
// an Error response exits non-zero with the message on stderr, everything
// else is pretty-printed JSON on stdout.
func printResponse(resp protocol.Response) error {
	if resp.Tag == protocol.TagError {
		return fmt.Errorf("%s", resp.ErrMessage)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}

func newSubmitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "submit <cmdline>",
		Short: "Submit a new job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(cmd)
			if err != nil {
				return err
			}
			resp, err := c.Do(context.Background(), protocol.SubmitJobRequest(args[0]))
			if err != nil {
				return err
			}
			return printResponse(resp)
		},
	}
}

func parseJobID(s string) (job.ID, error) {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid job id %q: %w", s, err)
	}
	return job.ID(n), nil
}

func newRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <job-id>",
		Short: "Remove a queued or finished job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			c, err := newClient(cmd)
			if err != nil {
				return err
			}
			resp, err := c.Do(context.Background(), protocol.RemoveJobRequest(id))
			if err != nil {
				return err
			}
			return printResponse(resp)
		},
	}
}

func newKillCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "kill <job-id>",
		Short: "Send SIGTERM to a running job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			c, err := newClient(cmd)
			if err != nil {
				return err
			}
			resp, err := c.Do(context.Background(), protocol.KillJobRequest(id))
			if err != nil {
				return err
			}
			return printResponse(resp)
		},
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show queued, running, and finished jobs plus the queue state",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(cmd)
			if err != nil {
				return err
			}
			ctx := context.Background()

			queued, err := c.Do(ctx, protocol.GetQueuedJobsRequest())
			if err != nil {
				return err
			}
			if err := printResponse(queued); err != nil {
				return err
			}

			finished, err := c.Do(ctx, protocol.GetFinishedJobsRequest())
			if err != nil {
				return err
			}
			if err := printResponse(finished); err != nil {
				return err
			}

			state, err := c.Do(ctx, protocol.GetQueueStateRequest())
			if err != nil {
				return err
			}
			return printResponse(state)
		},
	}
}

func newStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Resume processing of queued jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(cmd)
			if err != nil {
				return err
			}
			resp, err := c.Do(context.Background(), protocol.SetQueueStateRequest(job.QueueRunning))
			if err != nil {
				return err
			}
			return printResponse(resp)
		},
	}
}

func newStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop accepting new jobs for execution (the current job finishes)",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(cmd)
			if err != nil {
				return err
			}
			resp, err := c.Do(context.Background(), protocol.SetQueueStateRequest(job.QueueStopping))
			if err != nil {
				return err
			}
			return printResponse(resp)
		},
	}
}

func newCleanupCmd() *cobra.Command {
	var maxAge time.Duration

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove finished jobs older than --max-age",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(cmd)
			if err != nil {
				return err
			}
			ctx := context.Background()

			resp, err := c.Do(ctx, protocol.GetFinishedJobsRequest())
			if err != nil {
				return err
			}
			if resp.Tag == protocol.TagError {
				return fmt.Errorf("%s", resp.ErrMessage)
			}

			cutoff := time.Now().Add(-maxAge)

			var removed, failed int
			for _, j := range resp.Jobs {
				if j.Finished == nil || j.Finished.After(cutoff) {
					continue
				}
				r, err := c.Do(ctx, protocol.RemoveJobRequest(j.ID))
				if err != nil {
					return err
				}
				if r.Tag == protocol.TagError {
					fmt.Fprintf(os.Stderr, "remove job #%d: %s\n", j.ID, r.ErrMessage)
					failed++
					continue
				}
				removed++
			}
			fmt.Printf("removed %d finished job(s)\n", removed)
			return nil
		},
	}

	cmd.Flags().DurationVar(&maxAge, "max-age", 0, "remove only jobs finished more than this long ago")
	return cmd
}
