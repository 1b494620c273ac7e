package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ikmb/qmanager/internal/api"
	"github.com/ikmb/qmanager/internal/appkey"
	"github.com/ikmb/qmanager/internal/history"
	"github.com/ikmb/qmanager/internal/queue"
	"github.com/ikmb/qmanager/internal/state"
)

func newDaemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run the qmanager server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			configureLogging(cfg.LogLevel, true)

			reg := appkey.Load(cfg.Appkeys)
			store := state.New(cfg.StateFile)
			q := store.Load()

			var opts []queue.Option
			if cfg.NotifyURL != "" {
				opts = append(opts, queue.WithNotifyURL(cfg.NotifyURL))
			}
			if cfg.HistoryPath != "" {
				hist, err := history.Open(cfg.HistoryPath)
				if err != nil {
					return fmt.Errorf("open history archive: %w", err)
				}
				defer hist.Close()
				opts = append(opts, queue.WithHistory(hist))
			}

			sup := queue.New(q, reg, store, opts...)

			// SIGHUP is explicitly ignored rather than left at its default
			// terminate action: an operator reloading a config elsewhere on
			// the host should not accidentally kill the daemon.
			signal.Ignore(syscall.SIGHUP)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			go sup.Run(ctx)

			mux := http.NewServeMux()
			api.NewHandler(sup).RegisterRoutes(mux)

			handler := api.RequestIDMiddleware(
				api.LoggingMiddleware(
					api.RateLimit(cfg.RateLimit, cfg.RateBurst)(mux),
				),
			)

			srv := &http.Server{
				Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
				Handler:      handler,
				ReadTimeout:  30 * time.Second,
				WriteTimeout: 120 * time.Second,
				IdleTimeout:  60 * time.Second,
			}

			useTLS := cfg.CertFile != "" && cfg.KeyFile != ""
			if useTLS {
				cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
				if err != nil {
					return fmt.Errorf("load TLS certificate: %w", err)
				}
				srv.TLSConfig = &tls.Config{Certificates: []tls.Certificate{cert}}
			}

			go func() {
				sigCh := make(chan os.Signal, 1)
				signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
				<-sigCh
				slog.Info("shutting down")
				cancel()

				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer shutdownCancel()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					slog.Error("shutdown", "error", err)
				}
				<-sup.Stopped()
			}()

			slog.Info("qmanager listening", "addr", srv.Addr, "tls", useTLS)
			var serveErr error
			if useTLS {
				serveErr = srv.ListenAndServeTLS("", "")
			} else {
				serveErr = srv.ListenAndServe()
			}
			if serveErr != nil && serveErr != http.ErrServerClosed {
				return fmt.Errorf("server error: %w", serveErr)
			}
			return nil
		},
	}
}
