// Package webhook delivers the optional job-completion notification
// described by spec.md §6 ("Notification endpoint") and §4.6 step 6: a
// single best-effort POST per completed job. Unlike the teacher this
// package is adapted from, there is no retry here — spec.md §7 is
// explicit that notification failures "are logged and dropped", not
// retried.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/ikmb/qmanager/internal/job"
)

const postTimeout = 30 * time.Second

// completionPayload is the minimal completion message POSTed to the
// notify URL: the job id and its terminal exit status (spec.md §6).
type completionPayload struct {
	JobID      job.ID         `json:"job_id"`
	ExitStatus job.ExitStatus `json:"exit_status"`
}

// Notify sends a single, asynchronous, best-effort POST to url carrying
// id's terminal status. Any failure — an invalid URL, a DNS failure, a
// refused connection, a non-2xx response — is logged and otherwise
// ignored, matching spec.md §7 ("Notification POST failures are logged
// and dropped").
func Notify(ctx context.Context, url string, id job.ID, exit job.ExitStatus) {
	if url == "" {
		return
	}
	payload, err := json.Marshal(completionPayload{JobID: id, ExitStatus: exit})
	if err != nil {
		slog.Error("webhook: failed to encode completion payload", "job_id", id, "error", err)
		return
	}
	go send(ctx, url, payload, id)
}

// validateURL rejects non-HTTP(S) schemes and private/loopback/link-local
// targets, a defensive check carried over from the teacher's webhook
// package even though spec.md does not require it.
func validateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}

	host := u.Hostname()
	ips, err := net.LookupHost(host)
	if err != nil {
		return fmt.Errorf("DNS lookup failed: %w", err)
	}
	for _, ipStr := range ips {
		ip := net.ParseIP(ipStr)
		if ip == nil {
			continue
		}
		if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsUnspecified() {
			return fmt.Errorf("private/internal IP blocked: %s", ipStr)
		}
	}
	return nil
}

func send(ctx context.Context, callbackURL string, payload []byte, id job.ID) {
	if err := validateURL(callbackURL); err != nil {
		slog.Warn("webhook: rejected notify URL", "job_id", id, "url", callbackURL, "error", err)
		return
	}

	client := &http.Client{Timeout: postTimeout}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, callbackURL, bytes.NewReader(payload))
	if err != nil {
		slog.Warn("webhook: failed to build request", "job_id", id, "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		slog.Warn("webhook: delivery failed", "job_id", id, "url", callbackURL, "error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		slog.Warn("webhook: non-2xx response", "job_id", id, "url", callbackURL, "status", resp.StatusCode)
	}
}
