package webhook

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ikmb/qmanager/internal/job"
)

func TestValidateURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{
			name:    "valid public IP",
			url:     "http://93.184.216.34/hook",
			wantErr: false,
		},
		{
			name:    "invalid scheme ftp",
			url:     "ftp://example.com/hook",
			wantErr: true,
		},
		{
			name:    "loopback IP blocked",
			url:     "http://127.0.0.1/hook",
			wantErr: true,
		},
		{
			name:    "private IP blocked",
			url:     "http://192.168.1.1/hook",
			wantErr: true,
		},
		{
			name:    "link-local IP blocked (AWS metadata)",
			url:     "http://169.254.169.254/hook",
			wantErr: true,
		},
		{
			name:    "garbled URL",
			url:     "://not a valid url%%",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateURL(tt.url)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateURL(%q) error = %v, wantErr %v", tt.url, err, tt.wantErr)
			}
		})
	}
}

// TestSendBlocksLoopbackTarget asserts that send() runs validateURL before
// posting: an httptest server binds to 127.0.0.1, which validateURL
// rejects, so the counting handler must never be reached.
func TestSendBlocksLoopbackTarget(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	send(context.Background(), srv.URL, []byte(`{}`), job.ID(1))

	if got := atomic.LoadInt32(&calls); got != 0 {
		// send() calls validateURL itself and will reject the loopback
		// httptest server, so the handler must NOT have been invoked.
		t.Errorf("expected validateURL to block loopback delivery, handler was called %d times", got)
	}
}

func TestNotifyNoopOnEmptyURL(t *testing.T) {
	// Must not panic or spawn a goroutine when no notify URL is configured.
	Notify(context.Background(), "", job.ID(1), job.Normal(0))
	time.Sleep(10 * time.Millisecond)
}
