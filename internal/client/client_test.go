package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ikmb/qmanager/internal/config"
	"github.com/ikmb/qmanager/internal/job"
	"github.com/ikmb/qmanager/internal/protocol"
)

func testConfig(t *testing.T, srv *httptest.Server) *config.Config {
	t.Helper()
	host, portStr, err := splitHostPort(srv.Listener.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	return &config.Config{Host: host, Port: port, Insecure: false}
}

func splitHostPort(addr string) (string, string, error) {
	idx := strings.LastIndex(addr, ":")
	return addr[:idx], addr[idx+1:], nil
}

func TestDoRoundTripsOverPlainHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req protocol.Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, protocol.TagGetQueueState, req.Tag)

		w.Header().Set("Content-Type", "application/json")
		resp := protocol.QueueStateResponse(job.QueueEmpty)
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer srv.Close()

	c, err := New(testConfig(t, srv))
	require.NoError(t, err)

	resp, err := c.Do(context.Background(), protocol.GetQueueStateRequest())
	require.NoError(t, err)
	assert.Equal(t, protocol.TagQueueState, resp.Tag)
}
