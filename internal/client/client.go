// Package client implements the CLI-side half of the wire protocol: a
// small HTTP(S) client that POSTs one protocol.Request and decodes one
// protocol.Response, mirroring original_source/src/clicommands.rs's
// create_client and handle_* functions.
package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/ikmb/qmanager/internal/config"
	"github.com/ikmb/qmanager/internal/protocol"
)

// Client issues RPCs against a running daemon.
type Client struct {
	baseURL  string
	http     *http.Client
	dumpJSON bool
}

// New builds a Client from the resolved configuration. TLS behavior
// mirrors create_client: a CA file is used to validate the server's
// certificate; Insecure skips certificate and hostname validation
// entirely and is never the default (spec.md §9).
func New(cfg *config.Config) (*Client, error) {
	scheme := "https"
	tlsConfig := &tls.Config{}

	if cfg.Insecure {
		tlsConfig.InsecureSkipVerify = true //nolint:gosec // explicit opt-in, see spec.md §9
	} else if cfg.CAFile != "" {
		pool, err := loadCAPool(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("load CA file: %w", err)
		}
		tlsConfig.RootCAs = pool
	} else {
		scheme = "http"
	}

	if cfg.CertFile != "" && cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return &Client{
		baseURL: fmt.Sprintf("%s://%s:%d/", scheme, cfg.Host, cfg.Port),
		http: &http.Client{
			Timeout:   30 * time.Second,
			Transport: &http.Transport{TLSClientConfig: tlsConfig},
		},
		dumpJSON: cfg.DumpJSON,
	}, nil
}

func loadCAPool(path string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates found in %s", path)
	}
	return pool, nil
}

// Do sends req and returns the decoded response. When DumpJSON is set,
// both the outgoing request and incoming response are printed to stdout
// verbatim, matching the --dump-json flag described in spec.md's CLI
// surface.
func (c *Client) Do(ctx context.Context, req protocol.Request) (protocol.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return protocol.Response{}, fmt.Errorf("encode request: %w", err)
	}
	if c.dumpJSON {
		fmt.Fprintf(os.Stdout, "--> %s\n", body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return protocol.Response{}, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return protocol.Response{}, fmt.Errorf("request failed: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return protocol.Response{}, fmt.Errorf("read response: %w", err)
	}
	if c.dumpJSON {
		fmt.Fprintf(os.Stdout, "<-- %s\n", respBody)
	}

	var resp protocol.Response
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return protocol.Response{}, fmt.Errorf("decode response: %w", err)
	}
	return resp, nil
}
