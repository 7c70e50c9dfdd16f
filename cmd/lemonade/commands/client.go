package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/lemonade-sdk/lemonade/pkg/envconfig"
)

// apiClient is a thin HTTP client for the gateway's own API, used by
// every subcommand except serve (which hosts that API instead of
// calling it).
type apiClient struct {
	baseURL string
	http    *http.Client
}

func newAPIClient() *apiClient {
	host := flagHost
	if host == "" {
		host = envconfig.Host()
	}
	port := flagPort
	if port == "" {
		port = envconfig.Port()
	}
	return &apiClient{
		baseURL: fmt.Sprintf("http://%s:%s/api/v1", host, port),
		http:    &http.Client{Timeout: 5 * time.Minute},
	}
}

// apiError is the CLI-side decoding of the gateway's {"error":{...}}
// envelope.
type apiError struct {
	Message string
	Type    string
	Path    string
}

func (e *apiError) Error() string { return e.Message }

type errorEnvelope struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Path    string `json:"path,omitempty"`
	} `json:"error"`
}

// do issues an HTTP request against the gateway, marshaling body (if
// non-nil) as the JSON request and unmarshaling the response into out
// (if non-nil and the response succeeded). Every request carries a
// fresh request id so a server-side log line can be correlated back to
// the CLI invocation that produced it.
func (c *apiClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Lemonade-Request-Id", uuid.NewString())

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("lemonade gateway unreachable at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		var env errorEnvelope
		if json.Unmarshal(data, &env) == nil && env.Error.Message != "" {
			return &apiError{Message: env.Error.Message, Type: env.Error.Type, Path: env.Error.Path}
		}
		return fmt.Errorf("gateway returned %d: %s", resp.StatusCode, string(data))
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
