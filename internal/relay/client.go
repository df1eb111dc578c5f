// Package relay implements orchestrator provider and publisher modules that
// drive a remote media node over its HTTP control API. The modules carry no
// media themselves; they tell the node what to pull and which applications
// exist.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

type nodeClient struct {
	baseURL       string
	token         string
	client        *http.Client
	logger        *slog.Logger
	maxAttempts   int
	retryInterval time.Duration
}

func newNodeClient(baseURL, token string, client *http.Client, logger *slog.Logger, attempts int, interval time.Duration) *nodeClient {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if attempts <= 0 {
		attempts = 1
	}
	return &nodeClient{
		baseURL:       strings.TrimRight(baseURL, "/"),
		token:         token,
		client:        client,
		logger:        logger,
		maxAttempts:   attempts,
		retryInterval: interval,
	}
}

// postJSON sends the payload to path, retrying transient failures, and
// decodes the response body into out when non-nil.
func (c *nodeClient) postJSON(ctx context.Context, path string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request for %s: %w", path, err)
	}

	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if attempt > 1 && c.retryInterval > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.retryInterval):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("build request for %s: %w", path, err)
		}
		req.Header.Set("Content-Type", "application/json")
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = err
			c.logger.Warn("media node request failed",
				"path", path,
				"attempt", attempt,
				"error", err)
			continue
		}

		err = func() error {
			defer resp.Body.Close()
			if resp.StatusCode < 200 || resp.StatusCode > 299 {
				snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
				return fmt.Errorf("media node returned %d for %s: %s", resp.StatusCode, path, strings.TrimSpace(string(snippet)))
			}
			if out == nil {
				return nil
			}
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return fmt.Errorf("decode response for %s: %w", path, err)
			}
			return nil
		}()
		if err != nil {
			lastErr = err
			if resp.StatusCode >= 400 && resp.StatusCode < 500 {
				// Client errors will not improve with retries.
				return err
			}
			continue
		}
		return nil
	}

	return fmt.Errorf("media node unreachable after %d attempts: %w", c.maxAttempts, lastErr)
}
