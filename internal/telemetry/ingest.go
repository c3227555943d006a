// Package telemetry ships analytics events and health reports out of the
// worker after the client response has been sent. Everything here is called
// from deferred work: failures are logged and isolated, never surfaced.
package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/imaxisXD/ndle-worker/internal/fingerprint"
)

const ingestTimeout = 10 * time.Second

// IngestClient posts analytics events to the configured metrics-ingestion
// endpoints with a bearer credential.
type IngestClient struct {
	client    *http.Client
	endpoints []string
	token     string
	logger    *slog.Logger
}

func NewIngestClient(client *http.Client, endpoints []string, token string, logger *slog.Logger) *IngestClient {
	if client == nil {
		client = &http.Client{Timeout: ingestTimeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &IngestClient{client: client, endpoints: endpoints, token: token, logger: logger}
}

// Send delivers the event to every endpoint concurrently. Each endpoint is
// isolated: one failure never stops the others. Send blocks until all
// deliveries settle.
func (c *IngestClient) Send(ctx context.Context, ev fingerprint.AnalyticsEvent) {
	if len(c.endpoints) == 0 {
		return
	}

	body, err := json.Marshal(ev)
	if err != nil {
		c.logger.ErrorContext(ctx, "failed to encode analytics event",
			"slug", ev.Slug,
			"error", err.Error(),
		)
		return
	}

	var wg sync.WaitGroup
	for _, endpoint := range c.endpoints {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := c.sendOne(ctx, endpoint, body); err != nil {
				c.logger.ErrorContext(ctx, "analytics dispatch failed",
					"endpoint", endpoint,
					"slug", ev.Slug,
					"error", err.Error(),
				)
			}
		}()
	}
	wg.Wait()
}

func (c *IngestClient) sendOne(ctx context.Context, endpoint string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Failed delivery: drop the body unread.
		return fmt.Errorf("ingest endpoint returned %d", resp.StatusCode)
	}

	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
