package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const mutationTimeout = 10 * time.Second

// ClickSummary is the click-event payload attached to a health report.
type ClickSummary struct {
	Slug       string    `json:"slug"`
	Timestamp  time.Time `json:"timestamp"`
	Country    string    `json:"country,omitempty"`
	City       string    `json:"city,omitempty"`
	DeviceType string    `json:"device_type,omitempty"`
	Browser    string    `json:"browser,omitempty"`
	OS         string    `json:"os,omitempty"`
	Referer    string    `json:"referer,omitempty"`
}

// HealthReport is the single mutation call made per health-check cycle.
type HealthReport struct {
	Secret        string        `json:"secret"`
	LinkID        string        `json:"link_id"`
	UserID        string        `json:"user_id"`
	StatusCode    *int          `json:"status_code,omitempty"`
	StatusMessage string        `json:"status_message"`
	RequestID     string        `json:"request_id"`
	Click         *ClickSummary `json:"click,omitempty"`
}

// MutationClient calls the remote mutation service that persists click and
// health records. One attempt, no retry.
type MutationClient struct {
	client *http.Client
	url    string
	secret string
}

func NewMutationClient(client *http.Client, url, secret string) *MutationClient {
	if client == nil {
		client = &http.Client{Timeout: mutationTimeout}
	}
	return &MutationClient{client: client, url: url, secret: secret}
}

// Enabled reports whether a mutation endpoint is configured.
func (c *MutationClient) Enabled() bool { return c.url != "" }

// RecordHealth sends one health report. The shared secret is injected here
// so callers never handle it.
func (c *MutationClient) RecordHealth(ctx context.Context, report HealthReport) error {
	if !c.Enabled() {
		return nil
	}
	report.Secret = c.secret

	body, err := json.Marshal(report)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("mutation endpoint returned %d", resp.StatusCode)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
