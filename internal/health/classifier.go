// Package health classifies the destination of a short link from a single
// HEAD probe. Classification is a fixed decision table over the probe error,
// the response status, and the elapsed time.
package health

import (
	"context"
	"errors"
	"net"
	"strings"
)

// Status is the classified health of a destination.
type Status string

const (
	StatusHealthy      Status = "healthy"
	StatusSlow         Status = "slow"
	StatusUnstable     Status = "unstable"
	StatusDown         Status = "down"
	StatusTimeout      Status = "timeout"
	StatusSSLError     Status = "ssl_error"
	StatusDNSError     Status = "dns_error"
	StatusRedirectLoop Status = "redirect_loop"
	StatusError        Status = "error"
)

// Latency thresholds in milliseconds. Above slowMs the destination is
// degraded but still counts as healthy; above unhealthySlowMs it does not.
const (
	slowMs          = 3000
	unhealthySlowMs = 5000
)

// ProbeResult is the outcome of one background probe. It is persisted via
// the mutation collaborator and not retained in-process.
type ProbeResult struct {
	Status         Status  `json:"status"`
	IsHealthy      bool    `json:"is_healthy"`
	ResponseTimeMs int64   `json:"response_time_ms"`
	HTTPStatus     *int    `json:"http_status,omitempty"`
	ErrorMessage   *string `json:"error_message,omitempty"`
}

// Response is the slice of an HTTP response the classifier needs.
type Response struct {
	StatusCode int
	Location   string
}

// Classify turns a probe outcome into a ProbeResult. selfMarker is the short
// domain: a redirect pointing back at it is a loop. The decision table is
// checked in order: error keywords first, then redirect loops, then status
// bands, then latency.
func Classify(resp *Response, responseTimeMs int64, err error, selfMarker string) ProbeResult {
	if err != nil {
		msg := err.Error()
		return ProbeResult{
			Status:         classifyError(err),
			IsHealthy:      false,
			ResponseTimeMs: responseTimeMs,
			ErrorMessage:   &msg,
		}
	}

	if resp != nil {
		res := ProbeResult{
			ResponseTimeMs: responseTimeMs,
			HTTPStatus:     &resp.StatusCode,
		}

		switch {
		case resp.StatusCode >= 300 && resp.StatusCode < 400 &&
			selfMarker != "" && strings.Contains(resp.Location, selfMarker):
			res.Status = StatusRedirectLoop
		case resp.StatusCode >= 500:
			res.Status = StatusDown
		case resp.StatusCode >= 400:
			res.Status = StatusUnstable
		case responseTimeMs > unhealthySlowMs:
			res.Status = StatusSlow
		case responseTimeMs > slowMs:
			res.Status = StatusSlow
			res.IsHealthy = true
		default:
			res.Status = StatusHealthy
			res.IsHealthy = true
		}
		return res
	}

	// Neither error nor response.
	return ProbeResult{Status: StatusError, IsHealthy: false, ResponseTimeMs: responseTimeMs}
}

// classifyError buckets a probe error, checked in order. Timeouts are
// matched structurally first: an expired probe context surfaces as
// context.DeadlineExceeded (or a net.Error reporting Timeout), whose text
// carries no "timeout" keyword.
func classifyError(err error) Status {
	if errors.Is(err, context.DeadlineExceeded) {
		return StatusTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return StatusTimeout
	}

	m := strings.ToLower(err.Error())
	switch {
	case strings.Contains(m, "timeout") || strings.Contains(m, "deadline exceeded") || strings.Contains(m, "aborted"):
		return StatusTimeout
	case strings.Contains(m, "ssl") || strings.Contains(m, "certificate"):
		return StatusSSLError
	case strings.Contains(m, "dns") || strings.Contains(m, "name resolution") || strings.Contains(m, "no such host"):
		return StatusDNSError
	case strings.Contains(m, "network") || strings.Contains(m, "connection"):
		return StatusDown
	default:
		return StatusError
	}
}
