// Package fingerprint derives telemetry signals from an incoming request:
// device class, browser, OS, bot flag, session identity, attribution, and
// the analytics event that carries them. Structured client-hint headers are
// preferred over user-agent parsing whenever they are present.
package fingerprint

import "time"

// AnalyticsEvent is an immutable snapshot of one resolution. It is built
// once per request after the response is sent, shipped to the ingestion
// endpoints, and discarded.
type AnalyticsEvent struct {
	IdempotencyKey  string    `json:"idempotency_key"`
	Timestamp       time.Time `json:"timestamp"`
	Slug            string    `json:"slug"`
	ShortURL        string    `json:"short_url"`
	LinkID          *string   `json:"link_id,omitempty"`
	UserID          *string   `json:"user_id,omitempty"`
	Destination     string    `json:"destination"`
	RedirectStatus  int       `json:"redirect_status"`
	TrackingEnabled bool      `json:"tracking_enabled"`
	LatencyMs       int64     `json:"latency_ms"`
	SessionID       string    `json:"session_id"`
	FirstClick      bool      `json:"is_first_click"`
	RequestID       string    `json:"request_id"`

	UserAgent  string `json:"user_agent"`
	DeviceType string `json:"device_type"`
	Browser    string `json:"browser"`
	OS         string `json:"os"`
	IPHash     string `json:"ip_hash"`
	Country    string `json:"country,omitempty"`
	City       string `json:"city,omitempty"`
	Region     string `json:"region,omitempty"`
	Timezone   string `json:"timezone,omitempty"`
	Referer    string `json:"referer,omitempty"`
	Language   string `json:"language,omitempty"`
	IsBot      bool   `json:"is_bot"`

	UTMSource   string `json:"utm_source,omitempty"`
	UTMMedium   string `json:"utm_medium,omitempty"`
	UTMCampaign string `json:"utm_campaign,omitempty"`
	UTMTerm     string `json:"utm_term,omitempty"`
	UTMContent  string `json:"utm_content,omitempty"`
}
