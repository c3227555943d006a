// Package link defines the short-link record owned by the upstream dashboard
// and the key-value store this worker reads it from. Records are read-only
// here: the worker resolves them, it never writes them.
package link

import (
	"encoding/json"
	"errors"
	"net/url"
	"time"

	"github.com/imaxisXD/ndle-worker/internal/experiment"
)

const (
	MaxSlugLength = 64
	MaxURLLength  = 2048
)

// UTMParams are the stored attribution overrides on a record. Query-string
// values on the incoming request take precedence over these.
type UTMParams struct {
	Source   string `json:"utm_source,omitempty"`
	Medium   string `json:"utm_medium,omitempty"`
	Campaign string `json:"utm_campaign,omitempty"`
	Term     string `json:"utm_term,omitempty"`
	Content  string `json:"utm_content,omitempty"`
}

// Flags are per-link feature toggles.
type Flags struct {
	TrackingEnabled   bool `json:"tracking_enabled"`
	PermanentRedirect bool `json:"permanent_redirect"`
}

// Rules is the open-ended rules blob on a record. Only declared fields are
// interpreted; anything else is ignored. A malformed ab_test entry is treated
// as "no experiment" rather than failing the whole record.
type Rules struct {
	ABTest *experiment.Config `json:"ab_test,omitempty"`
}

// UnmarshalJSON tolerates a malformed or mistyped ab_test entry.
func (r *Rules) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		// The rules blob itself is malformed: no experiment.
		*r = Rules{}
		return nil
	}

	*r = Rules{}
	if ab, ok := raw["ab_test"]; ok {
		var cfg experiment.Config
		if err := json.Unmarshal(ab, &cfg); err == nil {
			r.ABTest = &cfg
		}
	}
	return nil
}

// Record is a short-link record as stored by the dashboard.
type Record struct {
	Slug        string     `json:"slug"`
	Destination string     `json:"destination"`
	LinkID      *string    `json:"link_id,omitempty"`
	UserID      *string    `json:"user_id,omitempty"`
	IsActive    bool       `json:"is_active"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	MaxClicks   *int64     `json:"max_clicks,omitempty"`
	Tags        []string   `json:"tags,omitempty"`
	UTM         UTMParams  `json:"utm,omitempty"`
	Rules       Rules      `json:"rules,omitempty"`
	Flags       Flags      `json:"flags,omitempty"`
	Version     int64      `json:"version"`
}

// DecodeRecord parses a stored record payload.
func DecodeRecord(data []byte) (*Record, error) {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// ParseDestination validates that the record's destination is an absolute
// http(s) URL and returns it parsed. Records failing this are resolved as
// not-found.
func (r *Record) ParseDestination() (*url.URL, error) {
	if r.Destination == "" {
		return nil, errors.New("destination is empty")
	}
	if len(r.Destination) > MaxURLLength {
		return nil, errors.New("destination too long")
	}

	u, err := url.Parse(r.Destination)
	if err != nil {
		return nil, errors.New("destination is not a valid url")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errors.New("destination scheme must be http or https")
	}
	if u.Host == "" {
		return nil, errors.New("destination must be absolute")
	}
	return u, nil
}

// Usable reports whether the record may be served at the given instant.
func (r *Record) Usable(now time.Time) bool {
	if !r.IsActive {
		return false
	}
	if r.ExpiresAt != nil && !r.ExpiresAt.After(now) {
		return false
	}
	return true
}

// Experiment returns the record's experiment config, or nil when none is set.
func (r *Record) Experiment() *experiment.Config {
	return r.Rules.ABTest
}

// Trackable reports whether telemetry for this record should reach the
// dashboard: the link must be active and owned (both ids present).
func (r *Record) Trackable() bool {
	return r.IsActive && r.LinkID != nil && *r.LinkID != "" && r.UserID != nil && *r.UserID != ""
}
