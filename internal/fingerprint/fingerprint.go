package fingerprint

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/imaxisXD/ndle-worker/internal/link"
)

// sessionIDLength bounds the derived session identifier.
const sessionIDLength = 32

// HashIP returns the hex SHA-256 of the client IP. Raw IPs never leave the
// process.
func HashIP(ip string) string {
	sum := sha256.Sum256([]byte(ip))
	return hex.EncodeToString(sum[:])
}

// SessionID derives the stable session fingerprint: a truncated hash of the
// hashed client IP concatenated with the user agent. The same IP/UA pair
// always maps to the same identifier.
func SessionID(ip, userAgent string) string {
	sum := sha256.Sum256([]byte(HashIP(ip) + userAgent))
	return hex.EncodeToString(sum[:])[:sessionIDLength]
}

// ClientIP resolves the client address from edge headers, falling back to
// the transport peer. Ordered: CF-Connecting-IP, the first X-Forwarded-For
// hop, X-Real-IP, then RemoteAddr.
func ClientIP(r *http.Request) string {
	if ip := r.Header.Get("CF-Connecting-IP"); ip != "" {
		return ip
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// BuildInput carries everything Build needs from the finished resolution.
type BuildInput struct {
	Header      http.Header
	Query       url.Values
	ClientIP    string
	Slug        string
	ShortURL    string
	Destination string
	Status      int
	LatencyMs   int64
	RequestID   string
	Record      *link.Record // nil on cache hits without a snapshot
}

// Fingerprinter builds analytics events. It needs the backing store only
// for the first-click session marker.
type Fingerprinter struct {
	store  link.Store
	logger *slog.Logger
}

func New(store link.Store, logger *slog.Logger) *Fingerprinter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fingerprinter{store: store, logger: logger}
}

// Build assembles the immutable analytics event for one resolution. It is
// called from deferred work: a failed first-click evaluation defaults to
// "first click" and is logged, never propagated.
func (f *Fingerprinter) Build(ctx context.Context, in BuildInput) AnalyticsEvent {
	ua := in.Header.Get("User-Agent")
	sessionID := SessionID(in.ClientIP, ua)

	ev := AnalyticsEvent{
		IdempotencyKey:  in.RequestID,
		Timestamp:       time.Now().UTC(),
		Slug:            in.Slug,
		ShortURL:        in.ShortURL,
		Destination:     in.Destination,
		RedirectStatus:  in.Status,
		LatencyMs:       in.LatencyMs,
		SessionID:       sessionID,
		FirstClick:      f.firstClick(ctx, sessionID, in.Slug),
		RequestID:       in.RequestID,
		UserAgent:       ua,
		DeviceType:      DeviceType(in.Header),
		Browser:         Browser(in.Header),
		OS:              OS(in.Header),
		IPHash:          HashIP(in.ClientIP),
		Country:         in.Header.Get("CF-IPCountry"),
		City:            in.Header.Get("CF-IPCity"),
		Region:          in.Header.Get("CF-Region"),
		Timezone:        in.Header.Get("CF-Timezone"),
		Referer:         in.Header.Get("Referer"),
		Language:        Language(in.Header),
		IsBot:           IsBot(in.Header),
		TrackingEnabled: in.Record != nil && in.Record.Flags.TrackingEnabled,
	}

	if in.Record != nil {
		ev.LinkID = in.Record.LinkID
		ev.UserID = in.Record.UserID
	}

	applyUTM(&ev, in.Query, in.Record)
	return ev
}

// firstClick evaluates the session marker. Errors default to true so a
// flaky store never drops first-click attribution.
func (f *Fingerprinter) firstClick(ctx context.Context, sessionID, slug string) bool {
	first, err := f.store.MarkSession(ctx, sessionID, slug)
	if err != nil {
		f.logger.ErrorContext(ctx, "session marker evaluation failed",
			"slug", slug,
			"session_id", sessionID,
			"error", err.Error(),
		)
		return true
	}
	return first
}

// applyUTM merges attribution: query-string values override the record's
// stored UTM parameters, which fill in only when the query omits them.
func applyUTM(ev *AnalyticsEvent, query url.Values, rec *link.Record) {
	var stored link.UTMParams
	if rec != nil {
		stored = rec.UTM
	}

	pick := func(param, fallback string) string {
		if v := query.Get(param); v != "" {
			return v
		}
		return fallback
	}

	ev.UTMSource = pick("utm_source", stored.Source)
	ev.UTMMedium = pick("utm_medium", stored.Medium)
	ev.UTMCampaign = pick("utm_campaign", stored.Campaign)
	ev.UTMTerm = pick("utm_term", stored.Term)
	ev.UTMContent = pick("utm_content", stored.Content)
}
