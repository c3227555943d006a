package resolver

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/imaxisXD/ndle-worker/internal/background"
	"github.com/imaxisXD/ndle-worker/internal/errx"
	"github.com/imaxisXD/ndle-worker/internal/fingerprint"
	"github.com/imaxisXD/ndle-worker/internal/httpx"
	"github.com/imaxisXD/ndle-worker/internal/telemetry"
)

// Resolutions partitioned by where the answer came from.
var resolutionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "redirect_resolutions_total",
		Help: "Total slug resolutions by source and outcome",
	},
	[]string{"source", "outcome"},
)

// Handler serves the redirect route and schedules the deferred work that
// follows each response.
type Handler struct {
	resolver      *Resolver
	fingerprinter *fingerprint.Fingerprinter
	dispatcher    *telemetry.Dispatcher
	runner        *background.Runner
	logger        *slog.Logger
}

// HandlerConfig holds configuration for the handler.
type HandlerConfig struct {
	Resolver      *Resolver
	Fingerprinter *fingerprint.Fingerprinter
	Dispatcher    *telemetry.Dispatcher
	Runner        *background.Runner
	Logger        *slog.Logger
}

// NewHandler creates a new Handler instance.
func NewHandler(cfg HandlerConfig) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		resolver:      cfg.Resolver,
		fingerprinter: cfg.Fingerprinter,
		dispatcher:    cfg.Dispatcher,
		runner:        cfg.Runner,
		logger:        logger,
	}
}

// Redirect resolves the slug in the request path and answers with a
// redirect. Telemetry, health probing, and cache population happen after the
// response in deferred tasks and can never fail it.
func (h *Handler) Redirect(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()

	requestID := httpx.GetRequestID(ctx)
	slug := r.PathValue("slug")

	logger := h.logger.With(
		"request_id", requestID,
		"slug", slug,
	)

	req := Request{
		Method:    r.Method,
		Scheme:    requestScheme(r),
		Host:      r.Host,
		Path:      r.URL.Path,
		Slug:      slug,
		Query:     r.URL.Query(),
		Header:    r.Header,
		ClientIP:  fingerprint.ClientIP(r),
		RequestID: requestID,
	}

	res, err := h.resolver.Resolve(ctx, req)
	if err != nil {
		h.handleResolveError(w, r, err, slug)
		return
	}

	http.Redirect(w, r, res.Location, res.Status)
	latencyMs := time.Since(start).Milliseconds()
	resolutionsTotal.WithLabelValues(string(res.Source), "redirect").Inc()

	logger.InfoContext(ctx, "slug resolved",
		"source", string(res.Source),
		"status", res.Status,
		"variant", res.VariantID,
		"latency_ms", latencyMs,
	)

	h.scheduleDeferred(req, res, latencyMs)
}

// scheduleDeferred registers the post-response tasks: the leader's cache
// write and the telemetry pipeline. Each task is isolated by the runner.
func (h *Handler) scheduleDeferred(req Request, res *Resolution, latencyMs int64) {
	if h.runner == nil {
		return
	}

	if res.CacheWrite != nil {
		h.runner.Go("cache-write", func(ctx context.Context) error {
			return h.resolver.WriteCache(ctx, res.CacheKey, res.CacheWrite)
		})
	}

	if h.fingerprinter == nil || h.dispatcher == nil {
		return
	}
	h.runner.Go("telemetry", func(ctx context.Context) error {
		ev := h.fingerprinter.Build(ctx, fingerprint.BuildInput{
			Header:      req.Header,
			Query:       req.Query,
			ClientIP:    req.ClientIP,
			Slug:        req.Slug,
			ShortURL:    strings.ToLower(req.Scheme+"://"+req.Host) + "/" + req.Slug,
			Destination: res.Location,
			Status:      res.Status,
			LatencyMs:   latencyMs,
			RequestID:   req.RequestID,
			Record:      res.Record,
		})
		h.dispatcher.Dispatch(ctx, ev, res.Record)
		return nil
	})
}

func (h *Handler) handleResolveError(w http.ResponseWriter, r *http.Request, err error, slug string) {
	ctx := r.Context()
	kind := errx.KindOf(err)

	logAttrs := []any{
		"error", err.Error(),
		"error_kind", kind,
		"operation", errx.OpOf(err),
		"slug", slug,
	}

	switch kind {
	case errx.NotFound:
		h.logger.WarnContext(ctx, "slug not found", logAttrs...)
		resolutionsTotal.WithLabelValues("none", "not_found").Inc()
		httpx.WriteError(w, http.StatusNotFound, "not_found",
			"short link doesn't exist", nil)

	case errx.NotAllowed:
		h.logger.WarnContext(ctx, "method not allowed", logAttrs...)
		resolutionsTotal.WithLabelValues("none", "not_allowed").Inc()
		w.Header().Set("Allow", "GET, HEAD")
		httpx.WriteError(w, http.StatusMethodNotAllowed, "method_not_allowed",
			"only GET and HEAD are served", nil)

	default:
		h.logger.ErrorContext(ctx, "unexpected error resolving link", logAttrs...)
		resolutionsTotal.WithLabelValues("none", "error").Inc()
		httpx.WriteError(w, http.StatusInternalServerError, "internal_error",
			"Unable to resolve this link at this time", nil)
	}
}

// requestScheme prefers the edge-forwarded protocol over the transport the
// worker itself terminated.
func requestScheme(r *http.Request) string {
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		return proto
	}
	if r.TLS != nil {
		return "https"
	}
	return "http"
}
