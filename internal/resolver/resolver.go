// Package resolver implements the redirect resolution engine: cache-aside
// lookup with single-flight coalescing, variant selection, and construction
// of the work deferred until after the response is sent.
package resolver

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/imaxisXD/ndle-worker/internal/cache"
	"github.com/imaxisXD/ndle-worker/internal/errx"
	"github.com/imaxisXD/ndle-worker/internal/experiment"
	"github.com/imaxisXD/ndle-worker/internal/fingerprint"
	"github.com/imaxisXD/ndle-worker/internal/link"
)

// Source tags where a resolution came from.
type Source string

const (
	SourceCache    Source = "cache"
	SourceStore    Source = "store"
	SourceFollower Source = "coalesced-follower"
)

// Request is the slice of an incoming request the resolver needs.
type Request struct {
	Method    string
	Scheme    string
	Host      string
	Path      string
	Slug      string
	Query     url.Values
	Header    http.Header
	ClientIP  string
	RequestID string
}

// Resolution is the outcome of one resolve: what to answer the client and
// what to do afterwards.
type Resolution struct {
	Location  string
	Status    int
	VariantID string
	Source    Source
	Record    *link.Record
	CacheKey  string
	// CacheWrite is the entry to persist after responding. Only set for the
	// coalescing leader on the miss path; followers and hits leave it nil.
	CacheWrite *cache.Entry
}

// Resolver orchestrates cache lookup, coalesced store fetch, variant
// selection, and response construction.
type Resolver struct {
	coalescer *Coalescer
	cache     cache.Cache
	logger    *slog.Logger
	now       func() time.Time
}

func New(store link.Store, edge cache.Cache, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		coalescer: NewCoalescer(store),
		cache:     edge,
		logger:    logger,
		now:       time.Now,
	}
}

// Resolve answers one request. Failures on the cache or store paths degrade
// (a broken cache read is a miss, a broken store fetch is not-found) and only
// guard-clause violations surface as client errors.
func (r *Resolver) Resolve(ctx context.Context, req Request) (*Resolution, error) {
	const op = "resolver.Resolve"

	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		return nil, errx.E(op, errx.NotAllowed, errors.New("only GET and HEAD are served"))
	}
	if req.Slug == "" || len(req.Slug) > link.MaxSlugLength {
		return nil, errx.E(op, errx.NotFound, errors.New("no such link"))
	}

	key := CacheKey(req.Scheme, req.Host, req.Path)

	if entry := r.matchCache(ctx, key); entry != nil {
		return r.resolveHit(req, key, entry), nil
	}
	return r.resolveMiss(ctx, req, key)
}

// matchCache treats any cache failure as a miss.
func (r *Resolver) matchCache(ctx context.Context, key string) *cache.Entry {
	if r.cache == nil {
		return nil
	}
	entry, err := r.cache.Match(ctx, key)
	if err != nil {
		r.logger.ErrorContext(ctx, "edge cache read failed",
			"cache_key", key,
			"error", err.Error(),
		)
		return nil
	}
	return entry
}

// resolveHit serves a cached canonical destination. The variant is re-derived
// per request with the deterministic strategy regardless of the configured
// distribution mode, so a cached response can never show one visitor two
// different variants.
func (r *Resolver) resolveHit(req Request, key string, entry *cache.Entry) *Resolution {
	res := &Resolution{
		Location: entry.Location,
		Status:   entry.Status,
		Source:   SourceCache,
		Record:   entry.Record,
		CacheKey: key,
	}

	if entry.Record != nil {
		if cfg := entry.Record.Experiment(); cfg.Active() {
			fp := fingerprint.SessionID(req.ClientIP, req.Header.Get("User-Agent"))
			if v := experiment.SelectDeterministic(cfg, fp); v != nil && v.URL != "" {
				res.Location = applyVariant(entry.Location, v.URL)
				res.VariantID = v.ID
			}
		}
	}
	return res
}

func (r *Resolver) resolveMiss(ctx context.Context, req Request, key string) (*Resolution, error) {
	const op = "resolver.resolveMiss"

	rec, leader, err := r.coalescer.Fetch(ctx, req.Slug)
	if err != nil {
		// Store failures are recovered as not-found for the client.
		r.logger.ErrorContext(ctx, "backend lookup failed",
			"slug", req.Slug,
			"error", err.Error(),
		)
		return nil, errx.E(op, errx.NotFound, errors.New("no such link"))
	}
	if rec == nil || !rec.Usable(r.now()) {
		return nil, errx.E(op, errx.NotFound, errors.New("no such link"))
	}

	dest, err := rec.ParseDestination()
	if err != nil {
		r.logger.WarnContext(ctx, "record destination unparseable",
			"slug", req.Slug,
			"error", err.Error(),
		)
		return nil, errx.E(op, errx.NotFound, errors.New("no such link"))
	}

	canonical := mergeUTM(dest, rec.UTM)
	status := http.StatusFound
	if rec.Flags.PermanentRedirect {
		status = http.StatusMovedPermanently
	}

	res := &Resolution{
		Location: canonical,
		Status:   status,
		Source:   SourceStore,
		Record:   rec,
		CacheKey: key,
	}
	if !leader {
		res.Source = SourceFollower
	}

	if cfg := rec.Experiment(); cfg.Active() {
		fp := fingerprint.SessionID(req.ClientIP, req.Header.Get("User-Agent"))
		deterministic := cfg.Distribution == experiment.DistributionDeterministic
		if v := experiment.Select(cfg, fp, deterministic); v != nil && v.URL != "" {
			res.Location = applyVariant(canonical, v.URL)
			res.VariantID = v.ID
		}
	}

	// Only the leader populates the cache, and always with the canonical,
	// pre-variant destination.
	if leader {
		res.CacheWrite = &cache.Entry{
			Location: canonical,
			Status:   status,
			Record:   rec,
		}
	}
	return res, nil
}

// WriteCache persists a resolved entry. Called from deferred work; failures
// are the caller's to log.
func (r *Resolver) WriteCache(ctx context.Context, key string, entry *cache.Entry) error {
	if r.cache == nil || entry == nil {
		return nil
	}
	return r.cache.Put(ctx, key, entry)
}

// mergeUTM bakes the record's stored UTM parameters into the destination,
// keeping any parameter the destination already carries.
func mergeUTM(dest *url.URL, utm link.UTMParams) string {
	params := map[string]string{
		"utm_source":   utm.Source,
		"utm_medium":   utm.Medium,
		"utm_campaign": utm.Campaign,
		"utm_term":     utm.Term,
		"utm_content":  utm.Content,
	}

	q := dest.Query()
	changed := false
	for name, value := range params {
		if value != "" && q.Get(name) == "" {
			q.Set(name, value)
			changed = true
		}
	}
	if changed {
		u := *dest
		u.RawQuery = q.Encode()
		return u.String()
	}
	return dest.String()
}

// applyVariant swaps in the variant URL, carrying over the canonical
// destination's UTM parameters unless the variant already sets them. An
// unparseable variant URL falls back to the canonical destination.
func applyVariant(canonical, variantURL string) string {
	vu, err := url.Parse(variantURL)
	if err != nil || vu.Host == "" {
		return canonical
	}
	cu, err := url.Parse(canonical)
	if err != nil {
		return variantURL
	}

	vq := vu.Query()
	changed := false
	for name, values := range cu.Query() {
		if !strings.HasPrefix(name, "utm_") || len(values) == 0 {
			continue
		}
		if vq.Get(name) == "" {
			vq.Set(name, values[0])
			changed = true
		}
	}
	if changed {
		vu.RawQuery = vq.Encode()
	}
	return vu.String()
}
