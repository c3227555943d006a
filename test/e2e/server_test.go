package e2e

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/imaxisXD/ndle-worker/internal/background"
	"github.com/imaxisXD/ndle-worker/internal/cache"
	"github.com/imaxisXD/ndle-worker/internal/experiment"
	"github.com/imaxisXD/ndle-worker/internal/fingerprint"
	"github.com/imaxisXD/ndle-worker/internal/httpx"
	"github.com/imaxisXD/ndle-worker/internal/link"
	"github.com/imaxisXD/ndle-worker/internal/resolver"
	"github.com/imaxisXD/ndle-worker/internal/telemetry"
)

// ingestCapture records analytics events delivered to a fake ingest endpoint.
type ingestCapture struct {
	mu     sync.Mutex
	events []fingerprint.AnalyticsEvent
	server *httptest.Server
}

func newIngestCapture(t *testing.T) *ingestCapture {
	t.Helper()
	c := &ingestCapture{}
	c.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		var ev fingerprint.AnalyticsEvent
		if err := json.Unmarshal(body, &ev); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		c.mu.Lock()
		c.events = append(c.events, ev)
		c.mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
	}))
	t.Cleanup(c.server.Close)
	return c
}

func (c *ingestCapture) snapshot() []fingerprint.AnalyticsEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]fingerprint.AnalyticsEvent, len(c.events))
	copy(out, c.events)
	return out
}

// testApp wires the full request pipeline against a throwaway Redis.
type testApp struct {
	mux    http.Handler
	redis  goredis.UniversalClient
	cache  *cache.Ristretto
	runner *background.Runner
	ingest *ingestCapture
}

func setupTestApp(t *testing.T) *testApp {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping e2e test in short mode")
	}
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		t.Fatalf("failed to start redis container: %v", err)
	}
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate redis container: %v", err)
		}
	})

	connStr, err := container.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("failed to get redis connection string: %v", err)
	}
	opts, err := goredis.ParseURL(connStr)
	if err != nil {
		t.Fatalf("failed to parse redis url: %v", err)
	}
	client := goredis.NewClient(opts)
	t.Cleanup(func() { _ = client.Close() })

	store, err := link.NewRedisStore(client)
	if err != nil {
		t.Fatalf("NewRedisStore() error = %v", err)
	}

	edge, err := cache.NewRistretto(cache.RistrettoConfig{MaxEntries: 1000, TTL: time.Hour})
	if err != nil {
		t.Fatalf("NewRistretto() error = %v", err)
	}
	t.Cleanup(edge.Close)

	logger := slog.New(slog.DiscardHandler)
	capture := newIngestCapture(t)

	ingest := telemetry.NewIngestClient(http.DefaultClient, []string{capture.server.URL}, "test-token", logger)
	mutation := telemetry.NewMutationClient(http.DefaultClient, "", "")
	dispatcher := telemetry.NewDispatcher(ingest, mutation, nil, logger)
	runner := background.NewRunner(logger)

	handler := resolver.NewHandler(resolver.HandlerConfig{
		Resolver:      resolver.New(store, edge, logger),
		Fingerprinter: fingerprint.New(store, logger),
		Dispatcher:    dispatcher,
		Runner:        runner,
		Logger:        logger,
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/{slug}", handler.Redirect)

	return &testApp{
		mux:    httpx.Chain(httpx.RequestID, httpx.Logger(logger))(mux),
		redis:  client,
		cache:  edge,
		runner: runner,
		ingest: capture,
	}
}

func (a *testApp) seed(t *testing.T, rec link.Record) {
	t.Helper()
	b, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("failed to marshal record: %v", err)
	}
	if err := a.redis.Set(context.Background(), link.RecordKey(rec.Slug), b, 0).Err(); err != nil {
		t.Fatalf("failed to seed record: %v", err)
	}
}

func (a *testApp) get(slug, ip, ua string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "https://short.example/"+slug, nil)
	req.RemoteAddr = ip + ":34567"
	req.Header.Set("User-Agent", ua)
	rr := httptest.NewRecorder()
	a.mux.ServeHTTP(rr, req)
	return rr
}

func (a *testApp) drain(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.runner.Wait(ctx); err != nil {
		t.Fatalf("background tasks did not drain: %v", err)
	}
	a.cache.Wait()
}

func strPtr(s string) *string { return &s }

const testUA = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36"

func TestRedirect_ColdCacheToWarm(t *testing.T) {
	app := setupTestApp(t)

	app.seed(t, link.Record{
		Slug:        "launch",
		Destination: "https://dst.example",
		LinkID:      strPtr("lnk_1"),
		UserID:      strPtr("usr_1"),
		IsActive:    true,
		Flags:       link.Flags{TrackingEnabled: true},
	})

	// Cold cache: resolved from the store.
	rr := app.get("launch", "203.0.113.7", testUA)
	if rr.Code != http.StatusFound {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusFound)
	}
	if loc := rr.Header().Get("Location"); loc != "https://dst.example" {
		t.Fatalf("Location = %q, want https://dst.example", loc)
	}

	app.drain(t)

	// The deferred cache write must have landed: remove the backing record
	// and the slug still resolves.
	if err := app.redis.Del(context.Background(), link.RecordKey("launch")).Err(); err != nil {
		t.Fatalf("failed to delete record: %v", err)
	}

	rr = app.get("launch", "203.0.113.7", testUA)
	if rr.Code != http.StatusFound {
		t.Errorf("warm status = %d, want %d", rr.Code, http.StatusFound)
	}
	if loc := rr.Header().Get("Location"); loc != "https://dst.example" {
		t.Errorf("warm Location = %q, want https://dst.example", loc)
	}
	app.drain(t)
}

func TestRedirect_EmitsAnalyticsEvent(t *testing.T) {
	app := setupTestApp(t)

	app.seed(t, link.Record{
		Slug:        "promo",
		Destination: "https://dst.example/landing",
		LinkID:      strPtr("lnk_2"),
		UserID:      strPtr("usr_2"),
		IsActive:    true,
		Flags:       link.Flags{TrackingEnabled: true},
	})

	rr := app.get("promo", "203.0.113.9", testUA)
	if rr.Code != http.StatusFound {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusFound)
	}

	app.drain(t)

	events := app.ingest.snapshot()
	if len(events) != 1 {
		t.Fatalf("ingested %d events, want 1", len(events))
	}
	ev := events[0]

	if ev.Slug != "promo" {
		t.Errorf("event slug = %q, want promo", ev.Slug)
	}
	if ev.ShortURL != "https://short.example/promo" {
		t.Errorf("event short_url = %q", ev.ShortURL)
	}
	if ev.Destination != "https://dst.example/landing" {
		t.Errorf("event destination = %q", ev.Destination)
	}
	if ev.RedirectStatus != http.StatusFound {
		t.Errorf("event redirect_status = %d, want %d", ev.RedirectStatus, http.StatusFound)
	}
	if ev.IsBot {
		t.Error("event is_bot = true, want false for a browser user agent")
	}
	if !ev.FirstClick {
		t.Error("event is_first_click = false, want true for a fresh session")
	}
	if ev.SessionID == "" || ev.IPHash == "" || ev.IdempotencyKey == "" {
		t.Error("event identity fields must all be populated")
	}
	if ev.Browser != "Chrome" {
		t.Errorf("event browser = %q, want Chrome", ev.Browser)
	}
}

func TestRedirect_RepeatVisitIsNotFirstClick(t *testing.T) {
	app := setupTestApp(t)

	app.seed(t, link.Record{
		Slug:        "again",
		Destination: "https://dst.example",
		IsActive:    true,
	})

	app.get("again", "203.0.113.10", testUA)
	app.drain(t)
	app.get("again", "203.0.113.10", testUA)
	app.drain(t)

	events := app.ingest.snapshot()
	if len(events) != 2 {
		t.Fatalf("ingested %d events, want 2", len(events))
	}
	if !events[0].FirstClick {
		t.Error("first visit should be first_click")
	}
	if events[1].FirstClick {
		t.Error("second visit from the same session should not be first_click")
	}
}

func TestRedirect_DeterministicExperimentIsStable(t *testing.T) {
	app := setupTestApp(t)

	app.seed(t, link.Record{
		Slug:        "exp",
		Destination: "https://dst.example",
		IsActive:    true,
		Rules: link.Rules{
			ABTest: &experiment.Config{
				Enabled:      true,
				Distribution: experiment.DistributionDeterministic,
				Variants: []experiment.Variant{
					{ID: "a", Weight: 1, URL: "https://a.example"},
					{ID: "b", Weight: 1, URL: "https://b.example"},
				},
			},
		},
	})

	// First request resolves from the store, later ones from the cache. The
	// same visitor must land on the same variant throughout.
	first := app.get("exp", "203.0.113.11", testUA)
	if first.Code != http.StatusFound {
		t.Fatalf("status = %d, want %d", first.Code, http.StatusFound)
	}
	want := first.Header().Get("Location")
	if want != "https://a.example" && want != "https://b.example" {
		t.Fatalf("Location = %q, want one of the variant URLs", want)
	}
	app.drain(t)

	for i := 0; i < 5; i++ {
		rr := app.get("exp", "203.0.113.11", testUA)
		if got := rr.Header().Get("Location"); got != want {
			t.Fatalf("request %d: Location = %q, want %q", i, got, want)
		}
	}
	app.drain(t)
}

func TestRedirect_NotFoundAndUnusable(t *testing.T) {
	app := setupTestApp(t)

	app.seed(t, link.Record{
		Slug:        "paused",
		Destination: "https://dst.example",
		IsActive:    false,
	})

	tests := []struct {
		name string
		slug string
	}{
		{"unknown slug", "missing"},
		{"inactive record", "paused"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := app.get(tt.slug, "203.0.113.12", testUA)
			if rr.Code != http.StatusNotFound {
				t.Errorf("status = %d, want %d", rr.Code, http.StatusNotFound)
			}
		})
	}
	app.drain(t)
}
