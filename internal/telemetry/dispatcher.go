package telemetry

import (
	"context"
	"log/slog"
	"sync"

	"github.com/imaxisXD/ndle-worker/internal/fingerprint"
	"github.com/imaxisXD/ndle-worker/internal/health"
	"github.com/imaxisXD/ndle-worker/internal/link"
)

// Dispatcher fans out post-response work: analytics ingestion and, for
// trackable human traffic, a destination health probe persisted through the
// mutation service. All tasks run concurrently with failure isolation.
type Dispatcher struct {
	ingest   *IngestClient
	mutation *MutationClient
	prober   *health.Prober
	logger   *slog.Logger
}

func NewDispatcher(ingest *IngestClient, mutation *MutationClient, prober *health.Prober, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{ingest: ingest, mutation: mutation, prober: prober, logger: logger}
}

// Dispatch ships the event and, when the record is active with both owner
// ids and the request was not a bot, probes the destination and records the
// outcome. Blocks until all fan-out settles; errors are logged, not
// returned.
func (d *Dispatcher) Dispatch(ctx context.Context, ev fingerprint.AnalyticsEvent, rec *link.Record) {
	var wg sync.WaitGroup

	if d.ingest != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.ingest.Send(ctx, ev)
		}()
	}

	if d.shouldProbe(ev, rec) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.probeAndRecord(ctx, ev, rec)
		}()
	}

	wg.Wait()
}

func (d *Dispatcher) shouldProbe(ev fingerprint.AnalyticsEvent, rec *link.Record) bool {
	return d.prober != nil && d.mutation != nil && d.mutation.Enabled() &&
		rec != nil && rec.Trackable() && !ev.IsBot
}

func (d *Dispatcher) probeAndRecord(ctx context.Context, ev fingerprint.AnalyticsEvent, rec *link.Record) {
	result := d.prober.Probe(ctx, rec.Destination)

	report := HealthReport{
		LinkID:        *rec.LinkID,
		UserID:        *rec.UserID,
		StatusCode:    result.HTTPStatus,
		StatusMessage: string(result.Status),
		RequestID:     ev.RequestID,
		Click: &ClickSummary{
			Slug:       ev.Slug,
			Timestamp:  ev.Timestamp,
			Country:    ev.Country,
			City:       ev.City,
			DeviceType: ev.DeviceType,
			Browser:    ev.Browser,
			OS:         ev.OS,
			Referer:    ev.Referer,
		},
	}
	if result.ErrorMessage != nil {
		report.StatusMessage = string(result.Status) + ": " + *result.ErrorMessage
	}

	if err := d.mutation.RecordHealth(ctx, report); err != nil {
		d.logger.ErrorContext(ctx, "health record mutation failed",
			"slug", ev.Slug,
			"link_id", *rec.LinkID,
			"status", string(result.Status),
			"error", err.Error(),
		)
	}
}
