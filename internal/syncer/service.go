package syncer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/aevon-lab/klaviyo-sync/internal/aggregation"
	coreagg "github.com/aevon-lab/klaviyo-sync/internal/core/aggregation"
	coreerr "github.com/aevon-lab/klaviyo-sync/internal/core/errors"
	"github.com/aevon-lab/klaviyo-sync/internal/snapshot"
	"golang.org/x/sync/singleflight"
)

// Aggregator runs one metrics aggregation pass.
type Aggregator interface {
	Run(ctx context.Context, cutoff time.Time) (*aggregation.Result, error)
}

// Reconciler writes a snapshot's rows into the warehouse.
type Reconciler interface {
	Reconcile(ctx context.Context, rows []snapshot.Row) error
}

// Report describes one finished run.
type Report struct {
	Date              string         `json:"date"`
	StartedAt         time.Time      `json:"started_at"`
	FinishedAt        time.Time      `json:"finished_at"`
	MetricsProcessed  int            `json:"metrics_processed"`
	DuplicatesSkipped int            `json:"duplicates_skipped"`
	Rows              []snapshot.Row `json:"-"`
	Err               *RunError      `json:"-"`
}

// Service runs the full pipeline: aggregate, build the snapshot, reconcile.
type Service struct {
	agg   Aggregator
	rec   Reconciler
	loc   *time.Location
	nowFn func() time.Time

	group singleflight.Group

	mu   sync.Mutex
	last *Report
}

// NewService creates a Service. Run days are computed in loc.
func NewService(agg Aggregator, rec Reconciler, loc *time.Location) *Service {
	if agg == nil || rec == nil {
		panic("syncer: aggregator and reconciler must not be nil")
	}
	if loc == nil {
		loc = time.Local
	}
	return &Service{agg: agg, rec: rec, loc: loc, nowFn: time.Now}
}

// Run executes one sync. Aggregation failures abort before the warehouse is
// touched. The returned error is always a *RunError.
func (s *Service) Run(ctx context.Context) (*Report, error) {
	now := s.nowFn().In(s.loc)
	report := &Report{
		Date:      coreagg.DayStart(now).Format(snapshot.DateLayout),
		StartedAt: now,
	}
	defer s.remember(report)

	slog.Info("[Sync] Run started", "date", report.Date)

	res, err := s.agg.Run(ctx, coreagg.DayStart(now))
	if err != nil {
		return s.fail(report, classify(err, coreerr.KindTransport))
	}
	report.MetricsProcessed = len(res.Processed)
	report.DuplicatesSkipped = res.Skipped

	snap := snapshot.Build(now, res.Counters)
	report.Rows = snap.Rows

	if err := s.rec.Reconcile(ctx, snap.Rows); err != nil {
		return s.fail(report, classify(err, coreerr.KindWarehouse))
	}

	report.FinishedAt = s.nowFn().In(s.loc)
	slog.Info("[Sync] Run complete",
		"date", report.Date,
		"metrics_processed", report.MetricsProcessed,
		"duplicates_skipped", report.DuplicatesSkipped,
		"rows", len(report.Rows),
		"duration", report.FinishedAt.Sub(report.StartedAt),
	)
	return report, nil
}

// Trigger runs a sync, joining one already in flight in this process instead of
// starting a second.
func (s *Service) Trigger(ctx context.Context) (*Report, error) {
	v, err, shared := s.group.Do("sync", func() (interface{}, error) {
		return s.Run(ctx)
	})
	if shared {
		slog.Debug("[Sync] Joined in-flight run")
	}
	report, _ := v.(*Report)
	return report, err
}

// LastReport returns the most recent finished run, or nil before the first.
func (s *Service) LastReport() *Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func (s *Service) fail(report *Report, runErr *RunError) (*Report, error) {
	report.Err = runErr
	report.FinishedAt = s.nowFn().In(s.loc)
	slog.Error("[Sync] Run failed",
		"date", report.Date,
		"kind", string(runErr.Kind),
		"error", runErr.Err,
	)
	return report, runErr
}

func (s *Service) remember(report *Report) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = report
}
