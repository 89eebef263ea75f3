package aggregation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aevon-lab/klaviyo-sync/internal/core/aggregation"
	"github.com/aevon-lab/klaviyo-sync/internal/klaviyo"
)

const (
	defaultInterval          = "month"
	defaultSubscriberSegment = "All Subscribers Segment"
)

// MetricsSource is the slice of the Klaviyo API the aggregation pass reads from.
type MetricsSource interface {
	ListMetrics(ctx context.Context) ([]klaviyo.Metric, error)
	QueryAggregates(ctx context.Context, q klaviyo.AggregateQuery) ([]aggregation.MeasurementRecord, error)
	ListSegments(ctx context.Context) ([]klaviyo.Segment, error)
	SegmentProfileCount(ctx context.Context, segmentID string) (int64, error)
	SegmentProfiles(ctx context.Context, segmentID string) ([]klaviyo.Profile, error)
	ListProfiles(ctx context.Context) ([]klaviyo.Profile, error)
}

// Options controls what a pass queries.
type Options struct {
	// MessageID is the campaign message whose deliveries and opens are tracked.
	MessageID string
	// Window bounds every aggregate query.
	Window aggregation.Window
	// Interval is the bucket size the API groups measurements by.
	Interval string
	// SubscriberSegment names the segment whose size is the subscriber count.
	SubscriberSegment string
}

func (o Options) normalized() Options {
	n := o
	if n.Interval == "" {
		n.Interval = defaultInterval
	}
	if n.SubscriberSegment == "" {
		n.SubscriberSegment = defaultSubscriberSegment
	}
	return n
}

// ProcessedSet holds the metric ids already aggregated in one run.
type ProcessedSet map[string]struct{}

// Has reports whether id was already aggregated.
func (p ProcessedSet) Has(id string) bool {
	_, ok := p[id]
	return ok
}

// Result is the output of one aggregation pass.
type Result struct {
	Counters  *aggregation.Counters
	Processed ProcessedSet
	// Skipped counts listing entries ignored as duplicates of an earlier id.
	Skipped int
}

// Aggregator drives one sequential pass over the account's metric definitions.
type Aggregator struct {
	source MetricsSource
	opts   Options
}

// NewAggregator creates an Aggregator reading from source.
func NewAggregator(source MetricsSource, opts Options) *Aggregator {
	if source == nil {
		panic("aggregation: source must not be nil")
	}
	return &Aggregator{
		source: source,
		opts:   opts.normalized(),
	}
}

// Run lists the account's metrics and aggregates them with a fresh ProcessedSet.
// cutoff is the start of the run's local calendar day; profiles consenting at or
// after it count as new subscribers.
func (a *Aggregator) Run(ctx context.Context, cutoff time.Time) (*Result, error) {
	metrics, err := a.source.ListMetrics(ctx)
	if err != nil {
		return nil, fmt.Errorf("list metrics: %w", err)
	}
	return a.Aggregate(ctx, cutoff, metrics, nil)
}

// Aggregate folds every distinct metric into a new Counters instance.
// The first occurrence of an id wins; ids already in processed, or repeated later
// in metrics, are skipped. A nil processed starts an empty set. The returned set
// contains every id handled by this call plus those passed in.
func (a *Aggregator) Aggregate(
	ctx context.Context,
	cutoff time.Time,
	metrics []klaviyo.Metric,
	processed ProcessedSet,
) (*Result, error) {
	if processed == nil {
		processed = make(ProcessedSet, len(metrics))
	}

	res := &Result{
		Counters:  aggregation.NewCounters(),
		Processed: processed,
	}
	pass := &pass{agg: a, cutoff: cutoff, counters: res.Counters}

	for _, m := range metrics {
		if processed.Has(m.ID) {
			res.Skipped++
			continue
		}
		processed[m.ID] = struct{}{}

		kind, ok := aggregation.ParseReportKind(m.Name)
		if !ok {
			continue
		}
		rule, ok := rules[kind]
		if !ok {
			continue
		}

		if err := rule(ctx, pass, m.ID); err != nil {
			return nil, fmt.Errorf("aggregate %q (metric %s): %w", m.Name, m.ID, err)
		}
		slog.Debug("[Aggregator] Metric aggregated", "metric_id", m.ID, "report", kind.String())
	}

	slog.Info("[Aggregator] Pass complete",
		"metrics_listed", len(metrics),
		"metrics_processed", len(processed),
		"duplicates_skipped", res.Skipped,
	)
	return res, nil
}
