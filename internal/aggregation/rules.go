package aggregation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aevon-lab/klaviyo-sync/internal/core/aggregation"
	"github.com/aevon-lab/klaviyo-sync/internal/klaviyo"
	"github.com/shopspring/decimal"
)

// Dimensions used to group aggregate queries.
const (
	dimMessage           = "$message"
	dimAttributedMessage = "$attributed_message"
	dimAttributedFlow    = "$attributed_flow"
	dimFlow              = "$flow"
	dimBounceType        = "Bounce Type"

	filterAttributedOnly = `not(equals($attributed_message,""))`
)

// pass is the per-run state a rule reads and writes.
type pass struct {
	agg      *Aggregator
	cutoff   time.Time
	counters *aggregation.Counters
}

// accumulateFunc folds one metric into the pass counters.
type accumulateFunc func(ctx context.Context, p *pass, metricID string) error

// rules maps every report kind to its accumulation rule.
var rules = map[aggregation.ReportKind]accumulateFunc{
	aggregation.ReportReceivedEmail:        accumulateReceived,
	aggregation.ReportDroppedEmail:         simpleRule(dimMessage, aggregation.MeasureCount, func(c *aggregation.Counters) *decimal.Decimal { return &c.Dropped }),
	aggregation.ReportMarkedEmailAsSpam:    simpleRule(dimMessage, aggregation.MeasureCount, func(c *aggregation.Counters) *decimal.Decimal { return &c.Spam }),
	aggregation.ReportOpenedEmail:          accumulateOpened,
	aggregation.ReportClickedEmail:         simpleRule(dimMessage, aggregation.MeasureUnique, func(c *aggregation.Counters) *decimal.Decimal { return &c.Clicked }),
	aggregation.ReportSubscribedToList:     accumulateSubscribed,
	aggregation.ReportUnsubscribedFromList: accumulateUnsubscribed,
	aggregation.ReportBouncedEmail:         simpleRule(dimBounceType, aggregation.MeasureUnique, func(c *aggregation.Counters) *decimal.Decimal { return &c.Bounced }),
	aggregation.ReportViewedProduct:        attributedRule(func(c *aggregation.Counters) *decimal.Decimal { return &c.ViewedProduct }),
	aggregation.ReportActiveOnSite:         attributedRule(func(c *aggregation.Counters) *decimal.Decimal { return &c.ActiveOnSite }),
	aggregation.ReportPlacedOrder:          accumulatePlacedOrder,
}

// sum runs one aggregate query over the reporting window and sums kind across the
// records accepted by keep.
func (p *pass) sum(
	ctx context.Context,
	metricID string,
	by []string,
	kind aggregation.MeasurementKind,
	extraFilters []string,
	keep func(aggregation.MeasurementRecord) bool,
) (decimal.Decimal, error) {
	filters := append(p.agg.opts.Window.Filters(), extraFilters...)
	records, err := p.agg.source.QueryAggregates(ctx, klaviyo.AggregateQuery{
		MetricID:     metricID,
		By:           by,
		Measurements: []aggregation.MeasurementKind{kind},
		Filter:       filters,
		Interval:     p.agg.opts.Interval,
	})
	if err != nil {
		return decimal.Zero, err
	}
	return aggregation.SumRecords(records, kind, keep), nil
}

func (p *pass) trackedMessage(rec aggregation.MeasurementRecord) bool {
	return rec.HasDimensions(p.agg.opts.MessageID)
}

func attributed(rec aggregation.MeasurementRecord) bool {
	return !rec.Unattributed()
}

// simpleRule sums one measurement grouped by one dimension into a single counter.
func simpleRule(dim string, kind aggregation.MeasurementKind, field func(*aggregation.Counters) *decimal.Decimal) accumulateFunc {
	return func(ctx context.Context, p *pass, metricID string) error {
		v, err := p.sum(ctx, metricID, []string{dim}, kind, nil, nil)
		if err != nil {
			return err
		}
		target := field(p.counters)
		*target = target.Add(v)
		return nil
	}
}

// attributedRule counts unique conversions attributed to a message, dropping the
// unattributed bucket.
func attributedRule(field func(*aggregation.Counters) *decimal.Decimal) accumulateFunc {
	return func(ctx context.Context, p *pass, metricID string) error {
		v, err := p.sum(ctx, metricID, []string{dimAttributedMessage}, aggregation.MeasureUnique, nil, attributed)
		if err != nil {
			return err
		}
		target := field(p.counters)
		*target = target.Add(v)
		return nil
	}
}

func accumulateReceived(ctx context.Context, p *pass, metricID string) error {
	delivered, err := p.sum(ctx, metricID, []string{dimMessage}, aggregation.MeasureCount, nil, p.trackedMessage)
	if err != nil {
		return fmt.Errorf("delivered count: %w", err)
	}
	unique, err := p.sum(ctx, metricID, []string{dimMessage}, aggregation.MeasureUnique, nil, nil)
	if err != nil {
		return fmt.Errorf("delivered unique: %w", err)
	}
	p.counters.Delivered = p.counters.Delivered.Add(delivered)
	p.counters.DeliveredUnique = p.counters.DeliveredUnique.Add(unique)
	return nil
}

func accumulateOpened(ctx context.Context, p *pass, metricID string) error {
	opened, err := p.sum(ctx, metricID, []string{dimMessage}, aggregation.MeasureUnique, nil, p.trackedMessage)
	if err != nil {
		return err
	}
	p.counters.Opened = p.counters.Opened.Add(opened)
	return nil
}

func accumulatePlacedOrder(ctx context.Context, p *pass, metricID string) error {
	byAttribution := []string{dimAttributedMessage, dimAttributedFlow}
	attributedOnly := []string{filterAttributedOnly}

	revenue, err := p.sum(ctx, metricID, byAttribution, aggregation.MeasureSumValue, attributedOnly, nil)
	if err != nil {
		return fmt.Errorf("attributed revenue: %w", err)
	}
	revenueUnique, err := p.sum(ctx, metricID, byAttribution, aggregation.MeasureUnique, attributedOnly, nil)
	if err != nil {
		return fmt.Errorf("attributed buyers: %w", err)
	}
	orders, err := p.sum(ctx, metricID, []string{dimFlow}, aggregation.MeasureCount, nil, nil)
	if err != nil {
		return fmt.Errorf("total orders: %w", err)
	}
	totalRevenue, err := p.sum(ctx, metricID, []string{dimFlow}, aggregation.MeasureSumValue, nil, nil)
	if err != nil {
		return fmt.Errorf("total revenue: %w", err)
	}

	p.counters.Revenue = p.counters.Revenue.Add(revenue)
	p.counters.RevenueUnique = p.counters.RevenueUnique.Add(revenueUnique)
	p.counters.TotalOrders = p.counters.TotalOrders.Add(orders)
	p.counters.TotalRevenue = p.counters.TotalRevenue.Add(totalRevenue)
	return nil
}

// accumulateSubscribed resolves the subscriber segment by name. A missing segment
// contributes nothing.
func accumulateSubscribed(ctx context.Context, p *pass, _ string) error {
	segments, err := p.agg.source.ListSegments(ctx)
	if err != nil {
		return err
	}

	found := false
	for _, seg := range segments {
		if seg.Name != p.agg.opts.SubscriberSegment {
			continue
		}
		found = true

		total, err := p.agg.source.SegmentProfileCount(ctx, seg.ID)
		if err != nil {
			return err
		}
		profiles, err := p.agg.source.SegmentProfiles(ctx, seg.ID)
		if err != nil {
			return err
		}

		var fresh int64
		for _, prof := range profiles {
			if newSubscriber(prof, p.cutoff) {
				fresh++
			}
		}
		p.counters.Subscribers = p.counters.Subscribers.Add(decimal.NewFromInt(total))
		p.counters.NewSubscribers = p.counters.NewSubscribers.Add(decimal.NewFromInt(fresh))
	}
	if !found {
		slog.Warn("[Aggregator] Subscriber segment not found", "segment", p.agg.opts.SubscriberSegment)
	}
	return nil
}

// newSubscriber reports whether prof consented to email marketing at or after
// cutoff, compared in cutoff's time zone.
func newSubscriber(prof klaviyo.Profile, cutoff time.Time) bool {
	if prof.Consent != klaviyo.ConsentSubscribed || prof.ConsentTimestamp == nil {
		return false
	}
	return !prof.ConsentTimestamp.In(cutoff.Location()).Before(cutoff)
}

func accumulateUnsubscribed(ctx context.Context, p *pass, _ string) error {
	profiles, err := p.agg.source.ListProfiles(ctx)
	if err != nil {
		return err
	}

	var n int64
	for _, prof := range profiles {
		if prof.Consent == klaviyo.ConsentUnsubscribed {
			n++
		}
	}
	p.counters.Unsubscribed = p.counters.Unsubscribed.Add(decimal.NewFromInt(n))
	return nil
}
