package aggregation

import (
	"github.com/shopspring/decimal"
)

// MeasurementKind selects which statistic an aggregate query computes per group.
type MeasurementKind string

// Supported measurement kinds of the metric-aggregates API.
const (
	MeasureCount    MeasurementKind = "count"
	MeasureUnique   MeasurementKind = "unique"
	MeasureSumValue MeasurementKind = "sum_value"
)

// MeasurementRecord is one grouped row of an aggregate query result.
// Measurements hold one value per interval bucket of the query.
type MeasurementRecord struct {
	Dimensions   []string
	Measurements map[MeasurementKind][]float64
}

// HasDimensions reports whether the record's dimension tuple equals want exactly.
func (r MeasurementRecord) HasDimensions(want ...string) bool {
	if len(r.Dimensions) != len(want) {
		return false
	}
	for i := range want {
		if r.Dimensions[i] != want[i] {
			return false
		}
	}
	return true
}

// Unattributed reports whether the record is the catch-all bucket the API
// returns for events without an attributed message: a single empty dimension.
func (r MeasurementRecord) Unattributed() bool {
	return r.HasDimensions("")
}

// Counters holds the raw sums accumulated over one aggregation pass.
// One instance per run; the Aggregator is the only writer.
type Counters struct {
	Delivered       decimal.Decimal
	DeliveredUnique decimal.Decimal
	Dropped         decimal.Decimal
	Spam            decimal.Decimal
	Opened          decimal.Decimal
	Clicked         decimal.Decimal
	Bounced         decimal.Decimal
	Unsubscribed    decimal.Decimal
	ViewedProduct   decimal.Decimal
	ActiveOnSite    decimal.Decimal
	Revenue         decimal.Decimal
	RevenueUnique   decimal.Decimal
	TotalRevenue    decimal.Decimal
	TotalOrders     decimal.Decimal
	Subscribers     decimal.Decimal
	NewSubscribers  decimal.Decimal
}

// NewCounters returns a zeroed counter set.
func NewCounters() *Counters {
	return &Counters{
		Delivered:       decimal.Zero,
		DeliveredUnique: decimal.Zero,
		Dropped:         decimal.Zero,
		Spam:            decimal.Zero,
		Opened:          decimal.Zero,
		Clicked:         decimal.Zero,
		Bounced:         decimal.Zero,
		Unsubscribed:    decimal.Zero,
		ViewedProduct:   decimal.Zero,
		ActiveOnSite:    decimal.Zero,
		Revenue:         decimal.Zero,
		RevenueUnique:   decimal.Zero,
		TotalRevenue:    decimal.Zero,
		TotalOrders:     decimal.Zero,
		Subscribers:     decimal.Zero,
		NewSubscribers:  decimal.Zero,
	}
}

// TotalRecipients is the denominator for unsubscribe, bounce and delivery rates.
func (c *Counters) TotalRecipients() decimal.Decimal {
	return c.Delivered.Add(c.Bounced).Add(c.Spam).Add(c.Dropped)
}
