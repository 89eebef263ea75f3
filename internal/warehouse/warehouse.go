package warehouse

import (
	"context"
	"fmt"

	"github.com/aevon-lab/klaviyo-sync/internal/snapshot"
)

// Step names one state of the reconcile sequence.
type Step string

const (
	StepEnsureTable Step = "ensure_table"
	StepStage       Step = "stage"
	StepMerge       Step = "merge"
	StepDeduplicate Step = "deduplicate"
	StepDropStaging Step = "drop_staging"
)

// ColumnType is the logical type of a destination column. Each backend maps it to
// its own SQL type.
type ColumnType int

const (
	TypeString ColumnType = iota
	TypeNumeric
	TypeInteger
)

// Column is one column of the destination table.
type Column struct {
	Name string
	Type ColumnType
}

// Columns is the destination schema in insert order. (date, title) is the key.
var Columns = []Column{
	{"date", TypeString},
	{"title", TypeString},
	{"open_rate", TypeNumeric},
	{"click_rate", TypeNumeric},
	{"unsubscribed_rate", TypeNumeric},
	{"bounce_rate", TypeNumeric},
	{"delivery_rate", TypeNumeric},
	{"conversion_rate", TypeNumeric},
	{"revenue_per_email", TypeNumeric},
	{"product_purchase_rate", TypeNumeric},
	{"average_order_value", TypeNumeric},
	{"new_subscribers", TypeInteger},
	{"subscriber_counts", TypeInteger},
}

// KeyColumns identify a row.
var KeyColumns = []string{"date", "title"}

// ColumnNames returns the names of Columns in order.
func ColumnNames() []string {
	names := make([]string, len(Columns))
	for i, c := range Columns {
		names[i] = c.Name
	}
	return names
}

// RowValues flattens a row in Columns order. Decimals are passed as strings so
// drivers bind them without float conversion.
func RowValues(r snapshot.Row) []interface{} {
	return []interface{}{
		r.Date,
		r.Title,
		r.OpenRate.String(),
		r.ClickRate.String(),
		r.UnsubscribedRate.String(),
		r.BounceRate.String(),
		r.DeliveryRate.String(),
		r.ConversionRate.String(),
		r.RevenuePerEmail.String(),
		r.ProductPurchaseRate.String(),
		r.AverageOrderValue.String(),
		r.NewSubscribers,
		r.SubscriberCounts,
	}
}

// Warehouse is a destination table that supports the staged upsert sequence.
// Implementations must make Merge idempotent on (date, title).
type Warehouse interface {
	// Table is the destination table name; staging names derive from it.
	Table() string
	// EnsureTable creates the table when absent and adds any missing columns.
	EnsureTable(ctx context.Context) error
	// Stage loads rows into a new staging table called staging.
	Stage(ctx context.Context, staging string, rows []snapshot.Row) error
	// Merge overwrites matching (date, title) rows from staging and inserts the rest.
	Merge(ctx context.Context, staging string) error
	// Deduplicate collapses rows that are identical in every column.
	Deduplicate(ctx context.Context) error
	// DropStaging removes the staging table.
	DropStaging(ctx context.Context, staging string) error
	// Ping checks connectivity.
	Ping(ctx context.Context) error
}

// StepError reports which reconcile step failed. Staging is set once a staging
// table name has been allocated, so operators can clean it up.
type StepError struct {
	Step    Step
	Staging string
	Err     error
}

func (e *StepError) Error() string {
	if e.Staging != "" {
		return fmt.Sprintf("warehouse %s (staging %s): %v", e.Step, e.Staging, e.Err)
	}
	return fmt.Sprintf("warehouse %s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}
