package warehouse

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aevon-lab/klaviyo-sync/internal/snapshot"
	"github.com/google/uuid"
)

// Reconciler upserts a snapshot into a Warehouse through a staging table:
// EnsureTable, Stage, Merge, Deduplicate, DropStaging. Steps run strictly in order
// and the first failure stops the sequence.
type Reconciler struct {
	wh          Warehouse
	stagingName func(table string) string
}

// NewReconciler creates a Reconciler for wh.
func NewReconciler(wh Warehouse) *Reconciler {
	if wh == nil {
		panic("warehouse: Warehouse must not be nil")
	}
	return &Reconciler{wh: wh, stagingName: StagingName}
}

// StagingName returns a fresh staging table name derived from table.
func StagingName(table string) string {
	return fmt.Sprintf("%s_staging_%s", table, strings.ReplaceAll(uuid.NewString(), "-", ""))
}

// Reconcile writes rows so that afterwards the table holds exactly one row per
// (date, title) carrying the newest values. A failure after staging leaves the
// staging table behind; its name is logged and carried in the *StepError.
func (r *Reconciler) Reconcile(ctx context.Context, rows []snapshot.Row) error {
	table := r.wh.Table()

	if err := r.wh.EnsureTable(ctx); err != nil {
		return &StepError{Step: StepEnsureTable, Err: err}
	}

	staging := r.stagingName(table)
	steps := []struct {
		step Step
		run  func() error
	}{
		{StepStage, func() error { return r.wh.Stage(ctx, staging, rows) }},
		{StepMerge, func() error { return r.wh.Merge(ctx, staging) }},
		{StepDeduplicate, func() error { return r.wh.Deduplicate(ctx) }},
		{StepDropStaging, func() error { return r.wh.DropStaging(ctx, staging) }},
	}
	for _, s := range steps {
		if err := s.run(); err != nil {
			slog.Error("[Reconciler] Step failed, staging table left in place",
				"step", string(s.step),
				"table", table,
				"staging", staging,
				"error", err,
			)
			return &StepError{Step: s.step, Staging: staging, Err: err}
		}
		slog.Debug("[Reconciler] Step complete", "step", string(s.step), "table", table)
	}

	slog.Info("[Reconciler] Snapshot reconciled", "table", table, "rows", len(rows))
	return nil
}
