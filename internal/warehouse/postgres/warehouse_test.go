package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/aevon-lab/klaviyo-sync/internal/snapshot"
	"github.com/aevon-lab/klaviyo-sync/internal/warehouse"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func newMockWarehouse(t *testing.T) (*Warehouse, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	w := New(db)
	w.migrate = func(context.Context, *sql.DB) error { return nil }
	return w, mock
}

func sampleRows() []snapshot.Row {
	base := snapshot.Row{
		Date:             "05-01-2024",
		OpenRate:         decimal.RequireFromString("25"),
		DeliveryRate:     decimal.RequireFromString("98.0392"),
		SubscriberCounts: 1200,
		NewSubscribers:   7,
	}
	active, viewed := base, base
	active.Title, active.ConversionRate = snapshot.TitleActiveOnSite, decimal.RequireFromString("3")
	viewed.Title, viewed.ConversionRate = snapshot.TitleViewedProduct, decimal.RequireFromString("1.2")
	return []snapshot.Row{active, viewed}
}

func args(row snapshot.Row) []driver.Value {
	values := warehouse.RowValues(row)
	out := make([]driver.Value, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

func columnRows(names ...string) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{"column_name"})
	for _, n := range names {
		rows.AddRow(n)
	}
	return rows
}

func TestWarehouse_EnsureTableAddsMissingColumns(t *testing.T) {
	w, mock := newMockWarehouse(t)

	existing := warehouse.ColumnNames()
	existing = existing[:len(existing)-2] // drop new_subscribers and subscriber_counts

	mock.ExpectQuery(regexp.QuoteMeta(queryExistingColumns)).
		WithArgs("email_metrics").
		WillReturnRows(columnRows(existing...))
	mock.ExpectExec(regexp.QuoteMeta(`ALTER TABLE "email_metrics" ADD COLUMN IF NOT EXISTS "new_subscribers" BIGINT NOT NULL DEFAULT 0`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(`ALTER TABLE "email_metrics" ADD COLUMN IF NOT EXISTS "subscriber_counts" BIGINT NOT NULL DEFAULT 0`)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, w.EnsureTable(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWarehouse_EnsureTableNoDrift(t *testing.T) {
	w, mock := newMockWarehouse(t)

	mock.ExpectQuery(regexp.QuoteMeta(queryExistingColumns)).
		WithArgs("email_metrics").
		WillReturnRows(columnRows(warehouse.ColumnNames()...))

	require.NoError(t, w.EnsureTable(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWarehouse_EnsureTableMigrationFailure(t *testing.T) {
	w, mock := newMockWarehouse(t)
	w.migrate = func(context.Context, *sql.DB) error { return errors.New("dirty database") }

	err := w.EnsureTable(context.Background())
	require.ErrorContains(t, err, "dirty database")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWarehouse_EnsureTablePassesContextToMigrations(t *testing.T) {
	w, mock := newMockWarehouse(t)
	w.migrate = func(ctx context.Context, _ *sql.DB) error { return ctx.Err() }

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := w.EnsureTable(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWarehouse_StageLoadsRowsInTransaction(t *testing.T) {
	w, mock := newMockWarehouse(t)
	rows := sampleRows()
	staging := "email_metrics_staging_abc"

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`CREATE UNLOGGED TABLE "email_metrics_staging_abc" (LIKE "email_metrics" INCLUDING DEFAULTS)`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	prep := mock.ExpectPrepare(regexp.QuoteMeta(insertStagingSQL(staging)))
	prep.ExpectExec().WithArgs(args(rows[0])...).WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().WithArgs(args(rows[1])...).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, w.Stage(context.Background(), staging, rows))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWarehouse_StageRollsBackOnInsertError(t *testing.T) {
	w, mock := newMockWarehouse(t)
	rows := sampleRows()
	staging := "email_metrics_staging_abc"

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(createStagingSQL(staging, Table))).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectPrepare(regexp.QuoteMeta(insertStagingSQL(staging))).
		ExpectExec().WillReturnError(errors.New("numeric field overflow"))
	mock.ExpectRollback()

	err := w.Stage(context.Background(), staging, rows)
	require.ErrorContains(t, err, "numeric field overflow")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWarehouse_MergeUpsertsOnDateTitle(t *testing.T) {
	w, mock := newMockWarehouse(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(mergeSQL(Table, "stg"))).WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	require.NoError(t, w.Merge(context.Background(), "stg"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWarehouse_MergeRollsBackOnError(t *testing.T) {
	w, mock := newMockWarehouse(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(mergeSQL(Table, "stg"))).WillReturnError(errors.New("deadlock detected"))
	mock.ExpectRollback()

	require.ErrorContains(t, w.Merge(context.Background(), "stg"), "deadlock detected")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMergeSQL(t *testing.T) {
	q := mergeSQL(Table, "stg")
	require.Contains(t, q, `INSERT INTO "email_metrics" ("date", "title", "open_rate"`)
	require.Contains(t, q, `FROM "stg"`)
	require.Contains(t, q, `ON CONFLICT (date, title) DO UPDATE SET`)
	require.Contains(t, q, `"conversion_rate" = EXCLUDED."conversion_rate"`)
	require.Contains(t, q, `"subscriber_counts" = EXCLUDED."subscriber_counts"`)
	require.NotContains(t, q, `"date" = EXCLUDED`)
	require.NotContains(t, q, `"title" = EXCLUDED`)
}

func TestDeduplicateSQL(t *testing.T) {
	q := deduplicateSQL(Table)
	require.Contains(t, q, `DELETE FROM "email_metrics" a`)
	require.Contains(t, q, `a.ctid > b.ctid`)
	for _, name := range warehouse.ColumnNames() {
		require.Contains(t, q, `a."`+name+`" IS NOT DISTINCT FROM b."`+name+`"`)
	}
}

func TestWarehouse_ReconcileStatementSequence(t *testing.T) {
	w, mock := newMockWarehouse(t)
	rows := sampleRows()
	staging := `"email_metrics_staging_[0-9a-f]{32}"`

	mock.ExpectQuery(regexp.QuoteMeta(queryExistingColumns)).
		WithArgs("email_metrics").
		WillReturnRows(columnRows(warehouse.ColumnNames()...))
	mock.ExpectBegin()
	mock.ExpectExec(`CREATE UNLOGGED TABLE ` + staging).WillReturnResult(sqlmock.NewResult(0, 0))
	prep := mock.ExpectPrepare(`INSERT INTO ` + staging)
	prep.ExpectExec().WithArgs(args(rows[0])...).WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().WithArgs(args(rows[1])...).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "email_metrics" .+ FROM ` + staging).WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "email_metrics" a`)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`DROP TABLE IF EXISTS ` + staging).WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, warehouse.NewReconciler(w).Reconcile(context.Background(), rows))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWarehouse_ReconcileMergeFailureSkipsDrop(t *testing.T) {
	w, mock := newMockWarehouse(t)
	rows := sampleRows()

	mock.ExpectQuery(regexp.QuoteMeta(queryExistingColumns)).
		WithArgs("email_metrics").
		WillReturnRows(columnRows(warehouse.ColumnNames()...))
	mock.ExpectBegin()
	mock.ExpectExec(`CREATE UNLOGGED TABLE`).WillReturnResult(sqlmock.NewResult(0, 0))
	prep := mock.ExpectPrepare(`INSERT INTO "email_metrics_staging_`)
	prep.ExpectExec().WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "email_metrics" `).WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	err := warehouse.NewReconciler(w).Reconcile(context.Background(), rows)

	var stepErr *warehouse.StepError
	require.ErrorAs(t, err, &stepErr)
	require.Equal(t, warehouse.StepMerge, stepErr.Step)
	require.NotEmpty(t, stepErr.Staging)
	require.NoError(t, mock.ExpectationsWereMet())
}
