package warehouse

import (
	"context"
	"errors"
	"testing"

	"github.com/aevon-lab/klaviyo-sync/internal/snapshot"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func testRows(date string, conversion ...string) []snapshot.Row {
	titles := []string{snapshot.TitleActiveOnSite, snapshot.TitleViewedProduct}
	rows := make([]snapshot.Row, len(conversion))
	for i, c := range conversion {
		rows[i] = snapshot.Row{
			Date:             date,
			Title:            titles[i%len(titles)],
			OpenRate:         decimal.RequireFromString("25"),
			DeliveryRate:     decimal.RequireFromString("98.0392"),
			ConversionRate:   decimal.RequireFromString(c),
			SubscriberCounts: 1200,
		}
	}
	return rows
}

// failingWarehouse wraps Memory and fails one step.
type failingWarehouse struct {
	*Memory
	failOn Step
}

var errInjected = errors.New("injected failure")

func (f *failingWarehouse) Merge(ctx context.Context, staging string) error {
	if f.failOn == StepMerge {
		return errInjected
	}
	return f.Memory.Merge(ctx, staging)
}

func (f *failingWarehouse) Deduplicate(ctx context.Context) error {
	if f.failOn == StepDeduplicate {
		return errInjected
	}
	return f.Memory.Deduplicate(ctx)
}

func (f *failingWarehouse) EnsureTable(ctx context.Context) error {
	if f.failOn == StepEnsureTable {
		return errInjected
	}
	return f.Memory.EnsureTable(ctx)
}

func TestReconcile_IsIdempotent(t *testing.T) {
	mem := NewMemory("")
	r := NewReconciler(mem)
	rows := testRows("05-01-2024", "3", "1.2")

	require.NoError(t, r.Reconcile(context.Background(), rows))
	require.NoError(t, r.Reconcile(context.Background(), rows))

	got := mem.Rows()
	require.Len(t, got, 2)
	require.ElementsMatch(t, rows, got)
	require.Empty(t, mem.StagingTables())
}

func TestReconcile_NewestValuesWin(t *testing.T) {
	mem := NewMemory("")
	r := NewReconciler(mem)

	require.NoError(t, r.Reconcile(context.Background(), testRows("05-01-2024", "3", "1.2")))
	require.NoError(t, r.Reconcile(context.Background(), testRows("05-01-2024", "4", "2")))
	require.NoError(t, r.Reconcile(context.Background(), testRows("05-02-2024", "5", "6")))

	got := mem.Rows()
	require.Len(t, got, 4)

	byKey := make(map[[2]string]snapshot.Row, len(got))
	for _, row := range got {
		byKey[row.Key()] = row
	}
	require.True(t, decimal.RequireFromString("4").Equal(byKey[[2]string{"05-01-2024", snapshot.TitleActiveOnSite}].ConversionRate))
	require.True(t, decimal.RequireFromString("2").Equal(byKey[[2]string{"05-01-2024", snapshot.TitleViewedProduct}].ConversionRate))
	require.True(t, decimal.RequireFromString("5").Equal(byKey[[2]string{"05-02-2024", snapshot.TitleActiveOnSite}].ConversionRate))
}

func TestReconcile_CollapsesPreexistingDuplicates(t *testing.T) {
	mem := NewMemory("")
	old := testRows("04-30-2024", "9")
	mem.Seed(old[0], old[0], old[0])

	require.NoError(t, NewReconciler(mem).Reconcile(context.Background(), testRows("05-01-2024", "3", "1.2")))
	require.Len(t, mem.Rows(), 3)
}

func TestReconcile_FailureLeavesStaging(t *testing.T) {
	tests := []struct {
		name        string
		failOn      Step
		wantStaging bool
	}{
		{name: "ensure table", failOn: StepEnsureTable, wantStaging: false},
		{name: "merge", failOn: StepMerge, wantStaging: true},
		{name: "deduplicate", failOn: StepDeduplicate, wantStaging: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			mem := NewMemory("metrics")
			r := NewReconciler(&failingWarehouse{Memory: mem, failOn: tc.failOn})

			err := r.Reconcile(context.Background(), testRows("05-01-2024", "3", "1.2"))

			var stepErr *StepError
			require.ErrorAs(t, err, &stepErr)
			require.Equal(t, tc.failOn, stepErr.Step)
			require.ErrorIs(t, err, errInjected)

			if tc.wantStaging {
				require.Equal(t, []string{stepErr.Staging}, mem.StagingTables())
				require.Contains(t, stepErr.Staging, "metrics_staging_")
				require.Contains(t, err.Error(), stepErr.Staging)
			} else {
				require.Empty(t, stepErr.Staging)
				require.Empty(t, mem.StagingTables())
			}
		})
	}
}

func TestReconcile_MergeFailureKeepsExistingRows(t *testing.T) {
	mem := NewMemory("")
	require.NoError(t, NewReconciler(mem).Reconcile(context.Background(), testRows("05-01-2024", "3", "1.2")))

	failing := NewReconciler(&failingWarehouse{Memory: mem, failOn: StepMerge})
	require.Error(t, failing.Reconcile(context.Background(), testRows("05-01-2024", "7", "8")))

	for _, row := range mem.Rows() {
		require.False(t, row.ConversionRate.Equal(decimal.NewFromInt(7)))
	}
}

func TestStagingName_IsUnique(t *testing.T) {
	a, b := StagingName("email_metrics"), StagingName("email_metrics")
	require.NotEqual(t, a, b)
	require.Regexp(t, `^email_metrics_staging_[0-9a-f]{32}$`, a)
}

func TestRowValues_MatchesColumns(t *testing.T) {
	row := testRows("05-01-2024", "3")[0]
	values := RowValues(row)
	require.Len(t, values, len(Columns))
	require.Equal(t, "05-01-2024", values[0])
	require.Equal(t, snapshot.TitleActiveOnSite, values[1])
	require.Equal(t, "98.0392", values[6])
	require.Equal(t, int64(1200), values[12])
}
