package aggregation

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestSumMeasurement(t *testing.T) {
	tests := []struct {
		name string
		rec  MeasurementRecord
		kind MeasurementKind
		want decimal.Decimal
	}{
		{
			name: "sums every interval",
			rec:  MeasurementRecord{Measurements: map[MeasurementKind][]float64{MeasureCount: {1, 2, 3}}},
			kind: MeasureCount,
			want: decimal.NewFromInt(6),
		},
		{
			name: "fractional sum_value stays exact",
			rec:  MeasurementRecord{Measurements: map[MeasurementKind][]float64{MeasureSumValue: {0.1, 0.2}}},
			kind: MeasureSumValue,
			want: decimal.RequireFromString("0.3"),
		},
		{
			name: "missing kind is zero",
			rec:  MeasurementRecord{Measurements: map[MeasurementKind][]float64{MeasureCount: {5}}},
			kind: MeasureUnique,
			want: decimal.Zero,
		},
		{
			name: "nil measurements",
			rec:  MeasurementRecord{},
			kind: MeasureCount,
			want: decimal.Zero,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := SumMeasurement(tc.rec, tc.kind)
			require.True(t, tc.want.Equal(got), "want=%s got=%s", tc.want.String(), got.String())
		})
	}
}

func TestSumRecords_Filter(t *testing.T) {
	records := []MeasurementRecord{
		{Dimensions: []string{"UjjW7L"}, Measurements: map[MeasurementKind][]float64{MeasureUnique: {10, 5}}},
		{Dimensions: []string{""}, Measurements: map[MeasurementKind][]float64{MeasureUnique: {100}}},
		{Dimensions: []string{"other"}, Measurements: map[MeasurementKind][]float64{MeasureUnique: {1}}},
	}

	all := SumRecords(records, MeasureUnique, nil)
	require.True(t, decimal.NewFromInt(116).Equal(all))

	attributed := SumRecords(records, MeasureUnique, func(r MeasurementRecord) bool { return !r.Unattributed() })
	require.True(t, decimal.NewFromInt(16).Equal(attributed))

	tracked := SumRecords(records, MeasureUnique, func(r MeasurementRecord) bool { return r.HasDimensions("UjjW7L") })
	require.True(t, decimal.NewFromInt(15).Equal(tracked))
}

func TestMeasurementRecord_Unattributed(t *testing.T) {
	require.True(t, MeasurementRecord{Dimensions: []string{""}}.Unattributed())
	require.False(t, MeasurementRecord{Dimensions: []string{}}.Unattributed())
	require.False(t, MeasurementRecord{Dimensions: []string{"", ""}}.Unattributed())
	require.False(t, MeasurementRecord{Dimensions: []string{"msg"}}.Unattributed())
}

func TestCounters_TotalRecipients(t *testing.T) {
	c := NewCounters()
	c.Delivered = decimal.NewFromInt(1000)
	c.Bounced = decimal.NewFromInt(10)
	c.Spam = decimal.NewFromInt(5)
	c.Dropped = decimal.NewFromInt(5)
	require.True(t, decimal.NewFromInt(1020).Equal(c.TotalRecipients()))
	require.True(t, NewCounters().TotalRecipients().IsZero())
}
