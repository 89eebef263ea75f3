package aggregation

import "github.com/shopspring/decimal"

// SumMeasurement adds up every interval value of one measurement kind.
// A record without that kind contributes zero; shape checks happen at decode time.
// JSON numbers arrive as float64; NewFromFloat keeps the shortest exact decimal form.
func SumMeasurement(rec MeasurementRecord, kind MeasurementKind) decimal.Decimal {
	total := decimal.Zero
	for _, v := range rec.Measurements[kind] {
		total = total.Add(decimal.NewFromFloat(v))
	}
	return total
}

// SumRecords sums one measurement kind across records, keeping only those accepted
// by keep. A nil keep accepts every record.
func SumRecords(records []MeasurementRecord, kind MeasurementKind, keep func(MeasurementRecord) bool) decimal.Decimal {
	total := decimal.Zero
	for _, rec := range records {
		if keep != nil && !keep(rec) {
			continue
		}
		total = total.Add(SumMeasurement(rec, kind))
	}
	return total
}
