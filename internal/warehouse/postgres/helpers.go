package postgres

import (
	"github.com/aevon-lab/klaviyo-sync/internal/warehouse"
)

func sqlType(t warehouse.ColumnType) string {
	switch t {
	case warehouse.TypeNumeric:
		return "NUMERIC(20,4) NOT NULL DEFAULT 0"
	case warehouse.TypeInteger:
		return "BIGINT NOT NULL DEFAULT 0"
	default:
		return "TEXT"
	}
}

func isKey(name string) bool {
	for _, k := range warehouse.KeyColumns {
		if k == name {
			return true
		}
	}
	return false
}

// missingColumns returns the columns of the target schema absent from existing,
// in schema order.
func missingColumns(existing map[string]struct{}) []warehouse.Column {
	var missing []warehouse.Column
	for _, col := range warehouse.Columns {
		if _, ok := existing[col.Name]; !ok {
			missing = append(missing, col)
		}
	}
	return missing
}
