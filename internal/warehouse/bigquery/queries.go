package bigquery

import (
	"fmt"
	"strings"

	"github.com/aevon-lab/klaviyo-sync/internal/warehouse"
)

const (
	queryMerge = `
		MERGE %s T
		USING %s S
		ON T.date = S.date AND T.title = S.title
		WHEN MATCHED THEN
			UPDATE SET %s
		WHEN NOT MATCHED THEN
			INSERT (%s) VALUES (%s)
	`

	queryCountDuplicates = `SELECT COUNT(*) - COUNT(DISTINCT TO_JSON_STRING(t)) AS duplicates FROM %s AS t`

	queryDeduplicate = `CREATE OR REPLACE TABLE %s (%s) AS SELECT DISTINCT %s FROM %s`
)

// qualified renders a backquoted project.dataset.table reference.
func qualified(project, dataset, table string) string {
	return fmt.Sprintf("`%s.%s.%s`", project, dataset, table)
}

func mergeSQL(target, staging string) string {
	var (
		sets    []string
		cols    []string
		sources []string
	)
	for _, col := range warehouse.Columns {
		cols = append(cols, col.Name)
		sources = append(sources, "S."+col.Name)
		if col.Name == "date" || col.Name == "title" {
			continue
		}
		sets = append(sets, fmt.Sprintf("%s = S.%s", col.Name, col.Name))
	}
	return fmt.Sprintf(queryMerge,
		target, staging,
		strings.Join(sets, ", "),
		strings.Join(cols, ", "), strings.Join(sources, ", "),
	)
}

func countDuplicatesSQL(target string) string {
	return fmt.Sprintf(queryCountDuplicates, target)
}

// deduplicateSQL rewrites target with an explicit column list so NUMERIC
// precision and scale survive the rewrite.
func deduplicateSQL(target string) string {
	defs := make([]string, 0, len(warehouse.Columns))
	for _, col := range warehouse.Columns {
		defs = append(defs, col.Name+" "+sqlType(col.Type))
	}
	return fmt.Sprintf(queryDeduplicate,
		target,
		strings.Join(defs, ", "),
		strings.Join(warehouse.ColumnNames(), ", "),
		target,
	)
}

func sqlType(t warehouse.ColumnType) string {
	switch t {
	case warehouse.TypeNumeric:
		return "NUMERIC(20, 4)"
	case warehouse.TypeInteger:
		return "INT64"
	default:
		return "STRING"
	}
}
