package postgres

import (
	"fmt"
	"strings"

	"github.com/aevon-lab/klaviyo-sync/internal/warehouse"
	"github.com/lib/pq"
)

// SQL for the email metrics table. Identifiers are substituted with
// pq.QuoteIdentifier; values are always bound.

const (
	// queryExistingColumns lists the columns of a table in the current schema.
	queryExistingColumns = `
		SELECT column_name
		FROM information_schema.columns
		WHERE table_schema = current_schema()
		  AND table_name = $1
	`

	queryAddColumn = `ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s %s`

	// Unlogged so a staging table outlives the pooled connection that created it
	// while skipping WAL for throwaway rows.
	queryCreateStaging = `CREATE UNLOGGED TABLE %s (LIKE %s INCLUDING DEFAULTS)`

	queryInsertStaging = `INSERT INTO %s (%s) VALUES (%s)`

	queryMerge = `
		INSERT INTO %s (%s)
		SELECT %s FROM %s
		ON CONFLICT (date, title) DO UPDATE SET
			%s
	`

	// queryDeduplicate keeps the physically first copy of rows equal in every column.
	queryDeduplicate = `
		DELETE FROM %s a
		USING %s b
		WHERE a.ctid > b.ctid
		  AND %s
	`

	queryDropStaging = `DROP TABLE IF EXISTS %s`
)

func quotedColumns() string {
	names := warehouse.ColumnNames()
	for i, n := range names {
		names[i] = pq.QuoteIdentifier(n)
	}
	return strings.Join(names, ", ")
}

func addColumnSQL(table string, col warehouse.Column) string {
	return fmt.Sprintf(queryAddColumn, pq.QuoteIdentifier(table), pq.QuoteIdentifier(col.Name), sqlType(col.Type))
}

func createStagingSQL(staging, table string) string {
	return fmt.Sprintf(queryCreateStaging, pq.QuoteIdentifier(staging), pq.QuoteIdentifier(table))
}

func insertStagingSQL(staging string) string {
	placeholders := make([]string, len(warehouse.Columns))
	for i := range placeholders {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	return fmt.Sprintf(queryInsertStaging, pq.QuoteIdentifier(staging), quotedColumns(), strings.Join(placeholders, ", "))
}

func mergeSQL(table, staging string) string {
	var sets []string
	for _, col := range warehouse.Columns {
		if isKey(col.Name) {
			continue
		}
		q := pq.QuoteIdentifier(col.Name)
		sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", q, q))
	}
	cols := quotedColumns()
	return fmt.Sprintf(queryMerge,
		pq.QuoteIdentifier(table), cols,
		cols, pq.QuoteIdentifier(staging),
		strings.Join(sets, ",\n\t\t\t"),
	)
}

func deduplicateSQL(table string) string {
	conds := make([]string, len(warehouse.Columns))
	for i, col := range warehouse.Columns {
		q := pq.QuoteIdentifier(col.Name)
		conds[i] = fmt.Sprintf("a.%s IS NOT DISTINCT FROM b.%s", q, q)
	}
	t := pq.QuoteIdentifier(table)
	return fmt.Sprintf(queryDeduplicate, t, t, strings.Join(conds, "\n\t\t  AND "))
}

func dropStagingSQL(staging string) string {
	return fmt.Sprintf(queryDropStaging, pq.QuoteIdentifier(staging))
}
