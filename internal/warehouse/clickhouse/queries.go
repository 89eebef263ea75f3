package clickhouse

import (
	"fmt"
	"strings"

	"github.com/aevon-lab/klaviyo-sync/internal/warehouse"
)

// versionColumn orders row versions for ReplacingMergeTree.
const versionColumn = "updated_at"

const (
	queryCreateTable = `
		CREATE TABLE IF NOT EXISTS %s (
			%s
		)
		ENGINE = ReplacingMergeTree(%s)
		ORDER BY (date, title)
	`

	queryExistingColumns = `
		SELECT name
		FROM system.columns
		WHERE database = currentDatabase()
		  AND table = ?
	`

	queryAddColumn = `ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s %s`

	queryCreateStaging = `CREATE TABLE %s (%s) ENGINE = Memory`

	queryInsert = `INSERT INTO %s (%s)`

	queryInsertFromStaging = `INSERT INTO %s (%s) SELECT %s FROM %s`

	queryDeduplicate = `OPTIMIZE TABLE %s FINAL DEDUPLICATE`

	queryDropStaging = `DROP TABLE IF EXISTS %s`
)

func quoteIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "\\`") + "`"
}

func chType(t warehouse.ColumnType) string {
	switch t {
	case warehouse.TypeNumeric:
		return "Decimal(20, 4)"
	case warehouse.TypeInteger:
		return "Int64"
	default:
		return "String"
	}
}

// allColumns lists the table columns in insert order, version column last.
func allColumns() []string {
	cols := make([]string, 0, len(warehouse.Columns)+1)
	for _, c := range warehouse.Columns {
		cols = append(cols, quoteIdent(c.Name))
	}
	return append(cols, quoteIdent(versionColumn))
}

func columnDefs() string {
	defs := make([]string, 0, len(warehouse.Columns)+1)
	for _, c := range warehouse.Columns {
		defs = append(defs, fmt.Sprintf("%s %s", quoteIdent(c.Name), chType(c.Type)))
	}
	defs = append(defs, fmt.Sprintf("%s DateTime64(3)", quoteIdent(versionColumn)))
	return strings.Join(defs, ",\n\t\t\t")
}

func createTableSQL(table string) string {
	return fmt.Sprintf(queryCreateTable, quoteIdent(table), columnDefs(), quoteIdent(versionColumn))
}

func addColumnSQL(table string, col warehouse.Column) string {
	return fmt.Sprintf(queryAddColumn, quoteIdent(table), quoteIdent(col.Name), chType(col.Type))
}

func addVersionColumnSQL(table string) string {
	return fmt.Sprintf(queryAddColumn, quoteIdent(table), quoteIdent(versionColumn), "DateTime64(3)")
}

func createStagingSQL(staging string) string {
	return fmt.Sprintf(queryCreateStaging, quoteIdent(staging), columnDefs())
}

func insertSQL(table string) string {
	return fmt.Sprintf(queryInsert, quoteIdent(table), strings.Join(allColumns(), ", "))
}

func insertFromStagingSQL(table, staging string) string {
	cols := strings.Join(allColumns(), ", ")
	return fmt.Sprintf(queryInsertFromStaging, quoteIdent(table), cols, cols, quoteIdent(staging))
}

func deduplicateSQL(table string) string {
	return fmt.Sprintf(queryDeduplicate, quoteIdent(table))
}

func dropStagingSQL(staging string) string {
	return fmt.Sprintf(queryDropStaging, quoteIdent(staging))
}
