package warehouse

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/aevon-lab/klaviyo-sync/internal/snapshot"
)

// DefaultTable is the destination table name used when none is configured.
const DefaultTable = "email_metrics"

// Memory is an in-process Warehouse used for dry runs and tests.
type Memory struct {
	mu      sync.Mutex
	table   string
	created bool
	rows    []snapshot.Row
	staging map[string][]snapshot.Row
}

// NewMemory creates an empty in-memory warehouse.
func NewMemory(table string) *Memory {
	if table == "" {
		table = DefaultTable
	}
	return &Memory{table: table, staging: make(map[string][]snapshot.Row)}
}

func (m *Memory) Table() string { return m.table }

func (m *Memory) EnsureTable(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.created = true
	return nil
}

func (m *Memory) Stage(_ context.Context, staging string, rows []snapshot.Row) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.staging[staging]; ok {
		return fmt.Errorf("staging table %s already exists", staging)
	}
	m.staging[staging] = append([]snapshot.Row(nil), rows...)
	return nil
}

func (m *Memory) Merge(_ context.Context, staging string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.created {
		return fmt.Errorf("table %s does not exist", m.table)
	}
	staged, ok := m.staging[staging]
	if !ok {
		return fmt.Errorf("staging table %s does not exist", staging)
	}

	for _, in := range staged {
		matched := false
		for i := range m.rows {
			if m.rows[i].Key() == in.Key() {
				m.rows[i] = in
				matched = true
			}
		}
		if !matched {
			m.rows = append(m.rows, in)
		}
	}
	return nil
}

func (m *Memory) Deduplicate(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[string]struct{}, len(m.rows))
	out := m.rows[:0]
	for _, r := range m.rows {
		fp := fingerprint(r)
		if _, ok := seen[fp]; ok {
			continue
		}
		seen[fp] = struct{}{}
		out = append(out, r)
	}
	m.rows = out
	return nil
}

func (m *Memory) DropStaging(_ context.Context, staging string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.staging, staging)
	return nil
}

func (m *Memory) Ping(context.Context) error { return nil }

// Rows returns a copy of the destination table contents.
func (m *Memory) Rows() []snapshot.Row {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]snapshot.Row(nil), m.rows...)
}

// StagingTables returns the names of staging tables still present.
func (m *Memory) StagingTables() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.staging))
	for name := range m.staging {
		names = append(names, name)
	}
	return names
}

// Seed appends rows to the destination table as-is, duplicates included.
func (m *Memory) Seed(rows ...snapshot.Row) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.created = true
	m.rows = append(m.rows, rows...)
}

// fingerprint renders every column, so decimals compare by value.
func fingerprint(r snapshot.Row) string {
	values := RowValues(r)
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = fmt.Sprint(v)
	}
	return strings.Join(parts, "\x1f")
}
