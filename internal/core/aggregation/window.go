package aggregation

import (
	"fmt"
	"time"
)

const windowDateLayout = "2006-01-02"

// Window is the fixed reporting range applied to every aggregate query.
// Start is inclusive, End exclusive.
type Window struct {
	Start time.Time
	End   time.Time
}

// ParseWindow parses two YYYY-MM-DD dates into a Window.
func ParseWindow(start, end string) (Window, error) {
	if start == "" || end == "" {
		return Window{}, fmt.Errorf("report window start and end must not be empty")
	}
	s, err := time.Parse(windowDateLayout, start)
	if err != nil {
		return Window{}, fmt.Errorf("invalid window start %q: %w", start, err)
	}
	e, err := time.Parse(windowDateLayout, end)
	if err != nil {
		return Window{}, fmt.Errorf("invalid window end %q: %w", end, err)
	}
	if !e.After(s) {
		return Window{}, fmt.Errorf("window end %q must be after start %q", end, start)
	}
	return Window{Start: s, End: e}, nil
}

// Filters renders the window as metric-aggregates filter expressions.
func (w Window) Filters() []string {
	return []string{
		fmt.Sprintf("greater-or-equal(datetime,%s)", w.Start.Format(windowDateLayout)),
		fmt.Sprintf("less-than(datetime,%s)", w.End.Format(windowDateLayout)),
	}
}

// DayStart truncates t to midnight of its calendar day in t's own location.
// time.Truncate works in UTC and would be wrong for non-UTC zones.
// Example: DayStart(2024-05-01 17:42 EDT) → 2024-05-01 00:00 EDT
func DayStart(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
