package domain

import (
	"fmt"
	"time"
)

// monthLayout is the canonical "YYYY-MM" form of a MonthKey.
const monthLayout = "2006-01"

// MonthKey identifies one calendar month. The zero value is invalid; keys are
// produced by ParseMonthKey or MonthKeyOf.
type MonthKey struct {
	Year  int
	Month time.Month
}

// MonthKeyOf returns the calendar month containing t (in UTC).
func MonthKeyOf(t time.Time) MonthKey {
	u := t.UTC()
	return MonthKey{Year: u.Year(), Month: u.Month()}
}

// ParseMonthKey parses the canonical "YYYY-MM" form.
func ParseMonthKey(s string) (MonthKey, error) {
	t, err := time.Parse(monthLayout, s)
	if err != nil {
		return MonthKey{}, fmt.Errorf("parse month key %q: %w", s, err)
	}
	return MonthKey{Year: t.Year(), Month: t.Month()}, nil
}

// String renders the canonical "YYYY-MM" form, which sorts lexically in
// chronological order.
func (m MonthKey) String() string {
	return fmt.Sprintf("%04d-%02d", m.Year, int(m.Month))
}

// IsZero reports whether m is the zero value.
func (m MonthKey) IsZero() bool {
	return m.Year == 0 && m.Month == 0
}

// Start returns midnight UTC on the first day of the month.
func (m MonthKey) Start() time.Time {
	return time.Date(m.Year, m.Month, 1, 0, 0, 0, 0, time.UTC)
}

// End returns midnight UTC on the last day of the month, accounting for
// variable month lengths and leap years.
func (m MonthKey) End() time.Time {
	return m.Start().AddDate(0, 1, 0).AddDate(0, 0, -1)
}

// Next returns the following calendar month.
func (m MonthKey) Next() MonthKey {
	if m.Month == time.December {
		return MonthKey{Year: m.Year + 1, Month: time.January}
	}
	return MonthKey{Year: m.Year, Month: m.Month + 1}
}

// Prev returns the preceding calendar month.
func (m MonthKey) Prev() MonthKey {
	if m.Month == time.January {
		return MonthKey{Year: m.Year - 1, Month: time.December}
	}
	return MonthKey{Year: m.Year, Month: m.Month - 1}
}

// Before reports whether m is chronologically before o.
func (m MonthKey) Before(o MonthKey) bool {
	if m.Year != o.Year {
		return m.Year < o.Year
	}
	return m.Month < o.Month
}

// After reports whether m is chronologically after o.
func (m MonthKey) After(o MonthKey) bool {
	return o.Before(m)
}

// MonthsBetween enumerates every month strictly after latest up to and
// including current, in chronological order. When current is the same month
// as latest or earlier, there is no gap and the result is empty.
func MonthsBetween(latest, current MonthKey) []MonthKey {
	if !latest.Before(current) {
		return nil
	}

	var months []MonthKey
	for m := latest.Next(); !m.After(current); m = m.Next() {
		months = append(months, m)
	}
	return months
}

// LastNMonths returns the n calendar months ending at end, oldest first.
func LastNMonths(end MonthKey, n int) []MonthKey {
	if n <= 0 {
		return nil
	}

	months := make([]MonthKey, n)
	m := end
	for i := n - 1; i >= 0; i-- {
		months[i] = m
		m = m.Prev()
	}
	return months
}
