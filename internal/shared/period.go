package shared

import (
	"fmt"
	"time"
)

// YearMonth identifies a calendar month at year-month granularity.
type YearMonth struct {
	Year  int
	Month time.Month
}

// YM is shorthand for building a YearMonth literal.
func YM(year int, month time.Month) YearMonth {
	return YearMonth{Year: year, Month: month}
}

// YearMonthOf truncates a timestamp to its calendar month.
func YearMonthOf(t time.Time) YearMonth {
	return YearMonth{Year: t.Year(), Month: t.Month()}
}

// ParseYearMonth parses the "2006-01" wire format.
func ParseYearMonth(s string) (YearMonth, error) {
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return YearMonth{}, fmt.Errorf("shared: parse year-month %q: %w", s, err)
	}
	return YearMonthOf(t), nil
}

// String renders the "2006-01" wire format.
func (m YearMonth) String() string {
	return fmt.Sprintf("%04d-%02d", m.Year, int(m.Month))
}

// First returns midnight UTC on the first day of the month.
func (m YearMonth) First() time.Time {
	return time.Date(m.Year, m.Month, 1, 0, 0, 0, 0, time.UTC)
}

// AddMonths returns the month n steps away, n may be negative.
func (m YearMonth) AddMonths(n int) YearMonth {
	return YearMonthOf(m.First().AddDate(0, n, 0))
}

// Next returns the following calendar month.
func (m YearMonth) Next() YearMonth {
	return m.AddMonths(1)
}

// Compare orders two months chronologically: -1, 0 or +1.
func (m YearMonth) Compare(other YearMonth) int {
	switch {
	case m.Year != other.Year:
		if m.Year < other.Year {
			return -1
		}
		return 1
	case m.Month != other.Month:
		if m.Month < other.Month {
			return -1
		}
		return 1
	default:
		return 0
	}
}

// Before reports whether m is strictly earlier than other.
func (m YearMonth) Before(other YearMonth) bool {
	return m.Compare(other) < 0
}

// After reports whether m is strictly later than other.
func (m YearMonth) After(other YearMonth) bool {
	return m.Compare(other) > 0
}

// Min returns the earlier of two months.
func Min(a, b YearMonth) YearMonth {
	if a.Before(b) {
		return a
	}
	return b
}

// MonthsBetween lists every month from a through b inclusive.
// Returns nil when b precedes a.
func MonthsBetween(a, b YearMonth) []YearMonth {
	if b.Before(a) {
		return nil
	}
	var months []YearMonth
	for m := a; !m.After(b); m = m.Next() {
		months = append(months, m)
	}
	return months
}

// MonthsCovered lists the calendar months covered by the date range
// [from, to). A to date on the first of a month therefore excludes that
// month. A nil to means open-ended and is bounded by bound inclusive.
func MonthsCovered(from time.Time, to *time.Time, bound YearMonth) []YearMonth {
	start := YearMonthOf(from)
	end := bound
	if to != nil {
		last := YearMonthOf(to.AddDate(0, 0, -1))
		end = Min(end, last)
	}
	return MonthsBetween(start, end)
}

// LastCoveredMonth returns the final month covered by [from, to) and
// false when the range is open-ended.
func LastCoveredMonth(to *time.Time) (YearMonth, bool) {
	if to == nil {
		return YearMonth{}, false
	}
	return YearMonthOf(to.AddDate(0, 0, -1)), true
}
