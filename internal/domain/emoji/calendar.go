package emoji

import (
	"fmt"
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

// Date is a civil calendar date with no clock or location.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

func DateOf(t time.Time) Date {
	year, month, day := t.Date()
	return Date{Year: year, Month: month, Day: day}
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

type Holidays map[Date]struct{}

func NewHolidays(dates ...Date) Holidays {
	out := make(Holidays, len(dates))
	for _, d := range dates {
		out[d] = struct{}{}
	}
	return out
}

// ParseHolidays reads YYYY-MM-DD values. Blank values are skipped.
func ParseHolidays(values []string) (Holidays, error) {
	out := make(Holidays, len(values))
	for _, raw := range values {
		value := strings.TrimSpace(raw)
		if value == "" {
			continue
		}
		parsed, err := time.Parse(dateLayout, value)
		if err != nil {
			return nil, fmt.Errorf("parse holiday %q: %w", value, err)
		}
		out[DateOf(parsed)] = struct{}{}
	}
	return out, nil
}

// Merge returns a new set containing both h and other.
func (h Holidays) Merge(other Holidays) Holidays {
	out := make(Holidays, len(h)+len(other))
	for d := range h {
		out[d] = struct{}{}
	}
	for d := range other {
		out[d] = struct{}{}
	}
	return out
}

func (h Holidays) Contains(d Date) bool {
	if h == nil {
		return false
	}
	_, ok := h[d]
	return ok
}

func IsWeekend(t time.Time) bool {
	day := t.Weekday()
	return day == time.Saturday || day == time.Sunday
}

func IsBusinessDay(t time.Time, holidays Holidays) bool {
	return !IsWeekend(t) && !holidays.Contains(DateOf(t))
}

// AddBusinessDays steps forward one calendar day at a time and stops once n
// business days have been consumed. The clock time of start is preserved.
func AddBusinessDays(start time.Time, n int, holidays Holidays) time.Time {
	result := start
	for left := n; left > 0; {
		result = result.AddDate(0, 0, 1)
		if IsBusinessDay(result, holidays) {
			left--
		}
	}
	return result
}
