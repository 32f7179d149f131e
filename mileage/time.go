package mileage

import "time"

// =============================================================================
// TIME POINT - Day-granular date (trips and rates are dated, never timed)
// =============================================================================

// TimePoint is a calendar date in UTC. All domain dates (trip dates, rate
// effective dates, submission dates) are day-granular.
type TimePoint struct {
	Time time.Time
}

const dateLayout = "2006-01-02"

// Constructors
func NewTimePoint(year int, month time.Month, day int) TimePoint {
	return TimePoint{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

func Today() TimePoint {
	now := time.Now()
	return NewTimePoint(now.Year(), now.Month(), now.Day())
}

// ParseTimePoint parses a date in "2006-01-02" format.
func ParseTimePoint(s string) (TimePoint, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return TimePoint{}, err
	}
	return TimePoint{Time: t}, nil
}

// Comparison
func (tp TimePoint) Before(other TimePoint) bool        { return tp.normalize().Before(other.normalize()) }
func (tp TimePoint) Equal(other TimePoint) bool         { return tp.normalize().Equal(other.normalize()) }
func (tp TimePoint) After(other TimePoint) bool         { return tp.normalize().After(other.normalize()) }
func (tp TimePoint) BeforeOrEqual(other TimePoint) bool { return tp.Before(other) || tp.Equal(other) }
func (tp TimePoint) AfterOrEqual(other TimePoint) bool  { return tp.After(other) || tp.Equal(other) }

func (tp TimePoint) normalize() time.Time {
	return time.Date(tp.Time.Year(), tp.Time.Month(), tp.Time.Day(), 0, 0, 0, 0, time.UTC)
}

// Arithmetic
func (tp TimePoint) AddDays(n int) TimePoint   { return TimePoint{Time: tp.Time.AddDate(0, 0, n)} }
func (tp TimePoint) AddMonths(n int) TimePoint { return TimePoint{Time: tp.Time.AddDate(0, n, 0)} }
func (tp TimePoint) AddYears(n int) TimePoint  { return TimePoint{Time: tp.Time.AddDate(n, 0, 0)} }

// Properties
func (tp TimePoint) Year() int         { return tp.Time.Year() }
func (tp TimePoint) Month() time.Month { return tp.Time.Month() }
func (tp TimePoint) Day() int          { return tp.Time.Day() }
func (tp TimePoint) IsZero() bool      { return tp.Time.IsZero() }

func (tp TimePoint) String() string { return tp.Time.Format(dateLayout) }

// =============================================================================
// PERIOD - Reporting boundary (calendar month or calendar year)
// =============================================================================

// Period is an inclusive date range [Start, End].
type Period struct {
	Start TimePoint
	End   TimePoint
}

// Contains returns true if the date falls within the period.
func (p Period) Contains(tp TimePoint) bool {
	return tp.AfterOrEqual(p.Start) && tp.BeforeOrEqual(p.End)
}

func (p Period) String() string {
	return "[" + p.Start.String() + ", " + p.End.String() + "]"
}

func monthOf(m int) time.Month { return time.Month(m) }

// MonthPeriod returns the calendar month containing all trips of a monthly
// report.
func MonthPeriod(year int, month time.Month) Period {
	start := NewTimePoint(year, month, 1)
	return Period{Start: start, End: start.AddMonths(1).AddDays(-1)}
}

// YearPeriod returns the calendar year for a yearly report.
func YearPeriod(year int) Period {
	return Period{
		Start: NewTimePoint(year, time.January, 1),
		End:   NewTimePoint(year, time.December, 31),
	}
}
