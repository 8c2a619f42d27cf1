package lending

import (
	"fmt"
	"time"
)

// =============================================================================
// DATE - a business calendar day
// =============================================================================

// DateLayout is the wire and storage format for dates.
const DateLayout = "2006-01-02"

// Date is a calendar day in the business locale. The underlying time is
// always midnight UTC so arithmetic never crosses DST boundaries.
type Date struct {
	Time time.Time
}

// NewDate builds a date from its parts.
func NewDate(year int, month time.Month, day int) Date {
	return Date{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf returns the calendar day t falls on in loc.
func DateOf(t time.Time, loc *time.Location) Date {
	if loc != nil {
		t = t.In(loc)
	}
	return NewDate(t.Year(), t.Month(), t.Day())
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q (use YYYY-MM-DD): %w", s, err)
	}
	return NewDate(t.Year(), t.Month(), t.Day()), nil
}

// OpenEndedDueDate is the sentinel due date carried by the single installment
// of an open-ended credit.
var OpenEndedDueDate = NewDate(9999, time.December, 31)

// Comparison
func (d Date) Before(o Date) bool        { return d.Time.Before(o.Time) }
func (d Date) After(o Date) bool         { return d.Time.After(o.Time) }
func (d Date) Equal(o Date) bool         { return d.Time.Equal(o.Time) }
func (d Date) BeforeOrEqual(o Date) bool { return !d.After(o) }
func (d Date) AfterOrEqual(o Date) bool  { return !d.Before(o) }
func (d Date) IsZero() bool              { return d.Time.IsZero() }

// Arithmetic
func (d Date) AddDays(n int) Date { return Date{Time: d.Time.AddDate(0, 0, n)} }

// AddMonths moves n calendar months, clamping to the last day of the target
// month (Jan 31 + 1 month = Feb 28/29).
func (d Date) AddMonths(n int) Date {
	y, m, day := d.Time.Date()
	first := time.Date(y, m, 1, 0, 0, 0, 0, time.UTC).AddDate(0, n, 0)
	last := first.AddDate(0, 1, -1).Day()
	if day > last {
		day = last
	}
	return NewDate(first.Year(), first.Month(), day)
}

func (d Date) String() string { return d.Time.Format(DateLayout) }

// MarshalText implements encoding.TextMarshaler.
func (d Date) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Date) UnmarshalText(b []byte) error {
	parsed, err := ParseDate(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// DaysBetween returns the whole days from -> to (negative when to is earlier).
func DaysBetween(from, to Date) int { return int(to.Time.Sub(from.Time).Hours() / 24) }

// LaterOf returns the later of two dates.
func LaterOf(a, b Date) Date {
	if a.After(b) {
		return a
	}
	return b
}

// EarlierOf returns the earlier of two dates.
func EarlierOf(a, b Date) Date {
	if a.Before(b) {
		return a
	}
	return b
}

// =============================================================================
// CLOCK - "today" in the business timezone
// =============================================================================

// Clock supplies the business day used as the accrual reference. Penalty day
// boundaries follow the business locale, never the server's.
type Clock interface {
	Today() Date
}

// BusinessClock reads the wall clock and converts it to the business location.
type BusinessClock struct {
	Location *time.Location
}

// NewBusinessClock loads an IANA zone name. An empty name means UTC.
func NewBusinessClock(zone string) (*BusinessClock, error) {
	if zone == "" {
		return &BusinessClock{Location: time.UTC}, nil
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return nil, fmt.Errorf("load business timezone %q: %w", zone, err)
	}
	return &BusinessClock{Location: loc}, nil
}

func (c *BusinessClock) Today() Date { return DateOf(time.Now(), c.Location) }

// FixedClock always returns the same day.
type FixedClock struct {
	Day Date
}

func (c FixedClock) Today() Date { return c.Day }
