package ledger

import (
	"encoding/json"
	"fmt"
	"time"
)

// =============================================================================
// DATE - Calendar day (validity windows and stays are day-granular)
// =============================================================================

const dateLayout = "2006-01-02"

// Date is a calendar day in UTC.
type Date struct {
	t time.Time
}

func NewDate(year int, month time.Month, day int) Date {
	return Date{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates t to its calendar day.
func DateOf(t time.Time) Date {
	return NewDate(t.Year(), t.Month(), t.Day())
}

func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return Date{t: t}, nil
}

// ParseDatePtr parses an optional date; the empty string yields nil.
func ParseDatePtr(s string) (*Date, error) {
	if s == "" {
		return nil, nil
	}
	d, err := ParseDate(s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (d Date) Before(o Date) bool { return d.t.Before(o.t) }
func (d Date) After(o Date) bool { return d.t.After(o.t) }
func (d Date) Equal(o Date) bool { return d.t.Equal(o.t) }
func (d Date) AddDays(n int) Date { return Date{t: d.t.AddDate(0, 0, n)} }
func (d Date) IsZero() bool { return d.t.IsZero() }
func (d Date) Time() time.Time { return d.t }
func (d Date) String() string { return d.t.Format(dateLayout) }
func (d Date) Ptr() *Date { return &d }
func DaysBetween(from, to Date) int { return int(to.t.Sub(from.t).Hours() / 24) }

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == "" {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// FormatDatePtr formats an optional date; nil yields the empty string.
func FormatDatePtr(d *Date) string {
	if d == nil {
		return ""
	}
	return d.String()
}

// =============================================================================
// STAY - Check-in inclusive, check-out exclusive
// =============================================================================

type Stay struct {
	CheckIn  Date
	CheckOut Date
}

// Nights is the number of nights slept.
func (s Stay) Nights() int { return DaysBetween(s.CheckIn, s.CheckOut) }

// LastNight is the final night occupied (the day before check-out).
func (s Stay) LastNight() Date { return s.CheckOut.AddDays(-1) }

func (s Stay) String() string { return "[" + s.CheckIn.String() + ", " + s.CheckOut.String() + ")" }
