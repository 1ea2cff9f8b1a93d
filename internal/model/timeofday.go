package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// DateLayout is the wire and storage layout of booking dates.
const DateLayout = "2006-01-02"

// ParseDate parses a YYYY-MM-DD string into a UTC midnight time.Time.
func ParseDate(s string) (time.Time, error) {
	d, err := time.ParseInLocation(DateLayout, strings.TrimSpace(s), time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return d, nil
}

// DateOf truncates t to its UTC calendar date.  Booking dates are carried
// as UTC midnights whatever zone the complex lives in.
func DateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// LocalDate returns the calendar date of instant t as seen in loc, in the
// same UTC-midnight form as DateOf.
func LocalDate(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// At returns the instant at which wall-clock time t falls on date in loc.
// 24:00 normalizes to midnight of the next day.
func At(date time.Time, t TimeOfDay, loc *time.Location) time.Time {
	y, m, d := date.UTC().Date()
	return time.Date(y, m, d, int(t)/60, int(t)%60, 0, 0, loc)
}

// TimeOfDay is a wall-clock time within a booking date, stored as minutes
// since midnight.  24:00 is allowed so that a range can end at midnight.
// It scans from and writes to MySQL TIME columns and marshals to JSON as
// "HH:MM".
type TimeOfDay int

// MaxTimeOfDay is 24:00.
const MaxTimeOfDay TimeOfDay = 24 * 60

// ParseTimeOfDay accepts "HH:MM" or "HH:MM:SS".  Seconds are ignored.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	s = strings.TrimSpace(s)
	var h, m, sec int
	var err error
	switch strings.Count(s, ":") {
	case 1:
		_, err = fmt.Sscanf(s, "%d:%d", &h, &m)
	case 2:
		_, err = fmt.Sscanf(s, "%d:%d:%d", &h, &m, &sec)
	default:
		err = fmt.Errorf("unexpected format")
	}
	if err != nil {
		return 0, fmt.Errorf("invalid time of day %q: %w", s, err)
	}
	if h < 0 || m < 0 || m > 59 || h > 24 || (h == 24 && m != 0) {
		return 0, fmt.Errorf("invalid time of day %q: out of range", s)
	}
	return TimeOfDay(h*60 + m), nil
}

// MustTimeOfDay is ParseTimeOfDay for constants; it panics on bad input.
func MustTimeOfDay(s string) TimeOfDay {
	t, err := ParseTimeOfDay(s)
	if err != nil {
		panic(err)
	}
	return t
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", int(t)/60, int(t)%60)
}

// Value implements driver.Valuer.
func (t TimeOfDay) Value() (driver.Value, error) {
	return fmt.Sprintf("%02d:%02d:00", int(t)/60, int(t)%60), nil
}

// Scan implements sql.Scanner.  The MySQL driver hands TIME columns over as
// []byte in "HH:MM:SS" form.
func (t *TimeOfDay) Scan(src any) error {
	switch v := src.(type) {
	case []byte:
		return t.parseInto(string(v))
	case string:
		return t.parseInto(v)
	case time.Time:
		*t = TimeOfDay(v.Hour()*60 + v.Minute())
		return nil
	case nil:
		*t = 0
		return nil
	}
	return fmt.Errorf("cannot scan %T into TimeOfDay", src)
}

func (t *TimeOfDay) parseInto(s string) error {
	v, err := ParseTimeOfDay(s)
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// MarshalJSON renders "HH:MM".
func (t TimeOfDay) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON accepts "HH:MM" or "HH:MM:SS".
func (t *TimeOfDay) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	return t.parseInto(s)
}

// TimeRange is a half-open [Start, End) interval on one date.
type TimeRange struct {
	Start TimeOfDay `json:"start"`
	End   TimeOfDay `json:"end"`
}

// Valid reports whether the range is non-empty and within one day.
func (r TimeRange) Valid() bool {
	return r.Start >= 0 && r.End <= MaxTimeOfDay && r.Start < r.End
}

// Overlaps reports whether two half-open ranges share any instant.
// Touching ranges ([18:00,19:00) and [19:00,20:00)) do not overlap.
func (r TimeRange) Overlaps(o TimeRange) bool {
	return r.Start < o.End && o.Start < r.End
}

// Minutes is the length of the range.
func (r TimeRange) Minutes() int { return int(r.End - r.Start) }

func (r TimeRange) String() string { return "[" + r.Start.String() + "," + r.End.String() + ")" }
