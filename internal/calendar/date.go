// Package calendar holds the zone-less day and time-of-day values the planner schedules with.
package calendar

import (
	"database/sql/driver"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
)

// Date is a calendar day without a time zone. It is stored as YYYY-MM-DD text so that
// lexical order in SQLite matches chronological order.
type Date struct {
	civil.Date
}

func NewDate(year int, month time.Month, day int) Date {
	return Date{civil.Date{Year: year, Month: month, Day: day}}
}

// DateOf returns the day t falls on in t's location.
func DateOf(t time.Time) Date {
	return Date{civil.DateOf(t)}
}

func ParseDate(s string) (Date, error) {
	d, err := civil.ParseDate(s)
	if err != nil {
		return Date{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return Date{d}, nil
}

// MustParseDate is for tests and constants.
func MustParseDate(s string) Date {
	d, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func (d Date) AddDays(n int) Date {
	return Date{d.Date.AddDays(n)}
}

func (d Date) DaysSince(s Date) int {
	return d.Date.DaysSince(s.Date)
}

func (d Date) Before(o Date) bool {
	return d.Date.Before(o.Date)
}

func (d Date) After(o Date) bool {
	return d.Date.After(o.Date)
}

func (d Date) Weekday() time.Weekday {
	return d.In(time.UTC).Weekday()
}

// StartOfWeek returns the Monday of d's ISO week.
func (d Date) StartOfWeek() Date {
	offset := (int(d.Weekday()) + 6) % 7
	return d.AddDays(-offset)
}

func (d Date) StartOfMonth() Date {
	return NewDate(d.Year, d.Month, 1)
}

func (d Date) EndOfMonth() Date {
	return DateOf(d.StartOfMonth().In(time.UTC).AddDate(0, 1, -1))
}

// ISOWeek returns the ISO 8601 year and week number of d.
func (d Date) ISOWeek() (year, week int) {
	return d.In(time.UTC).ISOWeek()
}

// GormDataType keeps the column as TEXT so the sqlite driver never converts it to time.Time.
func (Date) GormDataType() string {
	return "text"
}

func (d Date) Value() (driver.Value, error) {
	if d.IsZero() {
		return nil, nil
	}
	return d.String(), nil
}

func (d *Date) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*d = Date{}
		return nil
	case string:
		return d.scanString(v)
	case []byte:
		return d.scanString(string(v))
	case time.Time:
		*d = DateOf(v)
		return nil
	default:
		return fmt.Errorf("scan date: unsupported type %T", src)
	}
}

func (d *Date) scanString(s string) error {
	if s == "" {
		*d = Date{}
		return nil
	}
	if len(s) > 10 {
		s = s[:10]
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Range returns every day in [from, to]. It returns nil when from is after to.
func Range(from, to Date) []Date {
	if from.After(to) {
		return nil
	}
	days := make([]Date, 0, to.DaysSince(from)+1)
	for d := from; !d.After(to); d = d.AddDays(1) {
		days = append(days, d)
	}
	return days
}
