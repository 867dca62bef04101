// Package recurrence expands habit recurrence rules into concrete dated occurrences.
// Nothing here touches storage; every function is deterministic in its inputs.
package recurrence

import (
	"strings"
	"time"

	"unified-planner/internal/apperr"
	"unified-planner/internal/calendar"
)

// WeekdaySet is a bitmask of weekdays, bit 0 = Monday .. bit 6 = Sunday.
type WeekdaySet uint8

const (
	Monday WeekdaySet = 1 << iota
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday
	Sunday

	AllWeekdays = Monday | Tuesday | Wednesday | Thursday | Friday | Saturday | Sunday
)

// weekdayLetters is the positional CSV form, Monday first.
const weekdayLetters = "MTWTFSS"

func bitFor(wd time.Weekday) WeekdaySet {
	return 1 << ((int(wd) + 6) % 7)
}

func NewWeekdaySet(days ...time.Weekday) WeekdaySet {
	var s WeekdaySet
	for _, d := range days {
		s |= bitFor(d)
	}
	return s
}

func (s WeekdaySet) Has(wd time.Weekday) bool {
	return s&bitFor(wd) != 0
}

func (s WeekdaySet) Empty() bool {
	return s&AllWeekdays == 0
}

// Valid reports whether s is non-empty and carries no bits beyond Sunday.
func (s WeekdaySet) Valid() bool {
	return !s.Empty() && s&^AllWeekdays == 0
}

// Letters renders s positionally, e.g. Mon/Wed/Fri -> "M-W-F--".
func (s WeekdaySet) Letters() string {
	var b strings.Builder
	for i := 0; i < 7; i++ {
		if s&(1<<i) != 0 {
			b.WriteByte(weekdayLetters[i])
		} else {
			b.WriteByte('-')
		}
	}
	return b.String()
}

// ParseWeekdayLetters is the inverse of Letters. Any character other than '-' or
// a space marks the day at that position as set.
func ParseWeekdayLetters(s string) (WeekdaySet, error) {
	if len(s) != 7 {
		return 0, apperr.Invalid("weekdays", "expected 7 positional letters like %q, got %q", "M-W-F--", s)
	}
	var set WeekdaySet
	for i := 0; i < 7; i++ {
		if s[i] != '-' && s[i] != ' ' {
			set |= 1 << i
		}
	}
	return set, nil
}

// Rule describes when a habit recurs. Construct it with NewRule; the zero value is
// not a valid rule. Persisted rules can be malformed, so readers that load one from
// storage check Validate before trusting it.
type Rule struct {
	Weekdays   WeekdaySet         `json:"weekdays"`
	Start      calendar.TimeOfDay `json:"start"`
	End        calendar.TimeOfDay `json:"end"`
	ValidFrom  calendar.Date      `json:"valid_from"`
	ValidUntil *calendar.Date     `json:"valid_until,omitempty"`
}

func NewRule(weekdays WeekdaySet, start, end calendar.TimeOfDay, validFrom calendar.Date, validUntil *calendar.Date) (Rule, error) {
	r := Rule{
		Weekdays:   weekdays,
		Start:      start,
		End:        end,
		ValidFrom:  validFrom,
		ValidUntil: validUntil,
	}
	if err := r.Validate(); err != nil {
		return Rule{}, err
	}
	return r, nil
}

func (r Rule) Validate() error {
	switch {
	case r.Weekdays.Empty():
		return apperr.Invalid("recurrence.weekdays", "at least one weekday must be set")
	case !r.Weekdays.Valid():
		return apperr.Invalid("recurrence.weekdays", "unknown weekday bits %#x", uint8(r.Weekdays))
	case !r.Start.Valid() || !r.End.Valid():
		return apperr.Invalid("recurrence.window", "time of day out of range")
	case r.Start >= r.End:
		return apperr.Invalid("recurrence.window", "start %s must be before end %s", r.Start, r.End)
	case r.ValidFrom.IsZero():
		return apperr.Invalid("recurrence.valid_from", "start date is required")
	case r.ValidUntil != nil && r.ValidUntil.Before(r.ValidFrom):
		return apperr.Invalid("recurrence.valid_until", "end date %s is before start date %s", r.ValidUntil, r.ValidFrom)
	}
	return nil
}

// Covers reports whether d falls inside the validity window.
func (r Rule) Covers(d calendar.Date) bool {
	if d.Before(r.ValidFrom) {
		return false
	}
	return r.ValidUntil == nil || !d.After(*r.ValidUntil)
}

// Overlaps reports whether the validity window intersects [from, to].
func (r Rule) Overlaps(from, to calendar.Date) bool {
	if to.Before(r.ValidFrom) {
		return false
	}
	return r.ValidUntil == nil || !from.After(*r.ValidUntil)
}

// Occurs reports whether the rule produces an occurrence on d.
func (r Rule) Occurs(d calendar.Date) bool {
	return r.Weekdays.Has(d.Weekday()) && r.Covers(d)
}
