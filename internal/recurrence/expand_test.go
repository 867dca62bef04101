package recurrence

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"unified-planner/internal/apperr"
	"unified-planner/internal/calendar"
)

func date(s string) calendar.Date { return calendar.MustParseDate(s) }

func clock(s string) calendar.TimeOfDay { return calendar.MustParseTimeOfDay(s) }

func mustRule(t *testing.T, days WeekdaySet, start, end string, from string, until string) Rule {
	t.Helper()
	var untilPtr *calendar.Date
	if until != "" {
		u := date(until)
		untilPtr = &u
	}
	r, err := NewRule(days, clock(start), clock(end), date(from), untilPtr)
	require.NoError(t, err)
	return r
}

func TestExpand_January2024MonWedFri(t *testing.T) {
	r := mustRule(t, Monday|Wednesday|Friday, "07:00", "07:30", "2024-01-01", "2024-01-31")

	got := Expand(r, date("2024-01-01"), date("2024-01-31"))

	wantDays := []int{1, 3, 5, 8, 10, 12, 15, 17, 19, 22, 24, 26, 29, 31}
	require.Len(t, got, len(wantDays))
	for i, occ := range got {
		assert.Equal(t, calendar.NewDate(2024, time.January, wantDays[i]), occ.Date)
		assert.Equal(t, clock("07:00"), occ.Start)
		assert.Equal(t, clock("07:30"), occ.End)
	}
}

func TestExpand_StrictlyIncreasingAndSatisfiesRule(t *testing.T) {
	rules := []Rule{
		mustRule(t, AllWeekdays, "06:00", "06:10", "2023-12-20", ""),
		mustRule(t, Saturday|Sunday, "10:00", "11:00", "2024-02-01", "2024-03-10"),
		mustRule(t, Thursday, "21:00", "22:00", "2020-01-01", "2028-12-31"),
	}
	from, to := date("2023-12-01"), date("2024-03-31")

	for _, r := range rules {
		got := Expand(r, from, to)
		for i, occ := range got {
			assert.True(t, r.Weekdays.Has(occ.Date.Weekday()), "weekday of %s", occ.Date)
			assert.True(t, r.Covers(occ.Date), "window covers %s", occ.Date)
			assert.False(t, occ.Date.Before(from))
			assert.False(t, occ.Date.After(to))
			if i > 0 {
				assert.True(t, got[i-1].Date.Before(occ.Date), "%s before %s", got[i-1].Date, occ.Date)
			}
		}
	}
}

func TestExpand_LeapYearAndYearBoundary(t *testing.T) {
	r := mustRule(t, Thursday, "08:00", "09:00", "2024-01-01", "")

	got := Expand(r, date("2024-02-26"), date("2024-03-03"))
	require.Len(t, got, 1)
	assert.Equal(t, date("2024-02-29"), got[0].Date)

	r = mustRule(t, AllWeekdays, "08:00", "09:00", "2023-12-30", "2024-01-02")
	got = Expand(r, date("2023-12-01"), date("2024-01-31"))
	require.Len(t, got, 4)
	assert.Equal(t, date("2023-12-30"), got[0].Date)
	assert.Equal(t, date("2024-01-02"), got[3].Date)
}

func TestExpand_Deterministic(t *testing.T) {
	r := mustRule(t, Tuesday|Friday, "12:00", "12:30", "2024-01-01", "")
	a := Expand(r, date("2024-01-01"), date("2024-06-30"))
	b := Expand(r, date("2024-01-01"), date("2024-06-30"))
	assert.Equal(t, a, b)

	// A sub-range is the matching slice of the full expansion.
	sub := Expand(r, date("2024-03-01"), date("2024-03-31"))
	var fromFull []Occurrence
	for _, occ := range a {
		if occ.Date.Month == time.March {
			fromFull = append(fromFull, occ)
		}
	}
	assert.Equal(t, fromFull, sub)
}

func TestExpand_ReversedRangeIsEmpty(t *testing.T) {
	r := mustRule(t, AllWeekdays, "08:00", "09:00", "2024-01-01", "")
	assert.Empty(t, Expand(r, date("2024-02-01"), date("2024-01-01")))
}

func TestExpand_OutsideValidityWindow(t *testing.T) {
	r := mustRule(t, AllWeekdays, "08:00", "09:00", "2024-05-01", "2024-05-31")
	assert.Empty(t, Expand(r, date("2024-01-01"), date("2024-04-30")))
	assert.Empty(t, Expand(r, date("2024-06-01"), date("2024-06-30")))
}

func TestExpand_CapsHugeRange(t *testing.T) {
	r := mustRule(t, AllWeekdays, "08:00", "09:00", "2000-01-01", "")
	got := Expand(r, date("2000-01-01"), date("2099-12-31"))
	require.Len(t, got, MaxRangeDays)
	assert.Equal(t, date("2000-01-01").AddDays(MaxRangeDays-1), got[len(got)-1].Date)
}

func TestNewRule_RejectsMalformed(t *testing.T) {
	before := date("2024-01-01")
	cases := []struct {
		name  string
		days  WeekdaySet
		start string
		end   string
		until *calendar.Date
	}{
		{"empty weekdays", 0, "07:00", "08:00", nil},
		{"start equals end", Monday, "07:00", "07:00", nil},
		{"start after end", Monday, "09:00", "08:00", nil},
		{"until before from", Monday, "07:00", "08:00", &before},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewRule(tc.days, clock(tc.start), clock(tc.end), date("2024-02-01"), tc.until)
			require.Error(t, err)
			assert.True(t, errors.Is(err, apperr.ErrValidation))
		})
	}
}

func TestNewRule_UntilEqualFromIsValid(t *testing.T) {
	r := mustRule(t, AllWeekdays, "07:00", "08:00", "2024-01-10", "2024-01-10")
	got := Expand(r, date("2024-01-01"), date("2024-01-31"))
	require.Len(t, got, 1)
	assert.Equal(t, date("2024-01-10"), got[0].Date)
}

func TestWeekdayLetters_RoundTrip(t *testing.T) {
	s := Monday | Wednesday | Friday
	assert.Equal(t, "M-W-F--", s.Letters())

	parsed, err := ParseWeekdayLetters("M-W-F--")
	require.NoError(t, err)
	assert.Equal(t, s, parsed)

	assert.Equal(t, "MTWTFSS", AllWeekdays.Letters())

	_, err = ParseWeekdayLetters("MWF")
	assert.Error(t, err)
}

func TestNewWeekdaySet(t *testing.T) {
	s := NewWeekdaySet(time.Sunday, time.Monday)
	assert.True(t, s.Has(time.Sunday))
	assert.True(t, s.Has(time.Monday))
	assert.False(t, s.Has(time.Tuesday))
	assert.Equal(t, "M-----S", s.Letters())
}
