package cli

import (
	"fmt"
	"strings"
	"time"

	"unified-planner/internal/calendar"
	"unified-planner/internal/recurrence"
)

// parseDay accepts YYYY-MM-DD, "today", "tomorrow" and "yesterday".
func parseDay(s string, today calendar.Date) (calendar.Date, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "today":
		return today, nil
	case "tomorrow":
		return today.AddDays(1), nil
	case "yesterday":
		return today.AddDays(-1), nil
	}
	return calendar.ParseDate(strings.TrimSpace(s))
}

func parseOptDay(s string, today calendar.Date) (*calendar.Date, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	d, err := parseDay(s, today)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func parseOptClock(s string) (*calendar.TimeOfDay, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	t, err := calendar.ParseTimeOfDay(strings.TrimSpace(s))
	if err != nil {
		return nil, err
	}
	return &t, nil
}

var weekdayNames = map[string]time.Weekday{
	"mon": time.Monday, "tue": time.Tuesday, "wed": time.Wednesday, "thu": time.Thursday,
	"fri": time.Friday, "sat": time.Saturday, "sun": time.Sunday,
}

// parseWeekdays accepts positional letters ("M-W-F--"), a comma list ("mon,wed,fri"),
// "daily", "weekdays" or "weekends".
func parseWeekdays(s string) (recurrence.WeekdaySet, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "daily":
		return recurrence.AllWeekdays, nil
	case "weekdays":
		return recurrence.Monday | recurrence.Tuesday | recurrence.Wednesday | recurrence.Thursday | recurrence.Friday, nil
	case "weekends":
		return recurrence.Saturday | recurrence.Sunday, nil
	}
	if len(s) == 7 && strings.Trim(s, "mtwfs- ") == "" {
		return recurrence.ParseWeekdayLetters(strings.ToUpper(s))
	}
	var days []time.Weekday
	for _, part := range strings.Split(s, ",") {
		name := strings.TrimSpace(part)
		if len(name) > 3 {
			name = name[:3]
		}
		wd, ok := weekdayNames[name]
		if !ok {
			return 0, fmt.Errorf("unknown weekday %q", part)
		}
		days = append(days, wd)
	}
	return recurrence.NewWeekdaySet(days...), nil
}
