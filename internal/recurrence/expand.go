package recurrence

import "unified-planner/internal/calendar"

// MaxRangeDays caps a single expansion. Open-ended habits are never expanded past it.
const MaxRangeDays = 731

// Occurrence is one concrete day a rule fires on, with the rule's time window.
type Occurrence struct {
	Date  calendar.Date
	Start calendar.TimeOfDay
	End   calendar.TimeOfDay
}

// Expand lists the occurrences of r in [from, to], strictly increasing by date.
// A reversed range yields nothing; a range longer than MaxRangeDays is truncated.
// Every day is tested on its own, so the result depends only on the arguments.
func Expand(r Rule, from, to calendar.Date) []Occurrence {
	if from.After(to) {
		return nil
	}
	if limit := from.AddDays(MaxRangeDays - 1); to.After(limit) {
		to = limit
	}
	if !r.Overlaps(from, to) {
		return nil
	}

	var out []Occurrence
	for d := from; !d.After(to); d = d.AddDays(1) {
		if r.Occurs(d) {
			out = append(out, Occurrence{Date: d, Start: r.Start, End: r.End})
		}
	}
	return out
}
