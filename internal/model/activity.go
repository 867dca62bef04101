package model

import (
	"strings"
	"time"

	"gorm.io/datatypes"

	"unified-planner/internal/apperr"
	"unified-planner/internal/calendar"
	"unified-planner/internal/recurrence"
)

// Kind is the closed set of activity variants.
type Kind string

const (
	KindTask  Kind = "task"
	KindEvent Kind = "event"
	KindHabit Kind = "habit"
)

func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindTask, KindEvent, KindHabit:
		return k, nil
	default:
		return "", apperr.Invalid("kind", "unknown activity kind %q", s)
	}
}

// Activity is a task, event or habit. Fields that only make sense for one kind are
// ignored for the others: Date and times drive tasks and events, Rule drives habits.
type Activity struct {
	ID          string                      `gorm:"primaryKey;size:36" json:"id"`
	Kind        Kind                        `gorm:"index;not null" json:"kind"`
	Title       string                      `gorm:"not null" json:"title"`
	Description string                      `json:"description,omitempty"`
	Category    string                      `gorm:"index" json:"category,omitempty"`
	Tags        datatypes.JSONSlice[string] `json:"tags,omitempty"`
	Priority    Priority                    `gorm:"not null" json:"priority"`
	Color       string                      `json:"color,omitempty"`
	Date        *calendar.Date              `gorm:"index" json:"date,omitempty"`
	StartTime   *calendar.TimeOfDay         `json:"start_time,omitempty"`
	EndTime     *calendar.TimeOfDay         `json:"end_time,omitempty"`
	Attachments datatypes.JSONSlice[string] `json:"attachments,omitempty"`
	// GoalID is a lookup key only; the goal may be gone.
	GoalID      *string         `gorm:"index;size:36" json:"goal_id,omitempty"`
	Rule        recurrence.Rule `gorm:"embedded;embeddedPrefix:rule_" json:"-"`
	Disabled    bool            `gorm:"default:false" json:"disabled,omitempty"`
	NeedsReview bool            `gorm:"default:false" json:"needs_review,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Recurrence returns the habit's rule. ok is false for tasks and events.
func (a Activity) Recurrence() (recurrence.Rule, bool) {
	if a.Kind != KindHabit {
		return recurrence.Rule{}, false
	}
	return a.Rule, true
}

// Timed reports whether the activity has a start time on its day.
func (a Activity) Timed() bool {
	switch a.Kind {
	case KindEvent:
		return true
	case KindTask:
		return a.StartTime != nil
	case KindHabit:
		return true
	default:
		return false
	}
}

// Validate checks the kind-specific shape of a. Habits get their rule validated too.
func (a Activity) Validate() error {
	if strings.TrimSpace(a.Title) == "" {
		return apperr.Invalid("title", "title is required")
	}
	if !a.Priority.Valid() {
		return apperr.Invalid("priority", "unknown priority %d", int(a.Priority))
	}
	switch a.Kind {
	case KindTask:
		if a.EndTime != nil && a.StartTime == nil {
			return apperr.Invalid("end_time", "end time requires a start time")
		}
		if a.StartTime != nil && a.Date == nil {
			return apperr.Invalid("date", "a timed task needs a date")
		}
		return validWindow(a.StartTime, a.EndTime)
	case KindEvent:
		if a.Date == nil {
			return apperr.Invalid("date", "event date is required")
		}
		if a.StartTime == nil || a.EndTime == nil {
			return apperr.Invalid("time", "event start and end times are required")
		}
		return validWindow(a.StartTime, a.EndTime)
	case KindHabit:
		return a.Rule.Validate()
	default:
		return apperr.Invalid("kind", "unknown activity kind %q", a.Kind)
	}
}

func validWindow(start, end *calendar.TimeOfDay) error {
	if start != nil && !start.Valid() {
		return apperr.Invalid("start_time", "out of range")
	}
	if end != nil && !end.Valid() {
		return apperr.Invalid("end_time", "out of range")
	}
	if start != nil && end != nil && *start >= *end {
		return apperr.Invalid("time", "start %s must be before end %s", *start, *end)
	}
	return nil
}
