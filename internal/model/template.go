package model

import (
	"time"

	"gorm.io/datatypes"

	"unified-planner/internal/calendar"
	"unified-planner/internal/recurrence"
)

// TemplateHabit is a habit as captured by a template: its weekly shape without an
// identity or a validity window. Applying a template gives each one a fresh ID and a
// window starting on the apply date.
type TemplateHabit struct {
	Title       string                `json:"title"`
	Description string                `json:"description,omitempty"`
	Category    string                `json:"category,omitempty"`
	Tags        []string              `json:"tags,omitempty"`
	Priority    Priority              `json:"priority"`
	Color       string                `json:"color,omitempty"`
	Weekdays    recurrence.WeekdaySet `json:"weekdays"`
	Start       calendar.TimeOfDay    `json:"start"`
	End         calendar.TimeOfDay    `json:"end"`
}

// HabitTemplate is a named, reusable set of habits.
type HabitTemplate struct {
	ID          string                             `gorm:"primaryKey;size:36" json:"id"`
	Name        string                             `gorm:"uniqueIndex;not null" json:"name"`
	Description string                             `json:"description,omitempty"`
	Habits      datatypes.JSONSlice[TemplateHabit] `json:"habits"`
	CreatedAt   time.Time                          `json:"created_at"`
	UpdatedAt   time.Time                          `json:"updated_at"`
}
