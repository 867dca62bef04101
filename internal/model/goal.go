package model

import (
	"strings"
	"time"

	"unified-planner/internal/apperr"
	"unified-planner/internal/calendar"
)

// Goal is a node in the goal tree. Parents are referenced by ID, never by pointer.
type Goal struct {
	ID          string         `gorm:"primaryKey;size:36" json:"id"`
	ParentID    *string        `gorm:"index;size:36" json:"parent_id,omitempty"`
	Title       string         `gorm:"not null" json:"title"`
	Description string         `json:"description,omitempty"`
	DueDate     *calendar.Date `gorm:"index" json:"due_date,omitempty"`
	Priority    Priority       `gorm:"not null" json:"priority"`
	Completed   bool           `gorm:"default:false" json:"completed"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// DaysLeft is the number of days until the due date, floored at zero.
// It is nil when the goal has no due date.
func (g Goal) DaysLeft(today calendar.Date) *int {
	if g.DueDate == nil {
		return nil
	}
	left := g.DueDate.DaysSince(today)
	if left < 0 {
		left = 0
	}
	return &left
}

func (g Goal) Overdue(today calendar.Date) bool {
	return !g.Completed && g.DueDate != nil && g.DueDate.Before(today)
}

func (g Goal) Validate() error {
	if strings.TrimSpace(g.Title) == "" {
		return apperr.Invalid("title", "title is required")
	}
	if !g.Priority.Valid() {
		return apperr.Invalid("priority", "unknown priority %d", int(g.Priority))
	}
	if g.ParentID != nil && *g.ParentID == g.ID {
		return apperr.Invalid("parent_id", "a goal cannot be its own parent")
	}
	return nil
}
