package model

import (
	"time"

	"unified-planner/internal/calendar"
)

type CompletionStatus string

const (
	StatusPending CompletionStatus = "pending"
	StatusDone    CompletionStatus = "done"
	StatusSkipped CompletionStatus = "skipped"
)

// Completion records that one occurrence of an activity was done or skipped.
// There is at most one row per (activity, date); re-marking overwrites Status.
type Completion struct {
	ID         uint             `gorm:"primaryKey" json:"-"`
	ActivityID string           `gorm:"size:36;not null;index:idx_completion_occurrence,unique" json:"activity_id"`
	Date       calendar.Date    `gorm:"not null;index:idx_completion_occurrence,unique" json:"date"`
	Status     CompletionStatus `gorm:"not null" json:"status"`
	RecordedAt time.Time        `json:"recorded_at"`
}
