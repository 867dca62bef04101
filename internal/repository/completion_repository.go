package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"unified-planner/internal/apperr"
	"unified-planner/internal/calendar"
	"unified-planner/internal/model"
)

// OccurrenceIndex is the unique index on (activity_id, date).
const OccurrenceIndex = "idx_completion_occurrence"

// CompletionRepository stores per-occurrence done/skipped marks.
type CompletionRepository struct {
	db *gorm.DB
}

func NewCompletionRepository(db *gorm.DB) *CompletionRepository {
	return &CompletionRepository{db: db}
}

// Upsert records c, overwriting the status of an existing mark for the same occurrence.
func (r *CompletionRepository) Upsert(ctx context.Context, c *model.Completion) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "activity_id"}, {Name: "date"}},
		DoUpdates: clause.AssignmentColumns([]string{"status", "recorded_at"}),
	}).Create(c).Error
	if err != nil {
		return fmt.Errorf("record completion: %w", err)
	}
	return nil
}

func (r *CompletionRepository) Find(ctx context.Context, activityID string, date calendar.Date) (*model.Completion, error) {
	var c model.Completion
	err := r.db.WithContext(ctx).Where("activity_id = ? AND date = ?", activityID, date).First(&c).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, apperr.NotFound("completion", activityID+"@"+date.String())
	case err != nil:
		return nil, fmt.Errorf("find completion: %w", err)
	}
	return &c, nil
}

func (r *CompletionRepository) ListBetween(ctx context.Context, from, to calendar.Date) ([]model.Completion, error) {
	var out []model.Completion
	err := r.db.WithContext(ctx).Where("date BETWEEN ? AND ?", from, to).
		Order("date ASC, id ASC").Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list completions: %w", err)
	}
	return out, nil
}

func (r *CompletionRepository) ListAll(ctx context.Context) ([]model.Completion, error) {
	var out []model.Completion
	if err := r.db.WithContext(ctx).Order("activity_id ASC, date ASC, id ASC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list completions: %w", err)
	}
	return out, nil
}

func (r *CompletionRepository) DeleteByActivity(ctx context.Context, activityID string) (int64, error) {
	res := r.db.WithContext(ctx).Where("activity_id = ?", activityID).Delete(&model.Completion{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete completions: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (r *CompletionRepository) DeleteByIDs(ctx context.Context, ids []uint) error {
	if len(ids) == 0 {
		return nil
	}
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Delete(&model.Completion{}).Error; err != nil {
		return fmt.Errorf("delete completions: %w", err)
	}
	return nil
}

// ListOrphans returns completions whose activity no longer exists.
func (r *CompletionRepository) ListOrphans(ctx context.Context) ([]model.Completion, error) {
	var out []model.Completion
	err := r.db.WithContext(ctx).
		Where("activity_id NOT IN (?)", r.db.Model(&model.Activity{}).Select("id")).
		Order("id ASC").Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list orphan completions: %w", err)
	}
	return out, nil
}

// ListDuplicates returns every completion that shares its (activity, date) with another,
// grouped by occurrence and newest first within a group.
func (r *CompletionRepository) ListDuplicates(ctx context.Context) ([]model.Completion, error) {
	var out []model.Completion
	dupes := r.db.Model(&model.Completion{}).
		Select("activity_id || '@' || date").
		Group("activity_id, date").
		Having("COUNT(*) > 1")
	err := r.db.WithContext(ctx).
		Where("activity_id || '@' || date IN (?)", dupes).
		Order("activity_id ASC, date ASC, recorded_at DESC, id DESC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list duplicate completions: %w", err)
	}
	return out, nil
}

// HasOccurrenceIndex reports whether the unique (activity, date) index exists.
func (r *CompletionRepository) HasOccurrenceIndex() bool {
	return r.db.Migrator().HasIndex(&model.Completion{}, OccurrenceIndex)
}

func (r *CompletionRepository) CreateOccurrenceIndex() error {
	if err := r.db.Migrator().CreateIndex(&model.Completion{}, OccurrenceIndex); err != nil {
		return fmt.Errorf("create occurrence index: %w", err)
	}
	return nil
}
