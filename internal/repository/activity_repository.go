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

// ActivityRepository handles CRUD for tasks, events and habits.
type ActivityRepository struct {
	db *gorm.DB
}

func NewActivityRepository(db *gorm.DB) *ActivityRepository {
	return &ActivityRepository{db: db}
}

func (r *ActivityRepository) Create(ctx context.Context, a *model.Activity) error {
	if err := r.db.WithContext(ctx).Create(a).Error; err != nil {
		return fmt.Errorf("create activity: %w", err)
	}
	return nil
}

func (r *ActivityRepository) Save(ctx context.Context, a *model.Activity) error {
	if err := r.db.WithContext(ctx).Save(a).Error; err != nil {
		return fmt.Errorf("save activity: %w", err)
	}
	return nil
}

// Upsert inserts a or overwrites every column of the row with the same ID.
func (r *ActivityRepository) Upsert(ctx context.Context, a *model.Activity) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(a).Error
	if err != nil {
		return fmt.Errorf("upsert activity: %w", err)
	}
	return nil
}

func (r *ActivityRepository) FindByID(ctx context.Context, id string) (*model.Activity, error) {
	var a model.Activity
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&a).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, apperr.NotFound("activity", id)
	case err != nil:
		return nil, fmt.Errorf("find activity: %w", err)
	}
	return &a, nil
}

// Delete removes the activity row. It reports whether a row existed.
func (r *ActivityRepository) Delete(ctx context.Context, id string) (bool, error) {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&model.Activity{})
	if res.Error != nil {
		return false, fmt.Errorf("delete activity: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (r *ActivityRepository) ListAll(ctx context.Context) ([]model.Activity, error) {
	var out []model.Activity
	if err := r.db.WithContext(ctx).Order("created_at ASC, id ASC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list activities: %w", err)
	}
	return out, nil
}

// ListDatedBetween returns tasks and events whose day falls in [from, to].
func (r *ActivityRepository) ListDatedBetween(ctx context.Context, from, to calendar.Date) ([]model.Activity, error) {
	var out []model.Activity
	err := r.db.WithContext(ctx).
		Where("kind IN ? AND date IS NOT NULL AND date BETWEEN ? AND ?",
			[]model.Kind{model.KindTask, model.KindEvent}, from, to).
		Order("date ASC, created_at ASC, id ASC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list dated activities: %w", err)
	}
	return out, nil
}

// ListHabitsOverlapping returns enabled habits whose validity window intersects [from, to].
// Rules are not validated here.
func (r *ActivityRepository) ListHabitsOverlapping(ctx context.Context, from, to calendar.Date) ([]model.Activity, error) {
	var out []model.Activity
	err := r.db.WithContext(ctx).
		Where("kind = ? AND disabled = ?", model.KindHabit, false).
		Where("rule_valid_from <= ?", to).
		Where("rule_valid_until IS NULL OR rule_valid_until >= ?", from).
		Order("created_at ASC, id ASC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list habits: %w", err)
	}
	return out, nil
}

// ListHabits returns every habit, disabled ones included.
func (r *ActivityRepository) ListHabits(ctx context.Context) ([]model.Activity, error) {
	var out []model.Activity
	err := r.db.WithContext(ctx).Where("kind = ?", model.KindHabit).
		Order("created_at ASC, id ASC").Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list habits: %w", err)
	}
	return out, nil
}

// DisableForReview turns a habit off and flags it for the user to fix.
func (r *ActivityRepository) DisableForReview(ctx context.Context, id string) error {
	err := r.db.WithContext(ctx).Model(&model.Activity{}).Where("id = ?", id).
		Updates(map[string]any{"disabled": true, "needs_review": true}).Error
	if err != nil {
		return fmt.Errorf("disable activity: %w", err)
	}
	return nil
}

// ListWithMissingGoal returns activities whose goal reference points nowhere.
func (r *ActivityRepository) ListWithMissingGoal(ctx context.Context) ([]model.Activity, error) {
	var out []model.Activity
	err := r.db.WithContext(ctx).
		Where("goal_id IS NOT NULL AND goal_id NOT IN (?)", r.db.Model(&model.Goal{}).Select("id")).
		Order("created_at ASC, id ASC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list dangling goal refs: %w", err)
	}
	return out, nil
}

// ClearGoal drops the goal reference of every activity pointing at goalID.
func (r *ActivityRepository) ClearGoal(ctx context.Context, goalID string) (int64, error) {
	res := r.db.WithContext(ctx).Model(&model.Activity{}).Where("goal_id = ?", goalID).
		Update("goal_id", nil)
	if res.Error != nil {
		return 0, fmt.Errorf("clear goal reference: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (r *ActivityRepository) ClearGoalByIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).Model(&model.Activity{}).Where("id IN ?", ids).
		Update("goal_id", nil).Error
	if err != nil {
		return fmt.Errorf("clear goal reference: %w", err)
	}
	return nil
}

// FindBySuffix returns up to two activities whose ID ends with suffix. The suffix is
// compared literally.
func (r *ActivityRepository) FindBySuffix(ctx context.Context, suffix string) ([]model.Activity, error) {
	if suffix == "" {
		return nil, nil
	}
	var out []model.Activity
	err := r.db.WithContext(ctx).
		Where("length(id) >= length(?) AND substr(id, -length(?)) = ?", suffix, suffix, suffix).
		Limit(2).Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("find activity: %w", err)
	}
	return out, nil
}
