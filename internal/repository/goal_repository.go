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

// GoalRepository handles CRUD for the goal tree.
type GoalRepository struct {
	db *gorm.DB
}

func NewGoalRepository(db *gorm.DB) *GoalRepository {
	return &GoalRepository{db: db}
}

func (r *GoalRepository) Create(ctx context.Context, g *model.Goal) error {
	if err := r.db.WithContext(ctx).Create(g).Error; err != nil {
		return fmt.Errorf("create goal: %w", err)
	}
	return nil
}

func (r *GoalRepository) Save(ctx context.Context, g *model.Goal) error {
	if err := r.db.WithContext(ctx).Save(g).Error; err != nil {
		return fmt.Errorf("save goal: %w", err)
	}
	return nil
}

func (r *GoalRepository) Upsert(ctx context.Context, g *model.Goal) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(g).Error
	if err != nil {
		return fmt.Errorf("upsert goal: %w", err)
	}
	return nil
}

func (r *GoalRepository) FindByID(ctx context.Context, id string) (*model.Goal, error) {
	var g model.Goal
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&g).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, apperr.NotFound("goal", id)
	case err != nil:
		return nil, fmt.Errorf("find goal: %w", err)
	}
	return &g, nil
}

func (r *GoalRepository) Delete(ctx context.Context, id string) (bool, error) {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&model.Goal{})
	if res.Error != nil {
		return false, fmt.Errorf("delete goal: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (r *GoalRepository) ListAll(ctx context.Context) ([]model.Goal, error) {
	var out []model.Goal
	if err := r.db.WithContext(ctx).Order("created_at ASC, id ASC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list goals: %w", err)
	}
	return out, nil
}

// ListDueBetween returns goals whose due date falls in [from, to], completed ones included.
func (r *GoalRepository) ListDueBetween(ctx context.Context, from, to calendar.Date) ([]model.Goal, error) {
	var out []model.Goal
	err := r.db.WithContext(ctx).
		Where("due_date IS NOT NULL AND due_date BETWEEN ? AND ?", from, to).
		Order("due_date ASC, created_at ASC, id ASC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list due goals: %w", err)
	}
	return out, nil
}

// ParentOf returns the parent ID of goal id, nil for a root.
func (r *GoalRepository) ParentOf(ctx context.Context, id string) (*string, error) {
	g, err := r.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return g.ParentID, nil
}

// DetachChildren moves every child of parentID to the root.
func (r *GoalRepository) DetachChildren(ctx context.Context, parentID string) (int64, error) {
	res := r.db.WithContext(ctx).Model(&model.Goal{}).Where("parent_id = ?", parentID).
		Update("parent_id", nil)
	if res.Error != nil {
		return 0, fmt.Errorf("detach children: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// Detach makes goal id a root.
func (r *GoalRepository) Detach(ctx context.Context, id string) error {
	err := r.db.WithContext(ctx).Model(&model.Goal{}).Where("id = ?", id).
		Update("parent_id", nil).Error
	if err != nil {
		return fmt.Errorf("detach goal: %w", err)
	}
	return nil
}
