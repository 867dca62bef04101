package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"unified-planner/internal/apperr"
	"unified-planner/internal/model"
)

// TemplateRepository stores named habit templates.
type TemplateRepository struct {
	db *gorm.DB
}

func NewTemplateRepository(db *gorm.DB) *TemplateRepository {
	return &TemplateRepository{db: db}
}

func (r *TemplateRepository) Create(ctx context.Context, t *model.HabitTemplate) error {
	if err := r.db.WithContext(ctx).Create(t).Error; err != nil {
		return fmt.Errorf("create template: %w", err)
	}
	return nil
}

func (r *TemplateRepository) Save(ctx context.Context, t *model.HabitTemplate) error {
	if err := r.db.WithContext(ctx).Save(t).Error; err != nil {
		return fmt.Errorf("save template: %w", err)
	}
	return nil
}

// FindByName looks a template up by its exact name.
func (r *TemplateRepository) FindByName(ctx context.Context, name string) (*model.HabitTemplate, error) {
	var t model.HabitTemplate
	err := r.db.WithContext(ctx).Where("name = ?", name).First(&t).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, apperr.NotFound("template", name)
	case err != nil:
		return nil, fmt.Errorf("find template: %w", err)
	}
	return &t, nil
}

// Exists reports whether a template called name is stored.
func (r *TemplateRepository) Exists(ctx context.Context, name string) (bool, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&model.HabitTemplate{}).Where("name = ?", name).Count(&n).Error; err != nil {
		return false, fmt.Errorf("find template: %w", err)
	}
	return n > 0, nil
}

func (r *TemplateRepository) List(ctx context.Context) ([]model.HabitTemplate, error) {
	var out []model.HabitTemplate
	if err := r.db.WithContext(ctx).Order("name ASC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	return out, nil
}

// DeleteByName removes the template. It reports whether a row existed.
func (r *TemplateRepository) DeleteByName(ctx context.Context, name string) (bool, error) {
	res := r.db.WithContext(ctx).Where("name = ?", name).Delete(&model.HabitTemplate{})
	if res.Error != nil {
		return false, fmt.Errorf("delete template: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}
