package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"unified-planner/internal/model"
)

// CategoryRepository derives categories from the free-form label on activities.
type CategoryRepository struct {
	db *gorm.DB
}

func NewCategoryRepository(db *gorm.DB) *CategoryRepository {
	return &CategoryRepository{db: db}
}

// ListUsage returns every non-empty category with the number of activities using it.
func (r *CategoryRepository) ListUsage(ctx context.Context) ([]model.CategoryUsage, error) {
	var out []model.CategoryUsage
	err := r.db.WithContext(ctx).Model(&model.Activity{}).
		Select("category AS name, COUNT(*) AS count").
		Where("category <> ''").
		Group("category").
		Order("name ASC").
		Scan(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	return out, nil
}

// Rename moves every activity labelled from to label to.
func (r *CategoryRepository) Rename(ctx context.Context, from, to string) (int64, error) {
	res := r.db.WithContext(ctx).Model(&model.Activity{}).Where("category = ?", from).
		Update("category", to)
	if res.Error != nil {
		return 0, fmt.Errorf("rename category: %w", res.Error)
	}
	return res.RowsAffected, nil
}
