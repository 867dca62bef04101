package service

import (
	"context"

	"unified-planner/internal/apperr"
	"unified-planner/internal/model"
	"unified-planner/internal/repository"
)

// CategoryService provides helpers around categories.
type CategoryService struct {
	store *repository.Store
}

func NewCategoryService(store *repository.Store) *CategoryService {
	return &CategoryService{store: store}
}

func (s *CategoryService) List(ctx context.Context) ([]model.CategoryUsage, error) {
	var out []model.CategoryUsage
	err := s.store.Read(ctx, func(tx *repository.Tx) error {
		var err error
		out, err = tx.Categories.ListUsage(ctx)
		return err
	})
	return out, err
}

// Rename relabels every activity in category from. It returns the number of activities moved.
func (s *CategoryService) Rename(ctx context.Context, from, to string) (int64, error) {
	from, to = normalizeText(from), normalizeText(to)
	if from == "" || to == "" {
		return 0, apperr.Invalid("category", "both names are required")
	}
	var n int64
	err := s.store.Write(ctx, "rename category", func(tx *repository.Tx) error {
		var err error
		n, err = tx.Categories.Rename(ctx, from, to)
		if err == nil && n == 0 {
			return repository.ErrNoChanges
		}
		return err
	})
	return n, err
}
