package service

import (
	"context"
	"errors"

	"unified-planner/internal/apperr"
	"unified-planner/internal/calendar"
	"unified-planner/internal/model"
	"unified-planner/internal/repository"
)

// maxGoalDepth bounds parent-chain walks.
const maxGoalDepth = 64

type GoalInput struct {
	Title       string
	Description string
	DueDate     *calendar.Date
	Priority    model.Priority
	ParentID    *string
}

// GoalService manages the goal tree.
type GoalService struct {
	store *repository.Store
}

func NewGoalService(store *repository.Store) *GoalService {
	return &GoalService{store: store}
}

func (s *GoalService) Create(ctx context.Context, in GoalInput) (*model.Goal, error) {
	g := &model.Goal{ID: newID()}
	applyGoalInput(g, in)
	if err := g.Validate(); err != nil {
		return nil, err
	}
	err := s.store.Write(ctx, "create goal", func(tx *repository.Tx) error {
		if err := checkParent(ctx, tx, g.ID, g.ParentID); err != nil {
			return err
		}
		return tx.Goals.Create(ctx, g)
	})
	if err != nil {
		return nil, err
	}
	return g, nil
}

func (s *GoalService) Update(ctx context.Context, id string, in GoalInput) (*model.Goal, error) {
	var updated *model.Goal
	err := s.store.Write(ctx, "update goal", func(tx *repository.Tx) error {
		g, err := tx.Goals.FindByID(ctx, id)
		if err != nil {
			return err
		}
		applyGoalInput(g, in)
		if err := g.Validate(); err != nil {
			return err
		}
		if err := checkParent(ctx, tx, g.ID, g.ParentID); err != nil {
			return err
		}
		if err := tx.Goals.Save(ctx, g); err != nil {
			return err
		}
		updated = g
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// SetParent moves goal id under parentID, or to the root when parentID is nil.
func (s *GoalService) SetParent(ctx context.Context, id string, parentID *string) error {
	return s.store.Write(ctx, "move goal", func(tx *repository.Tx) error {
		g, err := tx.Goals.FindByID(ctx, id)
		if err != nil {
			return err
		}
		if err := checkParent(ctx, tx, id, parentID); err != nil {
			return err
		}
		g.ParentID = parentID
		return tx.Goals.Save(ctx, g)
	})
}

func (s *GoalService) SetCompleted(ctx context.Context, id string, completed bool) error {
	return s.store.Write(ctx, "complete goal", func(tx *repository.Tx) error {
		g, err := tx.Goals.FindByID(ctx, id)
		if err != nil {
			return err
		}
		if g.Completed == completed {
			return repository.ErrNoChanges
		}
		g.Completed = completed
		return tx.Goals.Save(ctx, g)
	})
}

// Delete removes a goal. Its children become roots and activities lose the reference.
func (s *GoalService) Delete(ctx context.Context, id string) error {
	return s.store.Write(ctx, "delete goal", func(tx *repository.Tx) error {
		found, err := tx.Goals.Delete(ctx, id)
		if err != nil {
			return err
		}
		if !found {
			return apperr.NotFound("goal", id)
		}
		if _, err := tx.Goals.DetachChildren(ctx, id); err != nil {
			return err
		}
		_, err = tx.Activities.ClearGoal(ctx, id)
		return err
	})
}

func (s *GoalService) Get(ctx context.Context, id string) (*model.Goal, error) {
	var g *model.Goal
	err := s.store.Read(ctx, func(tx *repository.Tx) error {
		var err error
		g, err = tx.Goals.FindByID(ctx, id)
		return err
	})
	return g, err
}

func (s *GoalService) List(ctx context.Context) ([]model.Goal, error) {
	var out []model.Goal
	err := s.store.Read(ctx, func(tx *repository.Tx) error {
		var err error
		out, err = tx.Goals.ListAll(ctx)
		return err
	})
	return out, err
}

// Overdue lists open goals whose due date is before today.
func (s *GoalService) Overdue(ctx context.Context, today calendar.Date) ([]model.Goal, error) {
	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	var out []model.Goal
	for _, g := range all {
		if g.Overdue(today) {
			out = append(out, g)
		}
	}
	return out, nil
}

func applyGoalInput(g *model.Goal, in GoalInput) {
	g.Title = normalizeText(in.Title)
	g.Description = normalizeText(in.Description)
	g.DueDate = in.DueDate
	g.Priority = in.Priority
	g.ParentID = in.ParentID
	if g.ParentID != nil && *g.ParentID == "" {
		g.ParentID = nil
	}
}

// checkParent rejects a parent that is missing or whose chain leads back to id.
func checkParent(ctx context.Context, tx *repository.Tx, id string, parentID *string) error {
	if parentID == nil {
		return nil
	}
	if *parentID == id {
		return apperr.Invalid("parent_id", "a goal cannot be its own parent")
	}
	cur := *parentID
	for depth := 0; depth < maxGoalDepth; depth++ {
		g, err := tx.Goals.FindByID(ctx, cur)
		if errors.Is(err, apperr.ErrNotFound) {
			if depth == 0 {
				return apperr.Invalid("parent_id", "goal %q does not exist", cur)
			}
			// A broken chain above us is the integrity checker's business.
			return nil
		}
		if err != nil {
			return err
		}
		if g.ID == id {
			return apperr.Invalid("parent_id", "moving under %q would create a cycle", *parentID)
		}
		if g.ParentID == nil {
			return nil
		}
		cur = *g.ParentID
	}
	return apperr.Invalid("parent_id", "goal tree deeper than %d levels", maxGoalDepth)
}
