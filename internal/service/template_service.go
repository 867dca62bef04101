package service

import (
	"context"
	"errors"

	"unified-planner/internal/apperr"
	"unified-planner/internal/calendar"
	"unified-planner/internal/model"
	"unified-planner/internal/recurrence"
	"unified-planner/internal/repository"
)

// ApplyResult reports what applying a template changed.
type ApplyResult struct {
	Created []model.Activity `json:"created"`
	// Ended counts habits whose window was closed the day before the apply date.
	Ended int `json:"ended"`
	// Removed counts habits that had not started yet and were deleted outright.
	Removed int `json:"removed"`
}

// TemplateService saves the current habit system under a name and brings it back later.
type TemplateService struct {
	store *repository.Store
}

func NewTemplateService(store *repository.Store) *TemplateService {
	return &TemplateService{store: store}
}

// Save captures every enabled habit with a well-formed rule as template name. An existing
// template is only replaced when overwrite is set.
func (s *TemplateService) Save(ctx context.Context, name, description string, overwrite bool) (*model.HabitTemplate, error) {
	name = normalizeText(name)
	if name == "" {
		return nil, apperr.Invalid("name", "template name is required")
	}
	var saved *model.HabitTemplate
	err := s.store.Write(ctx, "save template", func(tx *repository.Tx) error {
		habits, err := tx.Activities.ListHabits(ctx)
		if err != nil {
			return err
		}
		captured := captureHabits(habits)

		t, err := tx.Templates.FindByName(ctx, name)
		switch {
		case errors.Is(err, apperr.ErrNotFound):
			t = &model.HabitTemplate{ID: newID(), Name: name, Description: normalizeText(description), Habits: captured}
			if err := tx.Templates.Create(ctx, t); err != nil {
				return err
			}
		case err != nil:
			return err
		case !overwrite:
			return apperr.Invalid("name", "template %q already exists", name)
		default:
			t.Description = normalizeText(description)
			t.Habits = captured
			if err := tx.Templates.Save(ctx, t); err != nil {
				return err
			}
		}
		saved = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return saved, nil
}

func captureHabits(habits []model.Activity) []model.TemplateHabit {
	out := make([]model.TemplateHabit, 0, len(habits))
	for _, h := range habits {
		if h.Disabled || h.Rule.Validate() != nil {
			continue
		}
		out = append(out, model.TemplateHabit{
			Title:       h.Title,
			Description: h.Description,
			Category:    h.Category,
			Tags:        h.Tags,
			Priority:    h.Priority,
			Color:       h.Color,
			Weekdays:    h.Rule.Weekdays,
			Start:       h.Rule.Start,
			End:         h.Rule.End,
		})
	}
	return out
}

func (s *TemplateService) List(ctx context.Context) ([]model.HabitTemplate, error) {
	var out []model.HabitTemplate
	err := s.store.Read(ctx, func(tx *repository.Tx) error {
		var err error
		out, err = tx.Templates.List(ctx)
		return err
	})
	return out, err
}

func (s *TemplateService) Get(ctx context.Context, name string) (*model.HabitTemplate, error) {
	var t *model.HabitTemplate
	err := s.store.Read(ctx, func(tx *repository.Tx) error {
		var err error
		t, err = tx.Templates.FindByName(ctx, normalizeText(name))
		return err
	})
	return t, err
}

func (s *TemplateService) Rename(ctx context.Context, from, to string) error {
	from, to = normalizeText(from), normalizeText(to)
	if from == "" || to == "" {
		return apperr.Invalid("name", "both names are required")
	}
	if from == to {
		return nil
	}
	return s.store.Write(ctx, "rename template", func(tx *repository.Tx) error {
		t, err := tx.Templates.FindByName(ctx, from)
		if err != nil {
			return err
		}
		taken, err := tx.Templates.Exists(ctx, to)
		if err != nil {
			return err
		}
		if taken {
			return apperr.Invalid("name", "template %q already exists", to)
		}
		t.Name = to
		return tx.Templates.Save(ctx, t)
	})
}

func (s *TemplateService) Delete(ctx context.Context, name string) error {
	name = normalizeText(name)
	return s.store.Write(ctx, "delete template", func(tx *repository.Tx) error {
		found, err := tx.Templates.DeleteByName(ctx, name)
		if err != nil {
			return err
		}
		if !found {
			return apperr.NotFound("template", name)
		}
		return nil
	})
}

// Apply creates the template's habits valid from from onwards. With replace, the habits
// live on or after from are retired first: a habit that started earlier is ended the day
// before so its history stays, one that starts on or after from is deleted together with
// its completions. Everything happens in one write.
func (s *TemplateService) Apply(ctx context.Context, name string, from calendar.Date, replace bool) (ApplyResult, error) {
	if !from.IsValid() {
		return ApplyResult{}, apperr.Invalid("date", "invalid date %s", from)
	}
	name = normalizeText(name)
	var res ApplyResult
	err := s.store.Write(ctx, "apply template", func(tx *repository.Tx) error {
		res = ApplyResult{}
		t, err := tx.Templates.FindByName(ctx, name)
		if err != nil {
			return err
		}
		if replace {
			if err := retireHabits(ctx, tx, from, &res); err != nil {
				return err
			}
		}
		for _, h := range t.Habits {
			rule, err := recurrence.NewRule(h.Weekdays, h.Start, h.End, from, nil)
			if err != nil {
				return err
			}
			a := model.Activity{
				ID:          newID(),
				Kind:        model.KindHabit,
				Title:       h.Title,
				Description: h.Description,
				Category:    h.Category,
				Tags:        h.Tags,
				Priority:    h.Priority,
				Color:       h.Color,
				Rule:        rule,
			}
			if err := a.Validate(); err != nil {
				return err
			}
			if err := tx.Activities.Create(ctx, &a); err != nil {
				return err
			}
			res.Created = append(res.Created, a)
		}
		return nil
	})
	if err != nil {
		return ApplyResult{}, err
	}
	return res, nil
}

func retireHabits(ctx context.Context, tx *repository.Tx, from calendar.Date, res *ApplyResult) error {
	habits, err := tx.Activities.ListHabits(ctx)
	if err != nil {
		return err
	}
	for i := range habits {
		h := &habits[i]
		if h.Rule.ValidUntil != nil && h.Rule.ValidUntil.Before(from) {
			continue
		}
		if h.Rule.ValidFrom.Before(from) {
			until := from.AddDays(-1)
			h.Rule.ValidUntil = &until
			if err := tx.Activities.Save(ctx, h); err != nil {
				return err
			}
			res.Ended++
			continue
		}
		if _, err := tx.Completions.DeleteByActivity(ctx, h.ID); err != nil {
			return err
		}
		if _, err := tx.Activities.Delete(ctx, h.ID); err != nil {
			return err
		}
		res.Removed++
	}
	return nil
}
