package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"unified-planner/internal/apperr"
	"unified-planner/internal/calendar"
	"unified-planner/internal/model"
	"unified-planner/internal/recurrence"
	"unified-planner/internal/repository"
)

// ActivityInput carries the user-editable fields of a task, event or habit.
type ActivityInput struct {
	Kind        model.Kind
	Title       string
	Description string
	Category    string
	Tags        []string
	Priority    model.Priority
	Color       string
	Date        *calendar.Date
	StartTime   *calendar.TimeOfDay
	EndTime     *calendar.TimeOfDay
	Attachments []string
	GoalID      *string
	Rule        *recurrence.Rule
}

// ActivityService wraps activity-related business logic.
type ActivityService struct {
	store *repository.Store
	now   func() time.Time
}

func NewActivityService(store *repository.Store) *ActivityService {
	return &ActivityService{store: store, now: utcNow}
}

func (s *ActivityService) Create(ctx context.Context, in ActivityInput) (*model.Activity, error) {
	a := &model.Activity{ID: newID(), Kind: in.Kind}
	if err := applyInput(a, in); err != nil {
		return nil, err
	}

	err := s.store.Write(ctx, "create activity", func(tx *repository.Tx) error {
		if err := checkGoalRef(ctx, tx, a.GoalID); err != nil {
			return err
		}
		return tx.Activities.Create(ctx, a)
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Update replaces the editable fields of activity id. The kind cannot change.
func (s *ActivityService) Update(ctx context.Context, id string, in ActivityInput) (*model.Activity, error) {
	var updated *model.Activity
	err := s.store.Write(ctx, "update activity", func(tx *repository.Tx) error {
		a, err := tx.Activities.FindByID(ctx, id)
		if err != nil {
			return err
		}
		if in.Kind != "" && in.Kind != a.Kind {
			return apperr.Invalid("kind", "cannot change %s into %s", a.Kind, in.Kind)
		}
		in.Kind = a.Kind
		if err := applyInput(a, in); err != nil {
			return err
		}
		if err := checkGoalRef(ctx, tx, a.GoalID); err != nil {
			return err
		}
		if a.Kind == model.KindHabit {
			// A corrected rule brings a flagged habit back.
			a.Disabled = false
			a.NeedsReview = false
		}
		if err := tx.Activities.Save(ctx, a); err != nil {
			return err
		}
		updated = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// SetEnabled turns a habit on or off. Enabling requires a well-formed rule and clears
// the review flag.
func (s *ActivityService) SetEnabled(ctx context.Context, id string, enabled bool) error {
	return s.store.Write(ctx, "toggle habit", func(tx *repository.Tx) error {
		a, err := tx.Activities.FindByID(ctx, id)
		if err != nil {
			return err
		}
		if a.Kind != model.KindHabit {
			return apperr.Invalid("kind", "only habits can be enabled or disabled")
		}
		if enabled {
			if err := a.Rule.Validate(); err != nil {
				return err
			}
			a.NeedsReview = false
		}
		a.Disabled = !enabled
		return tx.Activities.Save(ctx, a)
	})
}

func (s *ActivityService) Get(ctx context.Context, id string) (*model.Activity, error) {
	var a *model.Activity
	err := s.store.Read(ctx, func(tx *repository.Tx) error {
		var err error
		a, err = tx.Activities.FindByID(ctx, id)
		return err
	})
	return a, err
}

// Resolve finds an activity by full ID or by an unambiguous ID suffix.
func (s *ActivityService) Resolve(ctx context.Context, ref string) (*model.Activity, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, apperr.Invalid("id", "activity id is required")
	}
	var a *model.Activity
	err := s.store.Read(ctx, func(tx *repository.Tx) error {
		found, err := tx.Activities.FindByID(ctx, ref)
		if err == nil {
			a = found
			return nil
		}
		if !errors.Is(err, apperr.ErrNotFound) {
			return err
		}
		matches, err := tx.Activities.FindBySuffix(ctx, ref)
		if err != nil {
			return err
		}
		switch len(matches) {
		case 0:
			return apperr.NotFound("activity", ref)
		case 1:
			a = &matches[0]
			return nil
		default:
			return apperr.Invalid("id", "%q matches more than one activity", ref)
		}
	})
	return a, err
}

func (s *ActivityService) List(ctx context.Context) ([]model.Activity, error) {
	var out []model.Activity
	err := s.store.Read(ctx, func(tx *repository.Tx) error {
		var err error
		out, err = tx.Activities.ListAll(ctx)
		return err
	})
	return out, err
}

// Delete removes the activity and all of its completions in one transaction.
func (s *ActivityService) Delete(ctx context.Context, id string) error {
	return s.store.Write(ctx, "delete activity", func(tx *repository.Tx) error {
		if _, err := tx.Completions.DeleteByActivity(ctx, id); err != nil {
			return err
		}
		found, err := tx.Activities.Delete(ctx, id)
		if err != nil {
			return err
		}
		if !found {
			return apperr.NotFound("activity", id)
		}
		return nil
	})
}

// MarkComplete records the occurrence of activity id on date as done. Marking the same
// occurrence again keeps a single row.
func (s *ActivityService) MarkComplete(ctx context.Context, id string, date calendar.Date) (*model.Completion, error) {
	return s.mark(ctx, id, date, model.StatusDone)
}

// MarkSkipped records the occurrence as skipped, overwriting an earlier done mark.
func (s *ActivityService) MarkSkipped(ctx context.Context, id string, date calendar.Date) (*model.Completion, error) {
	return s.mark(ctx, id, date, model.StatusSkipped)
}

// ClearMark returns an occurrence to pending.
func (s *ActivityService) ClearMark(ctx context.Context, id string, date calendar.Date) error {
	return s.store.Write(ctx, "clear completion", func(tx *repository.Tx) error {
		c, err := tx.Completions.Find(ctx, id, date)
		if errors.Is(err, apperr.ErrNotFound) {
			return repository.ErrNoChanges
		}
		if err != nil {
			return err
		}
		return tx.Completions.DeleteByIDs(ctx, []uint{c.ID})
	})
}

func (s *ActivityService) mark(ctx context.Context, id string, date calendar.Date, status model.CompletionStatus) (*model.Completion, error) {
	if !date.IsValid() {
		return nil, apperr.Invalid("date", "invalid date %s", date)
	}
	c := &model.Completion{ActivityID: id, Date: date, Status: status}
	err := s.store.Write(ctx, "mark "+string(status), func(tx *repository.Tx) error {
		a, err := tx.Activities.FindByID(ctx, id)
		if err != nil {
			return err
		}
		if err := occursOn(a, date); err != nil {
			return err
		}
		c.ID = 0
		c.RecordedAt = s.now()
		return tx.Completions.Upsert(ctx, c)
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// occursOn checks that a has an occurrence on date. Undated tasks accept any date.
func occursOn(a *model.Activity, date calendar.Date) error {
	switch a.Kind {
	case model.KindHabit:
		if err := a.Rule.Validate(); err != nil {
			return err
		}
		if !a.Rule.Occurs(date) {
			return apperr.Invalid("date", "habit %q does not occur on %s", a.Title, date)
		}
	case model.KindTask, model.KindEvent:
		if a.Date != nil && *a.Date != date {
			return apperr.Invalid("date", "%s %q is scheduled on %s, not %s", a.Kind, a.Title, *a.Date, date)
		}
	default:
		return apperr.Invalid("kind", "unknown activity kind %q", a.Kind)
	}
	return nil
}

// applyInput copies in onto a after normalisation and validates the result.
func applyInput(a *model.Activity, in ActivityInput) error {
	a.Title = normalizeText(in.Title)
	a.Description = normalizeText(in.Description)
	a.Category = normalizeText(in.Category)
	a.Tags = normalizeTags(in.Tags)
	a.Priority = in.Priority
	a.Color = normalizeText(in.Color)
	a.Attachments = in.Attachments
	a.GoalID = in.GoalID
	if a.GoalID != nil && *a.GoalID == "" {
		a.GoalID = nil
	}

	switch a.Kind {
	case model.KindTask, model.KindEvent:
		a.Date = in.Date
		a.StartTime = in.StartTime
		a.EndTime = in.EndTime
		a.Rule = recurrence.Rule{}
	case model.KindHabit:
		if in.Rule == nil {
			return apperr.Invalid("recurrence", "a habit needs a recurrence rule")
		}
		a.Date, a.StartTime, a.EndTime = nil, nil, nil
		a.Rule = *in.Rule
	}
	return a.Validate()
}

func checkGoalRef(ctx context.Context, tx *repository.Tx, goalID *string) error {
	if goalID == nil {
		return nil
	}
	if _, err := tx.Goals.FindByID(ctx, *goalID); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return apperr.Invalid("goal_id", "goal %q does not exist", *goalID)
		}
		return err
	}
	return nil
}
