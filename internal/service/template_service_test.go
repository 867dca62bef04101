package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"unified-planner/internal/apperr"
	"unified-planner/internal/calendar"
	"unified-planner/internal/model"
	"unified-planner/internal/recurrence"
	"unified-planner/internal/repository"
)

func createHabit(t *testing.T, svc *ActivityService, title string, rule *recurrence.Rule) *model.Activity {
	t.Helper()
	a, err := svc.Create(context.Background(), ActivityInput{
		Kind: model.KindHabit, Title: title, Category: "health", Priority: model.PriorityMedium, Rule: rule,
	})
	require.NoError(t, err)
	return a
}

func TestTemplateService_SaveCapturesEnabledHabits(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	activities := NewActivityService(store)
	templates := NewTemplateService(store)

	createHabit(t, activities, "Run", monWedFri(t, "2024-01-01", nil))
	read := createHabit(t, activities, "Read", monWedFri(t, "2024-01-01", nil))
	require.NoError(t, activities.SetEnabled(ctx, read.ID, false))
	createTask(t, activities, "Not a habit", "2024-01-02")

	tpl, err := templates.Save(ctx, " Morning ", "weekday routine", false)
	require.NoError(t, err)
	assert.Equal(t, "Morning", tpl.Name)
	require.Len(t, tpl.Habits, 1)
	h := tpl.Habits[0]
	assert.Equal(t, "Run", h.Title)
	assert.Equal(t, "health", h.Category)
	assert.Equal(t, recurrence.Monday|recurrence.Wednesday|recurrence.Friday, h.Weekdays)
	assert.Equal(t, calendar.MustParseTimeOfDay("07:00"), h.Start)

	_, err = templates.Save(ctx, "Morning", "", false)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	require.NoError(t, activities.SetEnabled(ctx, read.ID, true))
	tpl, err = templates.Save(ctx, "Morning", "", true)
	require.NoError(t, err)
	assert.Len(t, tpl.Habits, 2)

	stored, err := templates.Get(ctx, "Morning")
	require.NoError(t, err)
	assert.Len(t, stored.Habits, 2)
	assert.Empty(t, stored.Description)
}

func TestTemplateService_ApplyReplaceRetiresCurrentHabits(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	activities := NewActivityService(store)
	templates := NewTemplateService(store)

	run := createHabit(t, activities, "Run", monWedFri(t, "2024-01-01", nil))
	swim := createHabit(t, activities, "Swim", monWedFri(t, "2024-03-01", nil))
	_, err := activities.MarkComplete(ctx, run.ID, day("2024-01-03"))
	require.NoError(t, err)
	_, err = activities.MarkComplete(ctx, swim.ID, day("2024-03-01"))
	require.NoError(t, err)
	_, err = templates.Save(ctx, "base", "", false)
	require.NoError(t, err)

	before := generation(t, store)
	res, err := templates.Apply(ctx, "base", day("2024-02-05"), true)
	require.NoError(t, err)
	assert.Equal(t, before+1, generation(t, store), "apply is one write")
	assert.Equal(t, 1, res.Ended)
	assert.Equal(t, 1, res.Removed)
	require.Len(t, res.Created, 2)
	for _, a := range res.Created {
		assert.Equal(t, day("2024-02-05"), a.Rule.ValidFrom)
		assert.Nil(t, a.Rule.ValidUntil)
		assert.NotEqual(t, run.ID, a.ID)
	}

	ended, err := activities.Get(ctx, run.ID)
	require.NoError(t, err)
	require.NotNil(t, ended.Rule.ValidUntil)
	assert.Equal(t, day("2024-02-04"), *ended.Rule.ValidUntil)

	_, err = activities.Get(ctx, swim.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	var completions []model.Completion
	require.NoError(t, store.Read(ctx, func(tx *repository.Tx) error {
		var err error
		completions, err = tx.Completions.ListAll(ctx)
		return err
	}))
	require.Len(t, completions, 1, "history of the ended habit stays")
	assert.Equal(t, run.ID, completions[0].ActivityID)
}

func TestTemplateService_ApplyWithoutReplaceAdds(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	activities := NewActivityService(store)
	templates := NewTemplateService(store)

	createHabit(t, activities, "Run", monWedFri(t, "2024-01-01", nil))
	_, err := templates.Save(ctx, "base", "", false)
	require.NoError(t, err)

	res, err := templates.Apply(ctx, "base", day("2024-02-05"), false)
	require.NoError(t, err)
	assert.Len(t, res.Created, 1)
	assert.Zero(t, res.Ended)
	assert.Zero(t, res.Removed)

	all, err := activities.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	before := generation(t, store)
	_, err = templates.Apply(ctx, "missing", day("2024-02-05"), true)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.Equal(t, before, generation(t, store))
}

func TestTemplateService_RenameAndDelete(t *testing.T) {
	ctx := context.Background()
	templates := NewTemplateService(newStore(t))

	for _, name := range []string{"evening", "morning"} {
		_, err := templates.Save(ctx, name, "", false)
		require.NoError(t, err)
	}

	assert.ErrorIs(t, templates.Rename(ctx, "morning", "evening"), apperr.ErrValidation)
	assert.ErrorIs(t, templates.Rename(ctx, "noon", "night"), apperr.ErrNotFound)
	require.NoError(t, templates.Rename(ctx, "morning", "dawn"))

	list, err := templates.List(ctx)
	require.NoError(t, err)
	var names []string
	for _, tpl := range list {
		names = append(names, tpl.Name)
	}
	assert.Equal(t, []string{"dawn", "evening"}, names)

	require.NoError(t, templates.Delete(ctx, "dawn"))
	assert.ErrorIs(t, templates.Delete(ctx, "dawn"), apperr.ErrNotFound)
	_, err = templates.Get(ctx, "dawn")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}
