package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"unified-planner/internal/apperr"
	"unified-planner/internal/model"
)

func TestGoalService_RejectsCyclesAndMissingParents(t *testing.T) {
	ctx := context.Background()
	svc := NewGoalService(newStore(t))

	root, err := svc.Create(ctx, GoalInput{Title: "be healthy"})
	require.NoError(t, err)
	mid, err := svc.Create(ctx, GoalInput{Title: "run a 10k", ParentID: &root.ID})
	require.NoError(t, err)
	leaf, err := svc.Create(ctx, GoalInput{Title: "run 3x a week", ParentID: &mid.ID})
	require.NoError(t, err)

	assert.ErrorIs(t, svc.SetParent(ctx, root.ID, &leaf.ID), apperr.ErrValidation)
	assert.ErrorIs(t, svc.SetParent(ctx, root.ID, &root.ID), apperr.ErrValidation)
	assert.ErrorIs(t, svc.SetParent(ctx, root.ID, strPtr("nope")), apperr.ErrValidation)

	_, err = svc.Create(ctx, GoalInput{Title: "orphan", ParentID: strPtr("nope")})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	require.NoError(t, svc.SetParent(ctx, leaf.ID, nil))
	got, err := svc.Get(ctx, leaf.ID)
	require.NoError(t, err)
	assert.Nil(t, got.ParentID)
}

func TestGoalService_DeleteDetaches(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	goals := NewGoalService(store)
	activities := NewActivityService(store)

	parent, err := goals.Create(ctx, GoalInput{Title: "learn go"})
	require.NoError(t, err)
	child, err := goals.Create(ctx, GoalInput{Title: "read spec", ParentID: &parent.ID})
	require.NoError(t, err)
	a, err := activities.Create(ctx, ActivityInput{Kind: model.KindTask, Title: "chapter 1", GoalID: &parent.ID})
	require.NoError(t, err)

	require.NoError(t, goals.Delete(ctx, parent.ID))

	gotChild, err := goals.Get(ctx, child.ID)
	require.NoError(t, err)
	assert.Nil(t, gotChild.ParentID)

	gotA, err := activities.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Nil(t, gotA.GoalID)

	assert.ErrorIs(t, goals.Delete(ctx, parent.ID), apperr.ErrNotFound)
}

func TestGoalService_OverdueAndCompleted(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	svc := NewGoalService(store)

	late, err := svc.Create(ctx, GoalInput{Title: "taxes", DueDate: dayPtr("2024-01-10")})
	require.NoError(t, err)
	_, err = svc.Create(ctx, GoalInput{Title: "later", DueDate: dayPtr("2024-02-10")})
	require.NoError(t, err)

	overdue, err := svc.Overdue(ctx, day("2024-01-15"))
	require.NoError(t, err)
	require.Len(t, overdue, 1)
	assert.Equal(t, late.ID, overdue[0].ID)

	require.NoError(t, svc.SetCompleted(ctx, late.ID, true))
	gen := generation(t, store)
	require.NoError(t, svc.SetCompleted(ctx, late.ID, true))
	assert.Equal(t, gen, generation(t, store))

	overdue, err = svc.Overdue(ctx, day("2024-01-15"))
	require.NoError(t, err)
	assert.Empty(t, overdue)
}
