package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"unified-planner/internal/model"
	"unified-planner/internal/recurrence"
	"unified-planner/internal/repository"
)

// seedCorruption writes records the services would never produce.
func seedCorruption(t *testing.T, store *repository.Store) (habitID string) {
	t.Helper()
	ctx := context.Background()
	svc := NewActivityService(store)
	task := createTask(t, svc, "double marked", "2024-01-02")
	recorded := time.Date(2024, 1, 2, 8, 0, 0, 0, time.UTC)

	err := store.Write(ctx, "seed", func(tx *repository.Tx) error {
		db := tx.DB()
		if err := db.Exec("DROP INDEX " + repository.OccurrenceIndex).Error; err != nil {
			return err
		}
		rows := []model.Completion{
			{ActivityID: "ghost", Date: day("2024-01-02"), Status: model.StatusDone, RecordedAt: recorded},
			{ActivityID: task.ID, Date: day("2024-01-02"), Status: model.StatusDone, RecordedAt: recorded},
			{ActivityID: task.ID, Date: day("2024-01-02"), Status: model.StatusSkipped, RecordedAt: recorded.Add(time.Hour)},
		}
		if err := db.Create(&rows).Error; err != nil {
			return err
		}
		goals := []model.Goal{
			{ID: "g1", ParentID: strPtr("g2"), Title: "loop a"},
			{ID: "g2", ParentID: strPtr("g1"), Title: "loop b"},
			{ID: "g3", ParentID: strPtr("gone"), Title: "lost"},
		}
		if err := db.Create(&goals).Error; err != nil {
			return err
		}
		activities := []model.Activity{
			{ID: "a-ref", Kind: model.KindTask, Title: "points nowhere", GoalID: strPtr("gone")},
			{ID: "h-bad", Kind: model.KindHabit, Title: "broken", Rule: recurrence.Rule{
				Start: 600, End: 540, Weekdays: recurrence.Monday, ValidFrom: day("2024-01-01"),
			}},
		}
		return db.Create(&activities).Error
	})
	require.NoError(t, err)
	return "h-bad"
}

func kinds(vs []Violation) map[ViolationKind]int {
	out := make(map[ViolationKind]int)
	for _, v := range vs {
		out[v.Kind]++
	}
	return out
}

func TestIntegrity_CleanStore(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	createTask(t, NewActivityService(store), "fine", "2024-01-01")

	svc := NewIntegrityService(store, nil, nil, nil)
	vs, err := svc.Check(ctx)
	require.NoError(t, err)
	assert.Empty(t, vs)

	gen := generation(t, store)
	actions, err := svc.Repair(ctx)
	require.NoError(t, err)
	assert.Empty(t, actions)
	assert.Equal(t, gen, generation(t, store))
}

func TestIntegrity_CheckFindsEverything(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	seedCorruption(t, store)
	gen := generation(t, store)

	vs, err := NewIntegrityService(store, nil, nil, nil).Check(ctx)
	require.NoError(t, err)

	assert.Equal(t, map[ViolationKind]int{
		OrphanCompletion:    1,
		DuplicateCompletion: 1,
		MissingOccurrenceIx: 1,
		GoalCycle:           1,
		DanglingGoalParent:  1,
		DanglingGoalRef:     1,
		MalformedRule:       1,
	}, kinds(vs))
	assert.Equal(t, gen, generation(t, store), "check must not write")

	for _, v := range vs {
		if v.Kind == GoalCycle {
			assert.Equal(t, "g1", v.Subject)
		}
	}
}

func TestIntegrity_RepairIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	habitID := seedCorruption(t, store)
	svc := NewIntegrityService(store, nil, nil, nil)

	actions, err := svc.Repair(ctx)
	require.NoError(t, err)
	assert.Len(t, actions, 7)

	vs, err := svc.Check(ctx)
	require.NoError(t, err)
	require.Len(t, vs, 1, "only the flagged habit is left for the user")
	assert.Equal(t, MalformedRule, vs[0].Kind)
	assert.Contains(t, vs[0].Detail, "awaiting review")

	gen := generation(t, store)
	again, err := svc.Repair(ctx)
	require.NoError(t, err)
	assert.Empty(t, again)
	assert.Equal(t, gen, generation(t, store))

	rows := completions(t, store)
	require.Len(t, rows, 1)
	assert.Equal(t, model.StatusSkipped, rows[0].Status, "the newest mark survives")

	habit, err := NewActivityService(store).Get(ctx, habitID)
	require.NoError(t, err)
	assert.True(t, habit.Disabled)
	assert.True(t, habit.NeedsReview)

	g1, err := NewGoalService(store).Get(ctx, "g1")
	require.NoError(t, err)
	assert.Nil(t, g1.ParentID)
	g2, err := NewGoalService(store).Get(ctx, "g2")
	require.NoError(t, err)
	require.NotNil(t, g2.ParentID)
	assert.Equal(t, "g1", *g2.ParentID)
}

func TestIntegrity_RunScheduledNotifies(t *testing.T) {
	store := newStore(t)
	seedCorruption(t, store)
	notifier := NewNotifier(1)

	NewIntegrityService(store, nil, nil, notifier).RunScheduled(context.Background())

	select {
	case n := <-notifier.C():
		assert.Equal(t, "integrity", n.Source)
		assert.Equal(t, LevelError, n.Level)
		assert.Contains(t, n.Message, "7 integrity violations")
	default:
		t.Fatal("expected a notification")
	}
}

func TestIntegrity_RepairCancelledBetweenStepsChangesNothing(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	seedCorruption(t, store)
	svc := NewIntegrityService(store, nil, nil, nil)
	gen := generation(t, store)

	cctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var steps []ViolationKind
	svc.afterStep = func(k ViolationKind) {
		steps = append(steps, k)
		cancel()
	}

	actions, err := svc.Repair(cctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, actions)
	assert.Equal(t, []ViolationKind{OrphanCompletion}, steps, "repair stops at the first step boundary")

	assert.Equal(t, gen, generation(t, store))
	assert.Len(t, completions(t, store), 3, "the orphan deletion was rolled back")
	vs, err := svc.Check(ctx)
	require.NoError(t, err)
	assert.Len(t, vs, 7)
}

func TestIntegrity_RunScheduledSkipsItemsAwaitingReview(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	seedCorruption(t, store)
	notifier := NewNotifier(4)
	svc := NewIntegrityService(store, nil, nil, notifier)

	_, err := svc.Repair(ctx)
	require.NoError(t, err)
	vs, err := svc.Check(ctx)
	require.NoError(t, err)
	require.Len(t, vs, 1)
	assert.True(t, vs[0].Acknowledged)

	svc.RunScheduled(ctx)
	select {
	case n := <-notifier.C():
		t.Fatalf("unexpected notification %q", n.Message)
	default:
	}
}

func TestInspectGoalTree(t *testing.T) {
	goals := []model.Goal{
		{ID: "c", ParentID: strPtr("a")},
		{ID: "a", ParentID: strPtr("b")},
		{ID: "b", ParentID: strPtr("c")},
		{ID: "d", ParentID: strPtr("a")},
		{ID: "e", ParentID: strPtr("e")},
		{ID: "f"},
		{ID: "g", ParentID: strPtr("nowhere")},
	}
	cycles, dangling := inspectGoalTree(goals)
	assert.Equal(t, [][]string{{"a", "b", "c"}, {"e"}}, cycles)
	require.Len(t, dangling, 1)
	assert.Equal(t, "g", dangling[0].ID)
}

func TestNotifier_DropsWhenFull(t *testing.T) {
	n := NewNotifier(1)
	assert.True(t, n.Publish(Notification{Message: "first"}))
	assert.False(t, n.Publish(Notification{Message: "second"}))

	got := <-n.C()
	assert.Equal(t, "first", got.Message)
	assert.False(t, got.Time.IsZero())

	var nilNotifier *Notifier
	assert.False(t, nilNotifier.Publish(Notification{}))
}
