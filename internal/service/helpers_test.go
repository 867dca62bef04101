package service

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"unified-planner/internal/calendar"
	"unified-planner/internal/model"
	"unified-planner/internal/recurrence"
	"unified-planner/internal/repository"
)

func newStore(t *testing.T) *repository.Store {
	t.Helper()
	s, err := repository.Open(filepath.Join(t.TempDir(), "planner.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func generation(t *testing.T, s *repository.Store) uint64 {
	t.Helper()
	gen, err := s.Generation(context.Background())
	require.NoError(t, err)
	return gen
}

func day(s string) calendar.Date { return calendar.MustParseDate(s) }

func dayPtr(s string) *calendar.Date {
	d := day(s)
	return &d
}

func clockPtr(s string) *calendar.TimeOfDay {
	c := calendar.MustParseTimeOfDay(s)
	return &c
}

func fixedClock(s string) func() time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return func() time.Time { return t }
}

func monWedFri(t *testing.T, from string, until *calendar.Date) *recurrence.Rule {
	t.Helper()
	r, err := recurrence.NewRule(recurrence.Monday|recurrence.Wednesday|recurrence.Friday,
		calendar.MustParseTimeOfDay("07:00"), calendar.MustParseTimeOfDay("07:30"), day(from), until)
	require.NoError(t, err)
	return &r
}

func createTask(t *testing.T, svc *ActivityService, title, date string) *model.Activity {
	t.Helper()
	in := ActivityInput{Kind: model.KindTask, Title: title, Priority: model.PriorityMedium}
	if date != "" {
		in.Date = dayPtr(date)
	}
	a, err := svc.Create(context.Background(), in)
	require.NoError(t, err)
	return a
}
