package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"unified-planner/internal/model"
)

func TestDailySummary(t *testing.T) {
	ctx := context.Background()
	f := newAgendaFixture(t)
	reminders := NewReminderService(f.agenda, f.goals)

	empty, err := reminders.DailySummary(ctx, day("2024-01-03"))
	require.NoError(t, err)
	assert.Contains(t, empty, "ничего не запланировано")
	assert.Contains(t, empty, "нет просроченных целей")

	task := createTask(t, f.activities, "Buy <milk>", "2024-01-03")
	_, err = f.goals.Create(ctx, GoalInput{Title: "Taxes", DueDate: dayPtr("2024-01-01")})
	require.NoError(t, err)
	_, err = f.activities.MarkComplete(ctx, task.ID, day("2024-01-03"))
	require.NoError(t, err)

	text, err := reminders.DailySummary(ctx, day("2024-01-03"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(text, "📋 <b>Ежедневный отчёт</b>"))
	assert.Contains(t, text, "03.01.2024")
	assert.Contains(t, text, "✅ Buy &lt;milk&gt;")
	assert.Contains(t, text, "<code>"+ShortID(task.ID)+"</code>")
	assert.Contains(t, text, "🎯 Taxes")
	assert.Contains(t, text, "просрочено</b> на 2 дн.")
}

func TestFormatAgendaItem(t *testing.T) {
	start, end := clockPtr("09:00"), clockPtr("09:30")
	left := 3
	line := FormatAgendaItem(AgendaItem{
		Kind: ItemEvent, Title: "Demo", Category: "work", Start: start, End: end,
		Status: model.StatusPending, ActivityID: "0190a0b0-1111-7000-8000-00000000abcd", CreatedAt: time.Now(),
	})
	assert.Equal(t, "📅 09:00–09:30 Demo <i>(work)</i>\n   🆔 <code>0000abcd</code>\n", line)

	line = FormatAgendaItem(AgendaItem{Kind: ItemGoalDeadline, Title: "Launch", DaysLeft: &left, Status: model.StatusPending})
	assert.Equal(t, "🎯 Launch\n   ⏰ осталось 3 дн.\n", line)

	assert.Equal(t, "abc", ShortID("abc"))
}
