package service

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"unified-planner/internal/calendar"
	"unified-planner/internal/model"
)

// ReminderService builds human-readable summaries for daily notifications.
type ReminderService struct {
	agenda *AgendaService
	goals  *GoalService
}

func NewReminderService(agenda *AgendaService, goals *GoalService) *ReminderService {
	return &ReminderService{agenda: agenda, goals: goals}
}

// DailySummary renders today's agenda and overdue goals as Telegram HTML.
func (s *ReminderService) DailySummary(ctx context.Context, today calendar.Date) (string, error) {
	items, err := s.agenda.Day(ctx, today)
	if err != nil {
		return "", err
	}
	overdue, err := s.goals.Overdue(ctx, today)
	if err != nil {
		return "", err
	}

	var builder strings.Builder
	builder.WriteString("📋 <b>Ежедневный отчёт</b>\n")
	builder.WriteString(fmt.Sprintf("🗓 %s\n\n", today.In(time.UTC).Format("02.01.2006")))

	builder.WriteString("🔥 <b>План на сегодня</b>\n")
	if len(items) == 0 {
		builder.WriteString("— ничего не запланировано\n")
	} else {
		for _, it := range items {
			builder.WriteString(FormatAgendaItem(it))
		}
	}

	builder.WriteString("\n⚠️ <b>Просроченные цели</b>\n")
	if len(overdue) == 0 {
		builder.WriteString("— нет просроченных целей\n")
	} else {
		for _, g := range overdue {
			builder.WriteString(formatOverdueGoal(g, today))
		}
	}

	return strings.TrimSpace(builder.String()), nil
}

// FormatAgendaItem renders one item as a line of Telegram HTML.
func FormatAgendaItem(it AgendaItem) string {
	var sb strings.Builder

	icon := "🟢"
	switch it.Status {
	case model.StatusDone:
		icon = "✅"
	case model.StatusSkipped:
		icon = "⏭"
	default:
		switch it.Kind {
		case ItemEvent:
			icon = "📅"
		case ItemHabit:
			icon = "♻️"
		case ItemGoalDeadline:
			icon = "🎯"
		}
	}

	sb.WriteString(icon)
	if it.Start != nil {
		sb.WriteString(" " + it.Start.String())
		if it.End != nil {
			sb.WriteString("–" + it.End.String())
		}
	}
	sb.WriteString(" " + html.EscapeString(strings.TrimSpace(it.Title)))

	if c := strings.TrimSpace(it.Category); c != "" {
		sb.WriteString(fmt.Sprintf(" <i>(%s)</i>", html.EscapeString(c)))
	}
	if it.Kind == ItemGoalDeadline && it.DaysLeft != nil {
		if *it.DaysLeft == 0 {
			sb.WriteString("\n   ⏰ срок сегодня")
		} else {
			sb.WriteString(fmt.Sprintf("\n   ⏰ осталось %d дн.", *it.DaysLeft))
		}
	}
	if it.ActivityID != "" {
		sb.WriteString(fmt.Sprintf("\n   🆔 <code>%s</code>", ShortID(it.ActivityID)))
	}

	sb.WriteByte('\n')
	return sb.String()
}

func formatOverdueGoal(g model.Goal, today calendar.Date) string {
	late := today.DaysSince(*g.DueDate)
	return fmt.Sprintf("🎯 %s\n   ⏰ до %s — <b>просрочено</b> на %d дн.\n",
		html.EscapeString(strings.TrimSpace(g.Title)), g.DueDate.String(), late)
}

// ShortID is the random tail of an ID, short enough to type back into /done and /skip.
func ShortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[len(id)-8:]
}
