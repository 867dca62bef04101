package service

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"time"

	"unified-planner/internal/apperr"
	"unified-planner/internal/cache"
	"unified-planner/internal/calendar"
	"unified-planner/internal/model"
	"unified-planner/internal/recurrence"
	"unified-planner/internal/repository"
	"unified-planner/internal/telemetry"
)

type ItemKind string

const (
	ItemTask         ItemKind = "task"
	ItemEvent        ItemKind = "event"
	ItemHabit        ItemKind = "habit_occurrence"
	ItemGoalDeadline ItemKind = "goal_deadline"
)

// AgendaItem is one entry of the unified view. ActivityID is set for tasks, events and
// habit occurrences, GoalID for goal deadlines.
type AgendaItem struct {
	Kind       ItemKind               `json:"kind"`
	Date       calendar.Date          `json:"date"`
	ActivityID string                 `json:"activity_id,omitempty"`
	GoalID     string                 `json:"goal_id,omitempty"`
	Title      string                 `json:"title"`
	Category   string                 `json:"category,omitempty"`
	Priority   model.Priority         `json:"priority"`
	Color      string                 `json:"color,omitempty"`
	Start      *calendar.TimeOfDay    `json:"start,omitempty"`
	End        *calendar.TimeOfDay    `json:"end,omitempty"`
	Status     model.CompletionStatus `json:"status"`
	DaysLeft   *int                   `json:"days_left,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
}

func (i AgendaItem) Timed() bool { return i.Start != nil }

// DayAgenda groups the items of one day.
type DayAgenda struct {
	Date  calendar.Date
	Items []AgendaItem
}

// AgendaService resolves the unified agenda and memoises it per store generation.
type AgendaService struct {
	store *repository.Store
	cache *cache.QueryCache[[]AgendaItem]
	log   *slog.Logger
	now   func() time.Time
	loc   *time.Location
}

func NewAgendaService(store *repository.Store, c *cache.QueryCache[[]AgendaItem], loc *time.Location, log *slog.Logger) *AgendaService {
	if c == nil {
		c = cache.New[[]AgendaItem](0, 0, nil)
	}
	if loc == nil {
		loc = time.Local
	}
	if log == nil {
		log = telemetry.Discard()
	}
	return &AgendaService{store: store, cache: c, log: log, now: time.Now, loc: loc}
}

// Today is the current day in the service's time zone.
func (s *AgendaService) Today() calendar.Date {
	return calendar.DateOf(s.now().In(s.loc))
}

func (s *AgendaService) Day(ctx context.Context, d calendar.Date) ([]AgendaItem, error) {
	return s.Agenda(ctx, d, d)
}

// Week returns Monday through Sunday of the week containing d.
func (s *AgendaService) Week(ctx context.Context, d calendar.Date) ([]AgendaItem, error) {
	start := d.StartOfWeek()
	return s.Agenda(ctx, start, start.AddDays(6))
}

func (s *AgendaService) Month(ctx context.Context, d calendar.Date) ([]AgendaItem, error) {
	return s.Agenda(ctx, d.StartOfMonth(), d.EndOfMonth())
}

// Agenda returns every item in [from, to], ordered by day and, within a day, untimed
// tasks first, then untimed goal deadlines, then timed items by start time.
// The returned slice is a copy and may be modified.
func (s *AgendaService) Agenda(ctx context.Context, from, to calendar.Date) ([]AgendaItem, error) {
	if err := validateRange(from, to); err != nil {
		return nil, err
	}
	today := s.Today()
	key := fmt.Sprintf("agenda:%s:%s:today=%s", from, to, today)

	gen, err := s.store.Generation(ctx)
	if err != nil {
		return nil, err
	}
	items, err := s.cache.GetOrCompute(ctx, key, gen, func() ([]AgendaItem, error) {
		return s.load(ctx, from, to, today)
	})
	if err != nil {
		return nil, err
	}
	return cloneItems(items), nil
}

// cloneItems copies items deeply enough that callers cannot reach cached values
// through the pointer fields.
func cloneItems(items []AgendaItem) []AgendaItem {
	out := slices.Clone(items)
	for i := range out {
		out[i].Start = clonePtr(out[i].Start)
		out[i].End = clonePtr(out[i].End)
		out[i].DaysLeft = clonePtr(out[i].DaysLeft)
	}
	return out
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func (s *AgendaService) load(ctx context.Context, from, to, today calendar.Date) ([]AgendaItem, error) {
	var src agendaSource
	err := s.store.Read(ctx, func(tx *repository.Tx) error {
		var err error
		if src.dated, err = tx.Activities.ListDatedBetween(ctx, from, to); err != nil {
			return err
		}
		if src.habits, err = tx.Activities.ListHabitsOverlapping(ctx, from, to); err != nil {
			return err
		}
		if src.goals, err = tx.Goals.ListDueBetween(ctx, from, to); err != nil {
			return err
		}
		src.completions, err = tx.Completions.ListBetween(ctx, from, to)
		return err
	})
	if err != nil {
		return nil, err
	}

	items, skipped := mergeAgenda(from, to, today, src)
	for _, id := range skipped {
		s.log.Warn("habit with malformed rule left out of agenda", "activity_id", id)
	}
	return items, nil
}

func validateRange(from, to calendar.Date) error {
	if !from.IsValid() || !to.IsValid() {
		return apperr.Invalid("range", "invalid date")
	}
	if from.After(to) {
		return apperr.Invalid("range", "from %s is after to %s", from, to)
	}
	if n := to.DaysSince(from) + 1; n > recurrence.MaxRangeDays {
		return apperr.Invalid("range", "%d days requested, at most %d allowed", n, recurrence.MaxRangeDays)
	}
	return nil
}

type agendaSource struct {
	dated       []model.Activity
	habits      []model.Activity
	goals       []model.Goal
	completions []model.Completion
}

type occurrenceKey struct {
	activityID string
	date       calendar.Date
}

// mergeAgenda is the pure part of agenda resolution. It also returns the IDs of
// habits whose stored rule is malformed; those produce no items.
func mergeAgenda(from, to, today calendar.Date, src agendaSource) ([]AgendaItem, []string) {
	status := make(map[occurrenceKey]model.CompletionStatus, len(src.completions))
	for _, c := range src.completions {
		status[occurrenceKey{c.ActivityID, c.Date}] = c.Status
	}
	lookup := func(id string, d calendar.Date) model.CompletionStatus {
		if st, ok := status[occurrenceKey{id, d}]; ok {
			return st
		}
		return model.StatusPending
	}

	seen := make(map[occurrenceKey]struct{})
	var items []AgendaItem
	add := func(it AgendaItem) {
		if it.ActivityID != "" {
			k := occurrenceKey{it.ActivityID, it.Date}
			if _, dup := seen[k]; dup {
				return
			}
			seen[k] = struct{}{}
		}
		items = append(items, it)
	}

	for _, a := range src.dated {
		if a.Date == nil || a.Date.Before(from) || a.Date.After(to) {
			continue
		}
		kind := ItemTask
		if a.Kind == model.KindEvent {
			kind = ItemEvent
		}
		add(AgendaItem{
			Kind:       kind,
			Date:       *a.Date,
			ActivityID: a.ID,
			Title:      a.Title,
			Category:   a.Category,
			Priority:   a.Priority,
			Color:      a.Color,
			Start:      a.StartTime,
			End:        a.EndTime,
			Status:     lookup(a.ID, *a.Date),
			CreatedAt:  a.CreatedAt,
		})
	}

	var skipped []string
	for _, h := range src.habits {
		rule, ok := h.Recurrence()
		if !ok || h.Disabled {
			continue
		}
		if rule.Validate() != nil {
			skipped = append(skipped, h.ID)
			continue
		}
		for _, occ := range recurrence.Expand(rule, from, to) {
			start, end := occ.Start, occ.End
			add(AgendaItem{
				Kind:       ItemHabit,
				Date:       occ.Date,
				ActivityID: h.ID,
				Title:      h.Title,
				Category:   h.Category,
				Priority:   h.Priority,
				Color:      h.Color,
				Start:      &start,
				End:        &end,
				Status:     lookup(h.ID, occ.Date),
				CreatedAt:  h.CreatedAt,
			})
		}
	}

	for _, g := range src.goals {
		if g.DueDate == nil || g.DueDate.Before(from) || g.DueDate.After(to) {
			continue
		}
		st := model.StatusPending
		if g.Completed {
			st = model.StatusDone
		}
		add(AgendaItem{
			Kind:      ItemGoalDeadline,
			Date:      *g.DueDate,
			GoalID:    g.ID,
			Title:     g.Title,
			Priority:  g.Priority,
			Status:    st,
			DaysLeft:  g.DaysLeft(today),
			CreatedAt: g.CreatedAt,
		})
	}

	sort.SliceStable(items, func(i, j int) bool {
		return lessItem(items[i], items[j])
	})
	return items, skipped
}

// dayRank orders the groups inside one day.
func dayRank(it AgendaItem) int {
	switch {
	case it.Timed():
		return 2
	case it.Kind == ItemGoalDeadline:
		return 1
	default:
		return 0
	}
}

func lessItem(a, b AgendaItem) bool {
	if a.Date != b.Date {
		return a.Date.Before(b.Date)
	}
	if ra, rb := dayRank(a), dayRank(b); ra != rb {
		return ra < rb
	}
	if a.Timed() && *a.Start != *b.Start {
		return *a.Start < *b.Start
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ActivityID+a.GoalID < b.ActivityID+b.GoalID
}

// GroupByDay splits an ordered item list into one entry per day of [from, to],
// empty days included.
func GroupByDay(from, to calendar.Date, items []AgendaItem) []DayAgenda {
	days := calendar.Range(from, to)
	out := make([]DayAgenda, len(days))
	idx := make(map[calendar.Date]int, len(days))
	for i, d := range days {
		out[i].Date = d
		idx[d] = i
	}
	for _, it := range items {
		if i, ok := idx[it.Date]; ok {
			out[i].Items = append(out[i].Items, it)
		}
	}
	return out
}
