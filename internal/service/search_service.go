package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"

	"unified-planner/internal/apperr"
	"unified-planner/internal/model"
	"unified-planner/internal/repository"
)

const (
	DefaultSearchLimit = 50
	minQueryLen        = 2
)

// SearchHit is one match of a search. Kind is an activity kind, "goal" or "category".
type SearchHit struct {
	Kind   string `json:"kind"`
	ID     string `json:"id,omitempty"`
	Title  string `json:"title"`
	Detail string `json:"detail,omitempty"`
	// Field names where the query matched: title, description, tags or category.
	Field string `json:"field"`
	rank  int
}

// SearchService finds activities, goals and categories by case-insensitive substring.
type SearchService struct {
	store *repository.Store
}

func NewSearchService(store *repository.Store) *SearchService {
	return &SearchService{store: store}
}

// Search matches query against titles first and descriptions, tags and category names
// after. Exact title matches come first, then title prefixes, then other title matches,
// then matches on other fields. limit <= 0 means DefaultSearchLimit.
func (s *SearchService) Search(ctx context.Context, query string, limit int) ([]SearchHit, error) {
	query = normalizeText(query)
	if utf8.RuneCountInString(query) < minQueryLen {
		return nil, apperr.Invalid("query", "type at least %d characters", minQueryLen)
	}
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	m := newMatcher(query)

	var hits []SearchHit
	err := s.store.Read(ctx, func(tx *repository.Tx) error {
		activities, err := tx.Activities.ListAll(ctx)
		if err != nil {
			return err
		}
		for _, a := range activities {
			rank, field, ok := m.best(
				candidate{"title", a.Title},
				candidate{"description", a.Description},
				candidate{"tags", strings.Join(a.Tags, " ")},
				candidate{"category", a.Category},
			)
			if ok {
				hits = append(hits, SearchHit{Kind: string(a.Kind), ID: a.ID, Title: a.Title, Detail: activityDetail(a), Field: field, rank: rank})
			}
		}

		goals, err := tx.Goals.ListAll(ctx)
		if err != nil {
			return err
		}
		for _, g := range goals {
			rank, field, ok := m.best(candidate{"title", g.Title}, candidate{"description", g.Description})
			if ok {
				hits = append(hits, SearchHit{Kind: "goal", ID: g.ID, Title: g.Title, Detail: goalDetail(g), Field: field, rank: rank})
			}
		}

		categories, err := tx.Categories.ListUsage(ctx)
		if err != nil {
			return err
		}
		for _, c := range categories {
			if rank, field, ok := m.best(candidate{"title", c.Name}); ok {
				hits = append(hits, SearchHit{Kind: "category", Title: c.Name, Detail: fmt.Sprintf("%d activities", c.Count), Field: field, rank: rank})
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].rank != hits[j].rank {
			return hits[i].rank < hits[j].rank
		}
		return hits[i].Title < hits[j].Title
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

type candidate struct {
	field string
	text  string
}

// matcher compares under Unicode case folding, so "ÄRZTIN" finds "Ärztin".
type matcher struct {
	fold  cases.Caser
	query string
}

func newMatcher(query string) *matcher {
	m := &matcher{fold: cases.Fold()}
	m.query = m.fold.String(query)
	return m
}

const (
	rankExact = iota
	rankPrefix
	rankTitle
	rankOther
)

// best returns the rank of the strongest match among cs. The first candidate is the title.
func (m *matcher) best(cs ...candidate) (int, string, bool) {
	for i, c := range cs {
		if c.text == "" {
			continue
		}
		folded := m.fold.String(c.text)
		if !strings.Contains(folded, m.query) {
			continue
		}
		if i > 0 {
			return rankOther, c.field, true
		}
		switch {
		case folded == m.query:
			return rankExact, c.field, true
		case strings.HasPrefix(folded, m.query):
			return rankPrefix, c.field, true
		default:
			return rankTitle, c.field, true
		}
	}
	return 0, "", false
}

func activityDetail(a model.Activity) string {
	var parts []string
	switch {
	case a.Kind == model.KindHabit:
		parts = append(parts, fmt.Sprintf("%s %s-%s", a.Rule.Weekdays.Letters(), a.Rule.Start, a.Rule.End))
	case a.Date != nil:
		when := a.Date.String()
		if a.StartTime != nil {
			when += " " + a.StartTime.String()
			if a.EndTime != nil {
				when += "-" + a.EndTime.String()
			}
		}
		parts = append(parts, when)
	}
	if a.Category != "" {
		parts = append(parts, a.Category)
	}
	return strings.Join(parts, " · ")
}

func goalDetail(g model.Goal) string {
	var parts []string
	if g.DueDate != nil {
		parts = append(parts, "due "+g.DueDate.String())
	}
	if g.ParentID != nil {
		parts = append(parts, "subgoal")
	}
	if g.Completed {
		parts = append(parts, "completed")
	}
	return strings.Join(parts, " · ")
}
