package service

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"

	"unified-planner/internal/model"
	"unified-planner/internal/repository"
	"unified-planner/internal/telemetry"
)

type ViolationKind string

const (
	OrphanCompletion    ViolationKind = "orphan_completion"
	DuplicateCompletion ViolationKind = "duplicate_completion"
	MissingOccurrenceIx ViolationKind = "missing_occurrence_index"
	GoalCycle           ViolationKind = "goal_cycle"
	DanglingGoalParent  ViolationKind = "dangling_goal_parent"
	DanglingGoalRef     ViolationKind = "dangling_goal_reference"
	MalformedRule       ViolationKind = "malformed_rule"
	StorageCorruption   ViolationKind = "storage_corruption"
)

// Violation is one integrity problem. Subject is the ID of the offending record.
// Acknowledged marks problems repair has already handled as far as it can, such as a
// habit flagged for the user to fix.
type Violation struct {
	Kind         ViolationKind `json:"kind"`
	Subject      string        `json:"subject"`
	Detail       string        `json:"detail"`
	Acknowledged bool          `json:"acknowledged,omitempty"`
}

// RepairAction is one change made by Repair.
type RepairAction struct {
	Kind    ViolationKind `json:"kind"`
	Subject string        `json:"subject"`
	Action  string        `json:"action"`
}

// IntegrityService detects and repairs inconsistent stored data.
type IntegrityService struct {
	store    *repository.Store
	log      *slog.Logger
	metrics  *telemetry.Metrics
	notifier *Notifier

	// afterStep runs after each repair step, before the cancellation check.
	afterStep func(ViolationKind)
}

func NewIntegrityService(store *repository.Store, log *slog.Logger, metrics *telemetry.Metrics, notifier *Notifier) *IntegrityService {
	if log == nil {
		log = telemetry.Discard()
	}
	return &IntegrityService{store: store, log: log, metrics: metrics, notifier: notifier}
}

// Check reports violations without changing anything. All reads share one transaction.
func (s *IntegrityService) Check(ctx context.Context) ([]Violation, error) {
	var violations []Violation
	err := s.store.Read(ctx, func(tx *repository.Tx) error {
		f, err := scanIntegrity(ctx, tx)
		if err != nil {
			return err
		}
		violations = f.violations()

		var quick []string
		if err := tx.DB().Raw("PRAGMA quick_check").Scan(&quick).Error; err != nil {
			return fmt.Errorf("quick check: %w", err)
		}
		if len(quick) != 1 || quick[0] != "ok" {
			violations = append(violations, Violation{
				Kind:    StorageCorruption,
				Subject: "database",
				Detail:  strings.Join(quick, "; "),
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return violations, nil
}

// Repair fixes every repairable violation in one write transaction and returns what it
// did. A second run finds nothing left to do and returns no actions. Corruption found
// by quick_check is reported by Check only; it cannot be repaired in place.
func (s *IntegrityService) Repair(ctx context.Context) ([]RepairAction, error) {
	var actions []RepairAction
	err := s.store.Write(ctx, "integrity repair", func(tx *repository.Tx) error {
		actions = nil
		f, err := scanIntegrity(ctx, tx)
		if err != nil {
			return err
		}
		actions, err = f.apply(ctx, tx, s.afterStep)
		if err != nil {
			return err
		}
		if len(actions) == 0 {
			return repository.ErrNoChanges
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, a := range actions {
		s.log.Info("integrity repair", "kind", a.Kind, "subject", a.Subject, "action", a.Action)
		if s.metrics != nil {
			s.metrics.Add(ctx, s.metrics.RepairActions, "kind", string(a.Kind))
		}
	}
	return actions, nil
}

// RunScheduled is the periodic scan: it checks and publishes a notification when
// anything is wrong. It never repairs on its own.
func (s *IntegrityService) RunScheduled(ctx context.Context) {
	violations, err := s.Check(ctx)
	if err != nil {
		s.log.Error("integrity scan failed", "error", err)
		s.notifier.Publish(Notification{Source: "integrity", Level: LevelError, Message: "integrity scan failed", Err: err})
		return
	}
	pending := 0
	for _, v := range violations {
		if !v.Acknowledged {
			pending++
		}
	}
	if pending == 0 {
		if len(violations) > 0 {
			s.log.Info("integrity scan clean apart from items awaiting review", "awaiting_review", len(violations))
		} else {
			s.log.Debug("integrity scan clean")
		}
		return
	}
	s.log.Warn("integrity violations found", "count", pending, "awaiting_review", len(violations)-pending)
	s.notifier.Publish(Notification{
		Source:  "integrity",
		Level:   LevelError,
		Message: fmt.Sprintf("%d integrity violations found; run repair", pending),
	})
}

// findings is everything one scan saw, in deterministic order.
type findings struct {
	orphans         []model.Completion
	duplicates      [][]model.Completion // each group newest first
	missingIndex    bool
	cycles          [][]string // each sorted, smallest ID first
	danglingParents []model.Goal
	danglingRefs    []model.Activity
	malformed       []malformedHabit
}

type malformedHabit struct {
	activity model.Activity
	reason   string
}

func scanIntegrity(ctx context.Context, tx *repository.Tx) (*findings, error) {
	f := &findings{}
	var err error

	if f.orphans, err = tx.Completions.ListOrphans(ctx); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dupes, err := tx.Completions.ListDuplicates(ctx)
	if err != nil {
		return nil, err
	}
	orphaned := make(map[string]bool, len(f.orphans))
	for _, c := range f.orphans {
		orphaned[c.ActivityID] = true
	}
	for _, g := range groupOccurrences(dupes) {
		if !orphaned[g[0].ActivityID] {
			f.duplicates = append(f.duplicates, g)
		}
	}
	f.missingIndex = !tx.Completions.HasOccurrenceIndex()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	goals, err := tx.Goals.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	f.cycles, f.danglingParents = inspectGoalTree(goals)

	if f.danglingRefs, err = tx.Activities.ListWithMissingGoal(ctx); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	habits, err := tx.Activities.ListHabits(ctx)
	if err != nil {
		return nil, err
	}
	for _, h := range habits {
		if verr := h.Rule.Validate(); verr != nil {
			f.malformed = append(f.malformed, malformedHabit{activity: h, reason: verr.Error()})
		}
	}
	return f, nil
}

func groupOccurrences(rows []model.Completion) [][]model.Completion {
	var groups [][]model.Completion
	for i, c := range rows {
		if i == 0 || c.ActivityID != rows[i-1].ActivityID || c.Date != rows[i-1].Date {
			groups = append(groups, nil)
		}
		groups[len(groups)-1] = append(groups[len(groups)-1], c)
	}
	return groups
}

// inspectGoalTree finds parent cycles and parents that do not exist. Each walk up the
// tree is bounded by the number of goals, so corrupted data cannot loop forever.
func inspectGoalTree(goals []model.Goal) (cycles [][]string, dangling []model.Goal) {
	parent := make(map[string]*string, len(goals))
	for _, g := range goals {
		parent[g.ID] = g.ParentID
	}

	const (
		unvisited = iota
		inProgress
		done
	)
	state := make(map[string]int, len(goals))

	for _, g := range goals {
		if p := g.ParentID; p != nil {
			if _, ok := parent[*p]; !ok {
				dangling = append(dangling, g)
			}
		}
		if state[g.ID] != unvisited {
			continue
		}

		var path []string
		pos := make(map[string]int)
		cur := g.ID
		for steps := 0; steps <= len(goals); steps++ {
			if state[cur] == done {
				break
			}
			if i, ok := pos[cur]; ok {
				cycle := slices.Clone(path[i:])
				sort.Strings(cycle)
				cycles = append(cycles, cycle)
				break
			}
			pos[cur] = len(path)
			path = append(path, cur)
			state[cur] = inProgress

			p := parent[cur]
			if p == nil {
				break
			}
			if _, ok := parent[*p]; !ok {
				break
			}
			cur = *p
		}
		for _, id := range path {
			state[id] = done
		}
	}

	sort.Slice(cycles, func(i, j int) bool { return cycles[i][0] < cycles[j][0] })
	return cycles, dangling
}

func (f *findings) violations() []Violation {
	var out []Violation
	for _, c := range f.orphans {
		out = append(out, Violation{
			Kind:    OrphanCompletion,
			Subject: fmt.Sprint(c.ID),
			Detail:  fmt.Sprintf("completion for missing activity %s on %s", c.ActivityID, c.Date),
		})
	}
	for _, g := range f.duplicates {
		out = append(out, Violation{
			Kind:    DuplicateCompletion,
			Subject: g[0].ActivityID,
			Detail:  fmt.Sprintf("%d completions on %s", len(g), g[0].Date),
		})
	}
	if f.missingIndex {
		out = append(out, Violation{
			Kind:    MissingOccurrenceIx,
			Subject: repository.OccurrenceIndex,
			Detail:  "unique index on (activity_id, date) is missing",
		})
	}
	for _, c := range f.cycles {
		out = append(out, Violation{
			Kind:    GoalCycle,
			Subject: c[0],
			Detail:  "goal parents form a cycle: " + strings.Join(c, " -> "),
		})
	}
	for _, g := range f.danglingParents {
		out = append(out, Violation{
			Kind:    DanglingGoalParent,
			Subject: g.ID,
			Detail:  fmt.Sprintf("parent %s does not exist", *g.ParentID),
		})
	}
	for _, a := range f.danglingRefs {
		out = append(out, Violation{
			Kind:    DanglingGoalRef,
			Subject: a.ID,
			Detail:  fmt.Sprintf("goal %s does not exist", *a.GoalID),
		})
	}
	for _, m := range f.malformed {
		detail := m.reason
		acked := m.activity.Disabled && m.activity.NeedsReview
		if acked {
			detail += " (awaiting review)"
		}
		out = append(out, Violation{Kind: MalformedRule, Subject: m.activity.ID, Detail: detail, Acknowledged: acked})
	}
	return out
}

// apply makes every repair inside tx. Cancellation is checked between steps; the caller
// rolls tx back on error, so a cancelled repair changes nothing.
func (f *findings) apply(ctx context.Context, tx *repository.Tx, afterStep func(ViolationKind)) ([]RepairAction, error) {
	var actions []RepairAction
	checkpoint := func(step ViolationKind) error {
		if afterStep != nil {
			afterStep(step)
		}
		return ctx.Err()
	}

	if len(f.orphans) > 0 {
		ids := make([]uint, len(f.orphans))
		for i, c := range f.orphans {
			ids[i] = c.ID
		}
		if err := tx.Completions.DeleteByIDs(ctx, ids); err != nil {
			return nil, err
		}
		for _, c := range f.orphans {
			actions = append(actions, RepairAction{Kind: OrphanCompletion, Subject: fmt.Sprint(c.ID), Action: "deleted"})
		}
	}
	if err := checkpoint(OrphanCompletion); err != nil {
		return nil, err
	}

	for _, g := range f.duplicates {
		var drop []uint
		for _, c := range g[1:] {
			drop = append(drop, c.ID)
		}
		if err := tx.Completions.DeleteByIDs(ctx, drop); err != nil {
			return nil, err
		}
		actions = append(actions, RepairAction{
			Kind:    DuplicateCompletion,
			Subject: g[0].ActivityID,
			Action:  fmt.Sprintf("kept %s mark recorded %s on %s, deleted %d", g[0].Status, g[0].RecordedAt.Format("2006-01-02T15:04:05Z07:00"), g[0].Date, len(drop)),
		})
	}
	if f.missingIndex {
		if err := tx.Completions.CreateOccurrenceIndex(); err != nil {
			return nil, err
		}
		actions = append(actions, RepairAction{Kind: MissingOccurrenceIx, Subject: repository.OccurrenceIndex, Action: "recreated"})
	}
	if err := checkpoint(MissingOccurrenceIx); err != nil {
		return nil, err
	}

	for _, c := range f.cycles {
		if err := tx.Goals.Detach(ctx, c[0]); err != nil {
			return nil, err
		}
		actions = append(actions, RepairAction{Kind: GoalCycle, Subject: c[0], Action: "detached to root"})
	}
	for _, g := range f.danglingParents {
		if err := tx.Goals.Detach(ctx, g.ID); err != nil {
			return nil, err
		}
		actions = append(actions, RepairAction{Kind: DanglingGoalParent, Subject: g.ID, Action: "detached to root"})
	}

	if len(f.danglingRefs) > 0 {
		ids := make([]string, len(f.danglingRefs))
		for i, a := range f.danglingRefs {
			ids[i] = a.ID
		}
		if err := tx.Activities.ClearGoalByIDs(ctx, ids); err != nil {
			return nil, err
		}
		for _, id := range ids {
			actions = append(actions, RepairAction{Kind: DanglingGoalRef, Subject: id, Action: "cleared goal reference"})
		}
	}
	if err := checkpoint(DanglingGoalRef); err != nil {
		return nil, err
	}

	for _, m := range f.malformed {
		if m.activity.Disabled && m.activity.NeedsReview {
			continue
		}
		if err := tx.Activities.DisableForReview(ctx, m.activity.ID); err != nil {
			return nil, err
		}
		actions = append(actions, RepairAction{Kind: MalformedRule, Subject: m.activity.ID, Action: "disabled and flagged for review"})
	}
	if err := checkpoint(MalformedRule); err != nil {
		return nil, err
	}
	return actions, nil
}
