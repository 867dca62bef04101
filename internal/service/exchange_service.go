package service

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"unified-planner/internal/apperr"
	"unified-planner/internal/calendar"
	"unified-planner/internal/model"
	"unified-planner/internal/recurrence"
	"unified-planner/internal/repository"
)

// ExchangeVersion is the version written into JSON exports.
const ExchangeVersion = 1

// CSV file names inside an export directory.
const (
	ActivitiesCSV  = "activities.csv"
	GoalsCSV       = "goals.csv"
	CompletionsCSV = "completions.csv"
)

// Envelope is the JSON export document.
type Envelope struct {
	Version     int                `json:"version"`
	ExportedAt  time.Time          `json:"exported_at"`
	Activities  []ActivityRecord   `json:"activities"`
	Goals       []model.Goal       `json:"goals"`
	Completions []model.Completion `json:"completions"`
}

// ActivityRecord is an activity with its recurrence rule spelled out.
type ActivityRecord struct {
	model.Activity
	Recurrence *recurrence.Rule `json:"recurrence,omitempty"`
}

type ImportResult struct {
	Activities  int `json:"activities"`
	Goals       int `json:"goals"`
	Completions int `json:"completions"`
}

// ExchangeService exports and imports the whole store.
type ExchangeService struct {
	store *repository.Store
	now   func() time.Time
}

func NewExchangeService(store *repository.Store) *ExchangeService {
	return &ExchangeService{store: store, now: utcNow}
}

type exportSet struct {
	activities  []model.Activity
	goals       []model.Goal
	completions []model.Completion
}

func (s *ExchangeService) load(ctx context.Context) (exportSet, error) {
	var set exportSet
	err := s.store.Read(ctx, func(tx *repository.Tx) error {
		var err error
		if set.activities, err = tx.Activities.ListAll(ctx); err != nil {
			return err
		}
		if set.goals, err = tx.Goals.ListAll(ctx); err != nil {
			return err
		}
		set.completions, err = tx.Completions.ListAll(ctx)
		return err
	})
	return set, err
}

// ExportJSON writes every activity, goal and completion with full fidelity.
func (s *ExchangeService) ExportJSON(ctx context.Context, w io.Writer) error {
	set, err := s.load(ctx)
	if err != nil {
		return err
	}
	env := Envelope{
		Version:     ExchangeVersion,
		ExportedAt:  s.now(),
		Activities:  make([]ActivityRecord, 0, len(set.activities)),
		Goals:       set.goals,
		Completions: set.completions,
	}
	for _, a := range set.activities {
		rec := ActivityRecord{Activity: a}
		if rule, ok := a.Recurrence(); ok {
			rec.Recurrence = &rule
		}
		env.Activities = append(env.Activities, rec)
	}
	if env.Goals == nil {
		env.Goals = []model.Goal{}
	}
	if env.Completions == nil {
		env.Completions = []model.Completion{}
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(env); err != nil {
		return fmt.Errorf("encode export: %w", err)
	}
	return nil
}

// ImportJSON upserts the records of an export by ID in one transaction. Nothing is
// written if any record is invalid.
func (s *ExchangeService) ImportJSON(ctx context.Context, r io.Reader) (ImportResult, error) {
	var env Envelope
	if err := json.NewDecoder(r).Decode(&env); err != nil {
		return ImportResult{}, apperr.Invalid("export", "malformed JSON: %v", err)
	}
	if err := validateEnvelope(env); err != nil {
		return ImportResult{}, err
	}

	in := importSet{}
	for _, rec := range env.Activities {
		a := rec.Activity
		if a.Kind == model.KindHabit {
			if rec.Recurrence == nil {
				return ImportResult{}, apperr.Invalid("activities", "habit %s has no recurrence", a.ID)
			}
			a.Rule = *rec.Recurrence
		}
		in.activities = append(in.activities, a)
	}
	in.goals = env.Goals
	in.completions = env.Completions
	return s.importSet(ctx, in)
}

func validateEnvelope(env Envelope) error {
	if env.Version != ExchangeVersion {
		return apperr.Invalid("version", "unsupported export version %d", env.Version)
	}
	if env.ExportedAt.IsZero() {
		return apperr.Invalid("exported_at", "export timestamp is missing")
	}
	if env.Activities == nil && env.Goals == nil && env.Completions == nil {
		return apperr.Invalid("export", "no activities, goals or completions sections")
	}
	return nil
}

type importSet struct {
	activities  []model.Activity
	goals       []model.Goal
	completions []model.Completion
	// fillWindow marks habits whose validity window was not part of the input.
	fillWindow map[string]bool
}

func (s *ExchangeService) importSet(ctx context.Context, in importSet) (ImportResult, error) {
	now := s.now()
	for i := range in.goals {
		g := &in.goals[i]
		g.Title = normalizeText(g.Title)
		g.Description = normalizeText(g.Description)
		if g.ID == "" {
			return ImportResult{}, apperr.Invalid("goals", "record %d has no id", i)
		}
		if err := g.Validate(); err != nil {
			return ImportResult{}, fmt.Errorf("goal %s: %w", g.ID, err)
		}
		if g.CreatedAt.IsZero() {
			g.CreatedAt = now
		}
	}
	for i := range in.activities {
		a := &in.activities[i]
		a.Title = normalizeText(a.Title)
		a.Description = normalizeText(a.Description)
		a.Category = normalizeText(a.Category)
		a.Tags = normalizeTags(a.Tags)
		if a.ID == "" {
			return ImportResult{}, apperr.Invalid("activities", "record %d has no id", i)
		}
		if a.CreatedAt.IsZero() {
			a.CreatedAt = now
		}
		if in.fillWindow[a.ID] {
			continue
		}
		if err := a.Validate(); err != nil {
			return ImportResult{}, fmt.Errorf("activity %s: %w", a.ID, err)
		}
	}
	for i := range in.completions {
		c := &in.completions[i]
		c.ID = 0
		switch c.Status {
		case model.StatusDone, model.StatusSkipped:
		default:
			return ImportResult{}, apperr.Invalid("completions", "record %d has status %q", i, c.Status)
		}
		if c.RecordedAt.IsZero() {
			c.RecordedAt = now
		}
	}

	err := s.store.Write(ctx, "import", func(tx *repository.Tx) error {
		imported := make(map[string]bool, len(in.goals))
		for i := range in.goals {
			if err := tx.Goals.Upsert(ctx, &in.goals[i]); err != nil {
				return err
			}
			imported[in.goals[i].ID] = true
		}
		if err := checkImportedGoals(ctx, tx, imported); err != nil {
			return err
		}

		for i := range in.activities {
			a := &in.activities[i]
			if in.fillWindow[a.ID] {
				if err := fillValidityWindow(ctx, tx, a); err != nil {
					return err
				}
			}
			if err := checkGoalRef(ctx, tx, a.GoalID); err != nil {
				return fmt.Errorf("activity %s: %w", a.ID, err)
			}
			if err := tx.Activities.Upsert(ctx, a); err != nil {
				return err
			}
		}

		for i := range in.completions {
			c := &in.completions[i]
			if _, err := tx.Activities.FindByID(ctx, c.ActivityID); err != nil {
				if errors.Is(err, apperr.ErrNotFound) {
					return apperr.Invalid("completions", "record %d references unknown activity %s", i, c.ActivityID)
				}
				return err
			}
			c.ID = 0
			if err := tx.Completions.Upsert(ctx, c); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return ImportResult{}, err
	}
	return ImportResult{Activities: len(in.activities), Goals: len(in.goals), Completions: len(in.completions)}, nil
}

// checkImportedGoals rejects imported goals that point at missing parents or sit on a cycle.
func checkImportedGoals(ctx context.Context, tx *repository.Tx, imported map[string]bool) error {
	if len(imported) == 0 {
		return nil
	}
	goals, err := tx.Goals.ListAll(ctx)
	if err != nil {
		return err
	}
	cycles, dangling := inspectGoalTree(goals)
	for _, g := range dangling {
		if imported[g.ID] {
			return apperr.Invalid("goals", "goal %s has missing parent %s", g.ID, *g.ParentID)
		}
	}
	for _, c := range cycles {
		for _, id := range c {
			if imported[id] {
				return apperr.Invalid("goals", "goal %s is part of a parent cycle", id)
			}
		}
	}
	return nil
}

// fillValidityWindow gives a habit imported from CSV the window of the stored habit with
// the same ID, or one starting on its creation day.
func fillValidityWindow(ctx context.Context, tx *repository.Tx, a *model.Activity) error {
	existing, err := tx.Activities.FindByID(ctx, a.ID)
	switch {
	case err == nil && existing.Kind == model.KindHabit && !existing.Rule.ValidFrom.IsZero():
		a.Rule.ValidFrom = existing.Rule.ValidFrom
		a.Rule.ValidUntil = existing.Rule.ValidUntil
	case err == nil || errors.Is(err, apperr.ErrNotFound):
		a.Rule.ValidFrom = calendar.DateOf(a.CreatedAt)
		a.Rule.ValidUntil = nil
	default:
		return err
	}
	if err := a.Validate(); err != nil {
		return fmt.Errorf("activity %s: %w", a.ID, err)
	}
	return nil
}

// ExportCSV writes activities.csv, goals.csv and completions.csv into dir.
func (s *ExchangeService) ExportCSV(ctx context.Context, dir string) error {
	set, err := s.load(ctx)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create export dir: %w", err)
	}
	files := []struct {
		name  string
		write func(io.Writer) error
	}{
		{ActivitiesCSV, func(w io.Writer) error { return WriteActivitiesCSV(w, set.activities) }},
		{GoalsCSV, func(w io.Writer) error { return WriteGoalsCSV(w, set.goals) }},
		{CompletionsCSV, func(w io.Writer) error { return WriteCompletionsCSV(w, set.completions) }},
	}
	for _, f := range files {
		if err := writeFile(filepath.Join(dir, f.name), f.write); err != nil {
			return err
		}
	}
	return nil
}

func writeFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := write(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

var (
	activityHeader   = []string{"id", "kind", "title", "description", "category", "tags", "priority", "color", "date", "start_time", "end_time", "goal_id", "weekdays", "rule_start", "rule_end", "disabled", "created_at"}
	goalHeader       = []string{"id", "parent_id", "title", "description", "due_date", "priority", "completed", "created_at"}
	completionHeader = []string{"activity_id", "date", "status", "recorded_at"}
)

// WriteActivitiesCSV flattens habit rules to weekday letters plus two times. The
// validity window is not written.
func WriteActivitiesCSV(w io.Writer, activities []model.Activity) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(activityHeader); err != nil {
		return err
	}
	for _, a := range activities {
		row := []string{
			a.ID,
			string(a.Kind),
			a.Title,
			a.Description,
			a.Category,
			strings.Join(a.Tags, ";"),
			a.Priority.String(),
			a.Color,
			optDate(a.Date),
			optClock(a.StartTime),
			optClock(a.EndTime),
			optString(a.GoalID),
			"", "", "",
			strconv.FormatBool(a.Disabled),
			a.CreatedAt.UTC().Format(time.RFC3339),
		}
		if rule, ok := a.Recurrence(); ok {
			row[12] = rule.Weekdays.Letters()
			row[13] = rule.Start.String()
			row[14] = rule.End.String()
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func WriteGoalsCSV(w io.Writer, goals []model.Goal) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(goalHeader); err != nil {
		return err
	}
	for _, g := range goals {
		row := []string{
			g.ID,
			optString(g.ParentID),
			g.Title,
			g.Description,
			optDate(g.DueDate),
			g.Priority.String(),
			strconv.FormatBool(g.Completed),
			g.CreatedAt.UTC().Format(time.RFC3339),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func WriteCompletionsCSV(w io.Writer, completions []model.Completion) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(completionHeader); err != nil {
		return err
	}
	for _, c := range completions {
		row := []string{c.ActivityID, c.Date.String(), string(c.Status), c.RecordedAt.UTC().Format(time.RFC3339)}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ImportCSV reads whichever of the three CSV files exist in dir and upserts them.
// Habits get their validity window from the stored habit with the same ID, or from
// their creation day.
func (s *ExchangeService) ImportCSV(ctx context.Context, dir string) (ImportResult, error) {
	in := importSet{fillWindow: make(map[string]bool)}
	found := 0

	rows, err := readCSV(filepath.Join(dir, ActivitiesCSV))
	if err != nil {
		return ImportResult{}, err
	}
	if rows != nil {
		found++
		for i, row := range rows {
			a, err := parseActivityRow(row)
			if err != nil {
				return ImportResult{}, fmt.Errorf("%s row %d: %w", ActivitiesCSV, i+2, err)
			}
			if a.Kind == model.KindHabit {
				in.fillWindow[a.ID] = true
			}
			in.activities = append(in.activities, a)
		}
	}

	rows, err = readCSV(filepath.Join(dir, GoalsCSV))
	if err != nil {
		return ImportResult{}, err
	}
	if rows != nil {
		found++
		for i, row := range rows {
			g, err := parseGoalRow(row)
			if err != nil {
				return ImportResult{}, fmt.Errorf("%s row %d: %w", GoalsCSV, i+2, err)
			}
			in.goals = append(in.goals, g)
		}
	}

	rows, err = readCSV(filepath.Join(dir, CompletionsCSV))
	if err != nil {
		return ImportResult{}, err
	}
	if rows != nil {
		found++
		for i, row := range rows {
			c, err := parseCompletionRow(row)
			if err != nil {
				return ImportResult{}, fmt.Errorf("%s row %d: %w", CompletionsCSV, i+2, err)
			}
			in.completions = append(in.completions, c)
		}
	}

	if found == 0 {
		return ImportResult{}, apperr.Invalid("dir", "no CSV files found in %s", dir)
	}
	return s.importSet(ctx, in)
}

// csvRow maps header names to cell values.
type csvRow map[string]string

// readCSV returns nil rows (and no error) when the file does not exist.
func readCSV(path string) ([]csvRow, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, apperr.Invalid(filepath.Base(path), "malformed CSV: %v", err)
	}
	if len(records) == 0 {
		return []csvRow{}, nil
	}
	header := records[0]
	rows := make([]csvRow, 0, len(records)-1)
	for _, rec := range records[1:] {
		row := make(csvRow, len(header))
		for i, name := range header {
			if i < len(rec) {
				row[strings.TrimSpace(name)] = rec[i]
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func parseActivityRow(row csvRow) (model.Activity, error) {
	kind, err := model.ParseKind(row["kind"])
	if err != nil {
		return model.Activity{}, err
	}
	prio, err := model.ParsePriority(row["priority"])
	if err != nil {
		return model.Activity{}, err
	}
	a := model.Activity{
		ID:          strings.TrimSpace(row["id"]),
		Kind:        kind,
		Title:       row["title"],
		Description: row["description"],
		Category:    row["category"],
		Priority:    prio,
		Color:       row["color"],
		GoalID:      parseOptString(row["goal_id"]),
	}
	if tags := strings.TrimSpace(row["tags"]); tags != "" {
		a.Tags = strings.Split(tags, ";")
	}
	if a.Date, err = parseOptDate("date", row["date"]); err != nil {
		return model.Activity{}, err
	}
	if a.StartTime, err = parseOptClock("start_time", row["start_time"]); err != nil {
		return model.Activity{}, err
	}
	if a.EndTime, err = parseOptClock("end_time", row["end_time"]); err != nil {
		return model.Activity{}, err
	}
	if a.Disabled, err = parseOptBool("disabled", row["disabled"]); err != nil {
		return model.Activity{}, err
	}
	if a.CreatedAt, err = parseOptTime("created_at", row["created_at"]); err != nil {
		return model.Activity{}, err
	}

	if kind == model.KindHabit {
		days, err := recurrence.ParseWeekdayLetters(row["weekdays"])
		if err != nil {
			return model.Activity{}, err
		}
		start, err := calendar.ParseTimeOfDay(row["rule_start"])
		if err != nil {
			return model.Activity{}, apperr.Invalid("rule_start", "%v", err)
		}
		end, err := calendar.ParseTimeOfDay(row["rule_end"])
		if err != nil {
			return model.Activity{}, apperr.Invalid("rule_end", "%v", err)
		}
		a.Rule = recurrence.Rule{Weekdays: days, Start: start, End: end}
		a.Date, a.StartTime, a.EndTime = nil, nil, nil
	}
	return a, nil
}

func parseGoalRow(row csvRow) (model.Goal, error) {
	prio, err := model.ParsePriority(row["priority"])
	if err != nil {
		return model.Goal{}, err
	}
	g := model.Goal{
		ID:          strings.TrimSpace(row["id"]),
		ParentID:    parseOptString(row["parent_id"]),
		Title:       row["title"],
		Description: row["description"],
		Priority:    prio,
	}
	if g.DueDate, err = parseOptDate("due_date", row["due_date"]); err != nil {
		return model.Goal{}, err
	}
	if g.Completed, err = parseOptBool("completed", row["completed"]); err != nil {
		return model.Goal{}, err
	}
	if g.CreatedAt, err = parseOptTime("created_at", row["created_at"]); err != nil {
		return model.Goal{}, err
	}
	return g, nil
}

func parseCompletionRow(row csvRow) (model.Completion, error) {
	d, err := calendar.ParseDate(strings.TrimSpace(row["date"]))
	if err != nil {
		return model.Completion{}, apperr.Invalid("date", "%v", err)
	}
	c := model.Completion{
		ActivityID: strings.TrimSpace(row["activity_id"]),
		Date:       d,
		Status:     model.CompletionStatus(strings.TrimSpace(row["status"])),
	}
	if c.RecordedAt, err = parseOptTime("recorded_at", row["recorded_at"]); err != nil {
		return model.Completion{}, err
	}
	return c, nil
}

func optDate(d *calendar.Date) string {
	if d == nil {
		return ""
	}
	return d.String()
}

func optClock(t *calendar.TimeOfDay) string {
	if t == nil {
		return ""
	}
	return t.String()
}

func optString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func parseOptString(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func parseOptDate(field, s string) (*calendar.Date, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	d, err := calendar.ParseDate(s)
	if err != nil {
		return nil, apperr.Invalid(field, "%v", err)
	}
	return &d, nil
}

func parseOptClock(field, s string) (*calendar.TimeOfDay, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	t, err := calendar.ParseTimeOfDay(s)
	if err != nil {
		return nil, apperr.Invalid(field, "%v", err)
	}
	return &t, nil
}

func parseOptBool(field, s string) (bool, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return false, apperr.Invalid(field, "%v", err)
	}
	return v, nil
}

func parseOptTime(field, s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, apperr.Invalid(field, "%v", err)
	}
	return t, nil
}
