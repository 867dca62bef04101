package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"unified-planner/internal/calendar"
	"unified-planner/internal/model"
	"unified-planner/internal/recurrence"
	"unified-planner/internal/service"
)

type activityFlags struct {
	title       string
	description string
	date        string
	start       string
	end         string
	category    string
	tags        []string
	priority    string
	color       string
	goal        string
	weekdays    string
	from        string
	until       string
	attachments []string
}

func (f *activityFlags) register(cmd *cobra.Command, kind model.Kind) {
	fl := cmd.Flags()
	fl.StringVarP(&f.title, "title", "t", "", "title")
	fl.StringVar(&f.description, "description", "", "description")
	fl.StringVar(&f.category, "category", "", "category name")
	fl.StringSliceVar(&f.tags, "tag", nil, "tag (repeatable)")
	fl.StringVarP(&f.priority, "priority", "p", "medium", "priority (low|medium|high)")
	fl.StringVar(&f.color, "color", "", "display color")
	fl.StringVar(&f.goal, "goal", "", "goal ID the activity contributes to")
	fl.StringSliceVar(&f.attachments, "attach", nil, "attachment path or URL (repeatable)")
	fl.StringVar(&f.start, "start", "", "start time HH:MM")
	fl.StringVar(&f.end, "end", "", "end time HH:MM")
	_ = cmd.MarkFlagRequired("title")

	switch kind {
	case model.KindHabit:
		fl.StringVar(&f.weekdays, "days", "daily", `weekdays: "M-W-F--", "mon,wed,fri", daily, weekdays or weekends`)
		fl.StringVar(&f.from, "from", "", "first day the habit applies (default today)")
		fl.StringVar(&f.until, "until", "", "last day the habit applies")
		_ = cmd.MarkFlagRequired("start")
		_ = cmd.MarkFlagRequired("end")
	default:
		fl.StringVarP(&f.date, "date", "d", "", "day (YYYY-MM-DD, today, tomorrow)")
	}
	if kind == model.KindEvent {
		_ = cmd.MarkFlagRequired("date")
		_ = cmd.MarkFlagRequired("start")
		_ = cmd.MarkFlagRequired("end")
	}
}

func (f *activityFlags) input(kind model.Kind, today calendar.Date) (service.ActivityInput, error) {
	in := service.ActivityInput{
		Kind:        kind,
		Title:       f.title,
		Description: f.description,
		Category:    f.category,
		Tags:        f.tags,
		Color:       f.color,
		Attachments: f.attachments,
	}
	var err error
	if in.Priority, err = model.ParsePriority(f.priority); err != nil {
		return in, err
	}
	if strings.TrimSpace(f.goal) != "" {
		goal := strings.TrimSpace(f.goal)
		in.GoalID = &goal
	}
	start, err := parseOptClock(f.start)
	if err != nil {
		return in, fmt.Errorf("--start: %w", err)
	}
	end, err := parseOptClock(f.end)
	if err != nil {
		return in, fmt.Errorf("--end: %w", err)
	}

	if kind != model.KindHabit {
		if in.Date, err = parseOptDay(f.date, today); err != nil {
			return in, fmt.Errorf("--date: %w", err)
		}
		in.StartTime, in.EndTime = start, end
		return in, nil
	}

	days, err := parseWeekdays(f.weekdays)
	if err != nil {
		return in, fmt.Errorf("--days: %w", err)
	}
	validFrom, err := parseDay(f.from, today)
	if err != nil {
		return in, fmt.Errorf("--from: %w", err)
	}
	until, err := parseOptDay(f.until, today)
	if err != nil {
		return in, fmt.Errorf("--until: %w", err)
	}
	rule := recurrence.Rule{Weekdays: days, ValidFrom: validFrom, ValidUntil: until}
	if start != nil {
		rule.Start = *start
	}
	if end != nil {
		rule.End = *end
	}
	in.Rule = &rule
	return in, nil
}

func newAddCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a task, event or habit",
	}
	for _, kind := range []model.Kind{model.KindTask, model.KindEvent, model.KindHabit} {
		cmd.AddCommand(newAddKindCommand(opts, kind))
	}
	return cmd
}

func newAddKindCommand(opts *RootOptions, kind model.Kind) *cobra.Command {
	flags := &activityFlags{}
	cmd := &cobra.Command{
		Use:   string(kind),
		Short: "Add a " + string(kind),
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, cmd, func(ctx context.Context, a *app) error {
				in, err := flags.input(kind, a.agenda.Today())
				if err != nil {
					return WrapExitError(ExitCommandError, "invalid "+string(kind), err)
				}
				created, err := a.activities.Create(ctx, in)
				if err != nil {
					return fail("add "+string(kind), err)
				}
				return a.out.emit(created, func(w io.Writer) {
					fmt.Fprintf(w, "Added %s %s %q\n", created.Kind, created.ID, created.Title)
				})
			})
		},
	}
	flags.register(cmd, kind)
	return cmd
}

func newListCommand(opts *RootOptions) *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List activities",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var filter model.Kind
			if kind != "" {
				k, err := model.ParseKind(kind)
				if err != nil {
					return WrapExitError(ExitCommandError, "invalid --kind", err)
				}
				filter = k
			}
			return withApp(opts, cmd, func(ctx context.Context, a *app) error {
				all, err := a.activities.List(ctx)
				if err != nil {
					return fail("list activities", err)
				}
				activities := make([]model.Activity, 0, len(all))
				for _, act := range all {
					if filter == "" || act.Kind == filter {
						activities = append(activities, act)
					}
				}
				return a.out.emit(activities, func(w io.Writer) { printActivities(w, activities) })
			})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "only this kind (task|event|habit)")
	return cmd
}

func printActivities(w io.Writer, activities []model.Activity) {
	if len(activities) == 0 {
		fmt.Fprintln(w, "No activities.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tKIND\tWHEN\tTITLE\tCATEGORY\tPRIORITY")
	for _, act := range activities {
		title := act.Title
		if act.Disabled {
			title += " (disabled)"
		}
		if act.NeedsReview {
			title += color.RedString(" [needs review]")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			service.ShortID(act.ID), act.Kind, describeWhen(act), title, act.Category, act.Priority)
	}
	_ = tw.Flush()
}

func describeWhen(act model.Activity) string {
	if rule, ok := act.Recurrence(); ok {
		when := fmt.Sprintf("%s %s-%s from %s", rule.Weekdays.Letters(), rule.Start, rule.End, rule.ValidFrom)
		if rule.ValidUntil != nil {
			when += " until " + rule.ValidUntil.String()
		}
		return when
	}
	if act.Date == nil {
		return "-"
	}
	when := act.Date.String()
	if act.StartTime != nil {
		when += " " + act.StartTime.String()
		if act.EndTime != nil {
			when += "-" + act.EndTime.String()
		}
	}
	return when
}

// newMarkCommand builds done, skip and undo. They share arguments: an activity ID or
// ID suffix and an optional date, today by default.
func newMarkCommand(opts *RootOptions, action string) *cobra.Command {
	short := map[string]string{
		"done": "Mark an occurrence as done",
		"skip": "Mark an occurrence as skipped",
		"undo": "Return an occurrence to pending",
	}[action]

	return &cobra.Command{
		Use:   action + " <id> [date]",
		Short: short,
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, cmd, func(ctx context.Context, a *app) error {
				date := a.agenda.Today()
				if len(args) == 2 {
					d, err := parseDay(args[1], date)
					if err != nil {
						return WrapExitError(ExitCommandError, "invalid date", err)
					}
					date = d
				}
				act, err := a.activities.Resolve(ctx, args[0])
				if err != nil {
					return fail(action, err)
				}

				status := model.StatusPending
				switch action {
				case "done":
					_, err = a.activities.MarkComplete(ctx, act.ID, date)
					status = model.StatusDone
				case "skip":
					_, err = a.activities.MarkSkipped(ctx, act.ID, date)
					status = model.StatusSkipped
				default:
					err = a.activities.ClearMark(ctx, act.ID, date)
				}
				if err != nil {
					return fail(action, err)
				}
				result := struct {
					ActivityID string                 `json:"activity_id"`
					Date       calendar.Date          `json:"date"`
					Status     model.CompletionStatus `json:"status"`
				}{act.ID, date, status}
				return a.out.emit(result, func(w io.Writer) {
					fmt.Fprintf(w, "%s %q on %s: %s\n", act.Kind, act.Title, date, status)
				})
			})
		},
	}
}

func newDeleteCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an activity and its completions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, cmd, func(ctx context.Context, a *app) error {
				act, err := a.activities.Resolve(ctx, args[0])
				if err != nil {
					return fail("delete", err)
				}
				if err := a.activities.Delete(ctx, act.ID); err != nil {
					return fail("delete", err)
				}
				return a.out.emit(map[string]string{"deleted": act.ID}, func(w io.Writer) {
					fmt.Fprintf(w, "Deleted %s %q\n", act.Kind, act.Title)
				})
			})
		},
	}
}

func newHabitCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "habit",
		Short: "Enable or disable habits",
	}
	for _, enable := range []bool{true, false} {
		use := "disable"
		if enable {
			use = "enable"
		}
		cmd.AddCommand(&cobra.Command{
			Use:   use + " <id>",
			Short: strings.ToUpper(use[:1]) + use[1:] + " a habit",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(opts, cmd, func(ctx context.Context, a *app) error {
					act, err := a.activities.Resolve(ctx, args[0])
					if err != nil {
						return fail(use, err)
					}
					if err := a.activities.SetEnabled(ctx, act.ID, enable); err != nil {
						return fail(use, err)
					}
					return a.out.emit(map[string]any{"id": act.ID, "enabled": enable}, func(w io.Writer) {
						fmt.Fprintf(w, "Habit %q %sd\n", act.Title, use)
					})
				})
			},
		})
	}
	return cmd
}
