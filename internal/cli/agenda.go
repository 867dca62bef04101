package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"unified-planner/internal/calendar"
	"unified-planner/internal/model"
	"unified-planner/internal/service"
)

func newAgendaCommand(opts *RootOptions) *cobra.Command {
	var from, to string
	var week, month bool

	cmd := &cobra.Command{
		Use:   "agenda [date]",
		Short: "Show tasks, events, habit occurrences and goal deadlines",
		Long: `Show the unified agenda for one day (default today), the week or month
containing the date, or an explicit --from/--to range.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, cmd, func(ctx context.Context, a *app) error {
				today := a.agenda.Today()
				day := today
				if len(args) == 1 {
					d, err := parseDay(args[0], today)
					if err != nil {
						return WrapExitError(ExitCommandError, "invalid date", err)
					}
					day = d
				}

				var items []service.AgendaItem
				var err error
				switch {
				case from != "" || to != "":
					var start, end calendar.Date
					if start, err = parseDay(from, day); err != nil {
						return WrapExitError(ExitCommandError, "invalid --from", err)
					}
					if end, err = parseDay(to, start); err != nil {
						return WrapExitError(ExitCommandError, "invalid --to", err)
					}
					items, err = a.agenda.Agenda(ctx, start, end)
				case week:
					items, err = a.agenda.Week(ctx, day)
				case month:
					items, err = a.agenda.Month(ctx, day)
				default:
					items, err = a.agenda.Day(ctx, day)
				}
				if err != nil {
					return fail("agenda", err)
				}
				return a.out.emit(items, func(w io.Writer) { printAgenda(w, items) })
			})
		},
	}

	cmd.Flags().StringVar(&from, "from", "", "first day of the range")
	cmd.Flags().StringVar(&to, "to", "", "last day of the range (default --from)")
	cmd.Flags().BoolVar(&week, "week", false, "show the whole week")
	cmd.Flags().BoolVar(&month, "month", false, "show the whole month")
	cmd.MarkFlagsMutuallyExclusive("week", "month", "from")
	return cmd
}

func printAgenda(w io.Writer, items []service.AgendaItem) {
	if len(items) == 0 {
		fmt.Fprintln(w, "Nothing planned.")
		return
	}
	header := color.New(color.Bold)
	var current calendar.Date
	for i, it := range items {
		if i == 0 || it.Date != current {
			if i > 0 {
				fmt.Fprintln(w)
			}
			current = it.Date
			header.Fprintf(w, "%s %s\n", it.Date, it.Date.Weekday())
		}
		fmt.Fprintf(w, "  %s %s\n", statusMark(it.Status), agendaLine(it))
	}
}

// agendaLine is the plain-text form of one item: time, title, category and a short ID.
func agendaLine(it service.AgendaItem) string {
	var sb strings.Builder
	if it.Start != nil {
		sb.WriteString(it.Start.String())
		if it.End != nil {
			sb.WriteString("-" + it.End.String())
		}
	} else {
		sb.WriteString("     ")
	}
	sb.WriteString(" " + it.Title)
	if it.Category != "" {
		sb.WriteString(" (" + it.Category + ")")
	}
	switch {
	case it.Kind == service.ItemGoalDeadline && it.DaysLeft != nil:
		if *it.DaysLeft == 0 {
			sb.WriteString(" [goal due today]")
		} else {
			fmt.Fprintf(&sb, " [goal due in %d days]", *it.DaysLeft)
		}
	case it.Kind == service.ItemHabit:
		sb.WriteString(" [habit]")
	case it.Kind == service.ItemEvent:
		sb.WriteString(" [event]")
	}
	if it.ActivityID != "" {
		sb.WriteString(" " + color.CyanString(service.ShortID(it.ActivityID)))
	}
	return sb.String()
}

func statusMark(s model.CompletionStatus) string {
	switch s {
	case model.StatusDone:
		return color.GreenString("[x]")
	case model.StatusSkipped:
		return color.YellowString("[-]")
	default:
		return "[ ]"
	}
}
