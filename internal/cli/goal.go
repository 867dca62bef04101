package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"unified-planner/internal/apperr"
	"unified-planner/internal/calendar"
	"unified-planner/internal/model"
	"unified-planner/internal/service"
)

func newGoalCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "goal",
		Short: "Manage the goal tree",
	}
	cmd.AddCommand(newGoalAddCommand(opts))
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Show goals as a tree",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, cmd, func(ctx context.Context, a *app) error {
				goals, err := a.goals.List(ctx)
				if err != nil {
					return fail("list goals", err)
				}
				today := a.agenda.Today()
				return a.out.emit(goals, func(w io.Writer) { printGoalTree(w, goals, today) })
			})
		},
	})
	cmd.AddCommand(newGoalCompleteCommand(opts, true))
	cmd.AddCommand(newGoalCompleteCommand(opts, false))
	cmd.AddCommand(&cobra.Command{
		Use:   "parent <id> [parent-id]",
		Short: "Move a goal under another goal, or to the root without a parent",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, cmd, func(ctx context.Context, a *app) error {
				g, err := resolveGoal(ctx, a, args[0])
				if err != nil {
					return fail("move goal", err)
				}
				var parent *string
				if len(args) == 2 {
					p, err := resolveGoal(ctx, a, args[1])
					if err != nil {
						return fail("move goal", err)
					}
					parent = &p.ID
				}
				if err := a.goals.SetParent(ctx, g.ID, parent); err != nil {
					return fail("move goal", err)
				}
				return a.out.emit(map[string]any{"id": g.ID, "parent_id": parent}, func(w io.Writer) {
					if parent == nil {
						fmt.Fprintf(w, "Goal %q is now a root\n", g.Title)
						return
					}
					fmt.Fprintf(w, "Goal %q moved under %s\n", g.Title, *parent)
				})
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a goal; its children become roots",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, cmd, func(ctx context.Context, a *app) error {
				g, err := resolveGoal(ctx, a, args[0])
				if err != nil {
					return fail("delete goal", err)
				}
				if err := a.goals.Delete(ctx, g.ID); err != nil {
					return fail("delete goal", err)
				}
				return a.out.emit(map[string]string{"deleted": g.ID}, func(w io.Writer) {
					fmt.Fprintf(w, "Deleted goal %q\n", g.Title)
				})
			})
		},
	})
	return cmd
}

func newGoalAddCommand(opts *RootOptions) *cobra.Command {
	var title, description, due, priority, parent string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a goal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, cmd, func(ctx context.Context, a *app) error {
				in := service.GoalInput{Title: title, Description: description}
				var err error
				if in.Priority, err = model.ParsePriority(priority); err != nil {
					return WrapExitError(ExitCommandError, "invalid --priority", err)
				}
				if in.DueDate, err = parseOptDay(due, a.agenda.Today()); err != nil {
					return WrapExitError(ExitCommandError, "invalid --due", err)
				}
				if parent != "" {
					p, err := resolveGoal(ctx, a, parent)
					if err != nil {
						return fail("add goal", err)
					}
					in.ParentID = &p.ID
				}
				g, err := a.goals.Create(ctx, in)
				if err != nil {
					return fail("add goal", err)
				}
				return a.out.emit(g, func(w io.Writer) {
					fmt.Fprintf(w, "Added goal %s %q\n", g.ID, g.Title)
				})
			})
		},
	}
	cmd.Flags().StringVarP(&title, "title", "t", "", "title")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&due, "due", "", "due date")
	cmd.Flags().StringVarP(&priority, "priority", "p", "medium", "priority (low|medium|high)")
	cmd.Flags().StringVar(&parent, "parent", "", "parent goal ID")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func newGoalCompleteCommand(opts *RootOptions, completed bool) *cobra.Command {
	use, done := "reopen", "reopened"
	if completed {
		use, done = "complete", "completed"
	}
	return &cobra.Command{
		Use:   use + " <id>",
		Short: strings.ToUpper(use[:1]) + use[1:] + " a goal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, cmd, func(ctx context.Context, a *app) error {
				g, err := resolveGoal(ctx, a, args[0])
				if err != nil {
					return fail(use+" goal", err)
				}
				if err := a.goals.SetCompleted(ctx, g.ID, completed); err != nil {
					return fail(use+" goal", err)
				}
				return a.out.emit(map[string]any{"id": g.ID, "completed": completed}, func(w io.Writer) {
					fmt.Fprintf(w, "Goal %q %s\n", g.Title, done)
				})
			})
		},
	}
}

// resolveGoal accepts a full goal ID or an unambiguous suffix of one.
func resolveGoal(ctx context.Context, a *app, ref string) (*model.Goal, error) {
	ref = strings.TrimSpace(ref)
	if g, err := a.goals.Get(ctx, ref); err == nil {
		return g, nil
	}
	goals, err := a.goals.List(ctx)
	if err != nil {
		return nil, err
	}
	var match *model.Goal
	for i := range goals {
		if ref != "" && strings.HasSuffix(goals[i].ID, ref) {
			if match != nil {
				return nil, apperr.Invalid("id", "%q matches more than one goal", ref)
			}
			match = &goals[i]
		}
	}
	if match == nil {
		return nil, apperr.NotFound("goal", ref)
	}
	return match, nil
}

func printGoalTree(w io.Writer, goals []model.Goal, today calendar.Date) {
	if len(goals) == 0 {
		fmt.Fprintln(w, "No goals.")
		return
	}
	known := make(map[string]bool, len(goals))
	children := make(map[string][]model.Goal)
	for _, g := range goals {
		known[g.ID] = true
	}
	var roots []model.Goal
	for _, g := range goals {
		if g.ParentID == nil || !known[*g.ParentID] {
			roots = append(roots, g)
			continue
		}
		children[*g.ParentID] = append(children[*g.ParentID], g)
	}

	seen := make(map[string]bool, len(goals))
	var walk func(g model.Goal, depth int)
	walk = func(g model.Goal, depth int) {
		if seen[g.ID] {
			return
		}
		seen[g.ID] = true
		box := "[ ]"
		if g.Completed {
			box = "[x]"
		}
		line := fmt.Sprintf("%s%s %s %s", strings.Repeat("  ", depth), box, service.ShortID(g.ID), g.Title)
		if g.DueDate != nil {
			line += " due " + g.DueDate.String()
			if g.Overdue(today) {
				line += " (overdue)"
			}
		}
		fmt.Fprintln(w, line)
		for _, c := range children[g.ID] {
			walk(c, depth+1)
		}
	}
	for _, r := range roots {
		walk(r, 0)
	}
}
