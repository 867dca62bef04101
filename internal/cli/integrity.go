package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"unified-planner/internal/service"
)

func newCheckCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Scan the store for integrity violations",
		Long: `Scan the store for integrity violations without changing anything.
Exits with status 1 when violations are found. Habits already disabled and
flagged for review are listed but do not fail the check.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, cmd, func(ctx context.Context, a *app) error {
				violations, err := a.integrity.Check(ctx)
				if err != nil {
					return fail("check", err)
				}
				if violations == nil {
					violations = []service.Violation{}
				}
				if err := a.out.emit(violations, func(w io.Writer) { printViolations(w, violations) }); err != nil {
					return err
				}
				pending := 0
				for _, v := range violations {
					if !v.Acknowledged {
						pending++
					}
				}
				if pending > 0 {
					return NewExitError(ExitFailure, fmt.Sprintf("%d integrity violations found", pending))
				}
				return nil
			})
		},
	}
}

func printViolations(w io.Writer, violations []service.Violation) {
	if len(violations) == 0 {
		fmt.Fprintln(w, color.GreenString("No integrity violations."))
		return
	}
	for _, v := range violations {
		fmt.Fprintf(w, "%s %s: %s\n", color.RedString(string(v.Kind)), v.Subject, v.Detail)
	}
}

func newRepairCommand(opts *RootOptions) *cobra.Command {
	var noBackup bool
	cmd := &cobra.Command{
		Use:   "repair",
		Short: "Fix repairable integrity violations",
		Long: `Fix repairable integrity violations in one transaction. A snapshot is taken
first unless --no-backup is given. Running repair twice is a no-op.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, cmd, func(ctx context.Context, a *app) error {
				if !noBackup {
					violations, err := a.integrity.Check(ctx)
					if err != nil {
						return fail("repair", err)
					}
					if len(violations) > 0 {
						if _, err := a.backups.Snapshot(ctx, service.KindBackup); err != nil {
							return fail("snapshot before repair", err)
						}
					}
				}
				actions, err := a.integrity.Repair(ctx)
				if err != nil {
					return fail("repair", err)
				}
				if actions == nil {
					actions = []service.RepairAction{}
				}
				return a.out.emit(actions, func(w io.Writer) {
					if len(actions) == 0 {
						fmt.Fprintln(w, "Nothing to repair.")
						return
					}
					for _, act := range actions {
						fmt.Fprintf(w, "%s %s: %s\n", color.YellowString(string(act.Kind)), act.Subject, act.Action)
					}
				})
			})
		},
	}
	cmd.Flags().BoolVar(&noBackup, "no-backup", false, "skip the snapshot before repairing")
	return cmd
}
