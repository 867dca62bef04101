package cli

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"unified-planner/internal/service"
)

func newBackupCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Create, verify, restore and prune snapshots",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "create",
		Short: "Take a verified snapshot now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, cmd, func(ctx context.Context, a *app) error {
				h, err := a.backups.Snapshot(ctx, service.KindBackup)
				if err != nil {
					return fail("backup", err)
				}
				return a.out.emit(h, func(w io.Writer) {
					fmt.Fprintf(w, "Snapshot %s\n", h.Path)
				})
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List snapshots, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, cmd, func(ctx context.Context, a *app) error {
				snapshots, err := a.backups.List()
				if err != nil {
					return fail("list snapshots", err)
				}
				return a.out.emit(snapshots, func(w io.Writer) {
					if len(snapshots) == 0 {
						fmt.Fprintln(w, "No snapshots.")
						return
					}
					tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
					fmt.Fprintln(tw, "NAME\tKIND\tCREATED")
					for _, h := range snapshots {
						fmt.Fprintf(tw, "%s\t%s\t%s\n", h.Name(), h.Kind, h.CreatedAt.Format("2006-01-02 15:04:05Z"))
					}
					_ = tw.Flush()
				})
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "verify [name...]",
		Short: "Check snapshot checksums and readability (all snapshots by default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, cmd, func(ctx context.Context, a *app) error {
				var targets []service.SnapshotHandle
				if len(args) == 0 {
					all, err := a.backups.List()
					if err != nil {
						return fail("list snapshots", err)
					}
					targets = all
				}
				for _, name := range args {
					h, err := a.backups.Find(name)
					if err != nil {
						return fail("verify", err)
					}
					targets = append(targets, h)
				}

				type result struct {
					Name  string `json:"name"`
					OK    bool   `json:"ok"`
					Error string `json:"error,omitempty"`
				}
				results := make([]result, 0, len(targets))
				failed := 0
				for _, h := range targets {
					r := result{Name: h.Name(), OK: true}
					if err := a.backups.Verify(ctx, h); err != nil {
						r.OK, r.Error = false, err.Error()
						failed++
					}
					results = append(results, r)
				}
				if err := a.out.emit(results, func(w io.Writer) {
					for _, r := range results {
						if r.OK {
							fmt.Fprintf(w, "%s %s\n", color.GreenString("ok  "), r.Name)
						} else {
							fmt.Fprintf(w, "%s %s: %s\n", color.RedString("FAIL"), r.Name, r.Error)
						}
					}
				}); err != nil {
					return err
				}
				if failed > 0 {
					return NewExitError(ExitFailure, fmt.Sprintf("%d of %d snapshots failed verification", failed, len(results)))
				}
				return nil
			})
		},
	})

	var yes bool
	restore := &cobra.Command{
		Use:   "restore <name>",
		Short: "Replace the store with a snapshot, keeping a safety snapshot of the current state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return NewExitError(ExitCommandError, "restore replaces all data; pass --yes to confirm")
			}
			return withApp(opts, cmd, func(ctx context.Context, a *app) error {
				h, err := a.backups.Find(args[0])
				if err != nil {
					return fail("restore", err)
				}
				safety, err := a.backups.Restore(ctx, h)
				if err != nil {
					return fail("restore", err)
				}
				return a.out.emit(map[string]string{"restored": h.Name(), "safety_snapshot": safety.Name()}, func(w io.Writer) {
					fmt.Fprintf(w, "Restored %s (previous state saved as %s)\n", h.Name(), safety.Name())
				})
			})
		},
	}
	restore.Flags().BoolVarP(&yes, "yes", "y", false, "confirm the restore")
	cmd.AddCommand(restore)

	var keepLast, dailyDays, weeklyWeeks int
	prune := &cobra.Command{
		Use:   "prune",
		Short: "Delete snapshots the retention policy does not keep",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, cmd, func(ctx context.Context, a *app) error {
				policy := a.backups.Policy()
				if cmd.Flags().Changed("keep-last") {
					policy.KeepLast = keepLast
				}
				if cmd.Flags().Changed("daily") {
					policy.DailyDays = dailyDays
				}
				if cmd.Flags().Changed("weekly") {
					policy.WeeklyWeeks = weeklyWeeks
				}
				deleted, err := a.backups.EnforceRetention(ctx, policy)
				if err != nil {
					return fail("prune", err)
				}
				return a.out.emit(deleted, func(w io.Writer) {
					for _, h := range deleted {
						fmt.Fprintf(w, "Deleted %s\n", h.Name())
					}
					fmt.Fprintf(w, "%d snapshots deleted\n", len(deleted))
				})
			})
		},
	}
	prune.Flags().IntVar(&keepLast, "keep-last", 0, "keep this many newest snapshots")
	prune.Flags().IntVar(&dailyDays, "daily", 0, "keep the newest snapshot of each of the last N days")
	prune.Flags().IntVar(&weeklyWeeks, "weekly", 0, "keep the newest snapshot of each of the last N weeks")
	cmd.AddCommand(prune)

	return cmd
}
