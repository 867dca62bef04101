package cli

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newTemplateCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "template",
		Short: "Save the current habits as a named template and apply it later",
	}
	cmd.AddCommand(newTemplateSaveCommand(opts))
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List habit templates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, cmd, func(ctx context.Context, a *app) error {
				list, err := a.templates.List(ctx)
				if err != nil {
					return fail("list templates", err)
				}
				return a.out.emit(list, func(w io.Writer) {
					if len(list) == 0 {
						fmt.Fprintln(w, "No templates.")
						return
					}
					tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
					for _, t := range list {
						fmt.Fprintf(tw, "%s\t%d habits\t%s\n", t.Name, len(t.Habits), t.Description)
					}
					_ = tw.Flush()
				})
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "rename <from> <to>",
		Short: "Rename a template",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, cmd, func(ctx context.Context, a *app) error {
				if err := a.templates.Rename(ctx, args[0], args[1]); err != nil {
					return fail("rename template", err)
				}
				return a.out.emit(map[string]string{"renamed": args[1]}, func(w io.Writer) {
					fmt.Fprintf(w, "Renamed %q to %q\n", args[0], args[1])
				})
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a template; habits created from it stay",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, cmd, func(ctx context.Context, a *app) error {
				if err := a.templates.Delete(ctx, args[0]); err != nil {
					return fail("delete template", err)
				}
				return a.out.emit(map[string]string{"deleted": args[0]}, func(w io.Writer) {
					fmt.Fprintf(w, "Deleted template %q\n", args[0])
				})
			})
		},
	})
	cmd.AddCommand(newTemplateApplyCommand(opts))
	return cmd
}

func newTemplateSaveCommand(opts *RootOptions) *cobra.Command {
	var (
		description string
		overwrite   bool
	)
	cmd := &cobra.Command{
		Use:   "save <name>",
		Short: "Capture every enabled habit as a template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, cmd, func(ctx context.Context, a *app) error {
				t, err := a.templates.Save(ctx, args[0], description, overwrite)
				if err != nil {
					return fail("save template", err)
				}
				return a.out.emit(t, func(w io.Writer) {
					fmt.Fprintf(w, "Saved template %q with %d habits\n", t.Name, len(t.Habits))
				})
			})
		},
	}
	cmd.Flags().StringVar(&description, "description", "", "what the template is for")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "replace a template with the same name")
	return cmd
}

func newTemplateApplyCommand(opts *RootOptions) *cobra.Command {
	var (
		from    string
		replace bool
	)
	cmd := &cobra.Command{
		Use:   "apply <name>",
		Short: "Create the template's habits, optionally retiring the current ones",
		Long: `Create the template's habits starting on --from (default today).

With --replace, current habits end the day before --from. Habits that would only
start on or after --from are deleted with their marks.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, cmd, func(ctx context.Context, a *app) error {
				d, err := parseDay(from, a.agenda.Today())
				if err != nil {
					return fail("apply template", err)
				}
				res, err := a.templates.Apply(ctx, args[0], d, replace)
				if err != nil {
					return fail("apply template", err)
				}
				return a.out.emit(res, func(w io.Writer) {
					fmt.Fprintf(w, "Created %d habits from %s", len(res.Created), d)
					if replace {
						fmt.Fprintf(w, ", ended %d, removed %d", res.Ended, res.Removed)
					}
					fmt.Fprintln(w)
				})
			})
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "first day of the new habits (default today)")
	cmd.Flags().BoolVar(&replace, "replace", false, "retire the current habits first")
	return cmd
}
