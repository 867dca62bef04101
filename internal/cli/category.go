package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

func newCategoryCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "category",
		Short: "List and rename categories",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List categories with the number of activities in each",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, cmd, func(ctx context.Context, a *app) error {
				usage, err := a.categories.List(ctx)
				if err != nil {
					return fail("list categories", err)
				}
				return a.out.emit(usage, func(w io.Writer) {
					if len(usage) == 0 {
						fmt.Fprintln(w, "No categories.")
					}
					for _, u := range usage {
						fmt.Fprintf(w, "%s\t%d\n", u.Name, u.Count)
					}
				})
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "rename <from> <to>",
		Short: "Move every activity from one category to another",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, cmd, func(ctx context.Context, a *app) error {
				n, err := a.categories.Rename(ctx, args[0], args[1])
				if err != nil {
					return fail("rename category", err)
				}
				return a.out.emit(map[string]int64{"moved": n}, func(w io.Writer) {
					fmt.Fprintf(w, "Moved %d activities to %q\n", n, args[1])
				})
			})
		},
	})
	return cmd
}
