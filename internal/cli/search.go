package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"unified-planner/internal/service"
)

func newSearchCommand(opts *RootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "search <query>...",
		Short: "Find activities, goals and categories by text",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, cmd, func(ctx context.Context, a *app) error {
				hits, err := a.search.Search(ctx, strings.Join(args, " "), limit)
				if err != nil {
					return fail("search", err)
				}
				return a.out.emit(hits, func(w io.Writer) { printHits(w, hits) })
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", service.DefaultSearchLimit, "maximum number of results")
	return cmd
}

func printHits(w io.Writer, hits []service.SearchHit) {
	if len(hits) == 0 {
		fmt.Fprintln(w, "Nothing found.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, h := range hits {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", h.Kind, service.ShortID(h.ID), h.Title, h.Detail)
	}
	_ = tw.Flush()
}
