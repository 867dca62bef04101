package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

func newStatsCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show record counts, file size and the store generation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, cmd, func(ctx context.Context, a *app) error {
				st, err := a.store.Stats(ctx)
				if err != nil {
					return fail("stats", err)
				}
				snapshots, err := a.backups.List()
				if err != nil {
					return fail("stats", err)
				}
				result := struct {
					Activities  int64  `json:"activities"`
					Goals       int64  `json:"goals"`
					Completions int64  `json:"completions"`
					SizeBytes   int64  `json:"size_bytes"`
					Generation  uint64 `json:"generation"`
					Snapshots   int    `json:"snapshots"`
				}{st.Activities, st.Goals, st.Completions, st.SizeBytes, st.Generation, len(snapshots)}
				return a.out.emit(result, func(w io.Writer) {
					fmt.Fprintf(w, "activities:  %d\n", result.Activities)
					fmt.Fprintf(w, "goals:       %d\n", result.Goals)
					fmt.Fprintf(w, "completions: %d\n", result.Completions)
					fmt.Fprintf(w, "size:        %d KiB\n", result.SizeBytes/1024)
					fmt.Fprintf(w, "generation:  %d\n", result.Generation)
					fmt.Fprintf(w, "snapshots:   %d\n", result.Snapshots)
				})
			})
		},
	}
}
