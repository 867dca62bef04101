package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"unified-planner/internal/service"
)

func newExportCommand(opts *RootOptions) *cobra.Command {
	var as, path string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export all activities, goals and completions",
		Long: `Export the whole store. JSON goes to --out or stdout; CSV writes one file
per table into the --out directory.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, cmd, func(ctx context.Context, a *app) error {
				switch as {
				case "json":
					if path == "" || path == "-" {
						if err := a.exchange.ExportJSON(ctx, cmd.OutOrStdout()); err != nil {
							return fail("export", err)
						}
						return nil
					}
					f, err := os.Create(path)
					if err != nil {
						return fail("export", err)
					}
					if err := a.exchange.ExportJSON(ctx, f); err != nil {
						_ = f.Close()
						return fail("export", err)
					}
					if err := f.Close(); err != nil {
						return fail("export", err)
					}
				case "csv":
					if path == "" {
						return NewExitError(ExitCommandError, "csv export needs --out <dir>")
					}
					if err := a.exchange.ExportCSV(ctx, path); err != nil {
						return fail("export", err)
					}
				default:
					return NewExitError(ExitCommandError, fmt.Sprintf("unknown export format %q", as))
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "Exported to %s\n", path)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&as, "as", "json", "export format (json|csv)")
	cmd.Flags().StringVarP(&path, "out", "o", "", "output file (json) or directory (csv)")
	return cmd
}

func newImportCommand(opts *RootOptions) *cobra.Command {
	var as string
	cmd := &cobra.Command{
		Use:   "import <path>",
		Short: "Import a JSON export file or a CSV directory",
		Long: `Import records, replacing those with the same ID. The import runs in one
transaction and writes nothing if any record is invalid. A CSV directory may hold
any subset of activities.csv, goals.csv and completions.csv.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, cmd, func(ctx context.Context, a *app) error {
				var res service.ImportResult
				var err error
				switch as {
				case "json":
					f, openErr := os.Open(args[0])
					if openErr != nil {
						return fail("import", openErr)
					}
					defer f.Close()
					res, err = a.exchange.ImportJSON(ctx, f)
				case "csv":
					res, err = a.exchange.ImportCSV(ctx, args[0])
				default:
					return NewExitError(ExitCommandError, fmt.Sprintf("unknown import format %q", as))
				}
				if err != nil {
					return fail("import", err)
				}
				return a.out.emit(res, func(w io.Writer) {
					fmt.Fprintf(w, "Imported %d activities, %d goals, %d completions\n", res.Activities, res.Goals, res.Completions)
				})
			})
		},
	}
	cmd.Flags().StringVar(&as, "as", "json", "import format (json|csv)")
	return cmd
}
