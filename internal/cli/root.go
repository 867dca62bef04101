// Package cli is the planner command line: one-shot commands against the store and
// the long-running serve command.
package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Database   string
	Format     string // "json" | "text"
	Verbose    bool
}

var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command of the planner CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "planner",
		Short: "Unified planner for tasks, events, habits and goals",
		Long: `Plan tasks, events, recurring habits and goals in one agenda.

Data lives in a single SQLite file. Background jobs take verified snapshots
and scan the store for integrity problems.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "config file (default $PLANNER_CONFIG)")
	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "database path, overrides the config")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newAgendaCommand(opts))
	cmd.AddCommand(newAddCommand(opts))
	cmd.AddCommand(newListCommand(opts))
	cmd.AddCommand(newMarkCommand(opts, "done"))
	cmd.AddCommand(newMarkCommand(opts, "skip"))
	cmd.AddCommand(newMarkCommand(opts, "undo"))
	cmd.AddCommand(newDeleteCommand(opts))
	cmd.AddCommand(newHabitCommand(opts))
	cmd.AddCommand(newGoalCommand(opts))
	cmd.AddCommand(newCategoryCommand(opts))
	cmd.AddCommand(newTemplateCommand(opts))
	cmd.AddCommand(newSearchCommand(opts))
	cmd.AddCommand(newBackupCommand(opts))
	cmd.AddCommand(newCheckCommand(opts))
	cmd.AddCommand(newRepairCommand(opts))
	cmd.AddCommand(newExportCommand(opts))
	cmd.AddCommand(newImportCommand(opts))
	cmd.AddCommand(newStatsCommand(opts))

	return cmd
}
