package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/osplatform/modstore/internal/schema"
)

// TableListing describes a module's resolved tables.
type TableListing struct {
	ModuleID string         `json:"moduleId"`
	Tables   []schema.Table `json:"tables"`
}

// NewTablesCommand creates the tables command.
func NewTablesCommand(rootOpts *RootOptions) *cobra.Command {
	var branchID string

	cmd := &cobra.Command{
		Use:           "tables <module-id>",
		Short:         "Show the resolved table definitions of a module",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTables(rootOpts, branchID, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&branchID, "branch", "b", "", "apply this branch's schema overlay")
	return cmd
}

func runTables(opts *RootOptions, branchID, moduleID string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)
	st, err := buildStack(opts)
	if err != nil {
		return err
	}

	if err := st.Registry.EnsureModuleSchema(branchID, moduleID); err != nil {
		return WrapExitError(ExitFailure, "resolve module schema", err)
	}
	def, err := st.Config.Module(moduleID)
	if err != nil {
		return WrapExitError(ExitCommandError, "resolve module", err)
	}

	listing := TableListing{ModuleID: moduleID}
	for _, name := range def.Tables {
		table, err := st.Schema.GetTable(name)
		if err != nil {
			return WrapExitError(ExitFailure, "resolve table", err)
		}
		listing.Tables = append(listing.Tables, *table)
	}

	if opts.Format == "json" {
		return formatter.Success(listing)
	}
	for _, table := range listing.Tables {
		fmt.Fprintf(formatter.Writer, "%s (%d columns)\n", table.Name, len(table.Columns))
		for _, col := range table.Columns {
			required := ""
			if col.Required {
				required = " required"
			}
			fmt.Fprintf(formatter.Writer, "  %-24s %s%s\n", col.Name, col.Type, required)
		}
	}
	return nil
}
