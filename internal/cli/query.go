package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// NewQueryCommand creates the query command.
func NewQueryCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query <branch-id> <module-id> <sql>",
		Short: "Serve a simple SELECT from the live module store",
		Long: `Serve "SELECT * FROM <table> [LIMIT n]" against the module's live
in-memory rows. Statements outside that shape are not served here; callers
fall through to a real database for those.`,
		Args:          cobra.ExactArgs(3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(rootOpts, args[0], args[1], args[2], cmd)
		},
	}
	return cmd
}

func runQuery(opts *RootOptions, branchID, moduleID, sql string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)
	st, err := buildStack(opts)
	if err != nil {
		return err
	}

	result, err := st.Registry.ExecuteSelect(cmd.Context(), sql, branchID, moduleID)
	if err != nil {
		return WrapExitError(ExitFailure, "execute select", err)
	}
	if result == nil {
		return NewExitError(ExitFailure, "statement not served by the module store")
	}

	if opts.Format == "json" {
		return formatter.Success(result)
	}
	fmt.Fprintf(formatter.Writer, "%d row(s) from %s\n", result.Meta.Count, result.Meta.Source)
	for _, row := range result.Rows {
		line, err := json.Marshal(row)
		if err != nil {
			return WrapExitError(ExitFailure, "encode row", err)
		}
		fmt.Fprintln(formatter.Writer, string(line))
	}
	return nil
}
