package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

// NewSnapshotCommand creates the snapshot command.
func NewSnapshotCommand(rootOpts *RootOptions) *cobra.Command {
	var summary bool

	cmd := &cobra.Command{
		Use:   "snapshot <branch-id>",
		Short: "Build the redacted cross-module snapshot of a branch",
		Long: `Ensure every module routed to the branch and emit their redacted
documents. Secret fields are stripped and locked tables omitted, so the
output is safe to hand to external consumers.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSnapshot(rootOpts, args[0], summary, cmd)
		},
	}

	cmd.Flags().BoolVar(&summary, "summary", false, "list module versions instead of full documents")
	return cmd
}

func runSnapshot(opts *RootOptions, branchID string, summary bool, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)
	st, err := buildStack(opts)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	if summary {
		summaries := st.Builder.Summaries(ctx, branchID)
		if opts.Format == "json" {
			return formatter.Success(summaries)
		}
		for _, s := range summaries {
			fmt.Fprintf(formatter.Writer, "%-16s v%-6d %s\n", s.ModuleID, s.Version, s.Label)
		}
		return nil
	}

	snapshot, err := st.Builder.BuildSnapshot(ctx, branchID)
	if err != nil {
		return WrapExitError(ExitFailure, "build branch snapshot", err)
	}
	if opts.Format == "json" {
		return formatter.Success(snapshot)
	}

	moduleIDs := make([]string, 0, len(snapshot.Modules))
	for id := range snapshot.Modules {
		moduleIDs = append(moduleIDs, id)
	}
	sort.Strings(moduleIDs)
	fmt.Fprintf(formatter.Writer, "branch %s (%d modules)\n", snapshot.BranchID, len(moduleIDs))
	for _, id := range moduleIDs {
		doc := snapshot.Modules[id]
		fmt.Fprintf(formatter.Writer, "  %-16s v%-6d tables=%d\n", id, doc.Version, len(doc.Tables))
	}
	return nil
}
