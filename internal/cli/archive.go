package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/osplatform/modstore/internal/archive"
)

// NewArchiveCommand creates the archive command.
func NewArchiveCommand(rootOpts *RootOptions) *cobra.Command {
	var dsn, driver string

	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Rotate event logs and upload segments to the journal",
		Long: `Run one archival cycle: hydrate the persisted stores, rotate every
active event log into a segment, and upload pending segments to the SQL
journal. Segments are deleted only after their transaction commits; a
failed upload leaves the segment for the next run.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runArchive(rootOpts, driver, dsn, cmd)
		},
	}

	cmd.Flags().StringVar(&driver, "driver", "", "journal driver (pgx|sqlite3), overrides config")
	cmd.Flags().StringVar(&dsn, "dsn", "", "journal DSN, overrides config")
	return cmd
}

func runArchive(opts *RootOptions, driver, dsn string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)
	st, err := buildStack(opts)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	archiveCfg := st.Config.Archive
	if driver != "" {
		archiveCfg.Driver = driver
	}
	if dsn != "" {
		archiveCfg.DSN = dsn
	}
	if !archive.Enabled(archiveCfg) {
		if archiveCfg.Disabled {
			return NewExitError(ExitCommandError, "archiver is disabled in configuration")
		}
		return NewExitError(ExitCommandError, "no journal DSN configured (set archive.dsn or --dsn)")
	}

	if err := st.Registry.HydrateFromDisk(ctx); err != nil {
		return WrapExitError(ExitFailure, "hydrate from disk", err)
	}

	journal, err := archive.Open(ctx, archiveCfg.Driver, archiveCfg.DSN, st.Logger)
	if err != nil {
		return WrapExitError(ExitFailure, "open journal", err)
	}
	defer journal.Close()

	scheduler := archive.NewScheduler(journal, st.Events, st.Registry.EventContexts, st.Config.Archive.Interval, st.Logger)
	scheduler.RunCycle(ctx)

	contexts := st.Registry.EventContexts()
	pending := 0
	for _, c := range contexts {
		segments, err := st.Events.ListArchived(c)
		if err != nil {
			continue
		}
		pending += len(segments)
	}

	result := map[string]any{"contexts": len(contexts), "pendingSegments": pending}
	if opts.Format == "json" {
		return formatter.Success(result)
	}
	fmt.Fprintf(formatter.Writer, "archived %d context(s), %d segment(s) still pending\n", len(contexts), pending)
	return nil
}
