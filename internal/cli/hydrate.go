package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

// HydrateResult reports the stores loaded from disk.
type HydrateResult struct {
	Stores []string `json:"stores"`
}

// NewHydrateCommand creates the hydrate command.
func NewHydrateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "hydrate",
		Short: "Load every persisted module store from disk",
		Long: `Walk the branches directory and construct a live store for every
configured module found on disk. Modules that are not in the configuration
or fail to load are skipped with a warning.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHydrate(rootOpts, cmd)
		},
	}
}

func runHydrate(opts *RootOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)
	st, err := buildStack(opts)
	if err != nil {
		return err
	}

	if err := st.Registry.HydrateFromDisk(cmd.Context()); err != nil {
		return WrapExitError(ExitFailure, "hydrate from disk", err)
	}

	result := HydrateResult{}
	for key := range st.Registry.Stores() {
		result.Stores = append(result.Stores, key)
	}
	sort.Strings(result.Stores)

	if opts.Format == "json" {
		return formatter.Success(result)
	}
	fmt.Fprintf(formatter.Writer, "hydrated %d store(s)\n", len(result.Stores))
	for _, key := range result.Stores {
		fmt.Fprintf(formatter.Writer, "  %s\n", key)
	}
	return nil
}
