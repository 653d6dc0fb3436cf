package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"
)

// ValidationResult holds schema validation results.
type ValidationResult struct {
	Valid  bool     `json:"valid"`
	Checks []string `json:"checks,omitempty"`
	Errors []string `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	var branchID string

	cmd := &cobra.Command{
		Use:   "validate [module-id...]",
		Short: "Validate module schemas against their definitions",
		Long: `Validate the central schema of each module (or the named modules),
including the per-branch overlay when --branch is given. Checks that every
schema parses, satisfies the schema contract, and declares every table the
module definition requires.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, branchID, args, cmd)
		},
	}

	cmd.Flags().StringVarP(&branchID, "branch", "b", "", "include this branch's schema overlay")
	return cmd
}

func runValidate(opts *RootOptions, branchID string, moduleIDs []string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)
	st, err := buildStack(opts)
	if err != nil {
		return err
	}

	if len(moduleIDs) == 0 {
		for id := range st.Config.Modules {
			moduleIDs = append(moduleIDs, id)
		}
		sort.Strings(moduleIDs)
	}
	if len(moduleIDs) == 0 {
		return outputValidateError(formatter, "E_NO_MODULES", "no modules defined in configuration")
	}

	result := ValidationResult{Valid: true}
	for _, moduleID := range moduleIDs {
		formatter.VerboseLog("Validating module: %s", moduleID)
		if err := st.Registry.EnsureModuleSchema(branchID, moduleID); err != nil {
			result.Valid = false
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", moduleID, err))
			continue
		}
		result.Checks = append(result.Checks, moduleID)
	}

	if !result.Valid {
		if opts.Format == "json" {
			if err := formatter.Success(result); err != nil {
				return err
			}
		} else {
			fmt.Fprintf(formatter.Writer, "Validation failed:\n  %s\n", strings.Join(result.Errors, "\n  "))
		}
		return NewExitError(ExitFailure, "schema validation failed")
	}

	if opts.Format == "json" {
		return formatter.Success(result)
	}
	fmt.Fprintf(formatter.Writer, "OK: %d module schema(s) valid\n", len(result.Checks))
	return nil
}

func outputValidateError(f *OutputFormatter, code, message string) error {
	if err := f.Error(code, message, nil); err != nil {
		return err
	}
	return NewExitError(ExitCommandError, message)
}
