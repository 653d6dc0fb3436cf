// Package cli implements the modstore command tree: schema validation,
// branch snapshots, disk hydration, archival cycles, and the module-store
// SQL shim, all over the same wiring the embedding server uses.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/osplatform/modstore/internal/branch"
	"github.com/osplatform/modstore/internal/config"
	"github.com/osplatform/modstore/internal/eventlog"
	"github.com/osplatform/modstore/internal/layout"
	"github.com/osplatform/modstore/internal/logging"
	"github.com/osplatform/modstore/internal/redact"
	"github.com/osplatform/modstore/internal/registry"
	"github.com/osplatform/modstore/internal/schema"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string
	RootDir    string
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the modstore CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "modstore",
		Short: "Per-branch module store administration",
		Long:  "Inspect and operate the schema-validated, event-logged per-branch module stores.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to the configuration file")
	cmd.PersistentFlags().StringVar(&opts.RootDir, "root", "", "data root when no config file is given (default: cwd)")

	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewTablesCommand(opts))
	cmd.AddCommand(NewSnapshotCommand(opts))
	cmd.AddCommand(NewHydrateCommand(opts))
	cmd.AddCommand(NewArchiveCommand(opts))
	cmd.AddCommand(NewQueryCommand(opts))

	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

// stack is the wired module-store runtime shared by all commands.
type stack struct {
	Config   *config.Config
	Logger   *logging.Logger
	Schema   *schema.Engine
	Paths    *layout.Paths
	Events   *eventlog.Log
	Registry *registry.Registry
	Policy   *redact.Policy
	Router   *branch.Router
	Builder  *branch.Builder
}

// buildStack loads configuration and wires the runtime the way the server
// composition root does.
func buildStack(opts *RootOptions) (*stack, error) {
	var cfg *config.Config
	var err error
	switch {
	case opts.ConfigPath != "":
		cfg, err = config.Load(opts.ConfigPath)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "load configuration", err)
		}
	default:
		root := opts.RootDir
		if root == "" {
			root, err = os.Getwd()
			if err != nil {
				return nil, WrapExitError(ExitCommandError, "resolve working directory", err)
			}
		}
		cfg = config.Default(root)
	}

	mode := "prod"
	if opts.Verbose {
		mode = "dev"
	}
	logger, err := logging.New(mode)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "initialize logging", err)
	}

	engine := schema.New()
	paths := layout.NewPaths(cfg)
	events := eventlog.New(logger)
	reg := registry.New(cfg, engine, paths, events, logger)
	policy := redact.NewPolicy(cfg.Security)
	router := branch.NewRouter(cfg.Branches, logger)

	return &stack{
		Config:   cfg,
		Logger:   logger,
		Schema:   engine,
		Paths:    paths,
		Events:   events,
		Registry: reg,
		Policy:   policy,
		Router:   router,
		Builder:  branch.NewBuilder(cfg, router, reg, policy, logger),
	}, nil
}

func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}
