// Package layout resolves the on-disk directory structure for branches and
// modules:
//
//	<branchesDir>/<escapedBranchId>/modules/<moduleId>/
//	  schema.json | schema/definition.json   # optional per-branch override
//	  seeds/initial.json                     # optional seed override
//	  live/data.json                         # current state
//	  history/<timestamp>.json               # point-in-time archives
//	  history/events/                        # rotated event log segments
//	  history/purge/                         # purge records
package layout

import (
	"os"
	"path/filepath"

	"github.com/osplatform/modstore/internal/config"
)

// Relative defaults used when a module definition leaves a path empty.
const (
	defaultSchemaRel  = "schema/definition.json"
	defaultSeedRel    = "seeds/initial.json"
	defaultLiveRel    = "live/data.json"
	defaultHistoryRel = "history"
)

// Paths resolves branch/module locations from the configuration.
type Paths struct {
	cfg *config.Config
}

// NewPaths creates a resolver over cfg.
func NewPaths(cfg *config.Config) *Paths {
	return &Paths{cfg: cfg}
}

// BranchesDir returns the root directory holding all branches.
func (p *Paths) BranchesDir() string {
	return p.cfg.BranchesDir
}

// BranchDir returns the directory for one branch.
func (p *Paths) BranchDir(branchID string) string {
	return filepath.Join(p.cfg.BranchesDir, EncodeID(branchID))
}

// BranchModuleDir returns the directory for one (branch, module) pair.
func (p *Paths) BranchModuleDir(branchID, moduleID string) string {
	return filepath.Join(p.BranchDir(branchID), "modules", moduleID)
}

// ModuleSchemaPath returns the per-branch schema override location.
func (p *Paths) ModuleSchemaPath(branchID, moduleID string) (string, error) {
	def, err := p.cfg.Module(moduleID)
	if err != nil {
		return "", err
	}
	rel := def.SchemaPath
	if rel == "" {
		rel = defaultSchemaRel
	}
	return filepath.Join(p.BranchModuleDir(branchID, moduleID), filepath.FromSlash(rel)), nil
}

// ResolveBranchSchemaPath returns the existing per-branch schema file, trying
// schema.json first and the legacy schema/definition.json second. Empty when
// neither exists.
func (p *Paths) ResolveBranchSchemaPath(branchID, moduleID string) string {
	moduleDir := p.BranchModuleDir(branchID, moduleID)
	direct := filepath.Join(moduleDir, "schema.json")
	if FileExists(direct) {
		return direct
	}
	legacy := filepath.Join(moduleDir, "schema", "definition.json")
	if FileExists(legacy) {
		return legacy
	}
	return ""
}

// ModuleSchemaFallbackPath returns the central schema path for a module, or
// empty when the module declares none.
func (p *Paths) ModuleSchemaFallbackPath(moduleID string) (string, error) {
	def, err := p.cfg.Module(moduleID)
	if err != nil {
		return "", err
	}
	if def.SchemaFallbackPath == "" {
		return "", nil
	}
	if filepath.IsAbs(def.SchemaFallbackPath) {
		return def.SchemaFallbackPath, nil
	}
	return filepath.Join(p.cfg.RootDir, filepath.FromSlash(def.SchemaFallbackPath)), nil
}

// ModuleSeedPath returns the branch-specific seed location.
func (p *Paths) ModuleSeedPath(branchID, moduleID string) (string, error) {
	def, err := p.cfg.Module(moduleID)
	if err != nil {
		return "", err
	}
	rel := def.SeedPath
	if rel == "" {
		rel = defaultSeedRel
	}
	return filepath.Join(p.BranchModuleDir(branchID, moduleID), filepath.FromSlash(rel)), nil
}

// ModuleSeedFallbackPath returns the central seed path, or empty when the
// module declares none.
func (p *Paths) ModuleSeedFallbackPath(moduleID string) (string, error) {
	def, err := p.cfg.Module(moduleID)
	if err != nil {
		return "", err
	}
	if def.SeedFallbackPath == "" {
		return "", nil
	}
	if filepath.IsAbs(def.SeedFallbackPath) {
		return def.SeedFallbackPath, nil
	}
	return filepath.Join(p.cfg.RootDir, filepath.FromSlash(def.SeedFallbackPath)), nil
}

// ModuleLivePath returns the live document location.
func (p *Paths) ModuleLivePath(branchID, moduleID string) (string, error) {
	def, err := p.cfg.Module(moduleID)
	if err != nil {
		return "", err
	}
	rel := def.LivePath
	if rel == "" {
		rel = defaultLiveRel
	}
	return filepath.Join(p.BranchModuleDir(branchID, moduleID), filepath.FromSlash(rel)), nil
}

// ModuleLiveDir returns the directory holding the live document.
func (p *Paths) ModuleLiveDir(branchID, moduleID string) (string, error) {
	live, err := p.ModuleLivePath(branchID, moduleID)
	if err != nil {
		return "", err
	}
	return filepath.Dir(live), nil
}

// ModuleHistoryDir returns the history directory for a module.
func (p *Paths) ModuleHistoryDir(branchID, moduleID string) (string, error) {
	def, err := p.cfg.Module(moduleID)
	if err != nil {
		return "", err
	}
	rel := def.HistoryPath
	if rel == "" {
		rel = defaultHistoryRel
	}
	return filepath.Join(p.BranchModuleDir(branchID, moduleID), filepath.FromSlash(rel)), nil
}

// ModuleEventsDir returns the directory receiving rotated event segments.
func (p *Paths) ModuleEventsDir(branchID, moduleID string) (string, error) {
	history, err := p.ModuleHistoryDir(branchID, moduleID)
	if err != nil {
		return "", err
	}
	return filepath.Join(history, "events"), nil
}

// ModulePurgeDir returns the purge-history directory.
func (p *Paths) ModulePurgeDir(branchID, moduleID string) (string, error) {
	history, err := p.ModuleHistoryDir(branchID, moduleID)
	if err != nil {
		return "", err
	}
	return filepath.Join(history, "purge"), nil
}

// ModuleArchivePath returns the point-in-time archive location for a
// timestamp token.
func (p *Paths) ModuleArchivePath(branchID, moduleID, timestamp string) (string, error) {
	history, err := p.ModuleHistoryDir(branchID, moduleID)
	if err != nil {
		return "", err
	}
	return filepath.Join(history, timestamp+".json"), nil
}

// EnsureBranchDirectory creates the branch's modules directory.
func (p *Paths) EnsureBranchDirectory(branchID string) error {
	return os.MkdirAll(filepath.Join(p.BranchDir(branchID), "modules"), 0o755)
}

// EnsureBranchModuleLayout creates the full directory scaffold for one
// (branch, module) pair: module dir, live dir, history, events, purge.
func (p *Paths) EnsureBranchModuleLayout(branchID, moduleID string) error {
	liveDir, err := p.ModuleLiveDir(branchID, moduleID)
	if err != nil {
		return err
	}
	eventsDir, err := p.ModuleEventsDir(branchID, moduleID)
	if err != nil {
		return err
	}
	purgeDir, err := p.ModulePurgeDir(branchID, moduleID)
	if err != nil {
		return err
	}
	for _, dir := range []string{p.BranchModuleDir(branchID, moduleID), liveDir, eventsDir, purgeDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}
