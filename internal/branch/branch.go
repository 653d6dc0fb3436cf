// Package branch resolves which modules a branch carries and builds the
// redacted cross-module snapshots exposed to callers.
package branch

import (
	"context"
	"regexp"
	"sort"
	"time"

	"github.com/osplatform/modstore/internal/config"
	"github.com/osplatform/modstore/internal/hybrid"
	"github.com/osplatform/modstore/internal/logging"
	"github.com/osplatform/modstore/internal/redact"
	"github.com/osplatform/modstore/internal/registry"
)

// Router maps branch ids to module lists: an explicit entry wins, then the
// first matching pattern, then the configured defaults.
type Router struct {
	cfg      config.BranchConfig
	patterns []compiledPattern
	log      *logging.Logger
}

type compiledPattern struct {
	re      *regexp.Regexp
	modules []string
}

// NewRouter compiles the branch routing configuration. Patterns that fail to
// compile are logged and skipped.
func NewRouter(cfg config.BranchConfig, logger *logging.Logger) *Router {
	r := &Router{cfg: cfg, log: logger}
	for _, p := range cfg.Patterns {
		re, err := regexp.Compile(p.Match)
		if err != nil {
			logger.Warn("skipping invalid branch pattern", "pattern", p.Match, "error", err)
			continue
		}
		r.patterns = append(r.patterns, compiledPattern{re: re, modules: p.Modules})
	}
	return r
}

// Modules returns the module ids for a branch.
func (r *Router) Modules(branchID string) []string {
	if entry, ok := r.cfg.Branches[branchID]; ok {
		return append([]string(nil), entry.Modules...)
	}
	for _, p := range r.patterns {
		if p.re.MatchString(branchID) {
			return append([]string(nil), p.modules...)
		}
	}
	return append([]string(nil), r.cfg.Defaults...)
}

// Label returns the display label for a branch, falling back to its id.
func (r *Router) Label(branchID string) string {
	if entry, ok := r.cfg.Branches[branchID]; ok && entry.Label != "" {
		return entry.Label
	}
	return branchID
}

// Snapshot is the redacted aggregate view of one branch.
type Snapshot struct {
	BranchID  string                     `json:"branchId"`
	ServerID  string                     `json:"serverId,omitempty"`
	Modules   map[string]hybrid.Document `json:"modules"`
	UpdatedAt time.Time                  `json:"updatedAt"`
}

// ModuleSummary describes one live module for listings.
type ModuleSummary struct {
	ModuleID string         `json:"moduleId"`
	Label    string         `json:"label,omitempty"`
	Version  int64          `json:"version"`
	Meta     map[string]any `json:"meta"`
}

// Builder assembles branch snapshots from the registry.
type Builder struct {
	cfg      *config.Config
	router   *Router
	registry *registry.Registry
	policy   *redact.Policy
	log      *logging.Logger
	now      func() time.Time
}

// NewBuilder wires a snapshot builder.
func NewBuilder(cfg *config.Config, router *Router, reg *registry.Registry, policy *redact.Policy, logger *logging.Logger) *Builder {
	return &Builder{cfg: cfg, router: router, registry: reg, policy: policy, log: logger, now: time.Now}
}

// BuildSnapshot ensures every module routed to the branch and returns their
// redacted documents keyed by module id. A module that fails to ensure is
// logged and omitted; the snapshot still covers the rest.
func (b *Builder) BuildSnapshot(ctx context.Context, branchID string) (*Snapshot, error) {
	snapshot := &Snapshot{
		BranchID:  branchID,
		ServerID:  b.cfg.ServerID,
		Modules:   map[string]hybrid.Document{},
		UpdatedAt: b.now().UTC(),
	}
	for _, moduleID := range b.router.Modules(branchID) {
		store, err := b.registry.EnsureModuleStore(ctx, branchID, moduleID)
		if err != nil {
			b.log.Warn("omitting module from branch snapshot",
				"branchId", branchID, "moduleId", moduleID, "error", err)
			continue
		}
		snapshot.Modules[moduleID] = b.policy.Snapshot(store.Snapshot())
	}
	return snapshot, nil
}

// Summaries lists the routed modules of a branch with their live version and
// metadata, sorted by module id. Modules that fail to ensure are omitted.
func (b *Builder) Summaries(ctx context.Context, branchID string) []ModuleSummary {
	var out []ModuleSummary
	for _, moduleID := range b.router.Modules(branchID) {
		store, err := b.registry.EnsureModuleStore(ctx, branchID, moduleID)
		if err != nil {
			b.log.Warn("omitting module from branch summary",
				"branchId", branchID, "moduleId", moduleID, "error", err)
			continue
		}
		summary := ModuleSummary{
			ModuleID: moduleID,
			Version:  store.Version(),
			Meta:     store.Meta(),
		}
		if def, err := b.cfg.Module(moduleID); err == nil {
			summary.Label = def.Label
		}
		out = append(out, summary)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ModuleID < out[j].ModuleID })
	return out
}
