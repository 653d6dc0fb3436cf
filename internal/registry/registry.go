// Package registry owns the module store lifecycle: exactly one live
// HybridStore per (branch, module) key, created lazily on first access and
// hydrated from the live file or the resolved seed.
//
// The registry is an explicit object wired at the composition root, not a
// package singleton, and concurrent first accesses for the same key are
// collapsed into a single construction via singleflight.
package registry

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/osplatform/modstore/internal/config"
	"github.com/osplatform/modstore/internal/eventlog"
	"github.com/osplatform/modstore/internal/hybrid"
	"github.com/osplatform/modstore/internal/layout"
	"github.com/osplatform/modstore/internal/logging"
	"github.com/osplatform/modstore/internal/schema"
)

// ErrTableMissing is returned when a module's required table is absent from
// the resolved schema.
var ErrTableMissing = fmt.Errorf("required table missing from schema")

type schemaCacheEntry struct {
	mtime     time.Time
	validated bool
}

type seedCacheEntry struct {
	source string
	mtime  time.Time
	seed   *hybrid.Document
}

// Registry creates and caches module stores.
type Registry struct {
	cfg    *config.Config
	schema *schema.Engine
	paths  *layout.Paths
	events *eventlog.Log
	log    *logging.Logger

	mu          sync.RWMutex
	stores      map[string]*hybrid.Store
	schemaCache map[string]schemaCacheEntry
	seedCache   map[string]seedCacheEntry

	group singleflight.Group

	storeOpts hybrid.Options
}

// New creates a registry.
func New(cfg *config.Config, engine *schema.Engine, paths *layout.Paths, events *eventlog.Log, logger *logging.Logger) *Registry {
	return &Registry{
		cfg:         cfg,
		schema:      engine,
		paths:       paths,
		events:      events,
		log:         logger,
		stores:      map[string]*hybrid.Store{},
		schemaCache: map[string]schemaCacheEntry{},
		seedCache:   map[string]seedCacheEntry{},
		storeOpts: hybrid.Options{
			CacheTTL: cfg.CacheTTL,
			ServerID: cfg.ServerID,
		},
	}
}

// ModuleKey is the registry key for a (branch, module) pair.
func ModuleKey(branchID, moduleID string) string {
	return branchID + "::" + moduleID
}

// EnsureModuleStore returns the live store for the key, constructing it on
// first access. Concurrent first accesses share one construction; a failed
// construction registers nothing.
func (r *Registry) EnsureModuleStore(ctx context.Context, branchID, moduleID string) (*hybrid.Store, error) {
	key := ModuleKey(branchID, moduleID)
	r.mu.RLock()
	store, ok := r.stores[key]
	r.mu.RUnlock()
	if ok {
		return store, nil
	}

	v, err, _ := r.group.Do(key, func() (any, error) {
		r.mu.RLock()
		existing, ok := r.stores[key]
		r.mu.RUnlock()
		if ok {
			return existing, nil
		}
		return r.buildStore(ctx, branchID, moduleID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*hybrid.Store), nil
}

// buildStore performs the full first-access setup. Schema validation runs
// before the directory scaffold so a misconfigured module writes nothing.
func (r *Registry) buildStore(ctx context.Context, branchID, moduleID string) (*hybrid.Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	def, err := r.cfg.Module(moduleID)
	if err != nil {
		return nil, err
	}
	if err := r.EnsureModuleSchema(branchID, moduleID); err != nil {
		return nil, err
	}
	if err := r.paths.EnsureBranchModuleLayout(branchID, moduleID); err != nil {
		return nil, fmt.Errorf("scaffold %s/%s: %w", branchID, moduleID, err)
	}
	seed, err := r.EnsureModuleSeed(branchID, moduleID)
	if err != nil {
		return nil, err
	}

	livePath, err := r.paths.ModuleLivePath(branchID, moduleID)
	if err != nil {
		return nil, err
	}
	var existing *hybrid.Document
	var liveDoc hybrid.Document
	switch err := layout.ReadJSON(livePath, &liveDoc); {
	case err == nil:
		if liveDoc.Version == 0 {
			liveDoc.Version = 1
		}
		existing = &liveDoc
	case errors.Is(err, fs.ErrNotExist):
		// first access for this pair
	default:
		return nil, fmt.Errorf("read live document: %w", err)
	}

	evctx, err := r.ModuleEventContext(branchID, moduleID)
	if err != nil {
		return nil, err
	}
	store := hybrid.NewStore(branchID, moduleID, def, existing, seed, r.events, evctx, r.PersistStore, r.log, r.storeOpts)

	r.mu.Lock()
	r.stores[ModuleKey(branchID, moduleID)] = store
	r.mu.Unlock()

	if existing == nil {
		if err := r.PersistStore(store); err != nil {
			r.mu.Lock()
			delete(r.stores, ModuleKey(branchID, moduleID))
			r.mu.Unlock()
			return nil, err
		}
	}
	return store, nil
}

// EnsureModuleSchema loads and validates the module schema. The central
// schema is required; a per-branch overlay is merged when present. The
// validated result is cached against the central file's mtime.
func (r *Registry) EnsureModuleSchema(branchID, moduleID string) error {
	def, err := r.cfg.Module(moduleID)
	if err != nil {
		return err
	}
	key := ModuleKey(branchID, moduleID)

	fallbackPath, err := r.paths.ModuleSchemaFallbackPath(moduleID)
	if err != nil {
		return err
	}
	if fallbackPath == "" {
		return fmt.Errorf("central schema for module %q not configured", moduleID)
	}
	desc, err := layout.DescribeFile(fallbackPath)
	if err != nil {
		return err
	}
	if !desc.Exists {
		return fmt.Errorf("central schema for module %q not found at %s", moduleID, fallbackPath)
	}

	r.mu.RLock()
	cached, ok := r.schemaCache[key]
	r.mu.RUnlock()
	if ok && cached.validated && cached.mtime.Equal(desc.MTime) {
		return nil
	}

	if err := r.schema.LoadFromFile(fallbackPath); err != nil {
		return err
	}
	if overlay := r.paths.ResolveBranchSchemaPath(branchID, moduleID); overlay != "" {
		if err := r.schema.LoadFromFile(overlay); err != nil {
			r.log.Warn("skipping unreadable branch schema overlay",
				"branchId", branchID, "moduleId", moduleID, "path", overlay, "error", err)
		}
	}
	for _, table := range def.Tables {
		if !r.schema.HasTable(table) {
			return fmt.Errorf("schema for module %q is missing required table %q for branch %q: %w",
				moduleID, table, branchID, ErrTableMissing)
		}
	}

	r.mu.Lock()
	r.schemaCache[key] = schemaCacheEntry{mtime: desc.MTime, validated: true}
	r.mu.Unlock()
	return nil
}

// EnsureModuleSeed resolves the seed document for a module: the
// branch-specific seed file when present, else the module's central
// fallback. The result is cached against the resolved file's mtime; a
// missing seed is cached as nil and is not an error.
func (r *Registry) EnsureModuleSeed(branchID, moduleID string) (*hybrid.Document, error) {
	key := ModuleKey(branchID, moduleID)

	branchPath, err := r.paths.ModuleSeedPath(branchID, moduleID)
	if err != nil {
		return nil, err
	}
	if desc, err := layout.DescribeFile(branchPath); err != nil {
		return nil, err
	} else if desc.Exists {
		return r.readSeedCached(key, branchPath, "branch", desc.MTime)
	}

	fallbackPath, err := r.paths.ModuleSeedFallbackPath(moduleID)
	if err != nil {
		return nil, err
	}
	if fallbackPath != "" {
		if desc, err := layout.DescribeFile(fallbackPath); err != nil {
			return nil, err
		} else if desc.Exists {
			return r.readSeedCached(key, fallbackPath, "central", desc.MTime)
		}
	}

	r.mu.Lock()
	r.seedCache[key] = seedCacheEntry{source: "missing"}
	r.mu.Unlock()
	return nil, nil
}

func (r *Registry) readSeedCached(key, path, source string, mtime time.Time) (*hybrid.Document, error) {
	r.mu.RLock()
	cached, ok := r.seedCache[key]
	r.mu.RUnlock()
	if ok && cached.source == source && cached.mtime.Equal(mtime) {
		return cached.seed, nil
	}
	var doc hybrid.Document
	if err := layout.ReadJSON(path, &doc); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read seed: %w", err)
	}
	r.mu.Lock()
	r.seedCache[key] = seedCacheEntry{source: source, mtime: mtime, seed: &doc}
	r.mu.Unlock()
	return &doc, nil
}

// InvalidateSeedCache drops the cached seed for a key.
func (r *Registry) InvalidateSeedCache(branchID, moduleID string) {
	r.mu.Lock()
	delete(r.seedCache, ModuleKey(branchID, moduleID))
	r.mu.Unlock()
}

// PersistStore writes the store's current document to its live file.
func (r *Registry) PersistStore(s *hybrid.Store) error {
	livePath, err := r.paths.ModuleLivePath(s.BranchID, s.ModuleID)
	if err != nil {
		return err
	}
	doc := s.Document()
	if err := layout.WriteJSON(livePath, doc); err != nil {
		return fmt.Errorf("persist module store: %w", err)
	}
	r.log.Debug("persisted module store",
		"branchId", s.BranchID, "moduleId", s.ModuleID, "version", doc.Version)
	return nil
}

// ArchiveModuleFile moves the live document into a timestamped history
// snapshot. Returns the archive path, or empty when no live file exists.
func (r *Registry) ArchiveModuleFile(branchID, moduleID string) (string, error) {
	livePath, err := r.paths.ModuleLivePath(branchID, moduleID)
	if err != nil {
		return "", err
	}
	if !layout.FileExists(livePath) {
		return "", nil
	}
	timestamp := strings.NewReplacer(":", "-", ".", "-").Replace(time.Now().UTC().Format(time.RFC3339Nano))
	target, err := r.paths.ModuleArchivePath(branchID, moduleID, timestamp)
	if err != nil {
		return "", err
	}
	if err := layout.MoveFile(livePath, target); err != nil {
		return "", fmt.Errorf("archive module file: %w", err)
	}
	return target, nil
}

// ModuleEventContext builds the event store context for a pair.
func (r *Registry) ModuleEventContext(branchID, moduleID string) (eventlog.Context, error) {
	liveDir, err := r.paths.ModuleLiveDir(branchID, moduleID)
	if err != nil {
		return eventlog.Context{}, err
	}
	eventsDir, err := r.paths.ModuleEventsDir(branchID, moduleID)
	if err != nil {
		return eventlog.Context{}, err
	}
	return eventlog.Context{
		BranchID:   branchID,
		ModuleID:   moduleID,
		LiveDir:    liveDir,
		HistoryDir: eventsDir,
	}, nil
}

// EventContexts returns the contexts of every live store, for the archive
// scheduler.
func (r *Registry) EventContexts() []eventlog.Context {
	r.mu.RLock()
	keys := make([]string, 0, len(r.stores))
	for key := range r.stores {
		keys = append(keys, key)
	}
	r.mu.RUnlock()

	out := make([]eventlog.Context, 0, len(keys))
	for _, key := range keys {
		branchID, moduleID, ok := splitKey(key)
		if !ok {
			continue
		}
		c, err := r.ModuleEventContext(branchID, moduleID)
		if err != nil {
			continue
		}
		out = append(out, c)
	}
	return out
}

// Stores returns a snapshot of the live store map.
func (r *Registry) Stores() map[string]*hybrid.Store {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]*hybrid.Store, len(r.stores))
	for k, v := range r.stores {
		out[k] = v
	}
	return out
}

// Store returns the live store for a key without constructing one.
func (r *Registry) Store(branchID, moduleID string) (*hybrid.Store, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.stores[ModuleKey(branchID, moduleID)]
	return s, ok
}

// Evict removes a store from the registry. The next EnsureModuleStore
// rebuilds it from disk.
func (r *Registry) Evict(branchID, moduleID string) {
	r.mu.Lock()
	delete(r.stores, ModuleKey(branchID, moduleID))
	r.mu.Unlock()
}

// EnsureBranchModules ensures every module resolved for a branch. Failures
// are logged per module and the failing module omitted.
func (r *Registry) EnsureBranchModules(ctx context.Context, branchID string, moduleIDs []string) []*hybrid.Store {
	stores := make([]*hybrid.Store, 0, len(moduleIDs))
	for _, moduleID := range moduleIDs {
		store, err := r.EnsureModuleStore(ctx, branchID, moduleID)
		if err != nil {
			r.log.Warn("failed to ensure module store",
				"branchId", branchID, "moduleId", moduleID, "error", err)
			continue
		}
		stores = append(stores, store)
	}
	return stores
}

// HydrateFromDisk walks the branches directory and ensures a store for
// every configured module found on disk. Unknown module directories are
// skipped with a warning; per-module failures do not abort the walk.
func (r *Registry) HydrateFromDisk(ctx context.Context) error {
	branchDirs, err := os.ReadDir(r.paths.BranchesDir())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("hydrate from disk: %w", err)
	}
	for _, branchEntry := range branchDirs {
		if !branchEntry.IsDir() {
			continue
		}
		branchID := layout.DecodeID(branchEntry.Name())
		modulesDir := filepath.Join(r.paths.BranchDir(branchID), "modules")
		moduleDirs, err := os.ReadDir(modulesDir)
		if err != nil {
			continue
		}
		for _, moduleEntry := range moduleDirs {
			if !moduleEntry.IsDir() {
				continue
			}
			moduleID := layout.DecodeID(moduleEntry.Name())
			if _, err := r.cfg.Module(moduleID); err != nil {
				r.log.Warn("skipping module not present in configuration",
					"branchId", branchID, "moduleId", moduleID)
				continue
			}
			if _, err := r.EnsureModuleStore(ctx, branchID, moduleID); err != nil {
				r.log.Warn("failed to hydrate module from disk",
					"branchId", branchID, "moduleId", moduleID, "error", err)
				continue
			}
			r.log.Info("hydrated module from disk", "branchId", branchID, "moduleId", moduleID)
		}
	}
	return nil
}

func splitKey(key string) (branchID, moduleID string, ok bool) {
	idx := strings.Index(key, "::")
	if idx < 0 {
		return "", "", false
	}
	return key[:idx], key[idx+2:], true
}

var simpleSelectRe = regexp.MustCompile(`(?i)^\s*select\s+\*\s+from\s+([a-zA-Z0-9_]+)(?:\s+limit\s+(\d+))?\s*;?\s*$`)

// SelectResult is the outcome of the SELECT convenience shim.
type SelectResult struct {
	Rows []hybrid.Record `json:"rows"`
	Meta SelectMeta      `json:"meta"`
}

// SelectMeta describes where a SELECT result came from.
type SelectMeta struct {
	Count    int    `json:"count"`
	Source   string `json:"source"`
	BranchID string `json:"branchId"`
	ModuleID string `json:"moduleId"`
}

// ExecuteSelect serves `SELECT * FROM <table> [LIMIT n]` from the live
// store. Anything it cannot serve returns (nil, nil) so callers can fall
// through to a real database.
func (r *Registry) ExecuteSelect(ctx context.Context, sql, branchID, moduleID string) (*SelectResult, error) {
	if sql == "" || branchID == "" || moduleID == "" {
		return nil, nil
	}
	match := simpleSelectRe.FindStringSubmatch(sql)
	if match == nil {
		return nil, nil
	}
	table := match[1]
	limit := -1
	if match[2] != "" {
		n, err := strconv.Atoi(match[2])
		if err != nil {
			return nil, nil
		}
		limit = n
	}

	store, err := r.EnsureModuleStore(ctx, branchID, moduleID)
	if err != nil {
		r.log.Warn("module-store SQL fallback failed",
			"branchId", branchID, "moduleId", moduleID, "sql", sql, "error", err)
		return nil, nil
	}
	rows, err := store.ListTable(table)
	if err != nil || len(rows) == 0 {
		return nil, nil
	}
	if limit >= 0 && limit < len(rows) {
		rows = rows[:limit]
	}
	return &SelectResult{
		Rows: rows,
		Meta: SelectMeta{Count: len(rows), Source: "module-store", BranchID: branchID, ModuleID: moduleID},
	}, nil
}
