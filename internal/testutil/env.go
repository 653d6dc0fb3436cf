package testutil

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/osplatform/modstore/internal/config"
	"github.com/osplatform/modstore/internal/eventlog"
	"github.com/osplatform/modstore/internal/hybrid"
	"github.com/osplatform/modstore/internal/layout"
	"github.com/osplatform/modstore/internal/logging"
	"github.com/osplatform/modstore/internal/registry"
	"github.com/osplatform/modstore/internal/schema"
)

// Env is a fully wired module-store stack rooted in a temp directory, with
// deterministic time and event IDs so scenarios produce stable output.
type Env struct {
	Root     string
	Config   *config.Config
	Schema   *schema.Engine
	Paths    *layout.Paths
	Events   *eventlog.Log
	Registry *registry.Registry
	Clock    *DeterministicClock
	Logger   *logging.Logger

	t *testing.T
}

// NewEnv builds an environment under t.TempDir(). Modules are registered
// with AddModule; their central schema and seed files with WriteCentralSchema
// and WriteCentralSeed.
func NewEnv(t *testing.T) *Env {
	t.Helper()
	root := t.TempDir()
	cfg := config.Default(root)
	cfg.ServerID = "ws-test"

	clock := NewDeterministicClock(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), time.Second)
	logger := logging.NewNop()
	events := eventlog.New(logger,
		eventlog.WithNow(clock.Now),
		eventlog.WithIDGenerator(NewSequentialIDGenerator("evt")),
	)
	engine := schema.New()
	paths := layout.NewPaths(cfg)

	return &Env{
		Root:     root,
		Config:   cfg,
		Schema:   engine,
		Paths:    paths,
		Events:   events,
		Registry: registry.New(cfg, engine, paths, events, logger),
		Clock:    clock,
		Logger:   logger,
		t:        t,
	}
}

// AddModule registers a module definition whose central schema lives at
// schema/<id>.json under the root.
func (e *Env) AddModule(id, label string, tables ...string) *config.ModuleDefinition {
	def := &config.ModuleDefinition{
		Label:              label,
		Tables:             tables,
		SchemaFallbackPath: filepath.Join("schema", id+".json"),
	}
	e.Config.Modules[id] = def
	return def
}

// WriteCentralSchema writes a minimal valid central schema declaring the
// given tables, each with id and name columns.
func (e *Env) WriteCentralSchema(moduleID string, tables ...string) {
	e.t.Helper()
	docs := make([]map[string]any, 0, len(tables))
	for _, table := range tables {
		docs = append(docs, map[string]any{
			"name": table,
			"columns": []map[string]any{
				{"name": "id", "type": "string", "required": true},
				{"name": "name", "type": "string"},
			},
		})
	}
	e.WriteJSONFile(filepath.Join(e.Root, "schema", moduleID+".json"), map[string]any{"tables": docs})
}

// WriteCentralSeed writes the module's central seed document and points the
// definition at it.
func (e *Env) WriteCentralSeed(moduleID string, doc hybrid.Document) {
	e.t.Helper()
	def, err := e.Config.Module(moduleID)
	if err != nil {
		e.t.Fatalf("unknown module %q: %v", moduleID, err)
	}
	def.SeedFallbackPath = filepath.Join("seeds", moduleID+".json")
	e.WriteJSONFile(filepath.Join(e.Root, "seeds", moduleID+".json"), doc)
}

// WriteBranchSeed writes a branch-specific seed for the module.
func (e *Env) WriteBranchSeed(branchID, moduleID string, doc hybrid.Document) {
	e.t.Helper()
	path, err := e.Paths.ModuleSeedPath(branchID, moduleID)
	if err != nil {
		e.t.Fatalf("resolve branch seed path: %v", err)
	}
	e.WriteJSONFile(path, doc)
}

// WriteJSONFile writes v as indented JSON, creating parent directories.
func (e *Env) WriteJSONFile(path string, v any) {
	e.t.Helper()
	if err := layout.WriteJSON(path, v); err != nil {
		e.t.Fatalf("write %s: %v", path, err)
	}
}
