// Package schema maintains the table catalog for the storage engine.
//
// Schema documents are JSON files of the form
//
//	{ "tables": [ { "name": "...", "columns": [ ... ] } ] }
//
// (a legacy nesting under a top-level "schema" key is also accepted). Every
// document is validated against an embedded CUE definition before it is
// merged into the catalog, so malformed schema files fail fast with a
// position-carrying error instead of producing a half-loaded catalog.
package schema

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
)

// ErrUnknownTable is returned by GetTable for names absent from the catalog.
var ErrUnknownTable = fmt.Errorf("unknown table")

// schemaCUE is the shape every schema document must satisfy. Structs stay
// open so vertical-specific annotations (display hints, sequence rules)
// pass through untouched.
const schemaCUE = `
#Column: {
	name: string & !=""
	type?: string
	label?: string
	required?: bool
	default?: _
	...
}

#Table: {
	name: string & !=""
	label?: string
	columns?: [...#Column]
	...
}

#Document: {
	version?: int | string
	tables?: [...#Table]
	schema?: {
		tables?: [...#Table]
		...
	}
	...
}
`

// Column is the metadata for one table column.
type Column struct {
	Name     string `json:"name"`
	Type     string `json:"type,omitempty"`
	Label    string `json:"label,omitempty"`
	Required bool   `json:"required,omitempty"`
	Default  any    `json:"default,omitempty"`
}

// Table is the metadata for one table.
type Table struct {
	Name    string   `json:"name"`
	Label   string   `json:"label,omitempty"`
	Columns []Column `json:"columns,omitempty"`
}

type document struct {
	Tables []Table `json:"tables"`
	Schema *struct {
		Tables []Table `json:"tables"`
	} `json:"schema"`
}

// Engine is the in-memory table catalog. Safe for concurrent use.
type Engine struct {
	mu     sync.RWMutex
	tables map[string]*Table
	order  []string

	cueOnce sync.Once
	cueDef  cue.Value
	cueCtx  *cue.Context
}

// New creates an empty catalog.
func New() *Engine {
	return &Engine{tables: map[string]*Table{}}
}

// LoadFromFile parses, validates, and merges one schema document into the
// catalog. Idempotent: loading the same file twice is a no-op, and later
// loads may add new tables or replace existing ones by name.
func (e *Engine) LoadFromFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("load schema: %w", err)
	}
	if err := e.Load(raw, path); err != nil {
		return fmt.Errorf("load schema %s: %w", path, err)
	}
	return nil
}

// Load validates and merges a raw schema document. The source string is used
// in validation error messages.
func (e *Engine) Load(raw []byte, source string) error {
	if err := e.validateShape(raw, source); err != nil {
		return err
	}
	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("parse document: %w", err)
	}
	tables := doc.Tables
	if len(tables) == 0 && doc.Schema != nil {
		tables = doc.Schema.Tables
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range tables {
		t := tables[i]
		if _, exists := e.tables[t.Name]; !exists {
			e.order = append(e.order, t.Name)
		}
		e.tables[t.Name] = &t
	}
	return nil
}

// validateShape checks the raw document against the embedded CUE definition.
// JSON is valid CUE, so the document compiles directly and unifies with
// #Document.
func (e *Engine) validateShape(raw []byte, source string) error {
	e.cueOnce.Do(func() {
		e.cueCtx = cuecontext.New()
		defs := e.cueCtx.CompileString(schemaCUE)
		e.cueDef = defs.LookupPath(cue.ParsePath("#Document"))
	})
	doc := e.cueCtx.CompileBytes(raw, cue.Filename(source))
	if err := doc.Err(); err != nil {
		return fmt.Errorf("parse document: %s", cueerrors.Details(err, nil))
	}
	unified := e.cueDef.Unify(doc)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("invalid schema document: %s", cueerrors.Details(err, nil))
	}
	return nil
}

// GetTable returns the column metadata for name, or ErrUnknownTable.
func (e *Engine) GetTable(name string) (*Table, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	t, ok := e.tables[name]
	if !ok {
		return nil, fmt.Errorf("table %q: %w", name, ErrUnknownTable)
	}
	return t, nil
}

// HasTable reports whether name is present in the catalog.
func (e *Engine) HasTable(name string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.tables[name]
	return ok
}

// TableNames returns catalog table names in first-loaded order.
func (e *Engine) TableNames() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]string, len(e.order))
	copy(out, e.order)
	return out
}
