// Package hybrid implements the in-memory authoritative store for one
// (branch, module) pair: table rows, a monotonic version counter, and
// free-form metadata, persisted whole to the module's live JSON file after
// every mutation and mirrored into the append-only event log.
package hybrid

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/osplatform/modstore/internal/config"
	"github.com/osplatform/modstore/internal/eventlog"
	"github.com/osplatform/modstore/internal/logging"
)

// Mutation actions recorded in the event log.
const (
	ActionInsert = "module:insert"
	ActionMerge  = "module:merge"
	ActionDelete = "module:delete"
)

// ErrUnknownTable is returned when a table is not declared for the module.
var ErrUnknownTable = fmt.Errorf("table not declared for module")

// ErrRecordNotFound is returned by Merge/Remove when no row matches the id.
var ErrRecordNotFound = fmt.Errorf("record not found")

// Record is one table row. Rows carry at least an "id" field.
type Record = map[string]any

// Document is the persisted shape of a module store:
// { version, meta, tables }.
type Document struct {
	Version int64               `json:"version"`
	Meta    map[string]any      `json:"meta"`
	Tables  map[string][]Record `json:"tables"`
}

// Clone deep-copies the document.
func (d Document) Clone() Document {
	out := Document{
		Version: d.Version,
		Meta:    cloneMap(d.Meta),
		Tables:  make(map[string][]Record, len(d.Tables)),
	}
	for name, rows := range d.Tables {
		out.Tables[name] = cloneRows(rows)
	}
	return out
}

// RecordRef identifies the row a mutation touched.
type RecordRef struct {
	ID  string `json:"id,omitempty"`
	Key string `json:"key,omitempty"`
}

// Persister writes the store's current document durably. The registry wires
// this to the module's live file.
type Persister func(s *Store) error

// Options tune a store.
type Options struct {
	CacheTTL time.Duration
	Now      func() time.Time
	ServerID string
}

type cacheEntry struct {
	rows []Record
	at   time.Time
}

// Store is the runtime object for one (branch, module) pair. All methods
// are safe for concurrent use; mutations are serialized by an internal
// mutex, so version increments observe invocation order.
type Store struct {
	BranchID string
	ModuleID string

	mu       sync.Mutex
	doc      Document
	declared map[string]struct{}
	cache    map[string]cacheEntry

	cacheTTL time.Duration
	now      func() time.Time
	serverID string

	events  *eventlog.Log
	evctx   eventlog.Context
	persist Persister
	log     *logging.Logger
}

// NewStore builds a store from an existing live document (zero Document when
// none) or, failing that, from the resolved seed. Declared tables always get
// a row slice so ListTable never distinguishes "empty" from "absent".
func NewStore(
	branchID, moduleID string,
	def *config.ModuleDefinition,
	existing *Document,
	seed *Document,
	events *eventlog.Log,
	evctx eventlog.Context,
	persist Persister,
	logger *logging.Logger,
	opts Options,
) *Store {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	s := &Store{
		BranchID: branchID,
		ModuleID: moduleID,
		declared: map[string]struct{}{},
		cache:    map[string]cacheEntry{},
		cacheTTL: opts.CacheTTL,
		now:      opts.Now,
		serverID: opts.ServerID,
		events:   events,
		evctx:    evctx,
		persist:  persist,
		log:      logger,
	}
	for _, name := range def.Tables {
		s.declared[name] = struct{}{}
	}

	switch {
	case existing != nil:
		s.doc = existing.Clone()
	case seed != nil:
		s.doc = seed.Clone()
		if s.doc.Version == 0 {
			s.doc.Version = 1
		}
	default:
		s.doc = Document{Version: 1}
	}
	if s.doc.Meta == nil {
		s.doc.Meta = map[string]any{}
	}
	if s.doc.Tables == nil {
		s.doc.Tables = map[string][]Record{}
	}
	for name := range s.declared {
		if _, ok := s.doc.Tables[name]; !ok {
			s.doc.Tables[name] = []Record{}
		}
	}
	return s
}

// Version returns the current version counter.
func (s *Store) Version() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Version
}

// Meta returns a copy of the store metadata.
func (s *Store) Meta() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneMap(s.doc.Meta)
}

// ListTable returns the rows of a declared table. Reads within the cache
// TTL are served from a memoized copy; every mutation invalidates it.
func (s *Store) ListTable(name string) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.declared[name]; !ok {
		return nil, fmt.Errorf("list table %q: %w", name, ErrUnknownTable)
	}
	if entry, ok := s.cache[name]; ok && s.cacheTTL > 0 && s.now().Sub(entry.at) < s.cacheTTL {
		return entry.rows, nil
	}
	rows := cloneRows(s.doc.Tables[name])
	if s.cacheTTL > 0 {
		s.cache[name] = cacheEntry{rows: rows, at: s.now()}
	}
	return rows, nil
}

// Insert appends a row, assigning an id when absent.
func (s *Store) Insert(table string, rec Record, meta map[string]any) (Record, error) {
	return s.mutate(table, ActionInsert, rec, meta, func(rows []Record, r Record) ([]Record, Record, error) {
		stored := cloneRecord(r)
		if _, ok := stored["id"]; !ok {
			stored["id"] = uuid.NewString()
		}
		return append(rows, stored), stored, nil
	})
}

// Merge shallow-merges fields into the row matching the record's id.
func (s *Store) Merge(table string, rec Record, meta map[string]any) (Record, error) {
	return s.mutate(table, ActionMerge, rec, meta, func(rows []Record, r Record) ([]Record, Record, error) {
		idx := indexByID(rows, recordID(r))
		if idx < 0 {
			return nil, nil, fmt.Errorf("merge into %q: id %q: %w", table, recordID(r), ErrRecordNotFound)
		}
		merged := cloneRecord(rows[idx])
		for k, v := range r {
			merged[k] = v
		}
		rows[idx] = merged
		return rows, merged, nil
	})
}

// Save inserts when no row carries the record's id, merges otherwise.
// Reports whether a new row was created.
func (s *Store) Save(table string, rec Record, meta map[string]any) (Record, bool, error) {
	s.mu.Lock()
	exists := false
	if _, ok := s.declared[table]; ok {
		exists = indexByID(s.doc.Tables[table], recordID(rec)) >= 0
	}
	s.mu.Unlock()
	if exists {
		merged, err := s.Merge(table, rec, meta)
		return merged, false, err
	}
	inserted, err := s.Insert(table, rec, meta)
	return inserted, true, err
}

// Remove deletes the row matching the record's id and returns it.
func (s *Store) Remove(table string, rec Record, meta map[string]any) (Record, error) {
	return s.mutate(table, ActionDelete, rec, meta, func(rows []Record, r Record) ([]Record, Record, error) {
		idx := indexByID(rows, recordID(r))
		if idx < 0 {
			return nil, nil, fmt.Errorf("remove from %q: id %q: %w", table, recordID(r), ErrRecordNotFound)
		}
		removed := rows[idx]
		return append(rows[:idx], rows[idx+1:]...), removed, nil
	})
}

// Snapshot returns a deep-cloned view of the current state, suitable for
// cross-module aggregation.
func (s *Store) Snapshot() Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Clone()
}

// Document returns the persistable {version, meta, tables} document with
// meta counters recomputed.
func (s *Store) Document() Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recomputeMetaLocked()
	return s.doc.Clone()
}

// Ref builds the record reference for a mutation result.
func (s *Store) Ref(table string, rec Record) RecordRef {
	ref := RecordRef{ID: recordID(rec)}
	if ref.ID != "" {
		ref.Key = table + "::" + ref.ID
	}
	return ref
}

// mutate runs one table operation under the store lock, then appends the
// event-log entry and persists the full document. The in-memory state is
// committed before the append; an append or persist failure surfaces to the
// caller while the next successful mutation re-persists everything.
func (s *Store) mutate(
	table, action string,
	rec Record,
	meta map[string]any,
	apply func(rows []Record, rec Record) ([]Record, Record, error),
) (Record, error) {
	s.mu.Lock()
	if _, ok := s.declared[table]; !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("%s %q: %w", action, table, ErrUnknownTable)
	}
	rows, result, err := apply(s.doc.Tables[table], rec)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.doc.Tables[table] = rows
	s.doc.Version++
	s.recomputeMetaLocked()
	delete(s.cache, table)
	version := s.doc.Version
	s.mu.Unlock()

	entryMeta := map[string]any{
		"serverId":  s.serverID,
		"branchId":  s.BranchID,
		"moduleId":  s.ModuleID,
		"table":     table,
		"version":   version,
		"timestamp": s.now().UTC().Format(time.RFC3339Nano),
	}
	ref := s.Ref(table, result)
	if ref.ID != "" {
		entryMeta["recordId"] = ref.ID
		entryMeta["recordKey"] = ref.Key
	}
	for k, v := range meta {
		entryMeta[k] = v
	}

	logged, err := s.events.Append(s.evctx, eventlog.Entry{
		Action: action,
		Table:  table,
		Record: cloneRecord(result),
		Meta:   entryMeta,
	})
	if err != nil {
		return nil, fmt.Errorf("record mutation: %w", err)
	}
	if err := s.events.UpdateMeta(s.evctx, map[string]any{"lastAckId": logged.ID}); err != nil {
		s.log.Warn("failed to update event meta",
			"branchId", s.BranchID, "moduleId", s.ModuleID, "error", err)
	}

	if s.persist != nil {
		if err := s.persist(s); err != nil {
			return nil, fmt.Errorf("persist after %s: %w", action, err)
		}
	}
	return result, nil
}

// recomputeMetaLocked refreshes meta.counter (total rows across tables) and
// the legacy meta.labCounter mirror when present.
func (s *Store) recomputeMetaLocked() {
	total := 0
	for _, rows := range s.doc.Tables {
		total += len(rows)
	}
	s.doc.Meta["counter"] = total
	if _, ok := s.doc.Meta["labCounter"]; ok {
		s.doc.Meta["labCounter"] = total
	}
}

func recordID(rec Record) string {
	if rec == nil {
		return ""
	}
	if v, ok := rec["id"]; ok {
		return fmt.Sprintf("%v", v)
	}
	return ""
}

func indexByID(rows []Record, id string) int {
	if id == "" {
		return -1
	}
	for i, row := range rows {
		if recordID(row) == id {
			return i
		}
	}
	return -1
}

func cloneRows(rows []Record) []Record {
	out := make([]Record, len(rows))
	for i, row := range rows {
		out[i] = cloneRecord(row)
	}
	return out
}

func cloneRecord(rec Record) Record {
	if rec == nil {
		return nil
	}
	return cloneMap(rec)
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return cloneMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	case []Record:
		return cloneRows(val)
	default:
		return v
	}
}
