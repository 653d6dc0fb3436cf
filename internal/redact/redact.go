// Package redact strips configured secret fields and locked tables from
// module data before it is exposed outside the process. Table names match
// case-insensitively; locked tables are omitted from output entirely.
package redact

import (
	"strings"

	"github.com/osplatform/modstore/internal/config"
	"github.com/osplatform/modstore/internal/hybrid"
)

// Policy is a compiled security configuration.
type Policy struct {
	secret map[string]map[string]struct{}
	locked map[string]struct{}
}

// NewPolicy compiles the security configuration.
func NewPolicy(sec config.SecurityConfig) *Policy {
	p := &Policy{
		secret: map[string]map[string]struct{}{},
		locked: map[string]struct{}{},
	}
	for table, fields := range sec.SecretFields {
		set := make(map[string]struct{}, len(fields))
		for _, f := range fields {
			set[f] = struct{}{}
		}
		p.secret[normalize(table)] = set
	}
	for _, table := range sec.LockedTables {
		p.locked[normalize(table)] = struct{}{}
	}
	return p
}

// Locked reports whether a table is locked.
func (p *Policy) Locked(table string) bool {
	_, ok := p.locked[normalize(table)]
	return ok
}

// Record returns a copy of rec with the table's secret fields removed, or
// nil when the table is locked.
func (p *Policy) Record(table string, rec hybrid.Record) hybrid.Record {
	if rec == nil || p.Locked(table) {
		return nil
	}
	secret := p.secret[normalize(table)]
	out := make(hybrid.Record, len(rec))
	for k, v := range rec {
		if _, hidden := secret[k]; hidden {
			continue
		}
		out[k] = v
	}
	return out
}

// Rows redacts every row of a table. Returns nil for locked tables.
func (p *Policy) Rows(table string, rows []hybrid.Record) []hybrid.Record {
	if p.Locked(table) {
		return nil
	}
	out := make([]hybrid.Record, 0, len(rows))
	for _, row := range rows {
		if sanitized := p.Record(table, row); sanitized != nil {
			out = append(out, sanitized)
		}
	}
	return out
}

// Tables redacts a full table map, omitting locked tables.
func (p *Policy) Tables(tables map[string][]hybrid.Record) map[string][]hybrid.Record {
	out := make(map[string][]hybrid.Record, len(tables))
	for name, rows := range tables {
		if p.Locked(name) {
			continue
		}
		out[name] = p.Rows(name, rows)
	}
	return out
}

// Snapshot redacts a module document for external exposure.
func (p *Policy) Snapshot(doc hybrid.Document) hybrid.Document {
	doc.Tables = p.Tables(doc.Tables)
	return doc
}

func normalize(table string) string {
	return strings.ToLower(strings.TrimSpace(table))
}
