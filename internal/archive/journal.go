// Package archive moves rotated event-log segments into the durable SQL
// journal. Uploads are transactional and idempotent: a segment is deleted
// only after its entries are committed, and re-uploading a segment upserts
// the same rows by entry id.
package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	// Registered drivers: pgx for the production journal, sqlite3 for
	// local and test deployments.
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"

	"github.com/osplatform/modstore/internal/eventlog"
	"github.com/osplatform/modstore/internal/logging"
)

// JournalTable is the destination table for uploaded event entries.
const JournalTable = "ws2_event_journal"

const createJournalSQL = `
CREATE TABLE IF NOT EXISTS ws2_event_journal (
	id            TEXT PRIMARY KEY,
	branch_id     TEXT NOT NULL,
	module_id     TEXT NOT NULL,
	table_name    TEXT,
	action        TEXT NOT NULL,
	record        JSONB,
	meta          JSONB,
	publish_state JSONB,
	sequence      BIGINT,
	created_at    TIMESTAMPTZ,
	recorded_at   TIMESTAMPTZ
)`

const createJournalIndexSQL = `
CREATE INDEX IF NOT EXISTS ws2_event_journal_branch_module_idx
	ON ws2_event_journal (branch_id, module_id, sequence)`

// The conflict clause refreshes only the mutable columns; the original
// record payload is never rewritten.
const upsertEntrySQL = `
INSERT INTO ws2_event_journal
	(id, branch_id, module_id, table_name, action, record, meta, publish_state, sequence, created_at, recorded_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (id) DO UPDATE SET
	meta = EXCLUDED.meta,
	publish_state = EXCLUDED.publish_state,
	recorded_at = EXCLUDED.recorded_at`

// Journal is the SQL sink for event entries.
type Journal struct {
	db  *sql.DB
	log *logging.Logger
}

// Open connects to the journal database and ensures the destination table.
// driver is "pgx" or "sqlite3".
func Open(ctx context.Context, driver, dsn string, logger *logging.Logger) (*Journal, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	if driver == "sqlite3" {
		for _, pragma := range []string{
			"PRAGMA journal_mode=WAL",
			"PRAGMA synchronous=NORMAL",
			"PRAGMA busy_timeout=5000",
		} {
			if _, err := db.ExecContext(ctx, pragma); err != nil {
				db.Close()
				return nil, fmt.Errorf("open journal: %s: %w", pragma, err)
			}
		}
	}
	j := &Journal{db: db, log: logger}
	if err := j.ensureTable(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return j, nil
}

// NewJournal wraps an existing database handle and ensures the table.
func NewJournal(ctx context.Context, db *sql.DB, logger *logging.Logger) (*Journal, error) {
	j := &Journal{db: db, log: logger}
	if err := j.ensureTable(ctx); err != nil {
		return nil, err
	}
	return j, nil
}

// Close releases the database handle.
func (j *Journal) Close() error {
	return j.db.Close()
}

func (j *Journal) ensureTable(ctx context.Context) error {
	if _, err := j.db.ExecContext(ctx, createJournalSQL); err != nil {
		return fmt.Errorf("ensure journal table: %w", err)
	}
	if _, err := j.db.ExecContext(ctx, createJournalIndexSQL); err != nil {
		return fmt.Errorf("ensure journal index: %w", err)
	}
	return nil
}

// UploadSegment reads one rotated segment and upserts its entries in a
// single transaction, deleting the segment file only after commit. An empty
// segment is deleted without touching the database. On any failure the
// transaction rolls back and the segment stays for the next cycle.
func (j *Journal) UploadSegment(ctx context.Context, path string) (int, error) {
	entries, err := eventlog.ReadLogFile(path)
	if err != nil {
		return 0, err
	}
	if len(entries) == 0 {
		if err := eventlog.DiscardLogFile(path); err != nil {
			return 0, err
		}
		return 0, nil
	}

	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("upload segment %s: %w", path, err)
	}
	stmt, err := tx.PrepareContext(ctx, upsertEntrySQL)
	if err != nil {
		tx.Rollback()
		return 0, fmt.Errorf("upload segment %s: %w", path, err)
	}
	for _, e := range entries {
		record, err := marshalJSONColumn(e.Record)
		if err != nil {
			stmt.Close()
			tx.Rollback()
			return 0, fmt.Errorf("upload segment %s: entry %s: %w", path, e.ID, err)
		}
		meta, err := marshalJSONColumn(e.Meta)
		if err != nil {
			stmt.Close()
			tx.Rollback()
			return 0, fmt.Errorf("upload segment %s: entry %s: %w", path, e.ID, err)
		}
		publishState, err := marshalJSONColumn(e.PublishState)
		if err != nil {
			stmt.Close()
			tx.Rollback()
			return 0, fmt.Errorf("upload segment %s: entry %s: %w", path, e.ID, err)
		}
		if _, err := stmt.ExecContext(ctx,
			e.ID, e.BranchID, e.ModuleID, nullableString(e.Table), e.Action,
			record, meta, publishState, e.Sequence,
			nullableTime(e.CreatedAt), nullableTime(e.RecordedAt),
		); err != nil {
			stmt.Close()
			tx.Rollback()
			return 0, fmt.Errorf("upload segment %s: entry %s: %w", path, e.ID, err)
		}
	}
	stmt.Close()
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("upload segment %s: commit: %w", path, err)
	}

	if err := eventlog.DiscardLogFile(path); err != nil {
		// Rows are committed; the next cycle re-upserts them harmlessly.
		j.log.Warn("uploaded segment could not be deleted", "path", path, "error", err)
	}
	return len(entries), nil
}

// Count returns the number of journal rows for a (branch, module) pair.
func (j *Journal) Count(ctx context.Context, branchID, moduleID string) (int, error) {
	var n int
	err := j.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM ws2_event_journal WHERE branch_id = $1 AND module_id = $2`,
		branchID, moduleID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count journal rows: %w", err)
	}
	return n, nil
}

func marshalJSONColumn(m map[string]any) (any, error) {
	if m == nil {
		return nil, nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return raw, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}
