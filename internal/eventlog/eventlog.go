// Package eventlog is the append-only mutation log for module stores.
//
// Every mutation against a module appends one JSON line to the active log in
// the module's live directory. Rotation closes the active log into an
// immutable, timestamped segment file under history/events; segments are
// deleted only after their contents are durably stored elsewhere (see
// internal/archive).
package eventlog

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/osplatform/modstore/internal/logging"
)

const (
	activeLogName    = "events.log"
	metaFileName     = "events.meta.json"
	rejectionLogName = "rejections.log"
	segmentPrefix    = "events-"
	segmentSuffix    = ".log"
)

// Entry is one durable mutation record. Entries are immutable after
// creation; only meta/publishState/recordedAt may later be updated by the
// journal's idempotent upsert.
type Entry struct {
	ID           string         `json:"id"`
	BranchID     string         `json:"branchId"`
	ModuleID     string         `json:"moduleId"`
	Table        string         `json:"table,omitempty"`
	Action       string         `json:"action"`
	Record       map[string]any `json:"record,omitempty"`
	Meta         map[string]any `json:"meta,omitempty"`
	PublishState map[string]any `json:"publishState,omitempty"`
	CreatedAt    time.Time      `json:"createdAt"`
	RecordedAt   time.Time      `json:"recordedAt"`
	Sequence     int64          `json:"sequence"`
}

// Context identifies one module's event store: where its active log lives
// and where rotated segments go.
type Context struct {
	BranchID   string
	ModuleID   string
	LiveDir    string
	HistoryDir string
}

// ActivePath returns the active log file location.
func (c Context) ActivePath() string {
	return filepath.Join(c.LiveDir, activeLogName)
}

// MetaPath returns the sidecar metadata file location.
func (c Context) MetaPath() string {
	return filepath.Join(c.LiveDir, metaFileName)
}

func (c Context) key() string {
	return c.BranchID + "::" + c.ModuleID
}

// IDGenerator produces globally unique entry IDs. The production generator
// emits time-sortable UUIDv7 values; tests substitute a fixed generator.
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates RFC 4122 UUIDv7 entry IDs.
type UUIDv7Generator struct{}

// Generate returns a new UUIDv7 as a hyphenated string.
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Log appends, rotates, and enumerates per-module event logs. One Log serves
// every context in the process; per-context sequence counters are recovered
// lazily from disk.
type Log struct {
	mu   sync.Mutex
	seqs map[string]int64

	ids IDGenerator
	now func() time.Time
	log *logging.Logger
}

// Option configures a Log.
type Option func(*Log)

// WithIDGenerator substitutes the entry ID generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(l *Log) { l.ids = g }
}

// WithNow substitutes the time source.
func WithNow(now func() time.Time) Option {
	return func(l *Log) { l.now = now }
}

// New creates a Log.
func New(logger *logging.Logger, opts ...Option) *Log {
	l := &Log{
		seqs: map[string]int64{},
		ids:  UUIDv7Generator{},
		now:  time.Now,
		log:  logger,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Append writes one entry to the context's active log and returns the entry
// with ID, sequence, and timestamps filled in.
func (l *Log) Append(c Context, e Entry) (Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	seq, err := l.nextSequenceLocked(c)
	if err != nil {
		return Entry{}, fmt.Errorf("append event: %w", err)
	}
	now := l.now().UTC()
	if e.ID == "" {
		e.ID = l.ids.Generate()
	}
	if e.BranchID == "" {
		e.BranchID = c.BranchID
	}
	if e.ModuleID == "" {
		e.ModuleID = c.ModuleID
	}
	if e.Action == "" {
		e.Action = "module:insert"
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.RecordedAt = now
	e.Sequence = seq

	line, err := json.Marshal(e)
	if err != nil {
		return Entry{}, fmt.Errorf("append event: marshal: %w", err)
	}
	if err := appendLine(c.ActivePath(), line); err != nil {
		return Entry{}, fmt.Errorf("append event: %w", err)
	}
	l.seqs[c.key()] = seq
	return e, nil
}

// Rotate closes the active log into a new immutable segment under the
// history directory and starts a fresh active log. Rotating an empty or
// absent active log is a no-op; the returned path is empty in that case.
func (l *Log) Rotate(c Context) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	active := c.ActivePath()
	info, err := os.Stat(active)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("rotate event log: %w", err)
	}
	if info.Size() == 0 {
		return "", nil
	}

	seq, err := l.nextSequenceLocked(c)
	if err != nil {
		return "", fmt.Errorf("rotate event log: %w", err)
	}
	l.seqs[c.key()] = seq - 1 // peeked only for naming; Append owns allocation

	name := fmt.Sprintf("%s%s-%09d%s", segmentPrefix, l.now().UTC().Format("20060102T150405"), seq, segmentSuffix)
	target := filepath.Join(c.HistoryDir, name)
	if err := os.MkdirAll(c.HistoryDir, 0o755); err != nil {
		return "", fmt.Errorf("rotate event log: %w", err)
	}
	if err := moveFile(active, target); err != nil {
		return "", fmt.Errorf("rotate event log: %w", err)
	}
	if err := l.writeMetaLocked(c, map[string]any{"lastRotatedAt": l.now().UTC().Format(time.RFC3339Nano)}); err != nil {
		l.log.Warn("failed to update event meta after rotation",
			"branchId", c.BranchID, "moduleId", c.ModuleID, "error", err)
	}
	return target, nil
}

// ListArchived returns the context's rotated-but-not-yet-discarded segment
// files, oldest first.
func (l *Log) ListArchived(c Context) ([]string, error) {
	entries, err := os.ReadDir(c.HistoryDir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list archived logs: %w", err)
	}
	var out []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasPrefix(name, segmentPrefix) && strings.HasSuffix(name, segmentSuffix) {
			out = append(out, filepath.Join(c.HistoryDir, name))
		}
	}
	sort.Strings(out)
	return out, nil
}

// ReadLogFile parses a segment (or active log) into entries. Blank lines are
// skipped; a malformed line aborts with its line number.
func ReadLogFile(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read log file: %w", err)
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, fmt.Errorf("read log file %s:%d: %w", path, lineNo, err)
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read log file %s: %w", path, err)
	}
	return entries, nil
}

// DiscardLogFile removes a segment. Callers must only discard a segment
// whose contents are durably stored elsewhere.
func DiscardLogFile(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("discard log file: %w", err)
	}
	return nil
}

// UpdateMeta merges patch into the context's sidecar metadata file.
func (l *Log) UpdateMeta(c Context, patch map[string]any) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.writeMetaLocked(c, patch)
}

// LogRejectedMutation records a refused mutation in the history directory so
// rejected writes stay auditable without entering the main log.
func (l *Log) LogRejectedMutation(c Context, details map[string]any) error {
	record := map[string]any{
		"branchId":   c.BranchID,
		"moduleId":   c.ModuleID,
		"rejectedAt": l.now().UTC().Format(time.RFC3339Nano),
	}
	for k, v := range details {
		record[k] = v
	}
	line, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("log rejected mutation: %w", err)
	}
	if err := os.MkdirAll(c.HistoryDir, 0o755); err != nil {
		return fmt.Errorf("log rejected mutation: %w", err)
	}
	if err := appendLine(filepath.Join(c.HistoryDir, rejectionLogName), line); err != nil {
		return fmt.Errorf("log rejected mutation: %w", err)
	}
	return nil
}

// nextSequenceLocked returns the next sequence for the context, recovering
// the counter from the meta sidecar and active log tail on first use.
func (l *Log) nextSequenceLocked(c Context) (int64, error) {
	key := c.key()
	if cur, ok := l.seqs[key]; ok {
		return cur + 1, nil
	}
	recovered, err := l.recoverSequence(c)
	if err != nil {
		return 0, err
	}
	l.seqs[key] = recovered
	return recovered + 1, nil
}

func (l *Log) recoverSequence(c Context) (int64, error) {
	var max int64
	meta, err := l.readMeta(c)
	if err != nil {
		return 0, err
	}
	if v, ok := meta["lastSequence"]; ok {
		if f, ok := v.(float64); ok && int64(f) > max {
			max = int64(f)
		}
	}
	entries, err := ReadLogFile(c.ActivePath())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return max, nil
		}
		return 0, err
	}
	for _, e := range entries {
		if e.Sequence > max {
			max = e.Sequence
		}
	}
	return max, nil
}

func (l *Log) readMeta(c Context) (map[string]any, error) {
	raw, err := os.ReadFile(c.MetaPath())
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read event meta: %w", err)
	}
	meta := map[string]any{}
	if err := json.Unmarshal(raw, &meta); err != nil {
		l.log.Warn("discarding unreadable event meta",
			"branchId", c.BranchID, "moduleId", c.ModuleID, "error", err)
		return map[string]any{}, nil
	}
	return meta, nil
}

func (l *Log) writeMetaLocked(c Context, patch map[string]any) error {
	meta, err := l.readMeta(c)
	if err != nil {
		return err
	}
	for k, v := range patch {
		meta[k] = v
	}
	if seq, ok := l.seqs[c.key()]; ok {
		meta["lastSequence"] = seq
	}
	if err := os.MkdirAll(c.LiveDir, 0o755); err != nil {
		return fmt.Errorf("write event meta: %w", err)
	}
	payload, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("write event meta: %w", err)
	}
	if err := os.WriteFile(c.MetaPath(), payload, 0o644); err != nil {
		return fmt.Errorf("write event meta: %w", err)
	}
	return nil
}

func appendLine(path string, line []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return err
	}
	return f.Sync()
}

// moveFile renames src to dst with a copy+remove fallback for cross-device
// renames.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	raw, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	if err := os.WriteFile(dst, raw, 0o644); err != nil {
		return err
	}
	return os.Remove(src)
}
