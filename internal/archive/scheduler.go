package archive

import (
	"context"
	"sync"
	"time"

	"github.com/osplatform/modstore/internal/config"
	"github.com/osplatform/modstore/internal/eventlog"
	"github.com/osplatform/modstore/internal/logging"
)

// Enabled reports whether the archiver should run at all: it needs a DSN and
// must not be switched off.
func Enabled(cfg config.ArchiveConfig) bool {
	return !cfg.Disabled && cfg.DSN != ""
}

// ContextSource yields the event contexts to archive on each cycle. The
// registry provides one covering every live store.
type ContextSource func() []eventlog.Context

// Scheduler periodically rotates every live event log and uploads the
// resulting segments to the journal. A failure in one module's cycle never
// blocks the others.
type Scheduler struct {
	journal  *Journal
	events   *eventlog.Log
	contexts ContextSource
	interval time.Duration
	log      *logging.Logger

	mu      sync.Mutex
	stop    chan struct{}
	done    chan struct{}
	running bool
}

// NewScheduler wires a scheduler. interval must be positive.
func NewScheduler(journal *Journal, events *eventlog.Log, contexts ContextSource, interval time.Duration, logger *logging.Logger) *Scheduler {
	return &Scheduler{
		journal:  journal,
		events:   events,
		contexts: contexts,
		interval: interval,
		log:      logger,
	}
}

// RunCycle rotates and uploads every context once. Per-context failures are
// logged and skipped; pending segments stay on disk for the next cycle.
func (s *Scheduler) RunCycle(ctx context.Context) {
	for _, c := range s.contexts() {
		s.runContext(ctx, c)
	}
}

func (s *Scheduler) runContext(ctx context.Context, c eventlog.Context) {
	// A failed rotation still leaves previously rotated segments to upload.
	if _, err := s.events.Rotate(c); err != nil {
		s.log.Warn("event log rotation failed",
			"branchId", c.BranchID, "moduleId", c.ModuleID, "error", err)
	}
	segments, err := s.events.ListArchived(c)
	if err != nil {
		s.log.Warn("listing event segments failed",
			"branchId", c.BranchID, "moduleId", c.ModuleID, "error", err)
		return
	}
	for _, segment := range segments {
		count, err := s.journal.UploadSegment(ctx, segment)
		if err != nil {
			s.log.Warn("segment upload failed, keeping segment",
				"branchId", c.BranchID, "moduleId", c.ModuleID, "segment", segment, "error", err)
			return
		}
		if count > 0 {
			s.log.Info("uploaded event segment",
				"branchId", c.BranchID, "moduleId", c.ModuleID, "segment", segment, "entries", count)
		}
	}
}

// Start runs one eager cycle, then cycles on the configured interval until
// Stop or context cancellation.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	stop, done := s.stop, s.done
	s.mu.Unlock()

	s.RunCycle(ctx)

	go func() {
		defer close(done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.RunCycle(ctx)
			case <-stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the cycle goroutine and waits for it to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	stop, done := s.stop, s.done
	s.mu.Unlock()

	close(stop)
	<-done
}
