package guide

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync/atomic"
	"time"
)

// ErrDrainInProgress is returned when a drain trigger arrives while a
// cycle is already running. Triggers collapse into the in-flight cycle;
// callers treat this as a benign no-op.
var ErrDrainInProgress = errors.New("drain already in progress")

// DefaultMaxDeadCycles is the number of consecutive cycles an unroutable
// mutation is skipped before it moves to the dead-letter collection.
const DefaultMaxDeadCycles = 10

// lockStaleAfter is how old a drain lock file may be before it is assumed
// to belong to a crashed process and broken.
const lockStaleAfter = 15 * time.Minute

// SyncManager drains the mutation queue against the server, one mutation
// at a time, with per-type endpoint routing. Exactly one drain cycle runs
// at a time: an atomic guard collapses concurrent triggers within the
// process, and a lock file in the data directory keeps a background-sync
// invocation from draining alongside a foreground one.
type SyncManager struct {
	queue    *Queue
	store    Store
	submit   Submitter
	vault    AttachmentVault
	spool    Spool
	routes   map[string]string
	logger   Logger
	clock    Clock
	deviceID string

	maxDeadCycles int64
	lockPath      string // "" disables the cross-process lock (tests)
	draining      atomic.Bool
}

// SyncManagerOptions carries the optional knobs for NewSyncManager.
type SyncManagerOptions struct {
	// Routes overrides the static routing table. Nil means Routes().
	Routes map[string]string

	// MaxDeadCycles overrides DefaultMaxDeadCycles. Zero means default.
	MaxDeadCycles int64

	// LockPath is the cross-process drain lock file. Empty disables it.
	LockPath string
}

// NewSyncManager creates a SyncManager. vault and spool may be nil when
// document mutations are not in use; a document_upload mutation drained
// without them counts as failed-this-cycle.
func NewSyncManager(store Store, queue *Queue, submit Submitter, vault AttachmentVault, spool Spool, logger Logger, clock Clock, deviceID string, opts SyncManagerOptions) *SyncManager {
	routes := opts.Routes
	if routes == nil {
		routes = Routes()
	}
	maxDead := opts.MaxDeadCycles
	if maxDead == 0 {
		maxDead = DefaultMaxDeadCycles
	}
	return &SyncManager{
		queue:         queue,
		store:         store,
		submit:        submit,
		vault:         vault,
		spool:         spool,
		routes:        routes,
		logger:        logger,
		clock:         clock,
		deviceID:      deviceID,
		maxDeadCycles: maxDead,
		lockPath:      opts.LockPath,
	}
}

// Drain runs one drain cycle: fetch all pending mutations and attempt to
// deliver each in FIFO order. Failures are independent — a failing
// mutation is left pending and the loop continues, since later mutations
// may target different entities. Per-mutation errors are converted to
// outcomes and never propagate; the only errors Drain itself returns are
// ErrDrainInProgress and store failures around the cycle bookkeeping.
func (s *SyncManager) Drain(ctx context.Context, trigger string) (*CycleSummary, error) {
	if !s.draining.CompareAndSwap(false, true) {
		return nil, ErrDrainInProgress
	}
	defer s.draining.Store(false)

	if s.lockPath != "" {
		if err := s.acquireLock(); err != nil {
			return nil, err
		}
		defer os.Remove(s.lockPath)
	}

	pending, err := s.queue.ListPending()
	if err != nil {
		return nil, fmt.Errorf("listing pending mutations: %w", err)
	}

	cycleID, err := s.store.StartSyncCycle(trigger, s.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("recording sync cycle: %w", err)
	}

	summary := &CycleSummary{Trigger: trigger}
	for _, m := range pending {
		if err := ctx.Err(); err != nil {
			// Shutdown mid-cycle: everything not yet attempted stays
			// pending for the next trigger.
			break
		}
		summary.Outcomes = append(summary.Outcomes, s.drainOne(ctx, m))
	}

	synced, failed, skipped := int64(summary.Synced()), int64(summary.Failed()), int64(summary.Skipped())
	if err := s.store.FinishSyncCycle(cycleID, s.clock.Now(), synced, failed, skipped); err != nil {
		return nil, fmt.Errorf("finishing sync cycle: %w", err)
	}

	s.logger.Info("drain cycle complete",
		"trigger", trigger, "synced", synced, "failed", failed, "skipped", skipped)
	return summary, nil
}

// drainOne attempts delivery of a single mutation and returns its outcome.
func (s *SyncManager) drainOne(ctx context.Context, m *Mutation) Outcome {
	path, ok := s.routes[m.Type]
	if !ok {
		return s.skipUnroutable(m)
	}

	if m.Type == TypeDocumentUpload {
		if err := s.pushAttachment(m); err != nil {
			s.logger.Warn("attachment upload failed", "mutation", m.ID, "error", err)
			return Outcome{MutationID: m.ID, Type: m.Type, Status: OutcomeFailed, Reason: err.Error()}
		}
	}

	key := s.deviceID + "-" + strconv.FormatInt(m.ID, 10)
	if err := s.submit.Submit(ctx, path, m.Payload, key); err != nil {
		s.logger.Warn("mutation submit failed", "mutation", m.ID, "type", m.Type, "error", err)
		return Outcome{MutationID: m.ID, Type: m.Type, Status: OutcomeFailed, Reason: err.Error()}
	}

	if err := s.queue.MarkSynced(m.ID); err != nil {
		// The server accepted this mutation but the local flag did not
		// stick: the next cycle will resubmit, and the server dedupes by
		// idempotency key.
		s.logger.Error("mark synced failed after server ack", "mutation", m.ID, "error", err)
		return Outcome{MutationID: m.ID, Type: m.Type, Status: OutcomeFailed, Reason: err.Error()}
	}

	if m.Type == TypeDocumentUpload && s.spool != nil {
		if checksum := documentChecksum(m.Payload); checksum != "" {
			s.spool.RemoveContent(checksum)
		}
	}

	s.logger.Debug("mutation synced", "mutation", m.ID, "type", m.Type)
	return Outcome{MutationID: m.ID, Type: m.Type, Status: OutcomeSynced}
}

// skipUnroutable records a skipped cycle for a mutation with no route and
// dead-letters it once the threshold is reached. No request is ever sent.
func (s *SyncManager) skipUnroutable(m *Mutation) Outcome {
	reason := fmt.Sprintf("no route for type %q", m.Type)
	s.logger.Warn("unroutable mutation", "mutation", m.ID, "type", m.Type)

	count, err := s.store.IncrementMutationSkip(m.ID)
	if err != nil {
		return Outcome{MutationID: m.ID, Type: m.Type, Status: OutcomeSkipped, Reason: reason}
	}
	if count >= s.maxDeadCycles {
		if err := s.store.MoveMutationToDeadLetter(m.ID, reason, s.clock.Now()); err != nil {
			s.logger.Error("dead-lettering failed", "mutation", m.ID, "error", err)
		} else {
			s.logger.Warn("mutation dead-lettered", "mutation", m.ID, "type", m.Type, "cycles", count)
		}
	}
	return Outcome{MutationID: m.ID, Type: m.Type, Status: OutcomeSkipped, Reason: reason}
}

// pushAttachment uploads the spooled content for a document mutation to
// the attachment vault before its metadata is posted. The upload is
// idempotent by checksum, so a retry after a failed metadata post is safe.
func (s *SyncManager) pushAttachment(m *Mutation) error {
	if s.vault == nil || s.spool == nil {
		return fmt.Errorf("no attachment vault configured")
	}

	var meta struct {
		Checksum string `json:"checksum"`
		Size     int64  `json:"size"`
	}
	if err := json.Unmarshal(m.Payload, &meta); err != nil {
		return fmt.Errorf("decoding document payload: %w", err)
	}
	if meta.Checksum == "" {
		return fmt.Errorf("document payload has no checksum")
	}

	content, err := s.spool.OpenContent(meta.Checksum)
	if err != nil {
		return fmt.Errorf("opening spooled content: %w", err)
	}
	defer content.Close()

	if err := s.vault.PutAttachment(meta.Checksum, content, meta.Size); err != nil {
		return fmt.Errorf("uploading attachment: %w", err)
	}
	return nil
}

// AutoDrain subscribes the sync manager to a connectivity monitor: each
// offline-to-online transition kicks off a drain on its own goroutine, so
// the monitor's callback never blocks. Collapsed triggers
// (ErrDrainInProgress) are silent; other drain failures are logged and
// never propagate to the monitor.
func AutoDrain(ctx context.Context, monitor Monitor, sm *SyncManager, logger Logger) (unsubscribe func()) {
	return monitor.Subscribe(func() {
		go func() {
			summary, err := sm.Drain(ctx, TriggerOnline)
			if err != nil {
				if !errors.Is(err, ErrDrainInProgress) {
					logger.Error("drain failed", "trigger", TriggerOnline, "error", err)
				}
				return
			}
			logger.Info("drain finished", "trigger", TriggerOnline,
				"synced", summary.Synced(), "failed", summary.Failed(), "skipped", summary.Skipped())
		}()
	})
}

// acquireLock takes the cross-process drain lock, breaking it if the
// holder appears to have crashed.
func (s *SyncManager) acquireLock() error {
	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(s.lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err == nil {
			fmt.Fprintf(f, "%d %s\n", os.Getpid(), s.clock.Now().UTC().Format(time.RFC3339))
			f.Close()
			return nil
		}
		if !os.IsExist(err) {
			return fmt.Errorf("acquiring drain lock: %w", err)
		}

		info, statErr := os.Stat(s.lockPath)
		if statErr == nil && s.clock.Now().Sub(info.ModTime()) > lockStaleAfter {
			s.logger.Warn("breaking stale drain lock", "path", s.lockPath)
			os.Remove(s.lockPath)
			continue
		}
		return ErrDrainInProgress
	}
	return ErrDrainInProgress
}

// documentChecksum extracts the checksum from a document payload, or ""
// if the payload does not carry one.
func documentChecksum(payload json.RawMessage) string {
	var meta struct {
		Checksum string `json:"checksum"`
	}
	if err := json.Unmarshal(payload, &meta); err != nil {
		return ""
	}
	return meta.Checksum
}
