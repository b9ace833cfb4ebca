// Package app is the application layer between the CLI and the guide
// packages. It constructs all dependencies from config and manages their
// lifecycle on Close.
package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"guidesync/internal/config"
	"guidesync/internal/connectivity"
	"guidesync/internal/database"
	"guidesync/internal/encryption"
	"guidesync/internal/guide"
	"guidesync/internal/transport"
	"guidesync/internal/vault"
)

const defaultRetentionDays = 90

// drainLockPath returns the cross-process drain lock location. An
// in-memory store has no data dir, so the lock falls back to the base
// dir; with neither set the lock is disabled rather than dropped into
// the working directory.
func drainLockPath(cfg *config.Config) string {
	switch {
	case cfg.Database.DataDir != "":
		return filepath.Join(cfg.Database.DataDir, "drain.lock")
	case cfg.BaseDir != "":
		return filepath.Join(cfg.BaseDir, "drain.lock")
	default:
		return ""
	}
}

// App wires the store, queue, monitor, sync manager, and service from a
// Config. The caller must call Close when done.
type App struct {
	cfg         *config.Config
	store       guide.Store
	monitor     guide.Monitor
	stopMonitor func()
	queue       *guide.Queue
	sync        *guide.SyncManager
	service     *guide.Service
	logFile     *os.File
	logger      guide.Logger
}

// NewApp creates a fully wired App from the given config.
func NewApp(cfg *config.Config) (*App, error) {
	if cfg.DeviceID == "" {
		return nil, fmt.Errorf("device_id is not set: run `guidesync config init` first")
	}

	logger, logFile, err := newLogger(cfg.LogDir, cfg.DeviceID)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	log := &slogAdapter{l: logger}

	store, err := database.NewStoreFromConfig(cfg.Database, cfg.DeviceID)
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("opening store: %w", err)
	}

	monitor, stopMonitor, err := connectivity.NewMonitorFromConfig(cfg.Connectivity, cfg.Server.BaseURL, log)
	if err != nil {
		store.Close()
		logFile.Close()
		return nil, fmt.Errorf("creating connectivity monitor: %w", err)
	}

	av, err := vault.NewVaultFromConfig(cfg.Vault)
	if err != nil {
		stopMonitor()
		store.Close()
		logFile.Close()
		return nil, fmt.Errorf("creating attachment vault: %w", err)
	}

	spool, err := vault.NewFileSpool(cfg.Sync.SpoolDir)
	if err != nil {
		stopMonitor()
		store.Close()
		logFile.Close()
		return nil, fmt.Errorf("creating document spool: %w", err)
	}

	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		stopMonitor()
		store.Close()
		logFile.Close()
		return nil, fmt.Errorf("creating encryptor: %w", err)
	}

	client := transport.NewClient(cfg.Server, cfg.DeviceID)
	clock := guide.RealClock{}
	queue := guide.NewQueue(store, clock)

	sm := guide.NewSyncManager(store, queue, client, av, spool, log, clock, cfg.DeviceID, guide.SyncManagerOptions{
		MaxDeadCycles: cfg.Sync.MaxDeadCycles,
		LockPath:      drainLockPath(cfg),
	})

	grace := cfg.Sync.LateGraceMinutes
	if grace == 0 {
		grace = 15
	}
	svc := guide.NewService(store, queue, client, spool, enc, log, clock, guide.UUIDGenerator{},
		time.Duration(grace)*time.Minute, cfg.Sync.LatePenaltyAmount)

	return &App{
		cfg:         cfg,
		store:       store,
		monitor:     monitor,
		stopMonitor: stopMonitor,
		queue:       queue,
		sync:        sm,
		service:     svc,
		logFile:     logFile,
		logger:      log,
	}, nil
}

// Service returns the recorder service for capture operations.
func (a *App) Service() *guide.Service { return a.service }

// GuideID returns the configured guide identity for attendance events.
func (a *App) GuideID() string { return a.cfg.GuideID }

// Online reports the current connectivity signal.
func (a *App) Online() bool { return a.monitor.Online() }

// Sync runs a single drain cycle with the given trigger.
func (a *App) Sync(ctx context.Context, trigger string) (*guide.CycleSummary, error) {
	return a.sync.Drain(ctx, trigger)
}

// Watch drains once if the device is already online, then blocks draining
// on every offline-to-online transition until the context is cancelled or
// an interrupt arrives.
func (a *App) Watch(ctx context.Context) error {
	unsubscribe := guide.AutoDrain(ctx, a.monitor, a.sync, a.logger)
	defer unsubscribe()

	if a.monitor.Online() {
		summary, err := a.sync.Drain(ctx, guide.TriggerStartup)
		if err != nil {
			if err != guide.ErrDrainInProgress {
				a.logger.Error("drain failed", "trigger", guide.TriggerStartup, "error", err)
			}
		} else {
			a.logger.Info("drain finished", "trigger", guide.TriggerStartup,
				"synced", summary.Synced(), "failed", summary.Failed(), "skipped", summary.Skipped())
		}
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sig)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-sig:
		return nil
	}
}

// ListDeadLetters returns mutations parked after repeated unroutable cycles.
func (a *App) ListDeadLetters() ([]*guide.DeadLetter, error) {
	return a.store.ListDeadLetters()
}

// RequeueDeadLetter moves a dead letter back onto the pending queue and
// returns the new mutation ID.
func (a *App) RequeueDeadLetter(id int64) (int64, error) {
	return a.store.RequeueDeadLetter(id)
}

// Prune removes synced mutations older than the configured retention.
func (a *App) Prune() (int64, error) {
	days := a.cfg.Sync.RetentionDays
	if days == 0 {
		days = defaultRetentionDays
	}
	return a.queue.PruneSynced(time.Duration(days) * 24 * time.Hour)
}

// Close stops the monitor and closes the store and log file.
func (a *App) Close() error {
	var firstErr error

	if a.stopMonitor != nil {
		a.stopMonitor()
	}

	if err := a.store.Close(); err != nil {
		firstErr = fmt.Errorf("closing store: %w", err)
	}

	if a.logFile != nil {
		a.logFile.Close()
	}

	return firstErr
}
