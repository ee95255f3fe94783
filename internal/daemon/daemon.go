// Package daemon assembles the merge service: job store, orchestrator, and
// HTTP API under a single lifecycle with flock-based locking to prevent
// multiple daemon instances sharing one queue database.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"

	"muxd/internal/api"
	"muxd/internal/config"
	"muxd/internal/logging"
	"muxd/internal/notifications"
	"muxd/internal/orchestrator"
	"muxd/internal/queue"
	"muxd/internal/scratch"
)

// Daemon coordinates the background services and enforces single-instance
// execution.
type Daemon struct {
	cfg          *config.Config
	logger       *slog.Logger
	store        *queue.Store
	orchestrator *orchestrator.Manager
	server       *api.Server
	notifier     notifications.Service

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	APIAddr      string
	QueueDBPath  string
	LockFilePath string
	Queue        queue.HealthSummary
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, store *queue.Store, logger *slog.Logger, manager *orchestrator.Manager, server *api.Server) (*Daemon, error) {
	if cfg == nil || store == nil || manager == nil || server == nil {
		return nil, errors.New("daemon requires config, store, orchestrator, and api server")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	lockPath := filepath.Join(cfg.Paths.LogDir, "muxd.lock")
	return &Daemon{
		cfg:          cfg,
		logger:       logger.With(logging.String(logging.FieldComponent, "daemon")),
		store:        store,
		orchestrator: manager,
		server:       server,
		notifier:     notifications.NewService(cfg),
		lockPath:     lockPath,
		lock:         flock.New(lockPath),
	}, nil
}

// Start acquires the daemon lock, recovers interrupted work, and launches
// the orchestrator and API server.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another muxd instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	if err := d.recover(runCtx); err != nil {
		d.release()
		return err
	}

	// The orchestrator must run on runCtx, not the errgroup's context:
	// group.Wait cancels the group context once the start calls return,
	// which would kill the worker pool immediately after startup.
	group, _ := errgroup.WithContext(runCtx)
	group.Go(func() error {
		if err := d.orchestrator.Start(runCtx); err != nil {
			return fmt.Errorf("start orchestrator: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		if err := d.server.Start(); err != nil {
			return fmt.Errorf("start api server: %w", err)
		}
		return nil
	})
	if err := group.Wait(); err != nil {
		d.orchestrator.Stop()
		d.release()
		return err
	}

	d.running.Store(true)
	d.logger.Info("daemon started",
		logging.String("lock", d.lockPath),
		logging.String("api", d.server.Addr()),
		logging.Int("workers", d.cfg.Workflow.WorkerCount))
	if err := d.notifier.NotifyDaemonStarted(runCtx, d.cfg.Workflow.WorkerCount); err != nil {
		d.logger.Debug("start notification failed", logging.Error(err))
	}
	return nil
}

// recover requeues jobs that were in flight when a previous process died and
// sweeps their orphaned scratch directories.
func (d *Daemon) recover(ctx context.Context) error {
	reset, err := d.store.ResetStuckProcessing(ctx)
	if err != nil {
		return fmt.Errorf("reset stuck jobs: %w", err)
	}
	if reset > 0 {
		d.logger.Info("requeued interrupted jobs", logging.Int64("count", reset))
	}

	if err := scratch.Sweep(d.cfg.Paths.ScratchDir, nil); err != nil {
		d.logger.Warn("scratch sweep failed", logging.Error(err))
	}
	return nil
}

// Stop shuts down the API server, drains the worker pool, and releases the
// daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	d.running.Store(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := d.server.Shutdown(shutdownCtx); err != nil {
		d.logger.Warn("api shutdown failed", logging.Error(err))
	}

	d.orchestrator.Stop()
	d.release()
	d.logger.Info("daemon stopped")
}

func (d *Daemon) release() {
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("release lock failed", logging.Error(err))
	}
}

// Status reports current runtime information.
func (d *Daemon) Status(ctx context.Context) (Status, error) {
	summary, err := d.store.Health(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("queue health: %w", err)
	}
	return Status{
		Running:      d.running.Load(),
		APIAddr:      d.server.Addr(),
		QueueDBPath:  d.store.Path(),
		LockFilePath: d.lockPath,
		Queue:        summary,
	}, nil
}
