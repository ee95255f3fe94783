package orchestrator

import (
	"context"
	"errors"
	"time"

	"muxd/internal/logging"
	"muxd/internal/metrics"
	"muxd/internal/queue"
)

// Start launches the worker pool and maintenance loops.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("orchestrator already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true

	workerCount := m.cfg.Workflow.WorkerCount
	if workerCount < 1 {
		workerCount = 1
	}
	m.wg.Add(workerCount + 1)
	m.mu.Unlock()

	for i := 0; i < workerCount; i++ {
		go m.runWorker(runCtx, i)
	}
	go m.runMaintenance(runCtx)

	m.logger.Info("orchestrator started", logging.Int("workers", workerCount))
	return nil
}

// Stop terminates background processing and waits for workers to wind down.
// In-flight jobs observe context cancellation and are left in their
// processing status; the next daemon start requeues them.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
	m.logger.Info("orchestrator stopped")
}

func (m *Manager) runWorker(ctx context.Context, index int) {
	defer m.wg.Done()
	logger := m.logger.With(logging.Int("worker", index))

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := m.store.ClaimNext(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("failed to claim next job",
				logging.Error(err),
				logging.String(logging.FieldEventType, "queue_claim_failed"),
				logging.String(logging.FieldErrorHint, "check queue database access"))
			m.waitOrShutdown(ctx, m.errorRetryInterval)
			continue
		}
		if job == nil {
			m.noteQueueIdle(ctx)
			m.waitOrShutdown(ctx, m.pollInterval)
			continue
		}

		m.noteQueueActive()
		m.processJob(ctx, logger, job)
	}
}

// runMaintenance periodically reclaims stale jobs, purges old terminal jobs,
// and refreshes the queue depth gauge.
func (m *Manager) runMaintenance(ctx context.Context) {
	defer m.wg.Done()

	interval := m.heartbeatInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.reclaimStale(ctx)
			m.purgeExpired(ctx)
			m.refreshQueueDepth(ctx)
		}
	}
}

func (m *Manager) reclaimStale(ctx context.Context) {
	if m.heartbeatTimeout <= 0 {
		return
	}
	cutoff := time.Now().UTC().Add(-m.heartbeatTimeout)
	reclaimed, err := m.store.ReclaimStale(ctx, cutoff)
	if err != nil {
		if ctx.Err() == nil {
			m.logger.Warn("reclaim stale jobs failed; stuck jobs may remain",
				logging.Error(err),
				logging.String(logging.FieldEventType, "heartbeat_reclaim_failed"))
		}
		return
	}
	if reclaimed > 0 {
		m.logger.Info("reclaimed stale jobs", logging.Int64("count", reclaimed))
		if err := m.notifier.NotifyJobsReclaimed(ctx, int(reclaimed)); err != nil {
			m.logger.Debug("reclaim notification failed", logging.Error(err))
		}
	}
}

func (m *Manager) purgeExpired(ctx context.Context) {
	retention := m.cfg.RetentionWindow()
	if retention <= 0 {
		return
	}
	cutoff := time.Now().UTC().Add(-retention)
	purged, err := m.store.PurgeTerminal(ctx, cutoff)
	if err != nil {
		if ctx.Err() == nil {
			m.logger.Warn("retention purge failed", logging.Error(err))
		}
		return
	}
	if purged > 0 {
		m.logger.Info("purged expired terminal jobs", logging.Int64("count", purged))
	}
}

func (m *Manager) refreshQueueDepth(ctx context.Context) {
	stats, err := m.store.Stats(ctx)
	if err != nil {
		return
	}
	metrics.QueueDepth.Set(float64(stats[queue.StatusQueued]))
}

func (m *Manager) waitOrShutdown(ctx context.Context, wait time.Duration) {
	if wait <= 0 {
		wait = time.Second
	}
	select {
	case <-ctx.Done():
	case <-time.After(wait):
	}
}

func (m *Manager) noteQueueActive() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.queueActive {
		m.queueActive = true
		m.queueStart = time.Now()
		m.processed = 0
		m.failed = 0
	}
	m.inFlight++
	metrics.JobsInFlight.Inc()
}

func (m *Manager) noteJobFinished(failed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inFlight--
	metrics.JobsInFlight.Dec()
	if failed {
		m.failed++
	} else {
		m.processed++
	}
}

// noteQueueIdle fires the queue-drained notification once all workers go
// idle after a burst of processing.
func (m *Manager) noteQueueIdle(ctx context.Context) {
	m.mu.Lock()
	if !m.queueActive || m.inFlight > 0 {
		m.mu.Unlock()
		return
	}
	processed := m.processed
	failed := m.failed
	elapsed := time.Since(m.queueStart)
	m.queueActive = false
	m.mu.Unlock()

	if processed == 0 && failed == 0 {
		return
	}
	if err := m.notifier.NotifyQueueDrained(ctx, processed, failed, elapsed); err != nil {
		m.logger.Debug("queue drained notification failed", logging.Error(err))
	}
}
