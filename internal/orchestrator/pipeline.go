package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"muxd/internal/encode"
	"muxd/internal/logging"
	"muxd/internal/metrics"
	"muxd/internal/queue"
	"muxd/internal/scratch"
	"muxd/internal/services"
)

// processJob drives one claimed job through fetch, encode, and publish and
// records exactly one terminal state.
func (m *Manager) processJob(ctx context.Context, logger *slog.Logger, job *queue.Job) {
	jobCtx, cancelJob := context.WithCancel(ctx)
	defer cancelJob()

	m.mu.Lock()
	m.active[job.ID] = cancelJob
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.active, job.ID)
		delete(m.cancelRequests, job.ID)
		m.mu.Unlock()
	}()

	jobCtx = services.WithJobID(jobCtx, job.ID)
	logger = logger.With(logging.String(logging.FieldJobID, job.ID))
	logger.Info("processing job", logging.String("status", string(job.Status)))

	var hbWG sync.WaitGroup
	hbWG.Add(1)
	go m.runHeartbeat(jobCtx, &hbWG, job.ID)

	failed := m.runPipeline(jobCtx, logger, job)

	cancelJob()
	hbWG.Wait()
	m.noteJobFinished(failed)
}

// runPipeline executes the stages and finalizes the job. It returns true when
// the job ended in the failed state.
func (m *Manager) runPipeline(ctx context.Context, logger *slog.Logger, job *queue.Job) bool {
	workspace, err := scratch.Create(m.cfg.Paths.ScratchDir, job.ID)
	if err != nil {
		m.finalizeFailure(logger, job, queue.ErrorKindInternal, err)
		return true
	}
	defer func() {
		if cleanupErr := workspace.Cleanup(); cleanupErr != nil {
			logger.Warn("scratch cleanup failed", logging.Error(cleanupErr))
		}
	}()

	videoPath, audioPaths, err := m.stageFetch(ctx, logger, job, workspace)
	if err != nil {
		m.failStage(logger, job, "fetch", err)
		return true
	}

	outputPath, err := m.stageEncode(ctx, logger, job, videoPath, audioPaths, workspace)
	if err != nil {
		m.failStage(logger, job, "encode", err)
		return true
	}

	resultURL, err := m.stagePublish(ctx, logger, job, outputPath)
	if err != nil {
		m.failStage(logger, job, "publish", err)
		return true
	}

	m.finalizeSuccess(logger, job, resultURL)
	return false
}

// failStage records a terminal failure for a stage error. A cancellation that
// was never requested through Cancel means the daemon is shutting down; the
// job keeps its processing status so startup recovery or heartbeat reclaim
// requeues it, and no callback fires.
func (m *Manager) failStage(logger *slog.Logger, job *queue.Job, stage string, err error) {
	if services.IsCancellation(err) && !m.cancelRequested(job.ID) {
		logger.Info("job interrupted by shutdown, leaving for requeue",
			logging.String(logging.FieldStage, stage))
		return
	}
	m.finalizeFailure(logger, job, errorKindFor(stage, err), err)
}

// stageFetch downloads every input, retrying transient failures with
// exponential backoff. The job is already in the fetching state when claimed.
func (m *Manager) stageFetch(ctx context.Context, logger *slog.Logger, job *queue.Job, workspace *scratch.Workspace) (string, []string, error) {
	start := time.Now()
	defer func() {
		metrics.StageDuration.WithLabelValues("fetch").Observe(time.Since(start).Seconds())
	}()

	video, ok := job.VideoInput()
	if !ok {
		return "", nil, services.Wrap(services.ErrPermanent, "fetch", "inputs", "job has no video input", nil)
	}
	audios := job.AudioInputs()
	if len(audios) == 0 {
		return "", nil, services.Wrap(services.ErrPermanent, "fetch", "inputs", "job has no audio inputs", nil)
	}

	total := len(audios) + 1
	videoPath := workspace.InputPath("video_input")
	if err := m.fetchWithRetry(ctx, logger, video, videoPath); err != nil {
		return "", nil, err
	}
	m.reportProgress(ctx, logger, job, "Fetching", fmt.Sprintf("downloaded 1 of %d inputs", total), float64(100/total))

	audioPaths := make([]string, 0, len(audios))
	for i, audio := range audios {
		audioPath := workspace.InputPath(fmt.Sprintf("audio_input_%d", i))
		if err := m.fetchWithRetry(ctx, logger, audio, audioPath); err != nil {
			return "", nil, err
		}
		audioPaths = append(audioPaths, audioPath)
		m.reportProgress(ctx, logger, job, "Fetching",
			fmt.Sprintf("downloaded %d of %d inputs", i+2, total),
			float64((i+2)*100/total))
	}

	return videoPath, audioPaths, nil
}

func (m *Manager) fetchWithRetry(ctx context.Context, logger *slog.Logger, ref queue.InputRef, destPath string) error {
	attempts := m.cfg.Fetch.Retries + 1
	if attempts < 1 {
		attempts = 1
	}
	baseDelay := time.Duration(m.cfg.Fetch.RetryDelay) * time.Second
	if baseDelay <= 0 {
		baseDelay = 2 * time.Second
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return services.Wrap(services.ErrCancelled, "fetch", "download", "fetch cancelled", err)
		}

		_, err := m.fetcher.Download(ctx, ref, destPath)
		if err == nil {
			return nil
		}
		lastErr = err
		if !services.IsTransient(err) || attempt == attempts {
			return err
		}

		delay := baseDelay << (attempt - 1)
		logger.Warn("transient fetch failure, retrying",
			logging.Int("attempt", attempt),
			logging.Duration("delay", delay),
			logging.Error(err))
		select {
		case <-ctx.Done():
			return services.Wrap(services.ErrCancelled, "fetch", "download", "fetch cancelled", ctx.Err())
		case <-time.After(delay):
		}
	}
	return lastErr
}

func (m *Manager) stageEncode(ctx context.Context, logger *slog.Logger, job *queue.Job, videoPath string, audioPaths []string, workspace *scratch.Workspace) (string, error) {
	start := time.Now()
	defer func() {
		metrics.StageDuration.WithLabelValues("encode").Observe(time.Since(start).Seconds())
	}()

	if err := m.transition(ctx, logger, job, queue.StatusEncoding, "Encoding", "merging audio into video"); err != nil {
		return "", err
	}

	outputPath := workspace.OutputPath(job.Options.Format)
	result, err := m.encoder.Merge(ctx, encode.MergeRequest{
		VideoPath:  videoPath,
		AudioPaths: audioPaths,
		OutputPath: outputPath,
		Mode:       job.Options.Mode,
	})
	if err != nil {
		return "", err
	}

	logger.Info("merge complete",
		logging.Int64("output_bytes", result.OutputBytes),
		logging.Duration("duration", result.Duration))
	return result.OutputPath, nil
}

func (m *Manager) stagePublish(ctx context.Context, logger *slog.Logger, job *queue.Job, outputPath string) (string, error) {
	start := time.Now()
	defer func() {
		metrics.StageDuration.WithLabelValues("publish").Observe(time.Since(start).Seconds())
	}()

	if err := m.transition(ctx, logger, job, queue.StatusPublishing, "Publishing", "uploading merged output"); err != nil {
		return "", err
	}
	return m.publisher.Publish(ctx, job, outputPath)
}

// transition advances the job's status, honoring a pending cancel first.
func (m *Manager) transition(ctx context.Context, logger *slog.Logger, job *queue.Job, status queue.Status, stage, message string) error {
	if err := ctx.Err(); err != nil {
		return services.Wrap(services.ErrCancelled, stage, "transition", "job cancelled", err)
	}
	job.Status = status
	job.SetProgress(stage, message, job.ProgressPercent)
	if err := m.store.Update(ctx, job); err != nil {
		return services.Wrap(services.ErrTransient, stage, "transition", "persist status", err)
	}
	logger.Info("job stage advanced", logging.String(logging.FieldStage, stage))
	return nil
}

func (m *Manager) reportProgress(ctx context.Context, logger *slog.Logger, job *queue.Job, stage, message string, percent float64) {
	job.SetProgress(stage, message, percent)
	if err := m.store.UpdateProgress(ctx, job); err != nil && ctx.Err() == nil {
		logger.Debug("progress update failed", logging.Error(err))
	}
}

// finalizeSuccess records the done state and fires the callback.
func (m *Manager) finalizeSuccess(logger *slog.Logger, job *queue.Job, resultURL string) {
	// Terminal writes use a fresh context so a cancelled job context cannot
	// block recording the outcome.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	job.SetDone(resultURL)
	if err := m.store.Update(ctx, job); err != nil {
		logger.Error("failed to persist job completion", logging.Error(err))
		return
	}

	metrics.ObserveCompletion(string(queue.StatusDone), "")
	logger.Info("job done",
		logging.String("result_url", resultURL),
		logging.String(logging.FieldEventType, "job_done"))
	m.deliverCallback(ctx, logger, job)
}

// finalizeFailure records the failed state with its error kind, fires the
// callback, and notifies the operator.
func (m *Manager) finalizeFailure(logger *slog.Logger, job *queue.Job, kind string, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	message := queue.CancelledMessage
	if kind != queue.ErrorKindCancelled && cause != nil {
		message = cause.Error()
	}
	job.SetFailed(kind, message)
	if err := m.store.Update(ctx, job); err != nil {
		logger.Error("failed to persist job failure", logging.Error(err))
		return
	}

	metrics.ObserveCompletion(string(queue.StatusFailed), kind)
	logger.Error("job failed",
		logging.String("error_kind", kind),
		logging.Error(cause),
		logging.String(logging.FieldEventType, "job_failed"))

	m.deliverCallback(ctx, logger, job)
	if kind != queue.ErrorKindCancelled {
		if err := m.notifier.NotifyJobFailed(ctx, job.ID, kind, message); err != nil {
			logger.Debug("failure notification failed", logging.Error(err))
		}
	}
}

func (m *Manager) deliverCallback(ctx context.Context, logger *slog.Logger, job *queue.Job) {
	if m.callbacks == nil {
		return
	}
	if err := m.callbacks.Send(ctx, job); err != nil {
		metrics.CallbackFailures.Inc()
		logger.Warn("callback delivery failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the submitter's webhook endpoint"))
	}
}

// runHeartbeat refreshes the job's heartbeat until the job context ends.
func (m *Manager) runHeartbeat(ctx context.Context, wg *sync.WaitGroup, jobID string) {
	defer wg.Done()
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
			if err := m.store.UpdateHeartbeat(ctx, jobID); err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				m.logger.Warn("heartbeat update failed",
					logging.String(logging.FieldJobID, jobID),
					logging.Error(err))
			}
		}
	}
}

// errorKindFor maps a stage failure onto the job error taxonomy.
func errorKindFor(stage string, err error) string {
	if services.IsCancellation(err) {
		return queue.ErrorKindCancelled
	}
	switch stage {
	case "fetch":
		if services.IsTransient(err) {
			return queue.ErrorKindFetchTransient
		}
		return queue.ErrorKindFetchPermanent
	case "encode":
		switch {
		case errors.Is(err, services.ErrTimeout):
			return queue.ErrorKindEncodeTimeout
		case errors.Is(err, services.ErrPermanent), errors.Is(err, services.ErrValidation):
			return queue.ErrorKindEncodeUnsupported
		case errors.Is(err, services.ErrExternalTool):
			return queue.ErrorKindEncodeCrash
		}
		return queue.ErrorKindInternal
	case "publish":
		return queue.ErrorKindPublish
	}
	return queue.ErrorKindInternal
}
