package orchestrator

import (
	"context"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"muxd/internal/config"
	"muxd/internal/encode"
	"muxd/internal/logging"
	"muxd/internal/metrics"
	"muxd/internal/notifications"
	"muxd/internal/queue"
	"muxd/internal/services"
)

// Fetcher downloads one remote input into a local file.
type Fetcher interface {
	Download(ctx context.Context, ref queue.InputRef, destPath string) (int64, error)
}

// Encoder merges local inputs into an output file.
type Encoder interface {
	Merge(ctx context.Context, req encode.MergeRequest) (encode.MergeResult, error)
}

// Publisher uploads a merged file and returns its result URL.
type Publisher interface {
	Publish(ctx context.Context, job *queue.Job, outputPath string) (string, error)
}

// CallbackSender delivers terminal-state webhooks.
type CallbackSender interface {
	Send(ctx context.Context, job *queue.Job) error
}

// Manager owns the worker pool and the submission surface.
type Manager struct {
	cfg       *config.Config
	store     *queue.Store
	logger    *slog.Logger
	notifier  notifications.Service
	fetcher   Fetcher
	encoder   Encoder
	publisher Publisher
	callbacks CallbackSender

	pollInterval       time.Duration
	errorRetryInterval time.Duration
	heartbeatInterval  time.Duration
	heartbeatTimeout   time.Duration

	mu       sync.Mutex
	running  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	active   map[string]context.CancelFunc
	// cancelRequests marks jobs whose context was cancelled by an explicit
	// Cancel call, as opposed to daemon shutdown.
	cancelRequests map[string]struct{}
	inFlight       int

	queueActive bool
	queueStart  time.Time
	processed   int
	failed      int
}

// Deps bundles the pipeline stages the manager drives. Tests swap in fakes.
type Deps struct {
	Fetcher   Fetcher
	Encoder   Encoder
	Publisher Publisher
	Callbacks CallbackSender
	Notifier  notifications.Service
}

// NewManager constructs a Manager over a job store and stage implementations.
func NewManager(cfg *config.Config, store *queue.Store, logger *slog.Logger, deps Deps) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = notifications.NewService(cfg)
	}
	return &Manager{
		cfg:                cfg,
		store:              store,
		logger:             logger.With(logging.String(logging.FieldComponent, "orchestrator")),
		notifier:           notifier,
		fetcher:            deps.Fetcher,
		encoder:            deps.Encoder,
		publisher:          deps.Publisher,
		callbacks:          deps.Callbacks,
		pollInterval:       time.Duration(cfg.Workflow.QueuePollInterval) * time.Second,
		errorRetryInterval: time.Duration(cfg.Workflow.ErrorRetryInterval) * time.Second,
		heartbeatInterval:  time.Duration(cfg.Workflow.HeartbeatInterval) * time.Second,
		heartbeatTimeout:   time.Duration(cfg.Workflow.HeartbeatTimeout) * time.Second,
		active:             make(map[string]context.CancelFunc),
		cancelRequests:     make(map[string]struct{}),
	}
}

// SubmitParams describes one merge submission.
type SubmitParams struct {
	VideoURL       string
	AudioURLs      []string
	CallbackURL    string
	IdempotencyKey string
	Mode           string
	Format         string
}

// Submit validates a request and enqueues it. Validation failures are
// returned synchronously and never create a job. A duplicate idempotency key
// returns the existing job instead of creating a new one.
func (m *Manager) Submit(ctx context.Context, params SubmitParams) (*queue.Job, error) {
	normalized, err := m.normalizeSubmission(params)
	if err != nil {
		return nil, err
	}

	job, err := m.store.NewJob(ctx, normalized)
	if err != nil {
		if err == queue.ErrDuplicateKey {
			existing, findErr := m.store.FindByIdempotencyKey(ctx, params.IdempotencyKey)
			if findErr != nil {
				return nil, services.Wrap(services.ErrTransient, "submit", "enqueue", "resolve duplicate idempotency key", findErr)
			}
			if existing != nil {
				return existing, nil
			}
		}
		return nil, services.Wrap(services.ErrTransient, "submit", "enqueue", "insert job", err)
	}

	metrics.JobsSubmitted.Inc()
	m.logger.Info("job accepted",
		logging.String(logging.FieldJobID, job.ID),
		logging.Int("inputs", len(job.Inputs)),
		logging.String("mode", job.Options.Mode))
	return job, nil
}

func (m *Manager) normalizeSubmission(params SubmitParams) (queue.NewJobParams, error) {
	videoURL := strings.TrimSpace(params.VideoURL)
	if videoURL == "" {
		return queue.NewJobParams{}, services.Wrap(services.ErrValidation, "submit", "validate", "video_url is required", nil)
	}
	if err := validateSourceURL(videoURL); err != nil {
		return queue.NewJobParams{}, err
	}

	var audioURLs []string
	for _, raw := range params.AudioURLs {
		if trimmed := strings.TrimSpace(raw); trimmed != "" {
			audioURLs = append(audioURLs, trimmed)
		}
	}
	if len(audioURLs) == 0 {
		return queue.NewJobParams{}, services.Wrap(services.ErrValidation, "submit", "validate", "at least one audio_url is required", nil)
	}
	for _, audioURL := range audioURLs {
		if err := validateSourceURL(audioURL); err != nil {
			return queue.NewJobParams{}, err
		}
	}

	callbackURL := strings.TrimSpace(params.CallbackURL)
	if callbackURL != "" {
		parsed, err := url.Parse(callbackURL)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
			return queue.NewJobParams{}, services.Wrap(services.ErrValidation, "submit", "validate", "webhook_url must be an absolute http(s) URL", nil)
		}
	}

	mode := strings.ToLower(strings.TrimSpace(params.Mode))
	if mode == "" {
		mode = m.cfg.Encode.DefaultMode
	}
	switch mode {
	case "replace", "mix":
	default:
		return queue.NewJobParams{}, services.Wrap(services.ErrValidation, "submit", "validate", "mode must be replace or mix", nil)
	}

	format := strings.ToLower(strings.TrimSpace(params.Format))
	if format == "" {
		format = m.cfg.Encode.DefaultFormat
	}
	switch format {
	case "mp4", "mkv":
	default:
		return queue.NewJobParams{}, services.Wrap(services.ErrValidation, "submit", "validate", "format must be mp4 or mkv", nil)
	}

	inputs := make([]queue.InputRef, 0, len(audioURLs)+1)
	inputs = append(inputs, queue.InputRef{URL: videoURL, Role: queue.RoleVideo})
	for _, audioURL := range audioURLs {
		inputs = append(inputs, queue.InputRef{URL: audioURL, Role: queue.RoleAudio})
	}

	return queue.NewJobParams{
		Inputs:         inputs,
		Options:        queue.MergeOptions{Mode: mode, Format: format},
		CallbackURL:    callbackURL,
		IdempotencyKey: strings.TrimSpace(params.IdempotencyKey),
	}, nil
}

func validateSourceURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return services.Wrap(services.ErrValidation, "submit", "validate", "malformed source URL", err)
	}
	switch strings.ToLower(parsed.Scheme) {
	case "http", "https":
		if parsed.Host == "" {
			return services.Wrap(services.ErrValidation, "submit", "validate", "source URL missing host", nil)
		}
	case "s3":
		if parsed.Host == "" || strings.TrimPrefix(parsed.Path, "/") == "" {
			return services.Wrap(services.ErrValidation, "submit", "validate", "s3 source URL must be s3://bucket/key", nil)
		}
	default:
		return services.Wrap(services.ErrValidation, "submit", "validate", "source URL scheme must be http, https, or s3", nil)
	}
	return nil
}

// Status returns the current job record.
func (m *Manager) Status(ctx context.Context, id string) (*queue.Job, error) {
	job, err := m.store.GetByID(ctx, id)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "status", "lookup", "fetch job", err)
	}
	if job == nil {
		return nil, services.Wrap(services.ErrNotFound, "status", "lookup", "no job with id "+id, nil)
	}
	return job, nil
}

// Cancel requests cancellation of a job. Queued jobs fail immediately;
// in-flight jobs are signalled and fail once the worker observes the cancel.
// Cancelling a terminal job is a no-op and returns the job unchanged.
func (m *Manager) Cancel(ctx context.Context, id string) (*queue.Job, error) {
	job, err := m.Status(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status.IsTerminal() {
		return job, nil
	}

	if job.Status == queue.StatusQueued {
		cancelled, err := m.store.CancelQueued(ctx, id)
		if err != nil {
			return nil, services.Wrap(services.ErrTransient, "cancel", "update", "cancel queued job", err)
		}
		if cancelled {
			metrics.ObserveCompletion(string(queue.StatusFailed), queue.ErrorKindCancelled)
			return m.Status(ctx, id)
		}
		// Lost the race with a worker claim; fall through to signal it.
	}

	m.mu.Lock()
	cancelJob, held := m.active[id]
	if held {
		m.cancelRequests[id] = struct{}{}
	}
	m.mu.Unlock()
	if held {
		cancelJob()
		m.logger.Info("cancel signalled to worker", logging.String(logging.FieldJobID, id))
		return m.Status(ctx, id)
	}

	// No worker in this process holds the job (for example after a crash,
	// before reclamation). Fail it directly.
	job.SetFailed(queue.ErrorKindCancelled, queue.CancelledMessage)
	if err := m.store.Update(ctx, job); err != nil {
		return nil, services.Wrap(services.ErrTransient, "cancel", "update", "mark job cancelled", err)
	}
	metrics.ObserveCompletion(string(queue.StatusFailed), queue.ErrorKindCancelled)
	return job, nil
}

// List returns jobs filtered by the given statuses; all jobs when empty.
func (m *Manager) List(ctx context.Context, statuses ...queue.Status) ([]*queue.Job, error) {
	return m.store.List(ctx, statuses...)
}

// Health reports queue readiness for the health endpoint.
func (m *Manager) Health(ctx context.Context) (queue.HealthSummary, error) {
	return m.store.Health(ctx)
}

// cancelRequested reports whether an explicit cancel was issued for the job.
func (m *Manager) cancelRequested(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.cancelRequests[id]
	return ok
}

// Running reports whether the worker pool is active.
func (m *Manager) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}
