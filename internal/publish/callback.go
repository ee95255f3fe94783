package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"muxd/internal/config"
	"muxd/internal/logging"
	"muxd/internal/queue"
)

// CallbackPayload is the JSON body delivered to a job's webhook URL when the
// job reaches a terminal state.
type CallbackPayload struct {
	JobID        string `json:"job_id"`
	Status       string `json:"status"`
	ResultURL    string `json:"result_url,omitempty"`
	ErrorKind    string `json:"error_kind,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// CallbackSender delivers terminal-state webhooks. Delivery is best effort:
// a failed callback is logged but never changes the job's outcome.
type CallbackSender struct {
	client *http.Client
	logger *slog.Logger
}

// NewCallbackSender builds a sender with the configured request timeout.
func NewCallbackSender(cfg *config.Config, logger *slog.Logger) *CallbackSender {
	if logger == nil {
		logger = logging.NewNop()
	}
	timeout := time.Duration(cfg.Callback.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &CallbackSender{
		client: &http.Client{Timeout: timeout},
		logger: logger.With(logging.String(logging.FieldComponent, "callback")),
	}
}

// Send posts the terminal payload to the job's callback URL. Jobs without a
// callback URL are a no-op.
func (s *CallbackSender) Send(ctx context.Context, job *queue.Job) error {
	callbackURL := strings.TrimSpace(job.CallbackURL)
	if callbackURL == "" {
		return nil
	}

	payload := CallbackPayload{
		JobID:        job.ID,
		Status:       string(job.Status),
		ResultURL:    job.ResultURL,
		ErrorKind:    job.ErrorKind,
		ErrorMessage: job.ErrorMessage,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal callback payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, callbackURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build callback request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver callback: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("callback endpoint returned status %d", resp.StatusCode)
	}

	s.logger.Debug("delivered callback",
		logging.String(logging.FieldJobID, job.ID),
		logging.String("status", string(job.Status)))
	return nil
}
