package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"muxd/internal/config"
)

const userAgent = "muxd/0.1.0"

// Service defines the notification surface exposed to workflow components.
type Service interface {
	NotifyDaemonStarted(ctx context.Context, workerCount int) error
	NotifyJobFailed(ctx context.Context, jobID, errorKind, message string) error
	NotifyQueueDrained(ctx context.Context, processed, failed int, duration time.Duration) error
	NotifyJobsReclaimed(ctx context.Context, count int) error
	NotifyError(ctx context.Context, err error, contextLabel string) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
}

func (n *ntfyService) NotifyDaemonStarted(ctx context.Context, workerCount int) error {
	data := payload{
		title:   "muxd - Started",
		message: fmt.Sprintf("Daemon started with %d workers", workerCount),
		tags:    []string{"muxd", "daemon", "started"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyJobFailed(ctx context.Context, jobID, errorKind, message string) error {
	jobID = strings.TrimSpace(jobID)
	if errorKind = strings.TrimSpace(errorKind); errorKind == "" {
		errorKind = "unknown"
	}
	data := payload{
		title:    "muxd - Job Failed",
		message:  fmt.Sprintf("Job %s failed (%s): %s", jobID, errorKind, strings.TrimSpace(message)),
		tags:     []string{"muxd", "job", "failed"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyQueueDrained(ctx context.Context, processed, failed int, duration time.Duration) error {
	duration = duration.Round(time.Second)
	if duration < 0 {
		duration = 0
	}
	durationText := duration.String()
	if duration == 0 {
		durationText = "0s"
	}

	var title, message string
	if failed == 0 {
		title = "muxd - Queue Drained"
		message = fmt.Sprintf("Queue drained: %d jobs processed in %s", processed, durationText)
	} else {
		title = "muxd - Queue Drained (with errors)"
		message = fmt.Sprintf("Queue drained: %d succeeded, %d failed in %s", processed, failed, durationText)
	}

	data := payload{
		title:   title,
		message: message,
		tags:    []string{"muxd", "queue", "drained"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyJobsReclaimed(ctx context.Context, count int) error {
	data := payload{
		title:   "muxd - Jobs Reclaimed",
		message: fmt.Sprintf("Requeued %d jobs with stale heartbeats", count),
		tags:    []string{"muxd", "queue", "reclaimed"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyError(ctx context.Context, err error, contextLabel string) error {
	var builder strings.Builder
	builder.WriteString("Error")
	if contextLabel = strings.TrimSpace(contextLabel); contextLabel != "" {
		builder.WriteString(" with ")
		builder.WriteString(contextLabel)
	}
	builder.WriteString(": ")
	if err != nil {
		builder.WriteString(strings.TrimSpace(err.Error()))
	} else {
		builder.WriteString("unknown")
	}

	data := payload{
		title:    "muxd - Error",
		message:  builder.String(),
		tags:     []string{"muxd", "error", "alert"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "muxd - Test",
		message:  "Notification system test",
		tags:     []string{"muxd", "test"},
		priority: "low",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) NotifyDaemonStarted(context.Context, int) error { return nil }
func (noopService) NotifyJobFailed(context.Context, string, string, string) error {
	return nil
}
func (noopService) NotifyQueueDrained(context.Context, int, int, time.Duration) error {
	return nil
}
func (noopService) NotifyJobsReclaimed(context.Context, int) error { return nil }
func (noopService) NotifyError(context.Context, error, string) error {
	return nil
}
func (noopService) TestNotification(context.Context) error { return nil }
