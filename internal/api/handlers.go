package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"muxd/internal/orchestrator"
	"muxd/internal/queue"
	"muxd/internal/services"
)

// maxRequestBody caps submission payload size.
const maxRequestBody = 1 << 20

// submitRequest is the merge submission payload. audio_url and audio_urls
// are both accepted; audio_url is kept for single-track submitters.
type submitRequest struct {
	VideoURL   string   `json:"video_url"`
	AudioURL   string   `json:"audio_url"`
	AudioURLs  []string `json:"audio_urls"`
	WebhookURL string   `json:"webhook_url"`
	ID         string   `json:"id"`
	Options    struct {
		Mode   string `json:"mode"`
		Format string `json:"format"`
	} `json:"options"`
}

type submitResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, "unable to read request body")
		return
	}

	var req submitRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, "request body must be valid JSON")
		return
	}

	audioURLs := req.AudioURLs
	if trimmed := strings.TrimSpace(req.AudioURL); trimmed != "" {
		audioURLs = append([]string{trimmed}, audioURLs...)
	}

	job, err := s.manager.Submit(r.Context(), orchestrator.SubmitParams{
		VideoURL:       req.VideoURL,
		AudioURLs:      audioURLs,
		CallbackURL:    req.WebhookURL,
		IdempotencyKey: req.ID,
		Mode:           req.Options.Mode,
		Format:         req.Options.Format,
	})
	if err != nil {
		if errors.Is(err, services.ErrValidation) {
			s.writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		s.writeError(w, r, http.StatusInternalServerError, "failed to enqueue job")
		return
	}

	status := http.StatusAccepted
	if job.Status.IsTerminal() {
		// Idempotent resubmission of an already finished job.
		status = http.StatusOK
	}
	s.writeJSON(w, status, submitResponse{JobID: job.ID, Status: string(job.Status)})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	job, err := s.manager.Status(r.Context(), id)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			s.writeError(w, r, http.StatusNotFound, "no job with id "+id)
			return
		}
		s.writeError(w, r, http.StatusInternalServerError, "failed to load job")
		return
	}
	s.writeJSON(w, http.StatusOK, viewOf(job))
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	job, err := s.manager.Cancel(r.Context(), id)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			s.writeError(w, r, http.StatusNotFound, "no job with id "+id)
			return
		}
		s.writeError(w, r, http.StatusInternalServerError, "failed to cancel job")
		return
	}
	s.writeJSON(w, http.StatusOK, viewOf(job))
}

type queueResponse struct {
	Jobs []jobView `json:"jobs"`
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	var statuses []queue.Status
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			status, ok := queue.ParseStatus(part)
			if !ok {
				s.writeError(w, r, http.StatusBadRequest, "unknown status "+part)
				return
			}
			statuses = append(statuses, status)
		}
	}

	jobs, err := s.manager.List(r.Context(), statuses...)
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, "failed to list jobs")
		return
	}

	views := make([]jobView, 0, len(jobs))
	for _, job := range jobs {
		views = append(views, viewOf(job))
	}
	s.writeJSON(w, http.StatusOK, queueResponse{Jobs: views})
}

type healthResponse struct {
	Status     string `json:"status"`
	Workers    bool   `json:"workers_running"`
	Total      int    `json:"total"`
	Queued     int    `json:"queued"`
	Processing int    `json:"processing"`
	Done       int    `json:"done"`
	Failed     int    `json:"failed"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	summary, err := s.manager.Health(r.Context())
	if err != nil {
		s.writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unhealthy"})
		return
	}
	s.writeJSON(w, http.StatusOK, healthResponse{
		Status:     "ok",
		Workers:    s.manager.Running(),
		Total:      summary.Total,
		Queued:     summary.Queued,
		Processing: summary.Processing,
		Done:       summary.Done,
		Failed:     summary.Failed,
	})
}
