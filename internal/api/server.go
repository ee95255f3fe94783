// Package api exposes the daemon's HTTP surface: merge submission, job
// status and cancellation, queue listing, health, and Prometheus metrics.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"muxd/internal/config"
	"muxd/internal/logging"
	"muxd/internal/orchestrator"
	"muxd/internal/queue"
	"muxd/internal/services"
)

// Server wraps the HTTP listener around an orchestrator manager.
type Server struct {
	cfg     *config.Config
	manager *orchestrator.Manager
	logger  *slog.Logger
	http    *http.Server
	addr    string
}

// NewServer builds the HTTP server and its routes.
func NewServer(cfg *config.Config, manager *orchestrator.Manager, logger *slog.Logger) *Server {
	if logger == nil {
		logger = logging.NewNop()
	}
	s := &Server{
		cfg:     cfg,
		manager: manager,
		logger:  logger.With(logging.String(logging.FieldComponent, "api")),
	}

	router := mux.NewRouter()
	router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	v1 := router.PathPrefix("/v1").Subrouter()
	v1.Use(s.requestIDMiddleware, s.authMiddleware)
	v1.HandleFunc("/video/merge-audio", s.handleSubmit).Methods(http.MethodPost)
	v1.HandleFunc("/jobs/{id}", s.handleStatus).Methods(http.MethodGet)
	v1.HandleFunc("/jobs/{id}", s.handleCancel).Methods(http.MethodDelete)
	v1.HandleFunc("/queue", s.handleQueue).Methods(http.MethodGet)

	s.http = &http.Server{
		Addr:              cfg.Paths.APIBind,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start begins serving on the configured bind address. It returns once the
// listener is bound; serving continues until Shutdown.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return services.Wrap(services.ErrConfiguration, "api", "listen", "bind "+s.http.Addr, err)
	}
	s.addr = listener.Addr().String()
	s.logger.Info("api listening", logging.String("addr", s.addr))

	go func() {
		if serveErr := s.http.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			s.logger.Error("api server stopped unexpectedly", logging.Error(serveErr))
		}
	}()
	return nil
}

// Addr returns the bound address, useful when binding to port 0.
func (s *Server) Addr() string {
	return s.addr
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)
		ctx := services.WithRequestID(r.Context(), requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// authMiddleware enforces the configured API key. When no key is configured
// the API is open, which is only sensible on a loopback bind.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiKey := strings.TrimSpace(s.cfg.Paths.APIKey)
		if apiKey == "" {
			next.ServeHTTP(w, r)
			return
		}
		provided := r.Header.Get("X-API-Key")
		if subtle.ConstantTimeCompare([]byte(provided), []byte(apiKey)) != 1 {
			s.writeError(w, r, http.StatusUnauthorized, "invalid or missing API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Debug("response encode failed", logging.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, message string) {
	if status >= 500 {
		s.logger.Error("request failed",
			logging.String("path", r.URL.Path),
			logging.Int("status", status),
			logging.String("detail", message))
	}
	s.writeJSON(w, status, errorResponse{Error: message})
}

// jobView is the JSON representation of a job returned by the API.
type jobView struct {
	JobID           string             `json:"job_id"`
	Status          string             `json:"status"`
	Inputs          []queue.InputRef   `json:"inputs"`
	Options         queue.MergeOptions `json:"options"`
	ResultURL       string             `json:"result_url,omitempty"`
	ErrorKind       string             `json:"error_kind,omitempty"`
	ErrorMessage    string             `json:"error_message,omitempty"`
	ProgressStage   string             `json:"progress_stage,omitempty"`
	ProgressPercent float64            `json:"progress_percent"`
	Attempts        int                `json:"attempts"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
}

func viewOf(job *queue.Job) jobView {
	return jobView{
		JobID:           job.ID,
		Status:          string(job.Status),
		Inputs:          job.Inputs,
		Options:         job.Options,
		ResultURL:       job.ResultURL,
		ErrorKind:       job.ErrorKind,
		ErrorMessage:    job.ErrorMessage,
		ProgressStage:   job.ProgressStage,
		ProgressPercent: job.ProgressPercent,
		Attempts:        job.Attempts,
		CreatedAt:       job.CreatedAt,
		UpdatedAt:       job.UpdatedAt,
	}
}
