package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rassi0429/eew4reso/internal/pipeline"
)

// Inbound payloads are small JSON documents; anything larger is abuse.
const maxBodyBytes = 1 << 20

// ReadinessChecker reports whether the service is ready to serve traffic.
type ReadinessChecker interface {
	CheckReadiness(ctx context.Context) error
}

// AlertIngester runs raw alert payloads through the processing pipeline.
type AlertIngester interface {
	ProcessBatch(ctx context.Context, payload []byte) pipeline.BatchReport
}

// Server exposes the alert ingest endpoint plus health, readiness, and
// metrics routes.
type Server struct {
	httpServer *http.Server
	ingester   AlertIngester
	logger     *slog.Logger
}

// NewServer creates an HTTP server with /v1/alerts, /healthz, /readyz,
// and /metrics routes.
func NewServer(addr string, ingester AlertIngester, ready ReadinessChecker, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		ingester: ingester,
		logger:   logger,
	}

	mux.HandleFunc("POST /v1/alerts", s.handleAlerts)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", handleReady(ready))
	mux.Handle("GET /metrics", promhttp.Handler())

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

// handleAlerts ingests one payload, an array, or newline-separated
// payloads. Per-item failures are reported in the response body; only a
// missing body fails the request as a whole.
func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "read request body"})
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "empty request body"})
		return
	}

	report := s.ingester.ProcessBatch(r.Context(), body)

	resp := batchResponse{
		BatchID:   uuid.NewString(),
		Accepted:  report.Accepted,
		Delivered: report.Delivered,
		Queued:    report.Queued,
		Dropped:   report.Dropped,
		Failed:    report.Failed,
		Results:   make([]itemResult, 0, len(report.Results)),
	}
	for i, res := range report.Results {
		item := itemResult{Index: i}
		switch {
		case res.Err != nil:
			item.Status = "failed"
			item.Error = res.Err.Error()
		case res.DropReason != "":
			item.Status = "dropped"
			item.Reason = res.DropReason
		case res.Delivered:
			item.Status = "delivered"
		default:
			item.Status = "queued"
		}
		resp.Results = append(resp.Results, item)
	}

	s.logger.Info("alert batch processed",
		"batch_id", resp.BatchID,
		"accepted", resp.Accepted,
		"delivered", resp.Delivered,
		"queued", resp.Queued,
		"dropped", resp.Dropped,
		"failed", resp.Failed,
	)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func handleReady(checker ReadinessChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := checker.CheckReadiness(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not ready",
				"error":  err.Error(),
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best-effort response write
}

// Ingest response types.

type batchResponse struct {
	BatchID   string       `json:"batchId"`
	Accepted  int          `json:"accepted"`
	Delivered int          `json:"delivered"`
	Queued    int          `json:"queued"`
	Dropped   int          `json:"dropped"`
	Failed    int          `json:"failed"`
	Results   []itemResult `json:"results"`
}

type itemResult struct {
	Index  int    `json:"index"`
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
	Error  string `json:"error,omitempty"`
}
