// Package server exposes the HTTP trigger surface: a batch/digest trigger on
// POST /, Prometheus metrics, and a health probe.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/snapvault/snapvault/pkg/engine"
	"github.com/snapvault/snapvault/pkg/telemetry"
)

// Runner is the pipeline surface the server triggers. Implemented by the
// application wiring in cmd/snapvault.
type Runner interface {
	// RunBatch runs one processing batch.
	RunBatch(ctx context.Context) (*engine.BatchSummary, error)

	// RunDigest fires one digest action.
	RunDigest(ctx context.Context, kind engine.DigestKind) error
}

// HealthChecker reports whether the journal is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

type Server struct {
	runner  Runner
	health  HealthChecker
	metrics http.Handler
	httpSrv *http.Server
}

func New(addr string, runner Runner, health HealthChecker, metrics http.Handler) *Server {
	s := &Server{
		runner:  runner,
		health:  health,
		metrics: metrics,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleTrigger)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", metrics)

	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler exposes the mux for tests.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	}
}

type triggerRequest struct {
	Action string `json:"action"`
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req triggerRequest
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err == nil && len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"status": "error",
				"error":  "invalid JSON body",
			})
			return
		}
	}

	switch req.Action {
	case "", "process":
		s.runBatch(w, r)
	case string(engine.DigestMorningBriefing), string(engine.DigestNudge), string(engine.DigestEveningReview):
		s.runDigest(w, r, engine.DigestKind(req.Action))
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"status": "error",
			"error":  "unknown action: " + req.Action,
		})
	}
}

func (s *Server) runBatch(w http.ResponseWriter, r *http.Request) {
	summary, err := s.runner.RunBatch(r.Context())
	if err != nil && summary == nil {
		s.writeError(w, r, err)
		return
	}

	status := "ok"
	if err != nil {
		// An aborted batch still reports what it got through.
		status = "error"
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    status,
		"found":     summary.Found,
		"processed": summary.Processed,
		"partial":   summary.Partial,
		"failed":    summary.Failed,
		"skipped":   summary.Skipped,
		"results":   summary.Results,
	})
}

func (s *Server) runDigest(w http.ResponseWriter, r *http.Request, kind engine.DigestKind) {
	if err := s.runner.RunDigest(r.Context(), kind); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "sent",
		"kind":   string(kind),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if err := s.health.HealthCheck(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	telemetry.FromContext(r.Context()).WithError(err).Error("trigger failed")

	code := http.StatusInternalServerError
	if engine.IsAuth(err) {
		code = http.StatusBadGateway
	}
	writeJSON(w, code, map[string]string{
		"status": "error",
		"error":  err.Error(),
	})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
