// Package api serves snapshots, history and alert state as JSON over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Dicklesworthstone/zek/internal/alerts"
	"github.com/Dicklesworthstone/zek/internal/anomaly"
	"github.com/Dicklesworthstone/zek/internal/logger"
	"github.com/Dicklesworthstone/zek/internal/model"
	"github.com/Dicklesworthstone/zek/internal/supervisor"
)

// Source is the read side of the supervisor.
type Source interface {
	Latest() *model.Snapshot
	HistorySince(d time.Duration) []*model.Snapshot
	HistoryAll() []*model.Snapshot
	Stats() supervisor.Stats
}

// Server holds the handlers' dependencies.
type Server struct {
	src    Source
	alerts *alerts.Manager
	logger *slog.Logger
}

// New creates the API. alerts may be nil.
func New(src Source, am *alerts.Manager, l *slog.Logger) *Server {
	return &Server{
		src:    src,
		alerts: am,
		logger: logger.OrDefault(l).With("component", "api"),
	}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/snapshot", s.handleSnapshot)
	mux.HandleFunc("GET /api/history", s.handleHistory)
	mux.HandleFunc("GET /api/processes/tree", s.handleProcessTree)
	mux.HandleFunc("GET /api/system", s.handleSystem)
	mux.HandleFunc("GET /api/alerts", s.handleAlerts)
	mux.HandleFunc("POST /api/alerts", s.handleAddAlert)
	mux.HandleFunc("GET /api/trends", s.handleTrends)
	mux.HandleFunc("GET /api/health", s.handleHealth)
	return s.logRequests(mux)
}

type statusBody struct {
	Status string `json:"status"`
}

type errorBody struct {
	Error string `json:"error"`
}

var noData = statusBody{Status: "no-data-yet"}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap := s.src.Latest()
	if snap == nil {
		s.writeJSON(w, http.StatusServiceUnavailable, noData)
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

// handleHistory returns every retained snapshot, or those within ?since=
// (a Go duration such as 90s or 5m).
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if snaps, ok := s.window(w, r); ok {
		s.writeJSON(w, http.StatusOK, snaps)
	}
}

// handleTrends analyzes the same window as handleHistory.
func (s *Server) handleTrends(w http.ResponseWriter, r *http.Request) {
	if snaps, ok := s.window(w, r); ok {
		s.writeJSON(w, http.StatusOK, anomaly.Analyze(snaps))
	}
}

// window resolves ?since= against history. On a bad value it writes the 400
// and reports false.
func (s *Server) window(w http.ResponseWriter, r *http.Request) ([]*model.Snapshot, bool) {
	raw := r.URL.Query().Get("since")
	if raw == "" {
		return s.src.HistoryAll(), true
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: fmt.Sprintf("invalid since %q: want a non-negative duration like 5m", raw)})
		return nil, false
	}
	return s.src.HistorySince(d), true
}

func (s *Server) handleProcessTree(w http.ResponseWriter, r *http.Request) {
	snap := s.src.Latest()
	if snap == nil {
		s.writeJSON(w, http.StatusServiceUnavailable, noData)
		return
	}
	s.writeJSON(w, http.StatusOK, snap.ProcessForest)
}

func (s *Server) handleSystem(w http.ResponseWriter, r *http.Request) {
	snap := s.src.Latest()
	if snap == nil {
		s.writeJSON(w, http.StatusServiceUnavailable, noData)
		return
	}
	s.writeJSON(w, http.StatusOK, snap.Host)
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	if s.alerts == nil {
		s.writeJSON(w, http.StatusOK, []alerts.Alert{})
		return
	}
	s.writeJSON(w, http.StatusOK, s.alerts.List())
}

// maxRuleBody bounds POST /api/alerts request bodies.
const maxRuleBody = 64 << 10

// handleAddAlert registers the rule in the request body.
func (s *Server) handleAddAlert(w http.ResponseWriter, r *http.Request) {
	if s.alerts == nil {
		s.writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "alerting is not enabled"})
		return
	}
	var rule alerts.Rule
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRuleBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&rule); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: fmt.Sprintf("decode rule: %v", err)})
		return
	}
	switch err := s.alerts.Add(rule); {
	case errors.Is(err, alerts.ErrExists):
		s.writeJSON(w, http.StatusConflict, errorBody{Error: err.Error()})
		return
	case err != nil:
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	s.logger.Info("alert rule added", "alert", rule.Key(), "metric", rule.Metric)
	a, _ := s.alerts.Get(rule.Key())
	s.writeJSON(w, http.StatusCreated, a)
}

type healthBody struct {
	Status string           `json:"status"`
	Stats  supervisor.Stats `json:"stats"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := s.src.Stats()
	body := healthBody{Status: "ok", Stats: st}
	code := http.StatusOK
	switch {
	case !st.Running:
		body.Status, code = "stopped", http.StatusServiceUnavailable
	case st.Ticks == 0:
		body.Status = "starting"
	}
	s.writeJSON(w, code, body)
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("write response", "error", err)
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request", "method", r.Method, "path", r.URL.Path, "took", time.Since(start))
	})
}

// Serve runs an HTTP server on addr until ctx is done, then shuts it down.
func Serve(ctx context.Context, addr string, h http.Handler, l *slog.Logger) error {
	l = logger.OrDefault(l)
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		l.Info("http server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serve %s: %w", addr, err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown %s: %w", addr, err)
	}
	l.Info("http server stopped", "addr", addr)
	return nil
}
