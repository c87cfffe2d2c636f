// Package dashboard provides the admin HTTP server for GoShroud. It listens
// on its own address, separate from the public gateway.
//
// It exposes:
//   - GET  /healthz             – liveness check
//   - GET  /api/metrics         – one metrics snapshot (JSON)
//   - GET  /api/metrics/stream  – SSE stream of live metrics (100 ms ticks)
//   - GET  /api/logs/stream     – SSE stream of log entries, history first
//   - GET  /api/config          – effective configuration (JSON)
//   - POST /api/config          – change log level and gate difficulty live
//   - GET  /api/runtime         – process memory and goroutine counts
//
// All SSE endpoints set appropriate headers so browsers can use EventSource
// without any additional libraries.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/firasghr/GoShroud/config"
	"github.com/firasghr/GoShroud/logger"
	"github.com/firasghr/GoShroud/metrics"
)

// ─── Data Types ───────────────────────────────────────────────────────────────

// MetricsSnapshot is the JSON payload pushed to dashboard clients every tick.
type MetricsSnapshot struct {
	metrics.Snapshot
	Sessions int64 `json:"sessions"`
}

// RuntimeStatus describes the gateway process.
type RuntimeStatus struct {
	MemoryMB   uint64 `json:"memory_mb"`
	Goroutines int    `json:"goroutines"`
	UptimeSec  int64  `json:"uptime_sec"`
}

// LogEntry is a structured log line streamed to the dashboard.
type LogEntry struct {
	Timestamp int64  `json:"ts"`
	Level     string `json:"level"`
	Message   string `json:"message"`
}

// ConfigView is the configuration shown by GET /api/config.
type ConfigView struct {
	Listen           string `json:"listen"`
	LogLevel         string `json:"log_level"`
	SessionBackend   string `json:"session_backend"`
	SessionTTL       string `json:"session_ttl"`
	GateEnabled      bool   `json:"gate_enabled"`
	Difficulty       int    `json:"difficulty"`
	TokenLength      int    `json:"token_length"`
	MinLiteralLength int    `json:"min_literal_length"`
	RenameGlobals    bool   `json:"rename_globals"`
	VerifyScripts    bool   `json:"verify_scripts"`
	OnError          string `json:"on_error"`
	LinkPrefix       string `json:"link_prefix"`
	TunnelPrefix     string `json:"tunnel_prefix"`
}

// ConfigPayload is the subset of Config fields that can be hot-updated.
// Zero values leave the field unchanged.
type ConfigPayload struct {
	LogLevel   string `json:"log_level"`
	Difficulty int    `json:"difficulty"`
}

// DifficultySetter is the live knob of the proof-of-work gate.
type DifficultySetter interface {
	SetDifficulty(n int)
}

// ─── Server ───────────────────────────────────────────────────────────────────

// Server provides the admin endpoints.
type Server struct {
	metrics *metrics.Metrics
	cfg     *config.Config
	cfgMu   sync.RWMutex

	log  *logger.Logger
	gate DifficultySetter

	// Live counters updated by the process.
	activeSessions atomic.Int64

	// Log ring buffer (capped at maxLogs).
	logMu    sync.Mutex
	logs     []LogEntry
	logSubs  map[chan LogEntry]struct{}
	logSubMu sync.Mutex

	// Metrics SSE subscribers.
	metricsSubs  map[chan MetricsSnapshot]struct{}
	metricsSubMu sync.Mutex

	router chi.Router
}

const maxLogs = 10_000

// New creates a dashboard Server backed by the given metrics and config.
// cfg is copied; updates made through the API do not touch the caller's
// value.
func New(m *metrics.Metrics, cfg *config.Config) *Server {
	c := *cfg
	s := &Server{
		metrics:     m,
		cfg:         &c,
		logs:        make([]LogEntry, 0, 512),
		logSubs:     make(map[chan LogEntry]struct{}),
		metricsSubs: make(map[chan MetricsSnapshot]struct{}),
	}
	s.router = s.routes()
	return s
}

// Bind attaches the components POST /api/config controls. Either may be
// nil, in which case the matching field is rejected.
func (s *Server) Bind(log *logger.Logger, gate DifficultySetter) {
	s.cfgMu.Lock()
	s.log = log
	s.gate = gate
	s.cfgMu.Unlock()
}

// SetActiveSessions updates the live session count displayed on the dashboard.
func (s *Server) SetActiveSessions(n int64) { s.activeSessions.Store(n) }

// AddLog appends a structured log entry to the ring buffer and fans it out to
// every active SSE /api/logs/stream subscriber. Its signature matches
// logger.Hook.
func (s *Server) AddLog(level, message string) {
	entry := LogEntry{
		Timestamp: time.Now().UnixMilli(),
		Level:     level,
		Message:   message,
	}

	s.logMu.Lock()
	s.logs = append(s.logs, entry)
	if len(s.logs) > maxLogs {
		s.logs = s.logs[len(s.logs)-maxLogs:]
	}
	s.logMu.Unlock()

	s.logSubMu.Lock()
	for ch := range s.logSubs {
		select {
		case ch <- entry:
		default:
			// Slow subscriber – drop rather than block.
		}
	}
	s.logSubMu.Unlock()
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down.
// Open streams end with ctx as well, since every request context derives
// from it.
//
// Timeouts are intentionally generous for an admin listener: SSE and log
// streams are long-lived connections that must not be cut off by short write
// deadlines.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go s.metricsTicker(ctx)

	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      0, // disabled – SSE/log streams are unbounded
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		_ = srv.Shutdown(shutdownCtx)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("dashboard: listen %s: %w", addr, err)
	}
	return nil
}

// ─── Route registration ───────────────────────────────────────────────────────

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(withCORS)

	r.Get("/healthz", s.handleHealth)
	r.Get("/api/metrics", s.handleMetrics)
	r.Get("/api/metrics/stream", s.handleMetricsStream)
	r.Get("/api/logs/stream", s.handleLogsStream)
	r.Get("/api/config", s.handleGetConfig)
	r.Post("/api/config", s.handlePostConfig)
	r.Get("/api/runtime", s.handleRuntime)
	return r
}

// ─── CORS middleware ──────────────────────────────────────────────────────────

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ─── /healthz, /api/metrics, /api/runtime ────────────────────────────────────

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Snapshot: s.metrics.Snapshot(),
		Sessions: s.activeSessions.Load(),
	}
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.snapshot())
}

func (s *Server) handleRuntime(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	writeJSON(w, http.StatusOK, RuntimeStatus{
		MemoryMB:   memStats.Alloc / 1024 / 1024,
		Goroutines: runtime.NumGoroutine(),
		UptimeSec:  int64(s.metrics.Uptime().Seconds()),
	})
}

// ─── /api/metrics/stream ─────────────────────────────────────────────────────

func (s *Server) metricsTicker(ctx context.Context) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		snap := s.snapshot()
		s.metricsSubMu.Lock()
		for ch := range s.metricsSubs {
			select {
			case ch <- snap:
			default:
			}
		}
		s.metricsSubMu.Unlock()
	}
}

func startStream(w http.ResponseWriter) (http.Flusher, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return nil, false
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	return flusher, true
}

func (s *Server) handleMetricsStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := startStream(w)
	if !ok {
		return
	}

	ch := make(chan MetricsSnapshot, 16)
	s.metricsSubMu.Lock()
	s.metricsSubs[ch] = struct{}{}
	s.metricsSubMu.Unlock()

	defer func() {
		s.metricsSubMu.Lock()
		delete(s.metricsSubs, ch)
		s.metricsSubMu.Unlock()
	}()

	// The first frame goes out at once so a client never waits for a tick.
	if err := sseWrite(w, s.snapshot()); err != nil {
		return
	}
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-ch:
			if err := sseWrite(w, snap); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// ─── /api/logs/stream ────────────────────────────────────────────────────────

func (s *Server) handleLogsStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := startStream(w)
	if !ok {
		return
	}

	// Subscribe before copying the history so nothing logged in between is
	// lost; an entry may then appear twice, which the UI tolerates.
	ch := make(chan LogEntry, 256)
	s.logSubMu.Lock()
	s.logSubs[ch] = struct{}{}
	s.logSubMu.Unlock()

	defer func() {
		s.logSubMu.Lock()
		delete(s.logSubs, ch)
		s.logSubMu.Unlock()
	}()

	// Send buffered history first.
	s.logMu.Lock()
	history := make([]LogEntry, len(s.logs))
	copy(history, s.logs)
	s.logMu.Unlock()

	for _, entry := range history {
		if err := sseWrite(w, entry); err != nil {
			return
		}
	}
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case entry := <-ch:
			if err := sseWrite(w, entry); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func sseWrite(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}

// ─── /api/config ─────────────────────────────────────────────────────────────

func (s *Server) handleGetConfig(w http.ResponseWriter, _ *http.Request) {
	s.cfgMu.RLock()
	cfg := *s.cfg
	s.cfgMu.RUnlock()

	writeJSON(w, http.StatusOK, ConfigView{
		Listen:           cfg.Listen,
		LogLevel:         cfg.Log.Level,
		SessionBackend:   cfg.Session.Backend,
		SessionTTL:       cfg.Session.TTL.String(),
		GateEnabled:      cfg.Gate.Enabled,
		Difficulty:       cfg.Gate.Difficulty,
		TokenLength:      cfg.Obfuscation.TokenLength,
		MinLiteralLength: cfg.Obfuscation.MinLiteralLength,
		RenameGlobals:    cfg.Obfuscation.RenameGlobals,
		VerifyScripts:    cfg.Obfuscation.VerifyScripts,
		OnError:          cfg.Obfuscation.OnError,
		LinkPrefix:       cfg.Obfuscation.LinkPrefix,
		TunnelPrefix:     cfg.Tunnel.Prefix,
	})
}

var logLevels = map[string]bool{"debug": true, "info": true, "warn": true, "warning": true, "error": true}

func (s *Server) handlePostConfig(w http.ResponseWriter, r *http.Request) {
	var payload ConfigPayload
	if err := json.NewDecoder(io.LimitReader(r.Body, 4<<10)).Decode(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid JSON"})
		return
	}
	level := strings.ToLower(strings.TrimSpace(payload.LogLevel))

	s.cfgMu.Lock()
	defer s.cfgMu.Unlock()
	switch {
	case level != "" && (!logLevels[level] || s.log == nil):
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": fmt.Sprintf("log_level %q not accepted", payload.LogLevel)})
		return
	case payload.Difficulty != 0 && (payload.Difficulty < 1 || payload.Difficulty > 64 || s.gate == nil):
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": fmt.Sprintf("difficulty %d not accepted", payload.Difficulty)})
		return
	}

	if level != "" {
		s.log.SetLevel(logger.ParseLevel(level))
		s.cfg.Log.Level = level
	}
	if payload.Difficulty != 0 {
		s.gate.SetDifficulty(payload.Difficulty)
		s.cfg.Gate.Difficulty = payload.Difficulty
	}
	s.AddLog("INFO", fmt.Sprintf("config updated via dashboard: log_level=%q difficulty=%d",
		s.cfg.Log.Level, s.cfg.Gate.Difficulty))
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}
