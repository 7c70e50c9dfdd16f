// Package frontend implements the HttpFrontend: the gateway's single
// HTTP listener, dual-registered under /api/v0 and /api/v1 for
// compatibility, with permissive CORS, a structured error envelope, and
// an access log line per finished request.
package frontend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lemonade-sdk/lemonade/pkg/artifact"
	"github.com/lemonade-sdk/lemonade/pkg/inference"
	"github.com/lemonade-sdk/lemonade/pkg/logging"
	"github.com/lemonade-sdk/lemonade/pkg/middleware"
	"github.com/lemonade-sdk/lemonade/pkg/registry"
	"github.com/lemonade-sdk/lemonade/pkg/router"
	"github.com/lemonade-sdk/lemonade/pkg/store"
	"github.com/lemonade-sdk/lemonade/pkg/telemetry"
)

// Version is the gateway's reported version string.
const Version = "0.1.0"

// maxRequestBodySize bounds JSON/inference request bodies read into
// memory, guarding against a client streaming an unbounded body at the
// server.
const maxRequestBodySize = 10 * 1024 * 1024 // 10 MB

// Frontend is the HttpFrontend.
type Frontend struct {
	log          logging.Logger
	levelVar     *slog.LevelVar
	logLevelPath string

	registry  *registry.Registry
	store     *store.Store
	router    *router.Router
	proxy     *router.StreamingProxy
	telemetry *telemetry.Extractor

	host string
	port int

	requestID atomic.Int64

	mu            sync.Mutex
	defaultConfig inference.BackendConfiguration
	shutdownFunc  func()
}

// New creates a Frontend. levelVar and logLevelPath may be nil/empty if
// the log-level endpoint's runtime mutation and persistence are not
// needed (e.g. in tests).
func New(
	log logging.Logger,
	levelVar *slog.LevelVar,
	logLevelPath string,
	reg *registry.Registry,
	st *store.Store,
	rt *router.Router,
	tel *telemetry.Extractor,
	host string,
	port int,
) *Frontend {
	proxy := router.NewStreamingProxy(log, rt)
	proxy.OnBackendError = func(w http.ResponseWriter, r *http.Request, err error) {
		writeErrorWithPath(w, http.StatusInternalServerError, "backend_crashed", "backend is not responding: "+err.Error(), r.URL.Path)
	}

	return &Frontend{
		log:          log,
		levelVar:     levelVar,
		logLevelPath: logLevelPath,
		registry:     reg,
		store:        st,
		router:       rt,
		proxy:        proxy,
		telemetry:    tel,
		host:         host,
		port:         port,
	}
}

// SetShutdownFunc installs the callback invoked after /internal/shutdown
// has unloaded the backend and responded to the caller. Typically wired
// by the serve command to stop the http.Server's listener.
func (f *Frontend) SetShutdownFunc(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shutdownFunc = fn
}

// Handler builds the complete, middleware-wrapped http.Handler: CORS,
// request-id tagging, and access logging around a ServeMux with every
// endpoint registered under both /api/v0 and /api/v1.
func (f *Frontend) Handler() http.Handler {
	mux := http.NewServeMux()

	f.register(mux, "GET", "/health", f.handleHealth)
	f.register(mux, "GET", "/models", f.handleModels)
	f.register(mux, "GET", "/models/{id}", f.handleModelByID)
	f.register(mux, "POST", "/pull", f.handlePull)
	f.register(mux, "POST", "/load", f.handleLoad)
	f.register(mux, "POST", "/unload", f.handleUnload)
	f.register(mux, "POST", "/delete", f.handleDelete)
	f.register(mux, "POST", "/chat/completions", f.handleInference("chat/completions"))
	f.register(mux, "POST", "/completions", f.handleInference("completions"))
	f.register(mux, "POST", "/embeddings", f.handleInference("embeddings"))
	f.register(mux, "POST", "/rerank", f.handleInference("rerank"))
	f.register(mux, "GET", "/stats", f.handleStats)
	f.register(mux, "GET", "/system-info", f.handleSystemInfo)
	f.register(mux, "POST", "/params", f.handleParams)
	f.register(mux, "POST", "/log-level", f.handleLogLevel)

	mux.HandleFunc("POST /internal/shutdown", f.handleShutdown)
	mux.HandleFunc("/", f.handleNotFound)

	return middleware.CorsMiddleware(f.accessLog(f.withRequestID(mux)))
}

// register wires the same handler under both compatibility prefixes.
func (f *Frontend) register(mux *http.ServeMux, method, path string, handler http.HandlerFunc) {
	mux.HandleFunc(method+" /api/v0"+path, handler)
	mux.HandleFunc(method+" /api/v1"+path, handler)
}

func (f *Frontend) handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeErrorWithPath(w, http.StatusNotFound, "not_found", "no such endpoint", r.URL.Path)
}

// loadConfig returns a copy of the in-memory default BackendConfiguration
// set via POST /params, applied whenever an inference request auto-loads
// a model without its own overrides.
func (f *Frontend) loadConfig() *inference.BackendConfiguration {
	f.mu.Lock()
	defer f.mu.Unlock()
	cfg := f.defaultConfig
	return &cfg
}

// requestIDKey is the context key under which withRequestID stashes the
// per-request monotonic counter value used in access log lines.
type requestIDKey struct{}

func (f *Frontend) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := f.requestID.Add(1)
		ctx := context.WithValue(r.Context(), requestIDKey{}, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestIDFromContext(ctx context.Context) int64 {
	if id, ok := ctx.Value(requestIDKey{}).(int64); ok {
		return id
	}
	return 0
}

// statusRecorder captures the status code written so the access log can
// report it; http.ResponseWriter alone does not expose it after the
// fact.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (f *Frontend) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		f.log.Info("request",
			"id", requestIDFromContext(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
	})
}

// decodeJSON reads and unmarshals r's body into v, capped at
// maxRequestBodySize. An empty body is accepted as a no-op (several
// endpoints, notably unload, must work without one). On error it has
// already written the response; callers should simply return.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBodySize))
	if err != nil {
		writeErrorWithPath(w, http.StatusBadRequest, "bad_request", "request too large", r.URL.Path)
		return err
	}
	if len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, v); err != nil {
		writeErrorWithPath(w, http.StatusBadRequest, "bad_request", "invalid JSON body", r.URL.Path)
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorEnvelope struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Path    string `json:"path,omitempty"`
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, errorEnvelope{Error: errorDetail{Message: message, Type: kind}})
}

func writeErrorWithPath(w http.ResponseWriter, status int, kind, message, path string) {
	writeJSON(w, status, errorEnvelope{Error: errorDetail{Message: message, Type: kind, Path: path}})
}

// mapError translates a Router error into its HTTP status/kind pair.
// Anything unrecognized is "internal"/500.
func mapError(err error) (status int, kind string) {
	switch {
	case errors.Is(err, router.ErrModelNotFound):
		return http.StatusNotFound, "model_not_found"
	case errors.Is(err, router.ErrNoModelLoaded):
		return http.StatusNotFound, "model_not_found"
	case errors.Is(err, router.ErrBackendNotFound):
		return http.StatusServiceUnavailable, "backend_start_failed"
	case errors.Is(err, router.ErrBackendCrashed):
		return http.StatusInternalServerError, "backend_crashed"
	case errors.Is(err, router.ErrModelInvalidated):
		return http.StatusConflict, "model_invalidated"
	case errors.Is(err, artifact.ErrOffline):
		return http.StatusServiceUnavailable, "offline_cache_miss"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

// systemInfo returns static process information for GET /system-info.
type systemInfo struct {
	OS      string `json:"os"`
	Arch    string `json:"arch"`
	Version string `json:"version"`
	Host    string `json:"host"`
	Port    int    `json:"port"`
}

func (f *Frontend) handleSystemInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, systemInfo{
		OS:      runtime.GOOS,
		Arch:    runtime.GOARCH,
		Version: Version,
		Host:    f.host,
		Port:    f.port,
	})
}

func (f *Frontend) handleStats(w http.ResponseWriter, r *http.Request) {
	if rec := f.telemetry.LastRecord(); rec != nil {
		writeJSON(w, http.StatusOK, rec)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

type paramsRequest struct {
	ContextSize  *int32   `json:"context-size,omitempty"`
	RuntimeFlags []string `json:"runtime-flags,omitempty"`
	KeepAlive    *string  `json:"keep_alive,omitempty"`
}

func (f *Frontend) handleParams(w http.ResponseWriter, r *http.Request) {
	var req paramsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return
	}

	config, err := buildConfig(req.ContextSize, req.RuntimeFlags, req.KeepAlive)
	if err != nil {
		writeErrorWithPath(w, http.StatusBadRequest, "bad_request", err.Error(), r.URL.Path)
		return
	}

	f.mu.Lock()
	f.defaultConfig = *config
	f.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

type logLevelRequest struct {
	Level string `json:"level"`
}

func (f *Frontend) handleLogLevel(w http.ResponseWriter, r *http.Request) {
	var req logLevelRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return
	}
	if req.Level == "" {
		writeErrorWithPath(w, http.StatusBadRequest, "bad_request", "level is required", r.URL.Path)
		return
	}

	if f.levelVar != nil {
		f.levelVar.Set(logging.ParseLevel(req.Level))
	}
	if f.logLevelPath != "" {
		if err := os.WriteFile(f.logLevelPath, []byte(req.Level), 0o644); err != nil {
			f.log.Warn("failed to persist log level", "error", err)
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func (f *Frontend) handleShutdown(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()
	if err := f.router.Unload(ctx); err != nil {
		f.log.Warn("error unloading model during shutdown request", "error", err)
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})

	f.mu.Lock()
	fn := f.shutdownFunc
	f.mu.Unlock()
	if fn != nil {
		go fn()
	}
}
