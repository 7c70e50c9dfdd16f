package frontend

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/lemonade-sdk/lemonade/pkg/artifact"
	"github.com/lemonade-sdk/lemonade/pkg/inference"
	"github.com/lemonade-sdk/lemonade/pkg/logging"
	"github.com/lemonade-sdk/lemonade/pkg/registry"
	"github.com/lemonade-sdk/lemonade/pkg/router"
	"github.com/lemonade-sdk/lemonade/pkg/store"
	"github.com/lemonade-sdk/lemonade/pkg/telemetry"
)

type stubBackend struct {
	name       string
	startCalls int
}

func (s *stubBackend) Name() string { return s.name }
func (s *stubBackend) EnsureInstalled(ctx context.Context, installRoot string, sink inference.ProgressSink) error {
	return nil
}
func (s *stubBackend) ModelRequiredArtifacts(descriptor inference.ModelDescriptor) []string {
	return nil
}
func (s *stubBackend) UsesExternalModelManagement() bool { return true }
func (s *stubBackend) Start(ctx context.Context, descriptor inference.ModelDescriptor, localPaths map[string]string, config *inference.BackendConfiguration) (*inference.BackendSession, error) {
	s.startCalls++
	return &inference.BackendSession{
		AdapterKind: s.name,
		ModelName:   descriptor.Name,
		Checkpoint:  descriptor.Checkpoint,
		PID:         os.Getpid(), // a PID guaranteed alive for the duration of the test
		Port:        19999,
		StartedAt:   time.Now(),
		HealthState: inference.SessionReady,
	}, nil
}
func (s *stubBackend) Stop(ctx context.Context, session *inference.BackendSession, deadline time.Duration) error {
	return nil
}
func (s *stubBackend) TranslateRequest(endpoint string, incoming []byte, session *inference.BackendSession) ([]byte, error) {
	return incoming, nil
}
func (s *stubBackend) ParseStreamChunk(chunk []byte) []inference.TelemetryRecord { return nil }
func (s *stubBackend) Status() string                                          { return inference.StatusRunning }
func (s *stubBackend) GetDiskUsage() (int64, error)                            { return 0, nil }
func (s *stubBackend) InstalledVersion() string                               { return "" }

func testLogger() logging.Logger {
	return logging.NewLogger(slog.LevelError + 100)
}

func newTestFrontend(t *testing.T) (*Frontend, *stubBackend) {
	t.Helper()
	cacheDir := t.TempDir()
	backend := &stubBackend{name: "npu"}

	catalog := []inference.ModelDescriptor{
		{Name: "test-model", Checkpoint: "org/repo", Recipe: backend.Name()},
	}
	data, err := json.Marshal(catalog)
	if err != nil {
		t.Fatalf("marshal catalog: %v", err)
	}

	reg, err := registry.New(data, cacheDir, map[string]bool{backend.Name(): true}, func(inference.ModelDescriptor) bool { return false })
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	st, err := store.New(cacheDir)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	fetcher := artifact.NewFetcher("", false, testLogger())
	rt := router.New(testLogger(), reg, st, fetcher, map[string]inference.Backend{backend.Name(): backend}, t.TempDir())

	f := New(testLogger(), nil, "", reg, st, rt, telemetry.New(), "localhost", 8000)
	return f, backend
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = strings.NewReader(string(data))
	} else {
		reader = strings.NewReader("")
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthReportsNoModelLoadedInitially(t *testing.T) {
	f, _ := newTestFrontend(t)
	rec := doJSON(t, f.Handler(), http.MethodGet, "/api/v1/health", nil)

	var resp healthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.ModelLoaded != nil {
		t.Errorf("expected no model loaded, got %v", *resp.ModelLoaded)
	}
}

func TestHealthReportsLoadedModelAfterLoad(t *testing.T) {
	f, backend := newTestFrontend(t)
	mux := f.Handler()

	rec := doJSON(t, mux, http.MethodPost, "/api/v1/load", loadRequest{ModelName: "test-model"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from load, got %d: %s", rec.Code, rec.Body.String())
	}
	if backend.startCalls != 1 {
		t.Errorf("expected 1 start call, got %d", backend.startCalls)
	}

	rec = doJSON(t, mux, http.MethodGet, "/api/v0/health", nil)
	var resp healthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.ModelLoaded == nil || *resp.ModelLoaded != "test-model" {
		t.Errorf("expected test-model loaded, got %v", resp.ModelLoaded)
	}
}

func TestModelsListFiltersToDownloadedByDefault(t *testing.T) {
	f, _ := newTestFrontend(t)
	rec := doJSON(t, f.Handler(), http.MethodGet, "/api/v1/models", nil)

	var body struct {
		Data []modelView `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(body.Data) != 0 {
		t.Errorf("expected no downloaded models by default, got %d", len(body.Data))
	}
}

func TestModelsShowAllIncludesCatalogEntries(t *testing.T) {
	f, _ := newTestFrontend(t)
	rec := doJSON(t, f.Handler(), http.MethodGet, "/api/v1/models?show_all=true", nil)

	var body struct {
		Data []modelView `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(body.Data) != 1 || body.Data[0].ID != "test-model" {
		t.Fatalf("expected test-model in catalog, got %+v", body.Data)
	}
}

func TestUnloadAcceptsEmptyBodyAndIsIdempotent(t *testing.T) {
	f, _ := newTestFrontend(t)
	mux := f.Handler()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/unload", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from bodyless unload, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from second unload, got %d", rec.Code)
	}
}

func TestDeleteUnknownModelReturns404(t *testing.T) {
	f, _ := newTestFrontend(t)
	rec := doJSON(t, f.Handler(), http.MethodPost, "/api/v1/delete", deleteRequest{ModelName: "nope"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}

	var body errorEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.Error.Type != "model_not_found" {
		t.Errorf("expected model_not_found, got %q", body.Error.Type)
	}
}

func TestNotFoundHandlerReturnsStructuredError(t *testing.T) {
	f, _ := newTestFrontend(t)
	rec := doJSON(t, f.Handler(), http.MethodGet, "/api/v1/does-not-exist", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}

	var body errorEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.Error.Type != "not_found" || body.Error.Path != "/api/v1/does-not-exist" {
		t.Errorf("unexpected error body: %+v", body.Error)
	}
}

func TestCorsPreflightReturns204(t *testing.T) {
	f, _ := newTestFrontend(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/health", nil)
	rec := httptest.NewRecorder()
	f.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("expected wildcard CORS header")
	}
}

func TestPullRegistersUnknownUserCheckpoint(t *testing.T) {
	f, backend := newTestFrontend(t)
	backend.name = "npu" // unchanged; pull on the NPU-recipe model is external-mgt, so it completes without downloads

	req := pullRequest{ModelName: "user.custom", Checkpoint: "org/other", Recipe: "npu"}
	rec := doJSON(t, f.Handler(), http.MethodPost, "/api/v1/pull", req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	if _, ok := f.registry.Lookup("user.custom"); !ok {
		t.Error("expected user.custom to be registered in the catalog")
	}
}

func TestPullRejectsCheckpointForNonUserPrefixedUnknownModel(t *testing.T) {
	f, _ := newTestFrontend(t)
	req := pullRequest{ModelName: "unknown-model", Checkpoint: "org/other"}
	rec := doJSON(t, f.Handler(), http.MethodPost, "/api/v1/pull", req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestInferenceRejectsMutuallyExclusiveMaxTokenFields(t *testing.T) {
	f, _ := newTestFrontend(t)
	body := map[string]any{
		"model":                 "test-model",
		"max_tokens":            10,
		"max_completion_tokens": 10,
	}
	rec := doJSON(t, f.Handler(), http.MethodPost, "/api/v1/chat/completions", body)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestInferenceReturns404ForUnknownModel(t *testing.T) {
	f, _ := newTestFrontend(t)
	body := map[string]any{"model": "nope", "messages": []any{}}
	rec := doJSON(t, f.Handler(), http.MethodPost, "/api/v1/chat/completions", body)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", rec.Code, rec.Body.String())
	}
}
