package frontend

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/lemonade-sdk/lemonade/pkg/inference"
)

// inferenceEnvelope extracts just enough of the request body to route
// it: which model to dispatch to, without otherwise caring about the
// endpoint-specific schema (that's the backend's TranslateRequest job).
type inferenceEnvelope struct {
	Model string `json:"model"`
}

// handleInference returns a handler that auto-loads/auto-switches to the
// request's named model and forwards the (untouched) body to it via the
// StreamingProxy, for one of chat/completions, completions, embeddings,
// or rerank.
func (f *Frontend) handleInference(endpoint string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBodySize))
		if err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				writeErrorWithPath(w, http.StatusBadRequest, "bad_request", "request too large", r.URL.Path)
			} else {
				writeErrorWithPath(w, http.StatusInternalServerError, "internal", "failed to read request body", r.URL.Path)
			}
			return
		}

		var raw map[string]json.RawMessage
		if err := json.Unmarshal(body, &raw); err != nil {
			writeErrorWithPath(w, http.StatusBadRequest, "bad_request", "invalid JSON body", r.URL.Path)
			return
		}
		if _, hasMax := raw["max_tokens"]; hasMax {
			if _, hasMaxCompletion := raw["max_completion_tokens"]; hasMaxCompletion {
				writeErrorWithPath(w, http.StatusBadRequest, "bad_request", "max_tokens and max_completion_tokens are mutually exclusive", r.URL.Path)
				return
			}
		}

		var envelope inferenceEnvelope
		if err := json.Unmarshal(body, &envelope); err != nil || envelope.Model == "" {
			writeErrorWithPath(w, http.StatusBadRequest, "bad_request", "model is required", r.URL.Path)
			return
		}

		descriptor, ok := f.registry.Lookup(envelope.Model)
		if !ok {
			writeErrorWithPath(w, http.StatusNotFound, "model_not_found", fmt.Sprintf("model %q not found", envelope.Model), r.URL.Path)
			return
		}

		config := f.loadConfig()
		if len(config.RuntimeFlags) > 0 {
			if err := inference.ValidateRuntimeFlags(descriptor.Recipe, config.RuntimeFlags); err != nil {
				writeErrorWithPath(w, http.StatusBadRequest, "bad_request", err.Error(), r.URL.Path)
				return
			}
		}

		session, err := f.router.Load(r.Context(), envelope.Model, config, nil)
		if err != nil {
			status, kind := mapError(err)
			writeErrorWithPath(w, status, kind, err.Error(), r.URL.Path)
			return
		}

		backend := f.router.Backend()
		if backend == nil {
			writeErrorWithPath(w, http.StatusServiceUnavailable, "backend_start_failed", "backend unavailable", r.URL.Path)
			return
		}

		if err := f.proxy.Forward(w, r, endpoint, body, session, backend); err != nil {
			f.log.Warn("forward inference request failed", "endpoint", endpoint, "model", envelope.Model, "error", err)
		}
		f.telemetry.Record(session.LastTelemetry)
	}
}
