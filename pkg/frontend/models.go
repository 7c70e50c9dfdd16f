package frontend

import (
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/lemonade-sdk/lemonade/pkg/inference"
)

type loadedModel struct {
	ModelName string `json:"model_name"`
}

type healthResponse struct {
	Status           string        `json:"status"`
	ModelLoaded      *string       `json:"model_loaded"`
	CheckpointLoaded *string       `json:"checkpoint_loaded"`
	AllModelsLoaded  []loadedModel `json:"all_models_loaded"`
}

func (f *Frontend) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", AllModelsLoaded: []loadedModel{}}

	if descriptor, _, ok := f.router.Current(); ok {
		name := descriptor.Name
		checkpoint := descriptor.Checkpoint
		resp.ModelLoaded = &name
		resp.CheckpointLoaded = &checkpoint
		resp.AllModelsLoaded = []loadedModel{{ModelName: name}}
	}

	writeJSON(w, http.StatusOK, resp)
}

type modelView struct {
	ID         string `json:"id"`
	Recipe     string `json:"recipe"`
	Checkpoint string `json:"checkpoint,omitempty"`
	Downloaded bool   `json:"downloaded"`
}

func (f *Frontend) viewOf(d inference.ModelDescriptor) modelView {
	return modelView{
		ID:         d.Name,
		Recipe:     d.Recipe,
		Checkpoint: d.Checkpoint,
		Downloaded: f.registry.IsDownloaded(d.Name),
	}
}

func (f *Frontend) handleModels(w http.ResponseWriter, r *http.Request) {
	showAll := r.URL.Query().Get("show_all") == "true"

	all := f.registry.ListAll()
	views := make([]modelView, 0, len(all))
	for _, d := range all {
		view := f.viewOf(d)
		if !showAll && !view.Downloaded {
			continue
		}
		views = append(views, view)
	}

	writeJSON(w, http.StatusOK, map[string]any{"data": views})
}

func (f *Frontend) handleModelByID(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	d, ok := f.registry.Lookup(id)
	if !ok {
		writeErrorWithPath(w, http.StatusNotFound, "model_not_found", fmt.Sprintf("model %q not found", id), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, f.viewOf(d))
}

type pullRequest struct {
	ModelName  string   `json:"model_name"`
	Stream     bool     `json:"stream"`
	Checkpoint string   `json:"checkpoint,omitempty"`
	Recipe     string   `json:"recipe,omitempty"`
	Labels     []string `json:"labels,omitempty"`
}

// registerCheckpoint registers req.ModelName as a new user.-prefixed
// catalog entry if a checkpoint was supplied and the name is not
// already known.
func (f *Frontend) registerCheckpoint(req pullRequest) error {
	if req.Checkpoint == "" {
		return nil
	}
	if _, ok := f.registry.Lookup(req.ModelName); ok {
		return nil
	}
	if !strings.HasPrefix(req.ModelName, "user.") {
		return fmt.Errorf("checkpoint may only be supplied when registering a new %q-prefixed model", "user.")
	}
	recipe := req.Recipe
	if recipe == "" {
		recipe = "llamacpp"
	}
	return f.registry.RegisterUser(req.ModelName, inference.ModelDescriptor{
		Name:       req.ModelName,
		Checkpoint: req.Checkpoint,
		Recipe:     recipe,
		Labels:     req.Labels,
	})
}

func (f *Frontend) handlePull(w http.ResponseWriter, r *http.Request) {
	var req pullRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return
	}
	if req.ModelName == "" {
		writeErrorWithPath(w, http.StatusBadRequest, "bad_request", "model_name is required", r.URL.Path)
		return
	}

	if err := f.registerCheckpoint(req); err != nil {
		writeErrorWithPath(w, http.StatusBadRequest, "bad_request", err.Error(), r.URL.Path)
		return
	}

	if req.Stream {
		f.streamPull(w, r, req.ModelName)
		return
	}

	if err := f.router.Pull(r.Context(), req.ModelName, nil); err != nil {
		status, kind := mapError(err)
		writeErrorWithPath(w, status, kind, err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "success", "model_name": req.ModelName})
}

// streamPull runs the pull as an SSE event-stream: "progress" events as
// files download, one "complete" (or "error") event at the end.
func (f *Frontend) streamPull(w http.ResponseWriter, r *http.Request, modelName string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "internal", "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	var mu sync.Mutex
	sink := func(event inference.ProgressEvent) {
		mu.Lock()
		defer mu.Unlock()
		writeSSE(w, "progress", event)
		flusher.Flush()
	}

	if err := f.router.Pull(r.Context(), modelName, sink); err != nil {
		writeSSE(w, "error", map[string]string{"message": err.Error()})
		flusher.Flush()
		return
	}

	writeSSE(w, "complete", map[string]string{"model_name": modelName})
	flusher.Flush()
}

type loadRequest struct {
	ModelName    string   `json:"model_name"`
	ContextSize  *int32   `json:"context-size,omitempty"`
	RuntimeFlags []string `json:"runtime-flags,omitempty"`
	KeepAlive    *string  `json:"keep_alive,omitempty"`
}

func buildConfig(contextSize *int32, runtimeFlags []string, keepAlive *string) (*inference.BackendConfiguration, error) {
	config := &inference.BackendConfiguration{
		ContextSize:  contextSize,
		RuntimeFlags: runtimeFlags,
	}
	if keepAlive != nil {
		ka, err := inference.ParseKeepAlive(*keepAlive)
		if err != nil {
			return nil, err
		}
		config.KeepAlive = &ka
	}
	return config, nil
}

func (f *Frontend) handleLoad(w http.ResponseWriter, r *http.Request) {
	var req loadRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return
	}
	if req.ModelName == "" {
		writeErrorWithPath(w, http.StatusBadRequest, "bad_request", "model_name is required", r.URL.Path)
		return
	}

	descriptor, ok := f.registry.Lookup(req.ModelName)
	if !ok {
		writeErrorWithPath(w, http.StatusNotFound, "model_not_found", fmt.Sprintf("model %q not found", req.ModelName), r.URL.Path)
		return
	}
	if len(req.RuntimeFlags) > 0 {
		if err := inference.ValidateRuntimeFlags(descriptor.Recipe, req.RuntimeFlags); err != nil {
			writeErrorWithPath(w, http.StatusBadRequest, "bad_request", err.Error(), r.URL.Path)
			return
		}
	}

	config, err := buildConfig(req.ContextSize, req.RuntimeFlags, req.KeepAlive)
	if err != nil {
		writeErrorWithPath(w, http.StatusBadRequest, "bad_request", err.Error(), r.URL.Path)
		return
	}

	session, err := f.router.Load(r.Context(), req.ModelName, config, nil)
	if err != nil {
		status, kind := mapError(err)
		writeErrorWithPath(w, status, kind, err.Error(), r.URL.Path)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "success",
		"model_name": req.ModelName,
		"port":       session.Port,
	})
}

// handleUnload is always idempotent and always 200, and must not choke
// on a request with no body or Content-Type header — it never reads the
// body at all.
func (f *Frontend) handleUnload(w http.ResponseWriter, r *http.Request) {
	if err := f.router.Unload(r.Context()); err != nil {
		f.log.Warn("error during unload", "error", err)
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

type deleteRequest struct {
	ModelName string `json:"model_name"`
}

func (f *Frontend) handleDelete(w http.ResponseWriter, r *http.Request) {
	var req deleteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return
	}
	if req.ModelName == "" {
		writeErrorWithPath(w, http.StatusBadRequest, "bad_request", "model_name is required", r.URL.Path)
		return
	}

	descriptor, ok := f.registry.Lookup(req.ModelName)
	if !ok {
		writeErrorWithPath(w, http.StatusNotFound, "model_not_found", fmt.Sprintf("model %q not found", req.ModelName), r.URL.Path)
		return
	}

	if current, _, ok := f.router.Current(); ok && current.Name == req.ModelName {
		if err := f.router.Unload(r.Context()); err != nil {
			writeErrorWithPath(w, http.StatusInternalServerError, "internal", err.Error(), r.URL.Path)
			return
		}
	}

	if descriptor.Checkpoint != "" {
		repoID, _ := inference.SplitCheckpoint(descriptor.Checkpoint)
		if err := f.store.Delete(repoID); err != nil {
			writeErrorWithPath(w, http.StatusInternalServerError, "internal", err.Error(), r.URL.Path)
			return
		}
	}

	if descriptor.IsUser() {
		if err := f.registry.UnregisterUser(req.ModelName); err != nil {
			writeErrorWithPath(w, http.StatusInternalServerError, "internal", err.Error(), r.URL.Path)
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}
