// Package inference defines the data model and backend-adapter contract
// shared by the router and the two concrete inference engines.
package inference

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// BackendMode encodes the mode in which a backend should operate.
type BackendMode uint8

const (
	// BackendModeCompletion indicates that the backend should run in chat
	// completion mode.
	BackendModeCompletion BackendMode = iota
	// BackendModeEmbedding indicates that the backend should run in embedding
	// mode.
	BackendModeEmbedding
	// BackendModeReranking indicates that the backend should run in
	// reranking mode.
	BackendModeReranking
)

// Backend status constants for standardized status reporting.
const (
	StatusRunning      = "Running"
	StatusError        = "Error"
	StatusNotInstalled = "Not Installed"
	StatusInstalling   = "Installing"
)

// FormatStatus formats a backend status with optional details.
func FormatStatus(statusType, details string) string {
	if details == "" {
		return statusType
	}
	return statusType + ": " + details
}

// ParseStatus splits a formatted status string into type and details.
func ParseStatus(status string) (statusType, details string) {
	if status == "" {
		return StatusNotInstalled, ""
	}
	for _, prefix := range []string{StatusRunning, StatusError, StatusNotInstalled, StatusInstalling} {
		if status == prefix {
			return prefix, ""
		}
		if d, found := strings.CutPrefix(status, prefix+": "); found {
			return prefix, d
		}
	}
	return StatusError, status
}

func FormatRunning(details string) string      { return FormatStatus(StatusRunning, details) }
func FormatError(details string) string        { return FormatStatus(StatusError, details) }
func FormatNotInstalled(details string) string  { return FormatStatus(StatusNotInstalled, details) }
func FormatInstalling(details string) string    { return FormatStatus(StatusInstalling, details) }

// String implements Stringer.String for BackendMode.
func (m BackendMode) String() string {
	switch m {
	case BackendModeCompletion:
		return "completion"
	case BackendModeEmbedding:
		return "embedding"
	case BackendModeReranking:
		return "reranking"
	default:
		return "unknown"
	}
}

func (m BackendMode) MarshalJSON() ([]byte, error) {
	return []byte(`"` + m.String() + `"`), nil
}

func (m *BackendMode) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	mode, ok := ParseBackendMode(s)
	if !ok {
		return fmt.Errorf("unknown backend mode: %q", s)
	}
	*m = mode
	return nil
}

// ParseBackendMode converts a string mode to BackendMode.
func ParseBackendMode(mode string) (BackendMode, bool) {
	switch mode {
	case "completion":
		return BackendModeCompletion, true
	case "embedding":
		return BackendModeEmbedding, true
	case "reranking":
		return BackendModeReranking, true
	default:
		return BackendModeCompletion, false
	}
}

// KeepAlive is a duration controlling how long a model stays loaded in
// memory. JSON representation uses Go duration strings (e.g. "5m", "1h")
// plus the special value "-1" (never unload). A nil *KeepAlive means use
// the default (5 minutes).
type KeepAlive time.Duration

const (
	KeepAliveDefault   = KeepAlive(5 * time.Minute)
	KeepAliveImmediate = KeepAlive(0)
	KeepAliveForever   = KeepAlive(-1)
)

func (d KeepAlive) Duration() time.Duration { return time.Duration(d) }

func (d KeepAlive) MarshalJSON() ([]byte, error) {
	if d == KeepAliveForever {
		return json.Marshal("-1")
	}
	return json.Marshal(time.Duration(d).String())
}

func (d *KeepAlive) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseKeepAlive(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// ParseKeepAlive converts a keep_alive string to a KeepAlive value.
func ParseKeepAlive(s string) (KeepAlive, error) {
	if s == "0" {
		return KeepAliveImmediate, nil
	}
	if s == "-1" {
		return KeepAliveForever, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid keep_alive duration %q: %w", s, err)
	}
	if d < 0 {
		return KeepAliveForever, nil
	}
	return KeepAlive(d), nil
}

// BackendConfiguration carries the per-load overrides a caller of
// Router.Load may supply (the "options" argument of BackendAdapter.start).
type BackendConfiguration struct {
	ContextSize  *int32     `json:"context-size,omitempty"`
	RuntimeFlags []string   `json:"runtime-flags,omitempty"`
	KeepAlive    *KeepAlive `json:"keep_alive,omitempty"`
}

// RequiredMemory is an advisory estimate of the resources a model needs.
type RequiredMemory struct {
	RAM  uint64
	VRAM uint64
}

// ModelDescriptor is a catalog entry: the unit the ModelRegistry indexes
// and the Router loads by name.
type ModelDescriptor struct {
	Name            string   `json:"name"`
	Checkpoint      string   `json:"checkpoint"`
	Recipe          string   `json:"recipe"`
	Labels          []string `json:"labels,omitempty"`
	MMProj          string   `json:"mmproj,omitempty"`
	MaxPromptLength int      `json:"max_prompt_length,omitempty"`
	SizeEstimate    int64    `json:"size_estimate,omitempty"`
}

// IsUser reports whether this descriptor belongs to the user catalog
// (name prefixed "user.").
func (m ModelDescriptor) IsUser() bool {
	return strings.HasPrefix(m.Name, "user.")
}

// SplitCheckpoint splits a "org/repo" or "org/repo:variant" checkpoint string
// into its repo id and optional variant token.
func SplitCheckpoint(checkpoint string) (repoID, variant string) {
	repoID, variant, found := strings.Cut(checkpoint, ":")
	if !found {
		return repoID, ""
	}
	return repoID, variant
}

// BackendSessionState is the lifecycle state of a BackendSession.
type BackendSessionState string

const (
	SessionStarting BackendSessionState = "Starting"
	SessionReady    BackendSessionState = "Ready"
	SessionServing  BackendSessionState = "Serving"
	SessionStopping BackendSessionState = "Stopping"
	SessionStopped  BackendSessionState = "Stopped"
	SessionFailed   BackendSessionState = "Failed"
)

// BackendSession describes the single active backend process.
type BackendSession struct {
	AdapterKind   string
	ModelName     string
	Checkpoint    string
	VariantFile   string
	PID           int
	Port          int
	StartedAt     time.Time
	HealthState   BackendSessionState
	LastTelemetry *TelemetryRecord
}

// TelemetryRecord normalizes per-request metrics across adapters.
type TelemetryRecord struct {
	InputTokens     *int64    `json:"input_tokens,omitempty"`
	OutputTokens    *int64    `json:"output_tokens,omitempty"`
	TTFTSeconds     *float64  `json:"ttft_seconds,omitempty"`
	DecodeTPS       *float64  `json:"decode_tps,omitempty"`
	DecodeTokenTime []float64 `json:"decode_token_times,omitempty"`
	FinishReason    string    `json:"finish_reason,omitempty"`
}

// ProgressSink receives incremental install/download progress events.
type ProgressSink func(event ProgressEvent)

// ProgressEvent is emitted by ensure_installed and the artifact fetcher.
type ProgressEvent struct {
	File            string  `json:"file"`
	FileIndex       int     `json:"file_index"`
	TotalFiles      int     `json:"total_files"`
	BytesDownloaded int64   `json:"bytes_downloaded"`
	BytesTotal      int64   `json:"bytes_total"`
	Percent         float64 `json:"percent"`
}

// Backend is the polymorphic interface implemented by the two concrete
// inference engines (general CPU/GPU engine, NPU engine). Implementations
// need not be safe for concurrent invocation of these methods, though the
// underlying server they start must support concurrent API requests.
type Backend interface {
	// Name returns the recipe tag this adapter handles (e.g. "llamacpp",
	// "npu"). It must be all lowercase.
	Name() string

	// EnsureInstalled makes sure the backend's engine binary is present
	// under installRoot, downloading/extracting it if necessary, and
	// reports progress on sink (which may be nil).
	EnsureInstalled(ctx context.Context, installRoot string, sink ProgressSink) error

	// ModelRequiredArtifacts returns the file-name patterns this backend
	// needs materialized on disk before Start can succeed. An empty slice
	// means the backend manages its own model acquisition (see
	// UsesExternalModelManagement).
	ModelRequiredArtifacts(descriptor ModelDescriptor) []string

	// UsesExternalModelManagement reports whether this backend downloads
	// its own model weights (true) rather than relying on the gateway's
	// ArtifactFetcher/ArtifactStore (false).
	UsesExternalModelManagement() bool

	// Start launches the backend process for descriptor, using the
	// materialized local file paths (keyed by relative path), and blocks
	// until the backend's own health endpoint answers successfully or the
	// context is cancelled / a deadline elapses. It must not return a
	// session until the backend is ready to serve.
	Start(ctx context.Context, descriptor ModelDescriptor, localPaths map[string]string, config *BackendConfiguration) (*BackendSession, error)

	// Stop terminates the process behind session, first gracefully and
	// then forcibly once deadline elapses.
	Stop(ctx context.Context, session *BackendSession, deadline time.Duration) error

	// TranslateRequest rewrites an incoming gateway-level JSON body for
	// the given OpenAI-style endpoint ("chat/completions", "completions",
	// "embeddings", "rerank") into the backend's own dialect.
	TranslateRequest(endpoint string, incoming []byte, session *BackendSession) ([]byte, error)

	// ParseStreamChunk extracts zero or more telemetry fragments from a
	// raw chunk of the backend's streaming response. Adapters merge
	// fragments across calls; the final non-nil fragment wins.
	ParseStreamChunk(chunk []byte) []TelemetryRecord

	// Status returns the adapter's installation/run state as a formatted
	// status string (see FormatStatus and the Status* constants).
	Status() string

	// GetDiskUsage returns the on-disk footprint of the backend's
	// installation (not the model weights, which ArtifactStore accounts
	// for separately).
	GetDiskUsage() (int64, error)

	// InstalledVersion reports the engine version EnsureInstalled last
	// installed or verified, or "" if none is tracked (an operator-
	// supplied binary override bypasses version tracking entirely).
	InstalledVersion() string
}
