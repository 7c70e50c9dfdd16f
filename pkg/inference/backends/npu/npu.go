// Package npu implements the NPU BackendAdapter: a vendored
// Python-hosted engine that manages its own model downloads via a
// `pull` subcommand.
package npu

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/lemonade-sdk/lemonade/pkg/inference"
	"github.com/lemonade-sdk/lemonade/pkg/inference/backends"
	"github.com/lemonade-sdk/lemonade/pkg/inference/backends/engineinstall"
	"github.com/lemonade-sdk/lemonade/pkg/inference/common"
	"github.com/lemonade-sdk/lemonade/pkg/logging"
	"github.com/lemonade-sdk/lemonade/pkg/supervisor"
)

// Name is the recipe tag this adapter handles.
const Name = "npu"

const (
	readyPollInterval = 1 * time.Second
	readyPollAttempts = 180 // 3 minutes: NPU engine startup is slower than llama.cpp's

	// minVersion is the oldest NPU engine package version EnsureInstalled
	// accepts without re-downloading.
	minVersion = "1.4.0"
)

// Backend implements inference.Backend for the NPU engine.
type Backend struct {
	log        logging.Logger
	supervisor *supervisor.Supervisor
	httpClient *http.Client

	pythonPath string
	envDir     string
	binaryPath string // explicit engine entrypoint override, e.g. NPU_SERVER_PATH

	mu         sync.Mutex
	installDir string
}

// New creates the NPU adapter. envDir, when non-empty, is checked for a
// venv-local python3 before falling back to PATH; binaryPath, when
// non-empty, names the engine's module/script entrypoint directly.
func New(log logging.Logger, envDir, binaryPath string) *Backend {
	return &Backend{
		log:        log,
		supervisor: supervisor.New(log),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		envDir:     envDir,
		binaryPath: binaryPath,
	}
}

// Name implements inference.Backend.
func (b *Backend) Name() string { return Name }

// UsesExternalModelManagement implements inference.Backend: the NPU
// engine acquires its own weights through its `pull` subcommand.
func (b *Backend) UsesExternalModelManagement() bool { return true }

// ModelRequiredArtifacts implements inference.Backend: since the engine
// manages its own models, the gateway materializes nothing.
func (b *Backend) ModelRequiredArtifacts(descriptor inference.ModelDescriptor) []string {
	return nil
}

// EnsureInstalled implements inference.Backend. The python interpreter
// itself is always located on the host/venv via FindPythonPath; the
// engine package layered on top of it is downloaded and extracted from
// its vendor release unless binaryPath names an explicit entrypoint
// override, in which case InstalledVersion reports "" thereafter.
func (b *Backend) EnsureInstalled(ctx context.Context, installRoot string, sink inference.ProgressSink) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	path, err := backends.FindPythonPath("", b.envDir)
	if err != nil {
		return fmt.Errorf("locate python for NPU engine: %w", err)
	}
	b.pythonPath = path

	if b.binaryPath != "" {
		return nil
	}

	dir := filepath.Join(installRoot, Name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create install dir: %w", err)
	}
	b.installDir = dir
	entrypoint := filepath.Join(dir, "engine", "server.py")

	release, err := releaseAsset(minVersion)
	if err != nil {
		return err
	}
	if err := engineinstall.Ensure(ctx, b.httpClient, dir, release, minVersion, entrypoint, sink); err != nil {
		return fmt.Errorf("install NPU engine: %w", err)
	}
	b.binaryPath = entrypoint
	return nil
}

// releaseAsset resolves the NPU engine's vendor release asset for the
// running platform. The engine is currently only packaged for Windows
// on x64 hosts with an NPU-capable chipset.
func releaseAsset(version string) (engineinstall.Release, error) {
	if runtime.GOOS != "windows" || runtime.GOARCH != "amd64" {
		return engineinstall.Release{}, fmt.Errorf("no NPU engine package for %s/%s", runtime.GOOS, runtime.GOARCH)
	}
	assetName := fmt.Sprintf("lemonade-npu-engine-v%s-win-x64.zip", version)
	return engineinstall.Release{
		Version: version,
		URL:     fmt.Sprintf("https://github.com/lemonade-sdk/npu-engine/releases/download/v%s/%s", version, assetName),
	}, nil
}

// InstalledVersion implements inference.Backend.
func (b *Backend) InstalledVersion() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.installDir == "" {
		return ""
	}
	return engineinstall.InstalledVersion(b.installDir)
}

// Start implements inference.Backend: pulls the checkpoint if needed,
// then spawns the engine server on a free TCP port.
func (b *Backend) Start(ctx context.Context, descriptor inference.ModelDescriptor, localPaths map[string]string, config *inference.BackendConfiguration) (*inference.BackendSession, error) {
	repoID, variant := inference.SplitCheckpoint(descriptor.Checkpoint)

	if err := b.runPull(ctx, repoID); err != nil {
		return nil, fmt.Errorf("pull checkpoint %s: %w", repoID, err)
	}

	port, err := supervisor.FindFreePort()
	if err != nil {
		return nil, fmt.Errorf("allocate port: %w", err)
	}

	args := []string{b.binaryPath, "serve", "--checkpoint", repoID, "--port", fmt.Sprintf("%d", port)}
	if variant != "" {
		args = append(args, "--variant", variant)
	}
	common.SanitizedArgsLog(b.log, "starting NPU engine", args)

	handle, err := b.supervisor.Spawn(ctx, descriptor.Name, b.pythonPath, args, nil, os.Stdout, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("spawn NPU engine: %w", err)
	}

	session := &inference.BackendSession{
		AdapterKind: Name,
		ModelName:   descriptor.Name,
		Checkpoint:  descriptor.Checkpoint,
		PID:         handle.PID(),
		Port:        port,
		StartedAt:   time.Now(),
		HealthState: inference.SessionStarting,
	}

	if err := b.waitReady(ctx, port); err != nil {
		_ = b.supervisor.SignalKill(handle)
		return nil, fmt.Errorf("NPU engine did not become ready: %w", err)
	}

	session.HealthState = inference.SessionReady
	return session, nil
}

// runPull invokes the engine's own model-management subcommand.
func (b *Backend) runPull(ctx context.Context, repoID string) error {
	cmd := backends.NewPythonCmd(b.pythonPath, b.binaryPath, "pull", repoID)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

func (b *Backend) waitReady(ctx context.Context, port int) error {
	url := fmt.Sprintf("http://127.0.0.1:%d/health", port)
	for i := 0; i < readyPollAttempts; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
		if err == nil {
			if resp, err := b.httpClient.Do(req); err == nil {
				resp.Body.Close()
				if resp.StatusCode == http.StatusOK {
					return nil
				}
			}
		}
		time.Sleep(readyPollInterval)
	}
	return fmt.Errorf("timed out waiting for health endpoint at %s", url)
}

// Stop implements inference.Backend.
func (b *Backend) Stop(ctx context.Context, session *inference.BackendSession, deadline time.Duration) error {
	b.supervisor.KillTree(session.PID, deadline)
	return nil
}

// TranslateRequest implements inference.Backend: the NPU engine already
// accepts the OpenAI chat/completions schema; only the model name needs
// rewriting to the session's checkpoint.
func (b *Backend) TranslateRequest(endpoint string, incoming []byte, session *inference.BackendSession) ([]byte, error) {
	var body map[string]any
	if err := json.Unmarshal(incoming, &body); err != nil {
		return incoming, nil
	}
	body["model"] = session.Checkpoint
	return json.Marshal(body)
}

// usage mirrors the NPU engine's telemetry object, present on the final
// chunk of a streamed response.
type usage struct {
	PrefillDurationTTFT *float64 `json:"prefill_duration_ttft"`
	DecodingSpeedTPS    *float64 `json:"decoding_speed_tps"`
	PromptTokens        *int64   `json:"prompt_tokens"`
	CompletionTokens    *int64   `json:"completion_tokens"`
}

type chunkWithUsage struct {
	Usage   *usage `json:"usage"`
	Choices []struct {
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

const debugChunkPrefix = "ChatCompletionChunk: "

// ParseStreamChunk implements inference.Backend. The engine emits SSE
// "data: {...}" lines like llama.cpp's, plus occasional
// "ChatCompletionChunk: <json>" debug lines on stdout that carry the
// same usage object; both are recognized here since callers may hand
// either stream to this method.
func (b *Backend) ParseStreamChunk(chunk []byte) []inference.TelemetryRecord {
	var records []inference.TelemetryRecord

	scanner := bufio.NewScanner(bytes.NewReader(chunk))
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())

		var payload []byte
		switch {
		case bytes.HasPrefix(line, []byte("data:")):
			payload = bytes.TrimSpace(bytes.TrimPrefix(line, []byte("data:")))
		case strings.HasPrefix(string(line), debugChunkPrefix):
			payload = []byte(strings.TrimPrefix(string(line), debugChunkPrefix))
		default:
			continue
		}
		if len(payload) == 0 || bytes.Equal(payload, []byte("[DONE]")) {
			continue
		}

		var parsed chunkWithUsage
		if err := json.Unmarshal(payload, &parsed); err != nil || parsed.Usage == nil {
			continue
		}

		rec := inference.TelemetryRecord{}
		if parsed.Usage.PromptTokens != nil {
			rec.InputTokens = parsed.Usage.PromptTokens
		}
		if parsed.Usage.CompletionTokens != nil {
			rec.OutputTokens = parsed.Usage.CompletionTokens
		}
		if parsed.Usage.PrefillDurationTTFT != nil {
			rec.TTFTSeconds = parsed.Usage.PrefillDurationTTFT
		}
		if parsed.Usage.DecodingSpeedTPS != nil {
			rec.DecodeTPS = parsed.Usage.DecodingSpeedTPS
		}
		if len(parsed.Choices) > 0 {
			rec.FinishReason = parsed.Choices[0].FinishReason
		}
		records = append(records, rec)
	}

	return records
}

// Status implements inference.Backend.
func (b *Backend) Status() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.binaryPath == "" {
		return inference.FormatNotInstalled("")
	}
	if _, err := os.Stat(b.binaryPath); err != nil {
		return inference.FormatNotInstalled("")
	}
	return inference.StatusRunning
}

// GetDiskUsage implements inference.Backend: the NPU engine's weight
// cache is managed outside the gateway's ArtifactStore, so only the
// entrypoint's own directory is accounted for here.
func (b *Backend) GetDiskUsage() (int64, error) {
	b.mu.Lock()
	path := b.binaryPath
	b.mu.Unlock()
	if path == "" {
		return 0, nil
	}

	dir := filepath.Dir(path)
	var total int64
	err := filepath.Walk(dir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	if os.IsNotExist(err) {
		return 0, nil
	}
	return total, err
}
