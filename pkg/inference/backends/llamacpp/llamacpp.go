// Package llamacpp implements the general CPU/GPU BackendAdapter: a
// child process speaking a dialect that already closely matches the
// OpenAI schema.
package llamacpp

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
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/lemonade-sdk/lemonade/pkg/inference"
	"github.com/lemonade-sdk/lemonade/pkg/inference/backends/engineinstall"
	"github.com/lemonade-sdk/lemonade/pkg/inference/common"
	"github.com/lemonade-sdk/lemonade/pkg/logging"
	"github.com/lemonade-sdk/lemonade/pkg/supervisor"
)

// Name is the recipe tag this adapter handles.
const Name = "llamacpp"

const (
	readyPollInterval = 500 * time.Millisecond
	readyPollAttempts = 120 // 60s at 500ms

	// minVersion is the oldest llama.cpp release tag EnsureInstalled
	// accepts without re-downloading. llama.cpp tags releases with a
	// monotonically increasing build number ("b4700", "b4912", ...).
	minVersion = "b4700"
)

// Backend implements inference.Backend for the general CPU/GPU engine.
type Backend struct {
	log        logging.Logger
	supervisor *supervisor.Supervisor
	httpClient *http.Client

	binaryPath string // explicit override, e.g. from LLAMACPP_SERVER_PATH
	extraArgs  []string

	mu         sync.Mutex
	installDir string
}

// New creates the CPU/GPU adapter. binaryPath, when non-empty, is used
// directly and EnsureInstalled becomes a no-op; extraArgs are appended
// to every invocation (e.g. from LLAMACPP_ARGS).
func New(log logging.Logger, binaryPath string, extraArgs []string) *Backend {
	return &Backend{
		log:        log,
		supervisor: supervisor.New(log),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		binaryPath: binaryPath,
		extraArgs:  extraArgs,
	}
}

// Name implements inference.Backend.
func (b *Backend) Name() string { return Name }

// UsesExternalModelManagement implements inference.Backend: this engine
// relies on the gateway's ArtifactFetcher/ArtifactStore.
func (b *Backend) UsesExternalModelManagement() bool { return false }

// ModelRequiredArtifacts implements inference.Backend.
func (b *Backend) ModelRequiredArtifacts(descriptor inference.ModelDescriptor) []string {
	patterns := []string{"*.gguf"}
	if descriptor.MMProj != "" {
		patterns = append(patterns, descriptor.MMProj)
	}
	return patterns
}

// EnsureInstalled implements inference.Backend. If binaryPath was set
// explicitly, this is a no-op (and InstalledVersion reports ""
// thereafter: an operator-supplied binary opts out of version
// tracking). Otherwise it downloads and extracts a signed release
// archive from llama.cpp's GitHub releases into installRoot, skipping
// the download when the VERSION file already records minVersion or
// newer and the server binary is present.
func (b *Backend) EnsureInstalled(ctx context.Context, installRoot string, sink inference.ProgressSink) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.binaryPath != "" {
		return nil
	}

	dir := filepath.Join(installRoot, Name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create install dir: %w", err)
	}
	b.installDir = dir

	release, err := releaseAsset(minVersion)
	if err != nil {
		return err
	}
	if err := engineinstall.Ensure(ctx, b.httpClient, dir, release, minVersion, b.serverBinaryPath(), sink); err != nil {
		return fmt.Errorf("install llama.cpp server: %w", err)
	}
	return nil
}

// releaseAsset resolves the llama.cpp GitHub release asset for the
// running platform. llama.cpp publishes one zip per OS/arch per tag.
func releaseAsset(version string) (engineinstall.Release, error) {
	var assetName string
	switch {
	case runtime.GOOS == "linux" && runtime.GOARCH == "amd64":
		assetName = fmt.Sprintf("llama-%s-bin-ubuntu-x64.zip", version)
	case runtime.GOOS == "darwin" && runtime.GOARCH == "arm64":
		assetName = fmt.Sprintf("llama-%s-bin-macos-arm64.zip", version)
	case runtime.GOOS == "darwin" && runtime.GOARCH == "amd64":
		assetName = fmt.Sprintf("llama-%s-bin-macos-x64.zip", version)
	case runtime.GOOS == "windows" && runtime.GOARCH == "amd64":
		assetName = fmt.Sprintf("llama-%s-bin-win-x64.zip", version)
	default:
		return engineinstall.Release{}, fmt.Errorf("no prebuilt llama.cpp server for %s/%s", runtime.GOOS, runtime.GOARCH)
	}
	return engineinstall.Release{
		Version: version,
		URL:     fmt.Sprintf("https://github.com/ggml-org/llama.cpp/releases/download/%s/%s", version, assetName),
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

func (b *Backend) serverBinaryPath() string {
	if b.binaryPath != "" {
		return b.binaryPath
	}
	name := "llama-server"
	if runtime.GOOS == "windows" {
		name += ".exe"
	}
	return filepath.Join(b.installDir, name)
}

// Start implements inference.Backend: spawns the server on a free TCP
// port and blocks until its health endpoint answers.
func (b *Backend) Start(ctx context.Context, descriptor inference.ModelDescriptor, localPaths map[string]string, config *inference.BackendConfiguration) (*inference.BackendSession, error) {
	modelPath, err := ggufPath(localPaths)
	if err != nil {
		return nil, err
	}

	port, err := supervisor.FindFreePort()
	if err != nil {
		return nil, fmt.Errorf("allocate port: %w", err)
	}

	args := b.buildArgs(modelPath, localPaths[descriptor.MMProj], port, descriptor, config)
	common.SanitizedArgsLog(b.log, "starting llama.cpp server", args)

	handle, err := b.supervisor.Spawn(ctx, descriptor.Name, b.serverBinaryPath(), args, nil, os.Stdout, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("spawn llama.cpp server: %w", err)
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
		return nil, fmt.Errorf("llama.cpp server did not become ready: %w", err)
	}

	session.HealthState = inference.SessionReady
	return session, nil
}

func ggufPath(localPaths map[string]string) (string, error) {
	for rel, abs := range localPaths {
		if strings.HasSuffix(strings.ToLower(rel), ".gguf") {
			return abs, nil
		}
	}
	return "", fmt.Errorf("no .gguf file among materialized artifacts")
}

func (b *Backend) buildArgs(modelPath, mmprojPath string, port int, descriptor inference.ModelDescriptor, config *inference.BackendConfiguration) []string {
	args := []string{"--jinja", "-ngl", "100", "--metrics"}
	args = append(args, b.extraArgs...)
	args = append(args, "--model", modelPath, "--host", "127.0.0.1", "--port", strconv.Itoa(port))

	for _, label := range descriptor.Labels {
		if label == "embeddings" {
			args = append(args, "--embeddings")
		}
	}

	args = append(args, "--ctx-size", strconv.Itoa(contextSize(descriptor, config)))

	if config != nil {
		args = append(args, config.RuntimeFlags...)
	}

	if mmprojPath != "" {
		args = append(args, "--mmproj", mmprojPath)
	}

	// Using a thread count equal to core count performs worse on Windows
	// ARM64; core_count/2 was found to be a better default there.
	if runtime.GOOS == "windows" && runtime.GOARCH == "arm64" && !containsArg(args, "--threads") {
		nThreads := runtime.NumCPU() / 2
		if nThreads < 1 {
			nThreads = 1
		}
		args = append(args, "--threads", strconv.Itoa(nThreads))
	}

	return args
}

func contextSize(descriptor inference.ModelDescriptor, config *inference.BackendConfiguration) int {
	if config != nil && config.ContextSize != nil && *config.ContextSize > 0 {
		return int(*config.ContextSize)
	}
	if descriptor.MaxPromptLength > 0 {
		return descriptor.MaxPromptLength
	}
	return 4096
}

func containsArg(args []string, arg string) bool {
	for _, a := range args {
		if a == arg {
			return true
		}
	}
	return false
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

// TranslateRequest implements inference.Backend: llama.cpp's server
// speaks the OpenAI schema directly, so translation is the identity
// transform.
func (b *Backend) TranslateRequest(endpoint string, incoming []byte, session *inference.BackendSession) ([]byte, error) {
	return incoming, nil
}

// timings mirrors llama.cpp's `timings` telemetry object, present on the
// final chunk of a streamed response.
type timings struct {
	PromptN            *int64   `json:"prompt_n"`
	PredictedN         *int64   `json:"predicted_n"`
	PromptMS           *float64 `json:"prompt_ms"`
	PredictedPerSecond *float64 `json:"predicted_per_second"`
}

type chunkWithTimings struct {
	Timings      *timings `json:"timings"`
	FinishReason string   `json:"-"`
	Choices      []struct {
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// ParseStreamChunk implements inference.Backend: each SSE "data: {...}"
// line may carry a `timings` object on the chunk that completes a
// response.
func (b *Backend) ParseStreamChunk(chunk []byte) []inference.TelemetryRecord {
	var records []inference.TelemetryRecord

	scanner := bufio.NewScanner(bytes.NewReader(chunk))
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		data, ok := bytes.CutPrefix(line, []byte("data:"))
		if !ok {
			continue
		}
		data = bytes.TrimSpace(data)
		if bytes.Equal(data, []byte("[DONE]")) || len(data) == 0 {
			continue
		}

		var parsed chunkWithTimings
		if err := json.Unmarshal(data, &parsed); err != nil || parsed.Timings == nil {
			continue
		}

		rec := inference.TelemetryRecord{}
		if parsed.Timings.PromptN != nil {
			rec.InputTokens = parsed.Timings.PromptN
		}
		if parsed.Timings.PredictedN != nil {
			rec.OutputTokens = parsed.Timings.PredictedN
		}
		if parsed.Timings.PromptMS != nil {
			ttft := *parsed.Timings.PromptMS / 1000
			rec.TTFTSeconds = &ttft
		}
		if parsed.Timings.PredictedPerSecond != nil {
			rec.DecodeTPS = parsed.Timings.PredictedPerSecond
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
	if _, err := os.Stat(b.serverBinaryPath()); err != nil {
		return inference.FormatNotInstalled("")
	}
	return inference.StatusRunning
}

// GetDiskUsage implements inference.Backend.
func (b *Backend) GetDiskUsage() (int64, error) {
	b.mu.Lock()
	dir := b.installDir
	b.mu.Unlock()
	if dir == "" {
		return 0, nil
	}

	var total int64
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
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
