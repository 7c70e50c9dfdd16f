package llamacpp

import (
	"testing"

	"github.com/lemonade-sdk/lemonade/pkg/inference"
)

func TestParseStreamChunkExtractsTimings(t *testing.T) {
	b := &Backend{}
	chunk := []byte("data: {\"choices\":[{\"finish_reason\":\"stop\"}],\"timings\":{\"prompt_n\":12,\"predicted_n\":34,\"prompt_ms\":120.5,\"predicted_per_second\":45.2}}\n\ndata: [DONE]\n")

	records := b.ParseStreamChunk(chunk)
	if len(records) != 1 {
		t.Fatalf("expected 1 telemetry record, got %d", len(records))
	}

	rec := records[0]
	if rec.InputTokens == nil || *rec.InputTokens != 12 {
		t.Errorf("expected input tokens 12, got %v", rec.InputTokens)
	}
	if rec.OutputTokens == nil || *rec.OutputTokens != 34 {
		t.Errorf("expected output tokens 34, got %v", rec.OutputTokens)
	}
	if rec.TTFTSeconds == nil || *rec.TTFTSeconds != 0.1205 {
		t.Errorf("expected ttft 0.1205s, got %v", rec.TTFTSeconds)
	}
	if rec.DecodeTPS == nil || *rec.DecodeTPS != 45.2 {
		t.Errorf("expected decode tps 45.2, got %v", rec.DecodeTPS)
	}
	if rec.FinishReason != "stop" {
		t.Errorf("expected finish reason stop, got %q", rec.FinishReason)
	}
}

func TestParseStreamChunkIgnoresChunksWithoutTimings(t *testing.T) {
	b := &Backend{}
	chunk := []byte("data: {\"choices\":[{\"delta\":{\"content\":\"hi\"}}]}\n")

	records := b.ParseStreamChunk(chunk)
	if len(records) != 0 {
		t.Fatalf("expected no telemetry records, got %d", len(records))
	}
}

func TestGgufPathFindsGGUFFile(t *testing.T) {
	paths := map[string]string{
		"config.json":       "/cache/config.json",
		"model.Q4_K_M.gguf": "/cache/model.Q4_K_M.gguf",
	}
	path, err := ggufPath(paths)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if path != "/cache/model.Q4_K_M.gguf" {
		t.Errorf("expected gguf path, got %q", path)
	}
}

func TestGgufPathErrorsWithoutGGUF(t *testing.T) {
	paths := map[string]string{"config.json": "/cache/config.json"}
	if _, err := ggufPath(paths); err == nil {
		t.Fatal("expected error when no gguf file present")
	}
}

func TestContextSizePrefersBackendConfig(t *testing.T) {
	size := int32(8192)
	cfg := &inference.BackendConfiguration{ContextSize: &size}
	descriptor := inference.ModelDescriptor{MaxPromptLength: 2048}

	if got := contextSize(descriptor, cfg); got != 8192 {
		t.Errorf("expected 8192, got %d", got)
	}
}

func TestContextSizeFallsBackToDescriptor(t *testing.T) {
	descriptor := inference.ModelDescriptor{MaxPromptLength: 2048}
	if got := contextSize(descriptor, nil); got != 2048 {
		t.Errorf("expected 2048, got %d", got)
	}
}

func TestContextSizeDefault(t *testing.T) {
	if got := contextSize(inference.ModelDescriptor{}, nil); got != 4096 {
		t.Errorf("expected default 4096, got %d", got)
	}
}

func TestBuildArgsIncludesModelAndPort(t *testing.T) {
	b := &Backend{}
	args := b.buildArgs("/cache/model.gguf", "", 1234, inference.ModelDescriptor{}, nil)

	if !containsArg(args, "--model") || !containsArg(args, "--port") {
		t.Fatalf("expected --model and --port in args, got %v", args)
	}
}
