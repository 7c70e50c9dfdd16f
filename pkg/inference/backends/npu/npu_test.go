package npu

import (
	"encoding/json"
	"testing"

	"github.com/lemonade-sdk/lemonade/pkg/inference"
)

func TestParseStreamChunkSSEUsage(t *testing.T) {
	b := &Backend{}
	chunk := []byte("data: {\"choices\":[{\"finish_reason\":\"stop\"}],\"usage\":{\"prefill_duration_ttft\":0.08,\"decoding_speed_tps\":52.1,\"prompt_tokens\":10,\"completion_tokens\":20}}\n")

	records := b.ParseStreamChunk(chunk)
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	rec := records[0]
	if rec.InputTokens == nil || *rec.InputTokens != 10 {
		t.Errorf("expected input tokens 10, got %v", rec.InputTokens)
	}
	if rec.TTFTSeconds == nil || *rec.TTFTSeconds != 0.08 {
		t.Errorf("expected ttft 0.08, got %v", rec.TTFTSeconds)
	}
	if rec.FinishReason != "stop" {
		t.Errorf("expected finish reason stop, got %q", rec.FinishReason)
	}
}

func TestParseStreamChunkDebugLine(t *testing.T) {
	b := &Backend{}
	payload, _ := json.Marshal(map[string]any{
		"usage": map[string]any{"decoding_speed_tps": 30.5},
	})
	chunk := []byte(debugChunkPrefix + string(payload) + "\n")

	records := b.ParseStreamChunk(chunk)
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	if records[0].DecodeTPS == nil || *records[0].DecodeTPS != 30.5 {
		t.Errorf("expected decode tps 30.5, got %v", records[0].DecodeTPS)
	}
}

func TestTranslateRequestRewritesModel(t *testing.T) {
	b := &Backend{}
	session := &inference.BackendSession{Checkpoint: "org/repo"}
	incoming := []byte(`{"model":"user.alias","messages":[]}`)

	out, err := b.TranslateRequest("chat/completions", incoming, session)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var body map[string]any
	if err := json.Unmarshal(out, &body); err != nil {
		t.Fatalf("unexpected unmarshal error: %v", err)
	}
	if body["model"] != "org/repo" {
		t.Errorf("expected model rewritten to org/repo, got %v", body["model"])
	}
}

func TestStatusNotInstalledWithoutBinary(t *testing.T) {
	b := &Backend{}
	if got := b.Status(); got != inference.FormatNotInstalled("") {
		t.Errorf("expected not-installed status, got %q", got)
	}
}
