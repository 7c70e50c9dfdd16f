package telemetry

import (
	"testing"

	"github.com/lemonade-sdk/lemonade/pkg/inference"
)

func ptr[T any](v T) *T { return &v }

func TestRecordAccumulatesTokens(t *testing.T) {
	e := New()
	e.Record(&inference.TelemetryRecord{InputTokens: ptr(int64(10)), OutputTokens: ptr(int64(20))})
	e.Record(&inference.TelemetryRecord{InputTokens: ptr(int64(5)), OutputTokens: ptr(int64(8))})

	snap := e.Snapshot()
	if snap.TotalRequests != 2 {
		t.Errorf("expected 2 requests, got %d", snap.TotalRequests)
	}
	if snap.TotalInputTokens != 15 {
		t.Errorf("expected 15 input tokens, got %d", snap.TotalInputTokens)
	}
	if snap.TotalOutputTokens != 28 {
		t.Errorf("expected 28 output tokens, got %d", snap.TotalOutputTokens)
	}
}

func TestRecordNilIsNoOp(t *testing.T) {
	e := New()
	e.Record(nil)
	if snap := e.Snapshot(); snap.TotalRequests != 0 {
		t.Errorf("expected 0 requests after nil record, got %d", snap.TotalRequests)
	}
}

func TestResetClearsSnapshot(t *testing.T) {
	e := New()
	e.Record(&inference.TelemetryRecord{InputTokens: ptr(int64(1))})
	e.Reset()
	if snap := e.Snapshot(); snap.TotalRequests != 0 || snap.TotalInputTokens != 0 {
		t.Errorf("expected zeroed snapshot after reset, got %+v", snap)
	}
}

func TestLastTTFTTracksMostRecent(t *testing.T) {
	e := New()
	e.Record(&inference.TelemetryRecord{TTFTSeconds: ptr(0.2)})
	e.Record(&inference.TelemetryRecord{TTFTSeconds: ptr(0.5)})

	snap := e.Snapshot()
	if snap.LastTTFTSeconds == nil || *snap.LastTTFTSeconds != 0.5 {
		t.Errorf("expected last ttft 0.5, got %v", snap.LastTTFTSeconds)
	}
}
