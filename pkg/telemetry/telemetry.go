// Package telemetry implements the TelemetryExtractor's running state:
// it accumulates the inference.TelemetryRecords that the backend
// adapters' ParseStreamChunk methods produce, keeping cumulative totals
// and the most recent record, which the /api/v1/stats endpoint serves.
package telemetry

import (
	"sync"
	"time"

	"github.com/lemonade-sdk/lemonade/pkg/inference"
)

// Snapshot is the cumulative, process-lifetime telemetry. No HTTP
// endpoint serves it; /api/v1/stats serves LastRecord.
type Snapshot struct {
	TotalRequests     int64     `json:"total_requests"`
	TotalInputTokens  int64     `json:"total_input_tokens"`
	TotalOutputTokens int64     `json:"total_output_tokens"`
	LastRequestAt     time.Time `json:"last_request_at,omitempty"`
	LastTTFTSeconds   *float64  `json:"last_ttft_seconds,omitempty"`
	LastDecodeTPS     *float64  `json:"last_decode_tps,omitempty"`
}

// Extractor accumulates TelemetryRecords across requests. A parse
// failure in any one record never aborts the request it came from —
// Record is called best-effort by the HTTP frontend after each
// forwarded request and simply skips nil records.
type Extractor struct {
	mu       sync.Mutex
	snapshot Snapshot
	last     *inference.TelemetryRecord
}

// New creates an empty Extractor.
func New() *Extractor {
	return &Extractor{}
}

// Record folds rec into the running snapshot. A nil rec is a no-op, so
// callers can pass session.LastTelemetry directly after a request
// completes without a nil check.
func (e *Extractor) Record(rec *inference.TelemetryRecord) {
	if rec == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	e.last = rec
	e.snapshot.TotalRequests++
	if rec.InputTokens != nil {
		e.snapshot.TotalInputTokens += *rec.InputTokens
	}
	if rec.OutputTokens != nil {
		e.snapshot.TotalOutputTokens += *rec.OutputTokens
	}
	if rec.TTFTSeconds != nil {
		e.snapshot.LastTTFTSeconds = rec.TTFTSeconds
	}
	if rec.DecodeTPS != nil {
		e.snapshot.LastDecodeTPS = rec.DecodeTPS
	}
	e.snapshot.LastRequestAt = time.Now()
}

// Snapshot returns a copy of the current cumulative telemetry.
func (e *Extractor) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshot
}

// LastRecord returns the most recent TelemetryRecord folded in, or nil
// if none has been recorded yet. Unlike Snapshot, this is the raw
// per-request record the /api/v1/stats endpoint serializes verbatim.
func (e *Extractor) LastRecord() *inference.TelemetryRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.last
}

// Reset zeroes the running totals, used by tests and by an operator
// wanting a clean window for a new benchmark run.
func (e *Extractor) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.snapshot = Snapshot{}
	e.last = nil
}
