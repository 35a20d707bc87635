package model

import (
	"sync"
	"time"
)

// StageTrace records one pipeline stage execution
type StageTrace struct {
	Layer      string  `json:"layer" bson:"layer"`
	DurationMs float64 `json:"duration_ms" bson:"duration_ms"`
	Verdict    string  `json:"verdict" bson:"verdict"`
}

// ModelCall records one model invocation
type ModelCall struct {
	Model      string  `json:"model" bson:"model"`
	DurationMs float64 `json:"duration_ms" bson:"duration_ms"`
	TokensIn   int     `json:"tokens_in" bson:"tokens_in"`
	TokensOut  int     `json:"tokens_out" bson:"tokens_out"`
}

// Trace is the per-request record of stages entered, their timing and
// verdicts, and every model call made on the request's behalf. Safe for
// concurrent appends (stages are sequential, but the backend records model
// calls from within stage execution).
type Trace struct {
	mu sync.Mutex

	RequestID      string
	Stages         []StageTrace
	ModelCalls     []ModelCall
	BlockedAtLayer string
	BlockReason    string
	Domain         Domain
}

// NewTrace creates a trace for one request
func NewTrace(requestID string) *Trace {
	return &Trace{RequestID: requestID}
}

// AddStage records a completed stage
func (t *Trace) AddStage(layer string, start time.Time, verdict string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Stages = append(t.Stages, StageTrace{
		Layer:      layer,
		DurationMs: float64(time.Since(start).Microseconds()) / 1000,
		Verdict:    verdict,
	})
}

// AddModelCall records a model invocation
func (t *Trace) AddModelCall(call ModelCall) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ModelCalls = append(t.ModelCalls, call)
}

// Block marks the stage that terminated the request
func (t *Trace) Block(layer, reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.BlockedAtLayer = layer
	t.BlockReason = reason
}

// LayersPassed returns the layers entered, in order
func (t *Trace) LayersPassed() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	layers := make([]string, 0, len(t.Stages))
	for _, s := range t.Stages {
		layers = append(layers, s.Layer)
	}
	return layers
}

// LayerTimings returns per-layer durations in milliseconds
func (t *Trace) LayerTimings() map[string]float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	timings := make(map[string]float64, len(t.Stages))
	for _, s := range t.Stages {
		timings[s.Layer] = s.DurationMs
	}
	return timings
}

// Snapshot returns copies of the stage and model-call lists
func (t *Trace) Snapshot() ([]StageTrace, []ModelCall) {
	t.mu.Lock()
	defer t.mu.Unlock()
	stages := make([]StageTrace, len(t.Stages))
	copy(stages, t.Stages)
	calls := make([]ModelCall, len(t.ModelCalls))
	copy(calls, t.ModelCalls)
	return stages, calls
}

// RequestRecord is the append-only request-log entry written at delivery.
// It never contains the raw message, the raw response, or a raw IP.
type RequestRecord struct {
	Timestamp      time.Time   `json:"timestamp" bson:"timestamp"`
	RequestID      string      `json:"request_id" bson:"request_id"`
	ClientIPHash   string      `json:"client_ip_hash" bson:"client_ip_hash"`
	InputLength    int         `json:"input_length" bson:"input_length"`
	LayersPassed   []string    `json:"layers_passed" bson:"layers_passed"`
	BlockedAtLayer string      `json:"blocked_at_layer,omitempty" bson:"blocked_at_layer,omitempty"`
	BlockReason    string      `json:"block_reason,omitempty" bson:"block_reason,omitempty"`
	Domain         string      `json:"domain_matched,omitempty" bson:"domain,omitempty"`
	ResponseTimeMs int64       `json:"response_time_ms" bson:"response_time_ms"`
	ModelCalls     []ModelCall `json:"model_calls" bson:"model_calls"`
}
