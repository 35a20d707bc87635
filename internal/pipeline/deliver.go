package pipeline

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"talkingrock/internal/model"
)

// RequestSink receives the append-only request-log record written at
// delivery. Implementations must not block the request path.
type RequestSink interface {
	Write(ctx context.Context, record model.RequestRecord)
}

// Deliverer assembles the response envelope and writes the request log on
// every path, short-circuits included. Records are anonymized: no raw
// message, no raw response, no raw ip.
type Deliverer struct {
	sink RequestSink // optional
}

// NewDeliverer creates the delivery stage
func NewDeliverer(sink RequestSink) *Deliverer {
	return &Deliverer{sink: sink}
}

// Success builds the success envelope and logs the request
func (d *Deliverer) Success(
	ctx context.Context,
	response string,
	domain model.Domain,
	trace *model.Trace,
	conversationID string,
	ipHash string,
	inputLength int,
	start time.Time,
) *model.ChatResponse {
	elapsed := time.Since(start)

	d.writeRecord(ctx, trace, ipHash, inputLength, elapsed)

	return &model.ChatResponse{
		Success: true,
		Response: &model.ResponsePayload{
			Content: response,
			Domain:  string(domain),
		},
		Metadata: &model.Metadata{
			ResponseTimeMs: elapsed.Milliseconds(),
			RequestID:      trace.RequestID,
			ConversationID: conversationID,
			LayerTimingsMs: trace.LayerTimings(),
		},
	}
}

// Error builds the refusal/failure envelope and logs the request
func (d *Deliverer) Error(
	ctx context.Context,
	code string,
	trace *model.Trace,
	conversationID string,
	ipHash string,
	inputLength int,
	start time.Time,
) *model.ChatResponse {
	elapsed := time.Since(start)

	d.writeRecord(ctx, trace, ipHash, inputLength, elapsed)

	return &model.ChatResponse{
		Success: false,
		Error: &model.ErrorPayload{
			Code:    code,
			Message: model.ErrorMessage(code),
		},
		Metadata: &model.Metadata{
			ResponseTimeMs: elapsed.Milliseconds(),
			RequestID:      trace.RequestID,
			ConversationID: conversationID,
			LayerTimingsMs: trace.LayerTimings(),
		},
	}
}

func (d *Deliverer) writeRecord(ctx context.Context, trace *model.Trace, ipHash string, inputLength int, elapsed time.Duration) {
	_, modelCalls := trace.Snapshot()

	record := model.RequestRecord{
		Timestamp:      time.Now().UTC(),
		RequestID:      trace.RequestID,
		ClientIPHash:   ipHash,
		InputLength:    inputLength,
		LayersPassed:   trace.LayersPassed(),
		BlockedAtLayer: trace.BlockedAtLayer,
		BlockReason:    trace.BlockReason,
		Domain:         string(trace.Domain),
		ResponseTimeMs: elapsed.Milliseconds(),
		ModelCalls:     modelCalls,
	}

	log.Info().
		Str("request_id", record.RequestID).
		Str("ip_hash", record.ClientIPHash).
		Int("input_length", record.InputLength).
		Strs("layers_passed", record.LayersPassed).
		Str("blocked_at_layer", record.BlockedAtLayer).
		Str("domain", record.Domain).
		Int64("response_time_ms", record.ResponseTimeMs).
		Int("model_calls", len(record.ModelCalls)).
		Msg("request complete")

	if d.sink != nil {
		d.sink.Write(ctx, record)
	}
}
