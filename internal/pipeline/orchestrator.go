package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"talkingrock/internal/ai"
	"talkingrock/internal/config"
	"talkingrock/internal/contact"
	"talkingrock/internal/contextreg"
	"talkingrock/internal/conversation"
	"talkingrock/internal/model"
	"talkingrock/internal/pkg/id"
	"talkingrock/internal/pkg/tokens"
	"talkingrock/internal/ratelimit"
	"talkingrock/internal/tool"
)

// Request is the raw inbound request handed to the orchestrator
type Request struct {
	Message        string
	ConversationID string
	RemoteAddr     string
	XForwardedFor  string
	XRealIP        string
	ContentType    string
	BodySize       int
}

// Orchestrator drives the staged pipeline for one request: every stage
// assumes the previous one failed, uses the cheapest model able to decide,
// and either forwards a refined request or short-circuits with a canned
// refusal. Unhandled failures map to INTERNAL_ERROR without detail.
type Orchestrator struct {
	cfg *config.Config

	gateway   *Gateway
	sanitizer *Sanitizer
	jailbreak *JailbreakDetector
	intent    *IntentParser
	router    *Router
	registry  *contextreg.Registry
	generator *Generator
	reviser   *Reviser
	safety    *SafetyChecker
	deliverer *Deliverer

	conversations *conversation.Store
	estimator     *tokens.Estimator
}

// NewOrchestrator wires all stages
func NewOrchestrator(
	cfg *config.Config,
	backend ai.Backend,
	limiter ratelimit.Limiter,
	conversations *conversation.Store,
	registry *contextreg.Registry,
	contacts *contact.Store,
	sink RequestSink,
	estimator *tokens.Estimator,
) *Orchestrator {
	prompts := newPromptSet(cfg.Paths.PromptsDir)
	executor := tool.NewExecutor(contacts)

	return &Orchestrator{
		cfg:           cfg,
		gateway:       NewGateway(cfg, limiter),
		sanitizer:     NewSanitizer(cfg.Security.MaxInputLength),
		jailbreak:     NewJailbreakDetector(backend, prompts),
		intent:        NewIntentParser(backend, prompts),
		router:        NewRouter(),
		registry:      registry,
		generator:     NewGenerator(backend, executor, prompts),
		reviser:       NewReviser(backend, prompts),
		safety:        NewSafetyChecker(backend, prompts, cfg.Models.GroundingThreshold),
		deliverer:     NewDeliverer(sink),
		conversations: conversations,
		estimator:     estimator,
	}
}

// Process runs one request through L0..L9 and always returns an envelope.
func (o *Orchestrator) Process(ctx context.Context, req Request) (resp *model.ChatResponse) {
	start := time.Now()
	requestID := id.New()
	trace := model.NewTrace(requestID)
	inputLength := len([]rune(req.Message))
	var ipHash string

	ctx, cancel := context.WithTimeout(ctx, o.cfg.Security.RequestTimeout)
	defer cancel()

	// Conversation resolution happens before L0 so refusals can still carry
	// a conversation id back to the client.
	snapshot := o.conversations.GetOrCreate(req.ConversationID)
	convID := snapshot.ID

	logger := log.With().Str("request_id", requestID).Str("conversation_id", convID).Logger()

	// Fail closed on anything unhandled: no partial response, no detail.
	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("pipeline panic recovered")
			trace.Block("", "panic")
			resp = o.deliverer.Error(context.Background(), model.ErrCodeInternalError, trace, convID, ipHash, inputLength, start)
		}
	}()

	// ===== L0: network gateway =====
	l0Start := time.Now()
	gw := o.gateway.Validate(ctx, GatewayRequest{
		RemoteAddr:    req.RemoteAddr,
		XForwardedFor: req.XForwardedFor,
		XRealIP:       req.XRealIP,
		ContentType:   req.ContentType,
		BodySize:      req.BodySize,
		Message:       req.Message,
	})
	trace.AddStage("L0", l0Start, gw.Status)
	ipHash = gw.IPHash

	if !gw.Passed {
		code := map[string]string{
			GatewayRateLimited:     model.ErrCodeRateLimited,
			GatewayRequestTooLarge: model.ErrCodeInputTooLong,
			GatewayInputTooLong:    model.ErrCodeInputTooLong,
		}[gw.Status]
		if code == "" {
			code = model.ErrCodeInternalError
		}
		trace.Block("L0", gw.Status)
		return o.deliverer.Error(ctx, code, trace, convID, ipHash, inputLength, start)
	}

	// ===== L1: input sanitization =====
	l1Start := time.Now()
	san := o.sanitizer.Sanitize(req.Message, ipHash)
	trace.AddStage("L1", l1Start, san.Status)

	if !san.Passed {
		code := map[string]string{
			SanitizeInputTooLong: model.ErrCodeInputTooLong,
			SanitizeBlocked:      model.ErrCodeBlockedInput,
		}[san.Status]
		if code == "" {
			code = model.ErrCodeInternalError
		}
		trace.Block("L1", san.Status+":"+san.BlockedPattern)
		return o.deliverer.Error(ctx, code, trace, convID, ipHash, inputLength, start)
	}
	message := san.Sanitized

	// ===== L2: jailbreak classifier =====
	l2Start := time.Now()
	jb := o.jailbreak.Detect(ctx, message, snapshot.Turns, ipHash)
	o.recordCall(trace, jb.Call)
	trace.AddStage("L2", l2Start, jb.Status+":"+jb.Reason)

	if !jb.Passed {
		trace.Block("L2", jb.Reason)
		return o.deliverer.Error(ctx, model.ErrCodeBlockedInput, trace, convID, ipHash, inputLength, start)
	}

	// ===== L3: intent parsing =====
	l3Start := time.Now()
	parsed := o.intent.Parse(ctx, message)
	o.recordCall(trace, parsed.Call)
	trace.AddStage("L3", l3Start, string(parsed.Intent.Topic))

	// ===== L4: domain routing =====
	l4Start := time.Now()
	route := o.router.Route(parsed.Intent)
	trace.AddStage("L4", l4Start, string(route.Domain))
	trace.Domain = route.Domain

	if !route.Passed {
		trace.Block("L4", RouteOutOfScope)
		return o.deliverer.Error(ctx, model.ErrCodeOutOfScope, trace, convID, ipHash, inputLength, start)
	}

	// ===== L5: context retrieval =====
	l5Start := time.Now()
	retrieved := o.registry.Retrieve(route.Domain)
	trace.AddStage("L5", l5Start, retrievalVerdict(retrieved))

	// ===== L6..L8: generate, revise, safety (one retry on unsafe) =====
	history := conversation.TruncateHistory(snapshot.Turns, o.cfg.Conversation.MaxHistoryTokens, o.estimator)

	final, safetyOK, genErr := o.generateChecked(ctx, trace, message, route.Domain, retrieved.Context, history, convID, ipHash, "")
	if genErr != nil {
		// a request that never got past the backend gate is load shedding,
		// not an internal fault
		code := model.ErrCodeInternalError
		if errors.Is(genErr, ai.ErrGateTimeout) {
			code = model.ErrCodeRateLimited
		}
		trace.Block("L6", "generation_error")
		return o.deliverer.Error(ctx, code, trace, convID, ipHash, inputLength, start)
	}
	if final == "" {
		// a draft that was nothing but stripped tool blocks is not deliverable
		trace.Block("L6", "empty_response")
		return o.deliverer.Error(ctx, model.ErrCodeInternalError, trace, convID, ipHash, inputLength, start)
	}

	if !safetyOK {
		// single retry with a reinforced instruction, then the canned reply
		logger.Warn().Msg("retrying generation after unsafe verdict")
		retryFinal, retryOK, retryErr := o.generateChecked(ctx, trace, message, route.Domain, retrieved.Context, history, convID, ipHash,
			ReinforcedInstruction([]string{"safety review flagged the previous draft"}))
		if retryErr != nil || !retryOK {
			trace.Block("L8", "safety_failed")
			return o.deliverer.Error(ctx, model.ErrCodeSafetyFailed, trace, convID, ipHash, inputLength, start)
		}
		final = retryFinal
	}

	// ===== conversation update (atomic user+assistant append) =====
	elapsedMs := time.Since(start).Milliseconds()
	err := o.conversations.Append(convID,
		conversation.Turn{Content: message},
		conversation.Turn{Content: final, Domain: string(route.Domain), ResponseTimeMs: elapsedMs},
	)
	if err != nil {
		// turn-limit and expiry races degrade gracefully: the response is
		// still delivered, the exchange just is not remembered
		logger.Warn().Err(err).Msg("conversation append rejected")
	}

	// ===== L9: delivery =====
	trace.AddStage("L9", time.Now(), "delivered")
	return o.deliverer.Success(ctx, final, route.Domain, trace, convID, ipHash, inputLength, start)
}

// generateChecked runs L6 -> L7 -> L8 once. Returns the final text,
// whether the safety gate passed, and any generation error.
func (o *Orchestrator) generateChecked(
	ctx context.Context,
	trace *model.Trace,
	message string,
	domain model.Domain,
	contextBlob string,
	history []conversation.Turn,
	convID, ipHash, extraInstruction string,
) (string, bool, error) {
	// L6: generation + tool loop
	l6Start := time.Now()
	gen := o.generator.Generate(ctx, message, domain, contextBlob, history, convID, ipHash, extraInstruction)
	for _, call := range gen.Calls {
		o.recordCall(trace, call)
	}
	if gen.Err != nil {
		trace.AddStage("L6", l6Start, "error")
		log.Error().Err(gen.Err).Msg("generation failed")
		return "", false, gen.Err
	}
	trace.AddStage("L6", l6Start, generateVerdict(gen))

	// L7: advisory revision
	l7Start := time.Now()
	rev := o.reviser.Revise(ctx, gen.Response, contextBlob, message)
	o.recordCall(trace, rev.Call)
	trace.AddStage("L7", l7Start, rev.Status)

	// L8: output safety, fail closed
	l8Start := time.Now()
	safe := o.safety.Check(ctx, rev.Response, contextBlob)
	o.recordCall(trace, safe.Call)
	trace.AddStage("L8", l8Start, safe.Status)

	return rev.Response, safe.Passed, nil
}

func (o *Orchestrator) recordCall(trace *model.Trace, call *ai.ChatResult) {
	if call == nil {
		return
	}
	trace.AddModelCall(model.ModelCall{
		Model:      call.Model,
		DurationMs: float64(call.Duration.Microseconds()) / 1000,
		TokensIn:   call.Usage.PromptTokens,
		TokensOut:  call.Usage.CompletionTokens,
	})
}

func retrievalVerdict(r contextreg.Result) string {
	switch {
	case r.Context == "":
		return "no_context"
	case r.IsPlaceholder:
		return "insufficient"
	case len(r.SourcesMissing) > 0:
		return "partial"
	default:
		return "success"
	}
}

func generateVerdict(g GenerateResult) string {
	if g.ToolIterations > 0 {
		return "success_with_tools"
	}
	return "success"
}
