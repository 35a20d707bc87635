package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog/log"

	"talkingrock/internal/ai/component"
	"talkingrock/internal/config"
	"talkingrock/internal/model"
)

// Tier selects which configured model serves a call
type Tier string

const (
	TierClassifier Tier = "classifier"
	TierRouter     Tier = "router"
	TierGenerator  Tier = "generator"
	TierVerifier   Tier = "verifier"
)

// Message is a chat message handed to the backend
type Message struct {
	Role    string // system, user, assistant
	Content string
}

// ChatResult is the outcome of one model call
type ChatResult struct {
	Model    string
	Content  string
	Usage    model.TokenUsage
	Duration time.Duration
}

var (
	// ErrGateTimeout means the concurrency gate could not be entered
	// before the request deadline
	ErrGateTimeout = errors.New("model backend gate timeout")

	// ErrBadModelJSON means a JSON-expected response did not parse
	ErrBadModelJSON = errors.New("model output is not valid JSON")
)

// Backend is the model backend consumed by the pipeline. It never
// fabricates content: every failure surfaces as an error.
type Backend interface {
	// Chat runs a free-text completion on the given tier
	Chat(ctx context.Context, tier Tier, messages []Message) (*ChatResult, error)

	// ChatJSON runs a deterministic completion expecting a JSON object,
	// strips fence noise and unmarshals strictly into out
	ChatJSON(ctx context.Context, tier Tier, system, user string, out any) (*ChatResult, error)

	// Embed returns an embedding vector for text; it returns ErrNoEmbedding
	// when no embedding backend is configured
	Embed(ctx context.Context, text string) ([]float64, error)

	// Healthy probes the runtime
	Healthy(ctx context.Context) bool
}

// Client is the eino-backed Backend. One chat model per tier, a bounded
// in-flight gate shared across tiers, and retry-once on transport errors.
type Client struct {
	cfg    *config.ModelsConfig
	models map[Tier]einomodel.ChatModel
	names  map[Tier]string
	gate   chan struct{}
	embed  *embeddingClient
}

// NewClient builds chat models for every tier
func NewClient(ctx context.Context, cfg *config.ModelsConfig) (*Client, error) {
	names := map[Tier]string{
		TierClassifier: cfg.Classifier,
		TierRouter:     cfg.Router,
		TierGenerator:  cfg.Generator,
		TierVerifier:   cfg.Verifier,
	}

	models := make(map[Tier]einomodel.ChatModel, len(names))
	for tier, name := range names {
		cm, err := component.NewChatModel(ctx, cfg, name)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s chat model: %w", tier, err)
		}
		models[tier] = cm
	}

	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}

	return &Client{
		cfg:    cfg,
		models: models,
		names:  names,
		gate:   make(chan struct{}, maxConcurrent),
		embed:  newEmbeddingClient(cfg),
	}, nil
}

// Chat runs a free-text completion on the given tier
func (c *Client) Chat(ctx context.Context, tier Tier, messages []Message) (*ChatResult, error) {
	return c.generate(ctx, tier, messages, nil)
}

// ChatJSON runs a deterministic completion expecting a JSON object
func (c *Client) ChatJSON(ctx context.Context, tier Tier, system, user string, out any) (*ChatResult, error) {
	messages := []Message{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	}

	zero := float32(0)
	result, err := c.generate(ctx, tier, messages, []einomodel.Option{
		einomodel.WithTemperature(zero),
	})
	if err != nil {
		return nil, err
	}

	cleaned := stripJSONFences(result.Content)
	if err := json.Unmarshal([]byte(cleaned), out); err != nil {
		log.Warn().
			Str("tier", string(tier)).
			Str("model", result.Model).
			Msg("model returned malformed JSON")
		return result, fmt.Errorf("%w: %v", ErrBadModelJSON, err)
	}

	return result, nil
}

// Embed returns an embedding for text
func (c *Client) Embed(ctx context.Context, text string) ([]float64, error) {
	return c.embed.Embed(ctx, text)
}

// Healthy probes the local runtime
func (c *Client) Healthy(ctx context.Context) bool {
	return c.embed.Healthy(ctx)
}

func (c *Client) generate(ctx context.Context, tier Tier, messages []Message, opts []einomodel.Option) (*ChatResult, error) {
	cm, ok := c.models[tier]
	if !ok {
		return nil, fmt.Errorf("unknown model tier: %s", tier)
	}

	// Gate protects the GPU: callers blocked here share the request
	// deadline and bail out as RATE_LIMITED upstream.
	select {
	case c.gate <- struct{}{}:
	case <-ctx.Done():
		return nil, ErrGateTimeout
	}
	defer func() { <-c.gate }()

	callCtx, cancel := context.WithTimeout(ctx, c.tierTimeout(tier))
	defer cancel()

	in := make([]*schema.Message, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case "system":
			in = append(in, schema.SystemMessage(m.Content))
		case "assistant":
			in = append(in, schema.AssistantMessage(m.Content, nil))
		default:
			in = append(in, schema.UserMessage(m.Content))
		}
	}

	start := time.Now()
	resp, err := cm.Generate(callCtx, in, opts...)
	if err != nil && callCtx.Err() == nil {
		// Retry once on transport errors; content errors (bad JSON)
		// happen after this point and are never retried.
		log.Warn().Err(err).Str("tier", string(tier)).Msg("model call failed, retrying once")
		resp, err = cm.Generate(callCtx, in, opts...)
	}
	if err != nil {
		return nil, fmt.Errorf("model %s failed: %w", c.names[tier], err)
	}

	result := &ChatResult{
		Model:    c.names[tier],
		Content:  strings.TrimSpace(resp.Content),
		Duration: time.Since(start),
	}
	if resp.ResponseMeta != nil && resp.ResponseMeta.Usage != nil {
		result.Usage = model.TokenUsage{
			PromptTokens:     resp.ResponseMeta.Usage.PromptTokens,
			CompletionTokens: resp.ResponseMeta.Usage.CompletionTokens,
			TotalTokens:      resp.ResponseMeta.Usage.TotalTokens,
		}
	}

	if result.Content == "" {
		return nil, fmt.Errorf("model %s returned empty content", c.names[tier])
	}

	return result, nil
}

func (c *Client) tierTimeout(tier Tier) time.Duration {
	switch tier {
	case TierGenerator:
		if c.cfg.GeneratorTimeout > 0 {
			return c.cfg.GeneratorTimeout
		}
		return 60 * time.Second
	default:
		if c.cfg.ClassifierTimeout > 0 {
			return c.cfg.ClassifierTimeout
		}
		return 10 * time.Second
	}
}

// stripJSONFences removes markdown fence noise around a JSON object and
// narrows to the outermost braces. Small models routinely wrap JSON in
// ```json fences or prepend chatter.
func stripJSONFences(s string) string {
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx >= 0 {
			s = s[idx+1:]
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
		s = strings.TrimSpace(s)
	}

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}
