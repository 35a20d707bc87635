package component

import (
	"context"
	"fmt"

	arkext "github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"

	"talkingrock/internal/config"
)

// NewChatModel creates a ChatModel for one pipeline tier.
// Providers: openai (any OpenAI-compatible endpoint, including a local
// Ollama/vLLM runtime via models.base_url) and ark.
func NewChatModel(ctx context.Context, cfg *config.ModelsConfig, modelName string) (model.ChatModel, error) {
	switch cfg.Provider {
	case "openai", "":
		return newOpenAIChatModel(ctx, cfg, modelName)
	case "ark":
		return newArkChatModel(ctx, cfg, modelName)
	default:
		return nil, fmt.Errorf("unsupported model provider: %s", cfg.Provider)
	}
}

func newOpenAIChatModel(ctx context.Context, cfg *config.ModelsConfig, modelName string) (model.ChatModel, error) {
	modelCfg := &openai.ChatModelConfig{
		Model:  modelName,
		APIKey: cfg.APIKey,
	}

	if cfg.BaseURL != "" {
		modelCfg.BaseURL = cfg.BaseURL
	}

	if cfg.Temperature > 0 {
		temp := float32(cfg.Temperature)
		modelCfg.Temperature = &temp
	}
	if cfg.MaxTokens > 0 {
		maxTokens := cfg.MaxTokens
		modelCfg.MaxTokens = &maxTokens
	}

	return openai.NewChatModel(ctx, modelCfg)
}

func newArkChatModel(ctx context.Context, cfg *config.ModelsConfig, modelName string) (model.ChatModel, error) {
	modelCfg := &arkext.ChatModelConfig{
		Model:   modelName,
		APIKey:  cfg.APIKey,
		BaseURL: cfg.BaseURL,
	}

	if cfg.Temperature > 0 {
		temp := float32(cfg.Temperature)
		modelCfg.Temperature = &temp
	}
	if cfg.MaxTokens > 0 {
		maxTokens := cfg.MaxTokens
		modelCfg.MaxTokens = &maxTokens
	}

	return arkext.NewChatModel(ctx, modelCfg)
}
