package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"talkingrock/internal/config"
)

// ErrNoEmbedding means no embedding runtime is configured
var ErrNoEmbedding = errors.New("no embedding backend configured")

// embeddingClient talks to the local runtime's native embeddings API.
type embeddingClient struct {
	runtimeURL string
	model      string
	client     *http.Client
}

func newEmbeddingClient(cfg *config.ModelsConfig) *embeddingClient {
	return &embeddingClient{
		runtimeURL: cfg.RuntimeURL,
		model:      cfg.Embedding,
		client:     &http.Client{Timeout: 30 * time.Second},
	}
}

type embeddingReq struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embeddingResp struct {
	Embedding []float64 `json:"embedding"`
	Error     string    `json:"error,omitempty"`
}

// Embed returns an embedding vector for text
func (e *embeddingClient) Embed(ctx context.Context, text string) ([]float64, error) {
	if e.runtimeURL == "" || e.model == "" {
		return nil, ErrNoEmbedding
	}

	b, err := json.Marshal(embeddingReq{Model: e.model, Prompt: text})
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/api/embeddings", e.runtimeURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("embedding backend status %d", resp.StatusCode)
	}

	var decoded embeddingResp
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, err
	}
	if decoded.Error != "" {
		return nil, errors.New(decoded.Error)
	}
	if len(decoded.Embedding) == 0 {
		return nil, errors.New("empty embedding from backend")
	}

	return decoded.Embedding, nil
}

// Healthy probes the runtime's model listing endpoint
func (e *embeddingClient) Healthy(ctx context.Context) bool {
	if e.runtimeURL == "" {
		return false
	}

	probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, e.runtimeURL+"/api/tags", nil)
	if err != nil {
		return false
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK
}
