package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ollamaEncoder calls a local Ollama server's /api/embeddings endpoint.
type ollamaEncoder struct {
	url    string
	model  string
	client *http.Client
}

func newOllamaEncoder(cfg Config) (*ollamaEncoder, error) {
	if cfg.OllamaHost == "" || cfg.OllamaPort == "" || cfg.OllamaModel == "" {
		return nil, fmt.Errorf("embedder: ollama mode requires OLLAMA_HOST, OLLAMA_PORT and OLLAMA_EMBEDDING_MODEL_NAME")
	}
	return &ollamaEncoder{
		url:    fmt.Sprintf("%s:%s/api/embeddings", strings.TrimRight(cfg.OllamaHost, "/"), cfg.OllamaPort),
		model:  cfg.OllamaModel,
		client: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}

func (e *ollamaEncoder) Encode(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(ollamaEmbedRequest{Model: e.model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("embedder: marshal ollama request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedder: HTTP POST %s: %w", e.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("embedder: HTTP %d from %s: %s", resp.StatusCode, e.url, string(respBody))
	}

	var result ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("embedder: decode ollama response: %w", err)
	}
	if len(result.Embedding) == 0 {
		return nil, fmt.Errorf("embedder: no embedding returned from %s", e.url)
	}
	return result.Embedding, nil
}
