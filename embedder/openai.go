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

// openaiEncoder calls the OpenAI /v1/embeddings endpoint by model name.
type openaiEncoder struct {
	url    string
	apiKey string
	model  string
	client *http.Client
}

func newOpenAIEncoder(cfg Config) (*openaiEncoder, error) {
	if cfg.OpenAIAPIKey == "" || cfg.OpenAIModel == "" {
		return nil, fmt.Errorf("embedder: openai mode requires OPENAI_API_KEY and OPENAI_EMBEDDING_MODEL_NAME")
	}
	return &openaiEncoder{
		url:    strings.TrimRight(cfg.OpenAIBaseURL, "/") + "/embeddings",
		apiKey: cfg.OpenAIAPIKey,
		model:  cfg.OpenAIModel,
		client: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

type openaiEmbedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type openaiEmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (e *openaiEncoder) Encode(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(openaiEmbedRequest{Model: e.model, Input: text})
	if err != nil {
		return nil, fmt.Errorf("embedder: marshal openai request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedder: HTTP POST %s: %w", e.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("embedder: HTTP %d from %s: %s", resp.StatusCode, e.url, string(respBody))
	}

	var result openaiEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("embedder: decode openai response: %w", err)
	}
	if len(result.Data) == 0 || len(result.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("embedder: no embedding returned from %s", e.url)
	}
	return result.Data[0].Embedding, nil
}
