package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

// ollamaResponder implements Responder against a local Ollama server.
//
// Ollama's /api/chat takes plain role/content string pairs, so each message
// is lossy-collapsed to its first text block. Images are not supported on
// this path.
type ollamaResponder struct {
	url    string
	model  string
	client *http.Client
	logger *slog.Logger
}

func newOllamaResponder(cfg Config) (*ollamaResponder, error) {
	if cfg.OllamaHost == "" || cfg.OllamaPort == "" || cfg.OllamaModel == "" {
		return nil, fmt.Errorf("llm: ollama mode requires OLLAMA_HOST, OLLAMA_PORT and OLLAMA_MODEL_NAME")
	}
	return &ollamaResponder{
		url:    fmt.Sprintf("%s:%s/api/chat", strings.TrimRight(cfg.OllamaHost, "/"), cfg.OllamaPort),
		model:  cfg.OllamaModel,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: cfg.Logger,
	}, nil
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Options  ollamaOptions   `json:"options"`
	Stream   bool            `json:"stream"`
}

type ollamaOptions struct {
	NumPredict       int     `json:"num_predict"`
	Temperature      float64 `json:"temperature"`
	TopK             int     `json:"top_k"`
	TopP             float64 `json:"top_p"`
	FrequencyPenalty float64 `json:"frequency_penalty"`
}

type ollamaResponse struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	PromptEvalCount int `json:"prompt_eval_count"`
}

func (r *ollamaResponder) Respond(ctx context.Context, conv Conversation, _ []string, p Params) (string, int, error) {
	messages := make([]ollamaMessage, 0, len(conv))
	for _, m := range conv {
		messages = append(messages, ollamaMessage{
			Role:    string(m.Role),
			Content: m.FirstText(),
		})
	}

	body, err := json.Marshal(ollamaRequest{
		Model:    r.model,
		Messages: messages,
		Options: ollamaOptions{
			NumPredict:       p.MaxTokens,
			Temperature:      p.Temperature,
			TopK:             p.TopK,
			TopP:             p.TopP,
			FrequencyPenalty: p.FrequencyPenalty,
		},
	})
	if err != nil {
		return "", 0, fmt.Errorf("llm: marshal ollama request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("llm: HTTP POST %s: %w", r.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", 0, fmt.Errorf("llm: HTTP %d from %s: %s", resp.StatusCode, r.url, string(respBody))
	}

	var result ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", 0, fmt.Errorf("llm: decode ollama response: %w", err)
	}

	if result.Message.Content == "" {
		r.logger.Warn("ollama returned no message content", "model", r.model)
		return "", 0, nil
	}
	if result.PromptEvalCount == 0 {
		r.logger.Warn("ollama returned no prompt eval count", "model", r.model)
		return "", 0, nil
	}

	return result.Message.Content, result.PromptEvalCount, nil
}
