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

// openaiResponder implements Responder against the OpenAI chat completions
// API. This is the vision-capable path: base64 images are attached to the
// last message of the conversation as data: URI image blocks before
// serialization.
type openaiResponder struct {
	url    string
	apiKey string
	model  string
	client *http.Client
	logger *slog.Logger
}

func newOpenAIResponder(cfg Config) (*openaiResponder, error) {
	if cfg.OpenAIAPIKey == "" || cfg.OpenAIModel == "" {
		return nil, fmt.Errorf("llm: openai mode requires OPENAI_API_KEY and OPENAI_MODEL_NAME")
	}
	return &openaiResponder{
		url:    strings.TrimRight(cfg.OpenAIBaseURL, "/") + "/chat/completions",
		apiKey: cfg.OpenAIAPIKey,
		model:  cfg.OpenAIModel,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: cfg.Logger,
	}, nil
}

type openaiRequest struct {
	Model            string    `json:"model"`
	Messages         []Message `json:"messages"`
	MaxTokens        int       `json:"max_tokens"`
	Temperature      float64   `json:"temperature"`
	TopP             float64   `json:"top_p"`
	FrequencyPenalty float64   `json:"frequency_penalty"`
}

type openaiResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

func (r *openaiResponder) Respond(ctx context.Context, conv Conversation, images []string, p Params) (string, int, error) {
	conv.AppendImages(images)

	body, err := json.Marshal(openaiRequest{
		Model:            r.model,
		Messages:         conv,
		MaxTokens:        p.MaxTokens,
		Temperature:      p.Temperature,
		TopP:             p.TopP,
		FrequencyPenalty: p.FrequencyPenalty,
	})
	if err != nil {
		return "", 0, fmt.Errorf("llm: marshal openai request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+r.apiKey)

	resp, err := r.client.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("llm: HTTP POST %s: %w", r.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", 0, fmt.Errorf("llm: HTTP %d from %s: %s", resp.StatusCode, r.url, string(respBody))
	}

	var result openaiResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", 0, fmt.Errorf("llm: decode openai response: %w", err)
	}

	if len(result.Choices) == 0 {
		r.logger.Warn("openai returned no choices", "model", r.model)
		return "", 0, nil
	}

	return result.Choices[0].Message.Content, result.Usage.TotalTokens, nil
}
