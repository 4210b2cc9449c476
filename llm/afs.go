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

// afsResponder implements Responder against the AFS conversation API.
// It posts the full multi-block conversation; AFS accepts the OpenAI
// content-block schema unchanged.
type afsResponder struct {
	url    string
	apiKey string
	model  string
	client *http.Client
	logger *slog.Logger
}

func newAFSResponder(cfg Config) (*afsResponder, error) {
	if cfg.AFSURL == "" || cfg.AFSAPIKey == "" || cfg.AFSModel == "" {
		return nil, fmt.Errorf("llm: afs mode requires AFS_API_URL, AFS_API_KEY and AFS_MODEL_NAME")
	}
	return &afsResponder{
		url:    strings.TrimRight(cfg.AFSURL, "/") + "/models/conversation",
		apiKey: cfg.AFSAPIKey,
		model:  cfg.AFSModel,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: cfg.Logger,
	}, nil
}

// afsRequest is the JSON body for POST /models/conversation. The parameter
// key "frequence_penalty" is what the API expects, misspelling included.
type afsRequest struct {
	Model      string        `json:"model"`
	Messages   []Message     `json:"messages"`
	Parameters afsParameters `json:"parameters"`
}

type afsParameters struct {
	MaxNewTokens     int     `json:"max_new_tokens"`
	Temperature      float64 `json:"temperature"`
	TopK             int     `json:"top_k"`
	TopP             float64 `json:"top_p"`
	FrequencePenalty float64 `json:"frequence_penalty"`
}

type afsResponse struct {
	GeneratedText string `json:"generated_text"`
	PromptTokens  int    `json:"prompt_tokens"`
}

func (r *afsResponder) Respond(ctx context.Context, conv Conversation, _ []string, p Params) (string, int, error) {
	body, err := json.Marshal(afsRequest{
		Model:    r.model,
		Messages: conv,
		Parameters: afsParameters{
			MaxNewTokens:     p.MaxTokens,
			Temperature:      p.Temperature,
			TopK:             p.TopK,
			TopP:             p.TopP,
			FrequencePenalty: p.FrequencyPenalty,
		},
	})
	if err != nil {
		return "", 0, fmt.Errorf("llm: marshal afs request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-HOST", "afs-inference")
	req.Header.Set("X-API-KEY", r.apiKey)

	resp, err := r.client.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("llm: HTTP POST %s: %w", r.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", 0, fmt.Errorf("llm: HTTP %d from %s: %s", resp.StatusCode, r.url, string(respBody))
	}

	var result afsResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", 0, fmt.Errorf("llm: decode afs response: %w", err)
	}

	// A payload without generated_text is a soft failure, not an error.
	if result.GeneratedText == "" {
		r.logger.Warn("afs returned no generated_text", "model", r.model)
		return "", 0, nil
	}

	// Strip markdown emphasis markers from the generated answer.
	return strings.ReplaceAll(result.GeneratedText, "**", ""), result.PromptTokens, nil
}
