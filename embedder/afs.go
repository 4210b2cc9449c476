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

// afsEncoder calls the hosted AFS embedding API. The response envelope is
// {"data":[{"embedding":[...]}]}; the raw vector is returned without padding.
type afsEncoder struct {
	url    string
	apiKey string
	model  string
	client *http.Client
}

func newAFSEncoder(cfg Config) (*afsEncoder, error) {
	if cfg.AFSURL == "" || cfg.AFSAPIKey == "" || cfg.AFSModel == "" {
		return nil, fmt.Errorf("embedder: afs mode requires AFS_API_URL, AFS_API_KEY and AFS_EMBEDDING_MODEL_NAME")
	}
	return &afsEncoder{
		url:    strings.TrimRight(cfg.AFSURL, "/") + "/models/embeddings",
		apiKey: cfg.AFSAPIKey,
		model:  cfg.AFSModel,
		client: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

type afsEmbedRequest struct {
	Model  string   `json:"model"`
	Inputs []string `json:"inputs"`
}

type afsEmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (e *afsEncoder) Encode(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(afsEmbedRequest{Model: e.model, Inputs: []string{text}})
	if err != nil {
		return nil, fmt.Errorf("embedder: marshal afs request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-HOST", "afs-inference")
	req.Header.Set("X-API-KEY", e.apiKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedder: HTTP POST %s: %w", e.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("embedder: HTTP %d from %s: %s", resp.StatusCode, e.url, string(respBody))
	}

	var result afsEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("embedder: decode afs response: %w", err)
	}
	if len(result.Data) == 0 || len(result.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("embedder: no embedding returned from %s", e.url)
	}
	return result.Data[0].Embedding, nil
}
