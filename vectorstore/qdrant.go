package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Qdrant is a minimal REST client to a Qdrant server. It assumes cosine
// distance and creates collections on first use.
type Qdrant struct {
	url    string
	apiKey string
	dim    int
	client *http.Client
}

// QdrantConfig contains connection details for a Qdrant vector store.
type QdrantConfig struct {
	URL     string        `yaml:"url"`
	APIKey  string        `yaml:"api_key"`
	Dim     int           `yaml:"dim"`
	Timeout time.Duration `yaml:"timeout"`
}

// NewQdrant creates a Qdrant client from config.
func NewQdrant(cfg QdrantConfig) (*Qdrant, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("vectorstore: qdrant url is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Qdrant{
		url:    cfg.URL,
		apiKey: cfg.APIKey,
		dim:    cfg.Dim,
		client: &http.Client{Timeout: timeout},
	}, nil
}

// EnsureCollection creates the collection with cosine distance if missing.
// Qdrant answers 200 when the collection already exists with the same schema.
func (q *Qdrant) EnsureCollection(ctx context.Context, collection string) error {
	body := map[string]any{
		"vectors": map[string]any{
			"size":     q.dim,
			"distance": "Cosine",
		},
	}
	return q.doJSON(ctx, http.MethodPut,
		fmt.Sprintf("%s/collections/%s", q.url, collection), body, nil)
}

// Upsert stores document chunks as points with content/source/file_uuid payload.
func (q *Qdrant) Upsert(ctx context.Context, collection string, docs []Document) error {
	points := make([]map[string]any, len(docs))
	for i, d := range docs {
		points[i] = map[string]any{
			"id":     uuid.NewString(),
			"vector": d.Vector,
			"payload": map[string]any{
				"content":   d.Content,
				"source":    d.Source,
				"file_uuid": d.FileUUID,
			},
		}
	}
	body := map[string]any{"points": points}
	return q.doJSON(ctx, http.MethodPut,
		fmt.Sprintf("%s/collections/%s/points?wait=true", q.url, collection), body, nil)
}

// Search returns the topK nearest chunks in the collection.
func (q *Qdrant) Search(ctx context.Context, vector []float32, collection string, topK int) ([]Result, error) {
	if topK <= 0 {
		topK = 3
	}
	req := map[string]any{
		"vector":       vector,
		"limit":        topK,
		"with_payload": true,
	}
	var resp struct {
		Result []struct {
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	err := q.doJSON(ctx, http.MethodPost,
		fmt.Sprintf("%s/collections/%s/points/search", q.url, collection), req, &resp)
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(resp.Result))
	for _, r := range resp.Result {
		var res Result
		if v, ok := r.Payload["content"].(string); ok {
			res.Content = v
		}
		if v, ok := r.Payload["source"].(string); ok {
			res.Source = v
		}
		if v, ok := r.Payload["file_uuid"].(string); ok {
			res.FileUUID = v
		}
		results = append(results, res)
	}
	return results, nil
}

func (q *Qdrant) doJSON(ctx context.Context, method, url string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("vectorstore: marshal qdrant request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if q.apiKey != "" {
		req.Header.Set("api-key", q.apiKey)
	}
	resp, err := q.client.Do(req)
	if err != nil {
		return fmt.Errorf("vectorstore: %s %s: %w", method, url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("vectorstore: qdrant %s %s failed: %s", method, url, resp.Status)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
