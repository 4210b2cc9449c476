// Package embedder converts text to fixed-dimension float32 vectors via one
// of several interchangeable embedding backends.
//
// Individual encoders return the backend's native vector unmodified and stay
// agnostic of the deployment dimension; the Embedder facade owns the
// configured dimension and normalizes every vector to exactly that length
// (zero-padding short vectors on the right, truncating long ones), so the
// vector store always receives uniform rows regardless of the active model.
package embedder

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"
)

// Encoder converts one text to its native-length embedding vector.
// Implementations hold no per-call state and tolerate concurrent use.
type Encoder interface {
	Encode(ctx context.Context, text string) ([]float32, error)
}

// DeployMode selects which embedding backend serves requests.
type DeployMode string

const (
	// ModeOllama targets a locally reachable Ollama server.
	ModeOllama DeployMode = "ollama"
	// ModeAFS targets the hosted AFS embedding API.
	ModeAFS DeployMode = "afs"
	// ModeOpenAI targets the OpenAI embeddings API.
	ModeOpenAI DeployMode = "openai"
	// ModeNone wires a zero-vector encoder, useful without a backend.
	ModeNone DeployMode = "none"
)

// ParseDeployMode validates a mode string against the closed set.
func ParseDeployMode(s string) (DeployMode, error) {
	switch DeployMode(s) {
	case ModeOllama, ModeAFS, ModeOpenAI, ModeNone:
		return DeployMode(s), nil
	}
	return "", fmt.Errorf("embedder: invalid deploy mode %q", s)
}

// Config carries credentials and the deployment-wide vector dimension.
type Config struct {
	// Dim is the fixed vector dimension every encoded vector is normalized
	// to. Must be at least 8.
	Dim int

	AFSURL    string
	AFSAPIKey string
	AFSModel  string

	OllamaHost  string
	OllamaPort  string
	OllamaModel string

	OpenAIBaseURL string
	OpenAIAPIKey  string
	OpenAIModel   string

	// Timeout per HTTP request. Default: 30s.
	Timeout time.Duration

	// Logger for diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.OpenAIBaseURL == "" {
		c.OpenAIBaseURL = "https://api.openai.com/v1"
	}
}

// ConfigFromEnv reads backend credentials and VECTOR_DIM from the environment.
func ConfigFromEnv() Config {
	dim, _ := strconv.Atoi(os.Getenv("VECTOR_DIM"))
	return Config{
		Dim:           dim,
		AFSURL:        os.Getenv("AFS_API_URL"),
		AFSAPIKey:     os.Getenv("AFS_API_KEY"),
		AFSModel:      os.Getenv("AFS_EMBEDDING_MODEL_NAME"),
		OllamaHost:    os.Getenv("OLLAMA_HOST"),
		OllamaPort:    os.Getenv("OLLAMA_PORT"),
		OllamaModel:   os.Getenv("OLLAMA_EMBEDDING_MODEL_NAME"),
		OpenAIBaseURL: os.Getenv("OPENAI_BASE_URL"),
		OpenAIAPIKey:  os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:   os.Getenv("OPENAI_EMBEDDING_MODEL_NAME"),
	}
}

// Embedder pairs the selected Encoder with the configured dimension.
type Embedder struct {
	enc Encoder
	dim int
}

// New constructs the Embedder for the given deploy mode. An invalid mode,
// a dimension below 8 or missing backend credentials are construction
// errors — the process must not start serving half-configured.
func New(mode DeployMode, cfg Config) (*Embedder, error) {
	cfg.defaults()
	if cfg.Dim < 8 {
		return nil, fmt.Errorf("embedder: vector dimension %d is below the minimum of 8", cfg.Dim)
	}

	var (
		enc Encoder
		err error
	)
	switch mode {
	case ModeOllama:
		enc, err = newOllamaEncoder(cfg)
	case ModeAFS:
		enc, err = newAFSEncoder(cfg)
	case ModeOpenAI:
		enc, err = newOpenAIEncoder(cfg)
	case ModeNone:
		enc = zeroEncoder{dim: cfg.Dim}
	default:
		return nil, fmt.Errorf("embedder: invalid deploy mode %q", mode)
	}
	if err != nil {
		return nil, err
	}
	return &Embedder{enc: enc, dim: cfg.Dim}, nil
}

// Dim returns the fixed output dimension.
func (e *Embedder) Dim() int { return e.dim }

// Encode returns the embedding of text normalized to exactly Dim components:
// shorter native vectors are zero-padded on the right, longer ones truncated.
// Transport errors from the backend propagate unretried.
func (e *Embedder) Encode(ctx context.Context, text string) ([]float32, error) {
	vector, err := e.enc.Encode(ctx, text)
	if err != nil {
		return nil, err
	}
	return PadToDim(vector, e.dim), nil
}

// PadToDim normalizes a vector to exactly dim components. Padding never
// removes non-zero components of a short vector.
func PadToDim(vector []float32, dim int) []float32 {
	if len(vector) == dim {
		return vector
	}
	if len(vector) > dim {
		return vector[:dim]
	}
	padded := make([]float32, dim)
	copy(padded, vector)
	return padded
}

// zeroEncoder returns zero vectors — useful for testing without a backend.
type zeroEncoder struct {
	dim int
}

func (z zeroEncoder) Encode(context.Context, string) ([]float32, error) {
	return make([]float32, z.dim), nil
}
