// Package llm provides a provider-agnostic conversation model and a set of
// interchangeable chat-completion backends behind one Responder contract.
//
// A Responder takes an ordered Conversation plus sampling parameters and
// returns the generated answer together with the prompt token count. Backends
// differ in how they serialize the conversation (AFS posts the full multi-block
// message list, Ollama flattens each message to its first text block, OpenAI
// supports inline image attachments), but callers never see those differences.
//
// Usage:
//
//	resp, err := llm.New(llm.ModeAFS, llm.ConfigFromEnv())
//	answer, tokens, err := resp.Respond(ctx, conv, nil, llm.DefaultParams(8192))
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"
)

// Role identifies the author of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleAssistant Role = "assistant"
	RoleUser      Role = "user"
)

// ContentBlock is one tagged element of a message's content list: either a
// text block or an image reference. The wire encoding follows the OpenAI
// chat schema ({"type":"text",...} / {"type":"image_url",...}), which AFS
// accepts unchanged.
type ContentBlock interface {
	blockTag() string
}

// TextBlock carries plain text content.
type TextBlock struct {
	Text string
}

func (TextBlock) blockTag() string { return "text" }

// MarshalJSON encodes the block as {"type":"text","text":...}.
func (b TextBlock) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}{Type: "text", Text: b.Text})
}

// ImageBlock carries an image by URL. The URL is either remote or a
// data: URI with base64-encoded bytes.
type ImageBlock struct {
	URL string
}

func (ImageBlock) blockTag() string { return "image_url" }

// MarshalJSON encodes the block as {"type":"image_url","image_url":{"url":...}}.
func (b ImageBlock) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type     string `json:"type"`
		ImageURL struct {
			URL string `json:"url"`
		} `json:"image_url"`
	}{Type: "image_url", ImageURL: struct {
		URL string `json:"url"`
	}{URL: b.URL}})
}

// Message is one turn of a conversation. Content is never empty.
type Message struct {
	Role    Role           `json:"role"`
	Content []ContentBlock `json:"content"`
}

// FirstText returns the text of the first text block, or "" if the message
// carries no text. Backends that do not understand multi-block content
// (Ollama) collapse messages through this accessor.
func (m Message) FirstText() string {
	for _, b := range m.Content {
		if t, ok := b.(TextBlock); ok {
			return t.Text
		}
	}
	return ""
}

// Conversation is an ordered message sequence: one system message, one
// assistant-priming message, then alternating user/assistant turns.
type Conversation []Message

// AppendImages attaches base64-encoded JPEG images to the last message as
// data: URI image blocks. Images always bind to the most recent turn;
// earlier messages are never touched.
func (c Conversation) AppendImages(images []string) {
	if len(c) == 0 || len(images) == 0 {
		return
	}
	last := &c[len(c)-1]
	for _, img := range images {
		last.Content = append(last.Content, ImageBlock{
			URL: "data:image/jpeg;base64," + img,
		})
	}
}

// Params are the sampling parameters forwarded to the active backend.
type Params struct {
	MaxTokens        int
	Temperature      float64
	TopK             int
	TopP             float64
	FrequencyPenalty float64
}

// DefaultParams returns the sampling defaults used by the chat pipeline.
func DefaultParams(maxTokens int) Params {
	return Params{
		MaxTokens:        maxTokens,
		Temperature:      0.6,
		TopK:             30,
		TopP:             1,
		FrequencyPenalty: 1,
	}
}

// Responder generates an answer for a formatted conversation.
//
// The returned pair is (answer text, prompt token count). A transport failure
// propagates as an error; a provider payload with no usable content is a soft
// failure reported as ("", 0) with a nil error — callers must treat an empty
// answer as "no answer produced".
//
// Implementations hold no per-call state and tolerate concurrent use.
type Responder interface {
	Respond(ctx context.Context, conv Conversation, images []string, p Params) (string, int, error)
}

// DeployMode selects which chat-completion backend serves requests.
type DeployMode string

const (
	// ModeOllama targets a locally reachable Ollama server.
	ModeOllama DeployMode = "ollama"
	// ModeAFS targets the hosted AFS inference API.
	ModeAFS DeployMode = "afs"
	// ModeOpenAI targets the OpenAI chat completions API.
	ModeOpenAI DeployMode = "openai"
	// ModeNone wires a no-op backend that always answers ("", 0).
	ModeNone DeployMode = "none"
)

// ParseDeployMode validates a mode string against the closed set.
func ParseDeployMode(s string) (DeployMode, error) {
	switch DeployMode(s) {
	case ModeOllama, ModeAFS, ModeOpenAI, ModeNone:
		return DeployMode(s), nil
	}
	return "", fmt.Errorf("llm: invalid deploy mode %q", s)
}

// Config carries the credentials and endpoints for every backend. Only the
// fields of the selected mode are required; New rejects a half-configured
// provider at construction so a broken setup never reaches a live request.
type Config struct {
	AFSURL    string
	AFSAPIKey string
	AFSModel  string

	OllamaHost  string
	OllamaPort  string
	OllamaModel string

	OpenAIBaseURL string
	OpenAIAPIKey  string
	OpenAIModel   string

	// Timeout per HTTP request. Default: 120s.
	Timeout time.Duration

	// Logger for soft-failure diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 120 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.OpenAIBaseURL == "" {
		c.OpenAIBaseURL = "https://api.openai.com/v1"
	}
}

// ConfigFromEnv reads backend credentials from the environment.
func ConfigFromEnv() Config {
	return Config{
		AFSURL:        os.Getenv("AFS_API_URL"),
		AFSAPIKey:     os.Getenv("AFS_API_KEY"),
		AFSModel:      os.Getenv("AFS_MODEL_NAME"),
		OllamaHost:    os.Getenv("OLLAMA_HOST"),
		OllamaPort:    os.Getenv("OLLAMA_PORT"),
		OllamaModel:   os.Getenv("OLLAMA_MODEL_NAME"),
		OpenAIBaseURL: os.Getenv("OPENAI_BASE_URL"),
		OpenAIAPIKey:  os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:   os.Getenv("OPENAI_MODEL_NAME"),
	}
}

// New constructs the Responder for the given deploy mode. Missing required
// credentials are a construction error, not a request-time error.
func New(mode DeployMode, cfg Config) (Responder, error) {
	cfg.defaults()
	switch mode {
	case ModeOllama:
		return newOllamaResponder(cfg)
	case ModeAFS:
		return newAFSResponder(cfg)
	case ModeOpenAI:
		return newOpenAIResponder(cfg)
	case ModeNone:
		return noopResponder{}, nil
	}
	return nil, fmt.Errorf("llm: invalid deploy mode %q", mode)
}
