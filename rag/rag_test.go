package rag

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/akinoalice/examrag/llm"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestOrchestratorNoopBackend(t *testing.T) {
	o, err := NewOrchestratorWith(llm.ModeNone, llm.Config{}, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	answer, tokens, err := o.GenerateResponse(context.Background(),
		[]string{"hello"}, nil, Chatting, English, 8192, nil)
	if err != nil {
		t.Fatal(err)
	}
	if answer != "" || tokens != 0 {
		t.Fatalf("noop backend must answer (\"\", 0), got %q / %d", answer, tokens)
	}
}

func TestOrchestratorGeneratesThroughAFS(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Messages []json.RawMessage `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), 400)
			return
		}
		if len(req.Messages) != 3 {
			t.Errorf("expected 3 messages for a fresh question, got %d", len(req.Messages))
		}
		json.NewEncoder(w).Encode(map[string]any{
			"generated_text": "the answer",
			"prompt_tokens":  12,
		})
	}))
	defer srv.Close()

	o, err := NewOrchestratorWith(llm.ModeAFS, llm.Config{
		AFSURL:    srv.URL,
		AFSAPIKey: "k",
		AFSModel:  "m",
		Logger:    testLogger(),
	}, testLogger())
	if err != nil {
		t.Fatal(err)
	}

	answer, tokens, err := o.GenerateResponse(context.Background(),
		[]string{"What is entropy?"}, []string{"Entropy measures disorder."},
		Chatting, English, 256, nil)
	if err != nil {
		t.Fatal(err)
	}
	if answer != "the answer" || tokens != 12 {
		t.Fatalf("unexpected result %q / %d", answer, tokens)
	}
}

func TestOverrideDeployModeRejectsUnknown(t *testing.T) {
	o, err := NewOrchestratorWith(llm.ModeNone, llm.Config{}, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	if o.OverrideDeployMode("bedrock") {
		t.Fatal("unknown mode must be rejected")
	}
	if o.Mode() != llm.ModeNone {
		t.Fatalf("prior mode must stay active, got %q", o.Mode())
	}
}

func TestOverrideDeployModeKeepsPriorOnFailure(t *testing.T) {
	// afs without credentials cannot be constructed; the noop backend stays.
	t.Setenv("AFS_API_URL", "")
	t.Setenv("AFS_API_KEY", "")
	t.Setenv("AFS_MODEL_NAME", "")

	o, err := NewOrchestratorWith(llm.ModeNone, llm.Config{}, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	if o.OverrideDeployMode(llm.ModeAFS) {
		t.Fatal("override must fail without credentials")
	}
	if o.Mode() != llm.ModeNone {
		t.Fatalf("prior mode must stay active, got %q", o.Mode())
	}
	answer, tokens, err := o.GenerateResponse(context.Background(),
		[]string{"q"}, nil, Chatting, English, 64, nil)
	if err != nil || answer != "" || tokens != 0 {
		t.Fatalf("prior backend behavior changed: %q / %d / %v", answer, tokens, err)
	}
}

func TestOverrideDeployModeIdempotent(t *testing.T) {
	o, err := NewOrchestratorWith(llm.ModeNone, llm.Config{}, testLogger())
	if err != nil {
		t.Fatal(err)
	}

	before, beforeTokens, err := o.GenerateResponse(context.Background(),
		[]string{"same input"}, nil, Chatting, English, 64, nil)
	if err != nil {
		t.Fatal(err)
	}

	if !o.OverrideDeployMode(llm.ModeNone) {
		t.Fatal("overriding with the current mode must succeed")
	}

	after, afterTokens, err := o.GenerateResponse(context.Background(),
		[]string{"same input"}, nil, Chatting, English, 64, nil)
	if err != nil {
		t.Fatal(err)
	}
	if before != after || beforeTokens != afterTokens {
		t.Fatalf("behavior changed after idempotent override: %q/%d vs %q/%d",
			before, beforeTokens, after, afterTokens)
	}
}

func TestOverrideDeployModeFromEnv(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"generated_text": "override works",
			"prompt_tokens":  3,
		})
	}))
	defer srv.Close()

	t.Setenv("AFS_API_URL", srv.URL)
	t.Setenv("AFS_API_KEY", "k")
	t.Setenv("AFS_MODEL_NAME", "m")

	o, err := NewOrchestratorWith(llm.ModeNone, llm.Config{}, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	if !o.OverrideDeployMode(llm.ModeAFS) {
		t.Fatal("override with env credentials must succeed")
	}
	if o.Mode() != llm.ModeAFS {
		t.Fatalf("mode not swapped, got %q", o.Mode())
	}

	answer, tokens, err := o.GenerateResponse(context.Background(),
		[]string{"q"}, nil, Chatting, English, 64, nil)
	if err != nil {
		t.Fatal(err)
	}
	if answer != "override works" || tokens != 3 {
		t.Fatalf("unexpected result %q / %d", answer, tokens)
	}
}
