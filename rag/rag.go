// Package rag turns a student question plus chat history into a generated
// answer: it formats a multi-turn conversation from canned prompt templates
// and retrieved document chunks, dispatches it to the configured LLM backend,
// and returns the normalized (answer, token count) pair.
//
// The Orchestrator is built once at startup and injected into request
// handlers; the only shared state is the active backend, swappable at runtime
// via OverrideDeployMode without restarting the process.
package rag

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/akinoalice/examrag/llm"
)

// Orchestrator is the top-level entry point of the response pipeline.
type Orchestrator struct {
	logger *slog.Logger

	mu        sync.RWMutex
	mode      llm.DeployMode
	responder llm.Responder
}

// NewOrchestrator builds an Orchestrator from the LLM_DEPLOY_MODE environment
// value and environment-sourced credentials. A missing or invalid mode, or
// missing credentials for the selected backend, abort startup.
func NewOrchestrator(logger *slog.Logger) (*Orchestrator, error) {
	mode, err := llm.ParseDeployMode(os.Getenv("LLM_DEPLOY_MODE"))
	if err != nil {
		return nil, fmt.Errorf("rag: LLM_DEPLOY_MODE: %w", err)
	}
	cfg := llm.ConfigFromEnv()
	cfg.Logger = logger
	return NewOrchestratorWith(mode, cfg, logger)
}

// NewOrchestratorWith builds an Orchestrator with an explicit mode and
// backend configuration. Used directly by tests with fake endpoints.
func NewOrchestratorWith(mode llm.DeployMode, cfg llm.Config, logger *slog.Logger) (*Orchestrator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	responder, err := llm.New(mode, cfg)
	if err != nil {
		return nil, err
	}
	logger.Info("response orchestrator ready", "deploy_mode", mode)
	return &Orchestrator{
		logger:    logger,
		mode:      mode,
		responder: responder,
	}, nil
}

// Mode returns the active deploy mode.
func (o *Orchestrator) Mode() llm.DeployMode {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.mode
}

// OverrideDeployMode swaps the active backend for a new deploy mode,
// rebuilding adapter state from environment-sourced credentials. On an
// unrecognized mode or a failed construction the prior backend stays active
// and false is returned.
func (o *Orchestrator) OverrideDeployMode(mode llm.DeployMode) bool {
	parsed, err := llm.ParseDeployMode(string(mode))
	if err != nil {
		o.logger.Error("deploy mode override rejected", "mode", mode, "error", err)
		return false
	}

	cfg := llm.ConfigFromEnv()
	cfg.Logger = o.logger
	responder, err := llm.New(parsed, cfg)
	if err != nil {
		o.logger.Error("deploy mode override failed", "mode", parsed, "error", err)
		return false
	}

	o.mu.Lock()
	o.mode = parsed
	o.responder = responder
	o.mu.Unlock()

	o.logger.Info("deploy mode overridden", "mode", parsed)
	return true
}

// GenerateResponse formats the conversation for the question (the full chat
// history, last entry being the current question) and the retrieved document
// chunks, asks the active backend, and returns its result unchanged — an
// empty answer with zero tokens is the soft-failure sentinel, not an error.
func (o *Orchestrator) GenerateResponse(
	ctx context.Context,
	question []string,
	queriedDocument []string,
	qt QuestionType,
	lang Language,
	maxTokens int,
	images []string,
) (string, int, error) {
	conv, err := Format(question, queriedDocument, qt, lang)
	if err != nil {
		return "", 0, err
	}

	o.mu.RLock()
	responder := o.responder
	o.mu.RUnlock()

	answer, tokens, err := responder.Respond(ctx, conv, images, llm.DefaultParams(maxTokens))
	if err != nil {
		return "", 0, err
	}

	o.logger.Debug("response generated",
		"answer_len", len(answer),
		"token_count", tokens,
		"turns", len(question))
	return answer, tokens, nil
}
