package rag

import (
	"fmt"
	"strings"

	"github.com/akinoalice/examrag/llm"
)

// Format builds the provider-agnostic conversation for one chat request.
//
// The first two messages are always the canned system and assistant-priming
// texts for the (language, type) pair. A single-entry history is a fresh
// question: the user template is filled with the question and the retrieved
// chunks joined with no separator. A longer history is an ongoing chat: the
// raw entries become alternating user/assistant turns (even index → user)
// and the retrieved chunks are ignored — context is only injected on the
// opening turn.
//
// An empty history is invalid input.
func Format(history []string, chunks []string, qt QuestionType, lang Language) (llm.Conversation, error) {
	if len(history) == 0 {
		return nil, fmt.Errorf("rag: chat history must have at least one entry")
	}

	set, err := lookupPrompt(lang, qt)
	if err != nil {
		return nil, err
	}

	conv := llm.Conversation{
		{Role: llm.RoleSystem, Content: []llm.ContentBlock{llm.TextBlock{Text: set.System}}},
		{Role: llm.RoleAssistant, Content: []llm.ContentBlock{llm.TextBlock{Text: set.Assistant}}},
	}

	if len(history) == 1 {
		text := strings.NewReplacer(
			"{question}", history[len(history)-1],
			"{search_documents}", strings.Join(chunks, ""),
		).Replace(set.User)
		return append(conv, llm.Message{
			Role:    llm.RoleUser,
			Content: []llm.ContentBlock{llm.TextBlock{Text: text}},
		}), nil
	}

	roles := [2]llm.Role{llm.RoleUser, llm.RoleAssistant}
	for i, entry := range history {
		conv = append(conv, llm.Message{
			Role:    roles[i%2],
			Content: []llm.ContentBlock{llm.TextBlock{Text: entry}},
		})
	}
	return conv, nil
}
