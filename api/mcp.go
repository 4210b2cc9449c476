package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/akinoalice/examrag/rag"
)

// RegisterMCP registers the pipeline tools on an MCP server, so agent
// clients can query the tutor and the embedding backend directly.
func (s *Service) RegisterMCP(srv *mcp.Server) {
	s.registerAskTool(srv)
	s.registerEmbedTool(srv)
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func toolResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		var res mcp.CallToolResult
		res.SetError(fmt.Errorf("marshal: %w", err))
		return &res, nil
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}, nil
}

func toolError(err error) (*mcp.CallToolResult, error) {
	var res mcp.CallToolResult
	res.SetError(err)
	return &res, nil
}

// --- ask ---

type askReq struct {
	Question     []string `json:"question"`
	Collection   string   `json:"collection"`
	Language     string   `json:"language"`
	QuestionType string   `json:"question_type"`
}

func (s *Service) registerAskTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "examrag_ask",
		Description: "Ask the exam tutor a question answered from the indexed course documents.",
		InputSchema: inputSchema(map[string]any{
			"question": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "Chat history, last entry being the current question",
			},
			"collection": map[string]any{"type": "string", "description": "Document collection to search"},
			"language":   map[string]any{"type": "string", "description": "ENGLISH or CHINESE"},
			"question_type": map[string]any{
				"type":        "string",
				"description": "CHATTING, TESTING or THEOREM",
			},
		}, []string{"question"}),
	}

	srv.AddTool(tool, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var r askReq
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return toolError(fmt.Errorf("invalid arguments: %w", err))
		}
		if len(r.Question) == 0 {
			return toolError(fmt.Errorf("question must not be empty"))
		}
		if r.Collection == "" {
			r.Collection = "default"
		}
		if r.Language == "" {
			r.Language = string(rag.Chinese)
		}
		if r.QuestionType == "" {
			r.QuestionType = string(rag.Chatting)
		}

		latest := r.Question[len(r.Question)-1]
		vector, err := s.embedder.Encode(ctx, latest)
		if err != nil {
			return toolError(err)
		}
		results, err := s.searcher.Search(ctx, vector, r.Collection, defaultTopK)
		if err != nil {
			return toolError(err)
		}
		contents := make([]string, 0, len(results))
		for _, res := range results {
			contents = append(contents, res.Content)
		}

		answer, tokens, err := s.orch.GenerateResponse(ctx, r.Question, contents,
			rag.QuestionType(r.QuestionType), rag.Language(r.Language), defaultMaxTokens, nil)
		if err != nil {
			return toolError(err)
		}

		return toolResult(map[string]any{
			"answer":     answer,
			"token_size": tokens,
			"chunks":     len(contents),
		})
	})
}

// --- embed ---

type embedReq struct {
	Text string `json:"text"`
}

func (s *Service) registerEmbedTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "examrag_embed",
		Description: "Generate the fixed-dimension embedding vector for a text string.",
		InputSchema: inputSchema(map[string]any{
			"text": map[string]any{"type": "string", "description": "Text to embed"},
		}, []string{"text"}),
	}

	srv.AddTool(tool, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var r embedReq
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return toolError(fmt.Errorf("invalid arguments: %w", err))
		}

		vector, err := s.embedder.Encode(ctx, r.Text)
		if err != nil {
			return toolError(err)
		}
		return toolResult(map[string]any{
			"vector":    vector,
			"dimension": len(vector),
		})
	})
}
