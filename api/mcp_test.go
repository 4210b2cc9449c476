package api

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

var testMCPImpl = &mcp.Implementation{Name: "examrag-test", Version: "0.1.0"}

func mcpSession(t *testing.T, svc *Service) *mcp.ClientSession {
	t.Helper()
	srv := mcp.NewServer(testMCPImpl, nil)
	svc.RegisterMCP(srv)

	serverT, clientT := mcp.NewInMemoryTransports()
	ctx := context.Background()
	go func() { _ = srv.Run(ctx, serverT) }()

	client := mcp.NewClient(testMCPImpl, nil)
	session, err := client.Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { session.Close() })
	return session
}

func mcpCallTool(t *testing.T, session *mcp.ClientSession, name string, args any) string {
	t.Helper()
	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	if err := result.GetError(); err != nil {
		t.Fatalf("CallTool(%s) tool error: %v", name, err)
	}
	tc, ok := result.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("CallTool(%s): expected TextContent", name)
	}
	return tc.Text
}

func TestMCP_Embed(t *testing.T) {
	svc, _ := newTestService(t, nil, nil)
	session := mcpSession(t, svc)

	text := mcpCallTool(t, session, "examrag_embed", map[string]any{
		"text": "What is photosynthesis?",
	})

	var resp struct {
		Vector    []float32 `json:"vector"`
		Dimension int       `json:"dimension"`
	}
	if err := json.Unmarshal([]byte(text), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Dimension != 8 || len(resp.Vector) != 8 {
		t.Errorf("dimension = %d, vector len = %d, want 8", resp.Dimension, len(resp.Vector))
	}
}

func TestMCP_Ask(t *testing.T) {
	svc, _ := newTestService(t, nil, nil) // noop backend
	session := mcpSession(t, svc)

	text := mcpCallTool(t, session, "examrag_ask", map[string]any{
		"question":      []string{"What is entropy?"},
		"language":      "ENGLISH",
		"question_type": "CHATTING",
	})

	var resp struct {
		Answer    string `json:"answer"`
		TokenSize int    `json:"token_size"`
		Chunks    int    `json:"chunks"`
	}
	if err := json.Unmarshal([]byte(text), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Answer != "" || resp.TokenSize != 0 {
		t.Errorf("noop backend must answer empty, got %q / %d", resp.Answer, resp.TokenSize)
	}
}
