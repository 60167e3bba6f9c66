package mcpgateway

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/vikashloomba/mcp-toolhub-go/pkg/mcpmgr"
	"github.com/vikashloomba/mcp-toolhub-go/pkg/tooladapter"
)

// stubSession is an in-memory upstream server.
type stubSession struct {
	mu        sync.Mutex
	tools     []*mcp.Tool
	prompts   []*mcp.Prompt
	resources []*mcp.Resource
	calls     []map[string]any
}

func (s *stubSession) ListTools(context.Context) ([]*mcp.Tool, error) { return s.tools, nil }
func (s *stubSession) ListResources(context.Context) ([]*mcp.Resource, error) {
	return s.resources, nil
}
func (s *stubSession) ListPrompts(context.Context) ([]*mcp.Prompt, error) { return s.prompts, nil }

func (s *stubSession) CallTool(_ context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	s.mu.Lock()
	s.calls = append(s.calls, args)
	s.mu.Unlock()
	if name == "fail" {
		return &mcp.CallToolResult{IsError: true, Content: []mcp.Content{&mcp.TextContent{Text: "boom"}}}, nil
	}
	query, _ := args["query"].(string)
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: "result:" + query}}}, nil
}

func (s *stubSession) ReadResource(_ context.Context, uri string) (*mcp.ReadResourceResult, error) {
	return &mcp.ReadResourceResult{Contents: []*mcp.ResourceContents{{URI: uri, Text: "notes body"}}}, nil
}

func (s *stubSession) GetPrompt(_ context.Context, name string, args map[string]string) (*mcp.GetPromptResult, error) {
	return &mcp.GetPromptResult{
		Description: name,
		Messages: []*mcp.PromptMessage{{
			Role:    "user",
			Content: &mcp.TextContent{Text: "hello " + args["who"]},
		}},
	}, nil
}

func (s *stubSession) Close() error { return nil }

func (s *stubSession) lastCall() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.calls) == 0 {
		return nil
	}
	return s.calls[len(s.calls)-1]
}

func searchTool(name string) *mcp.Tool {
	return &mcp.Tool{
		Name:        name,
		Description: "Search the index",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{"type": "string"},
				"limit": map[string]any{"type": "integer", "default": 10},
			},
			"required": []any{"query"},
		},
	}
}

func newStubManager(t *testing.T, sessions map[string]*stubSession) *mcpmgr.Manager {
	t.Helper()
	transport := mcpmgr.TransportFunc(func(_ context.Context, cfg mcpmgr.ServerConfig, _ mcpmgr.SessionHooks) (mcpmgr.Session, error) {
		return sessions[cfg.Name], nil
	})
	mgr := mcpmgr.NewManager(&mcpmgr.ManagerOptions{
		Transports:   map[mcpmgr.TransportKind]mcpmgr.Transport{mcpmgr.TransportStdio: transport},
		RetryBackoff: -1,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	t.Cleanup(func() { _ = mgr.Shutdown(context.Background()) })
	return mgr
}

func stubConfig(name string) mcpmgr.ServerConfig {
	return mcpmgr.ServerConfig{Name: name, Transport: mcpmgr.TransportStdio, Command: "stub", Enabled: true}
}

func connectClient(t *testing.T, ctx context.Context, gateway *Gateway) *mcp.ClientSession {
	t.Helper()
	server := httptest.NewServer(gateway.Handler())
	t.Cleanup(server.Close)
	client := mcp.NewClient(&mcp.Implementation{Name: "gateway-test-client", Version: "1.0.0"}, nil)
	session, err := client.Connect(ctx, &mcp.StreamableClientTransport{
		Endpoint:   server.URL + "/mcp",
		HTTPClient: server.Client(),
	}, nil)
	if err != nil {
		t.Fatalf("connect to gateway: %v", err)
	}
	t.Cleanup(func() { _ = session.Close() })
	return session
}

func toolNames(t *testing.T, ctx context.Context, session *mcp.ClientSession) map[string]*mcp.Tool {
	t.Helper()
	res, err := session.ListTools(ctx, nil)
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	out := make(map[string]*mcp.Tool, len(res.Tools))
	for _, tool := range res.Tools {
		out[tool.Name] = tool
	}
	return out
}

func TestGatewayExposesCatalogByID(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	alpha := &stubSession{tools: []*mcp.Tool{searchTool("search"), searchTool("fail")}}
	mgr := newStubManager(t, map[string]*stubSession{"alpha": alpha})
	gateway, err := NewGateway(mgr, nil)
	if err != nil {
		t.Fatalf("NewGateway: %v", err)
	}
	session := connectClient(t, ctx, gateway)

	if got := toolNames(t, ctx, session); len(got) != 0 {
		t.Fatalf("expected no tools before any server connects, got %d", len(got))
	}

	if err := mgr.AddServer(ctx, stubConfig("alpha")); err != nil {
		t.Fatalf("AddServer: %v", err)
	}
	id := tooladapter.ToolID("alpha", "search")
	tools := toolNames(t, ctx, session)
	tool, ok := tools[id]
	if !ok {
		t.Fatalf("tool %q not exposed; got %v", id, tools)
	}
	if tool.Meta[metaKeyServer] != "alpha" || tool.Meta[metaKeyRawName] != "search" {
		t.Fatalf("unexpected tool meta: %+v", tool.Meta)
	}
	schema, ok := tool.InputSchema.(map[string]any)
	if !ok {
		t.Fatalf("input schema should decode to an object, got %T", tool.InputSchema)
	}
	required, _ := schema["required"].([]any)
	if len(required) != 1 || required[0] != "query" {
		t.Fatalf("unexpected required list: %v", schema["required"])
	}

	res, err := session.CallTool(ctx, &mcp.CallToolParams{Name: id, Arguments: map[string]any{"query": "x"}})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if res.IsError {
		t.Fatalf("unexpected error result: %+v", res.Content)
	}
	text, ok := res.Content[0].(*mcp.TextContent)
	if !ok || text.Text != "result:x" {
		t.Fatalf("unexpected content: %+v", res.Content)
	}
	if limit := alpha.lastCall()["limit"]; limit != int64(10) {
		t.Fatalf("default should be coerced before the upstream call, got %#v", limit)
	}

	if err := mgr.RemoveServer(ctx, "alpha"); err != nil {
		t.Fatalf("RemoveServer: %v", err)
	}
	if got := toolNames(t, ctx, session); len(got) != 0 {
		t.Fatalf("tools should be withdrawn after removal, got %v", got)
	}
}

func TestGatewayMapsFailuresToErrorResults(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	alpha := &stubSession{tools: []*mcp.Tool{searchTool("search"), searchTool("fail")}}
	mgr := newStubManager(t, map[string]*stubSession{"alpha": alpha})
	if err := mgr.AddServer(ctx, stubConfig("alpha")); err != nil {
		t.Fatalf("AddServer: %v", err)
	}
	gateway, err := NewGateway(mgr, nil)
	if err != nil {
		t.Fatalf("NewGateway: %v", err)
	}
	session := connectClient(t, ctx, gateway)

	cases := []struct {
		name string
		tool string
		args map[string]any
	}{
		{name: "missing required", tool: tooladapter.ToolID("alpha", "search"), args: map[string]any{}},
		{name: "upstream error", tool: tooladapter.ToolID("alpha", "fail"), args: map[string]any{"query": "x"}},
	}
	for _, tc := range cases {
		res, err := session.CallTool(ctx, &mcp.CallToolParams{Name: tc.tool, Arguments: tc.args})
		if err != nil {
			t.Fatalf("%s: CallTool returned protocol error: %v", tc.name, err)
		}
		if !res.IsError {
			t.Fatalf("%s: expected IsError result", tc.name)
		}
	}
	alpha.mu.Lock()
	calls := len(alpha.calls)
	alpha.mu.Unlock()
	if calls != 1 {
		t.Fatalf("validation failures must not reach the upstream server, got %d calls", calls)
	}
}

func TestGatewayFollowsToolToggles(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	mgr := newStubManager(t, map[string]*stubSession{"alpha": {tools: []*mcp.Tool{searchTool("search")}}})
	if err := mgr.AddServer(ctx, stubConfig("alpha")); err != nil {
		t.Fatalf("AddServer: %v", err)
	}
	gateway, err := NewGateway(mgr, nil)
	if err != nil {
		t.Fatalf("NewGateway: %v", err)
	}
	id := tooladapter.ToolID("alpha", "search")
	if err := mgr.SetToolEnabled(id, false); err != nil {
		t.Fatalf("SetToolEnabled: %v", err)
	}
	gateway.Sync()
	if gateway.features.ToolCount() != 0 {
		t.Fatalf("disabled tools should not be exposed")
	}

	gateway.Close()
	if err := mgr.SetToolEnabled(id, true); err != nil {
		t.Fatalf("SetToolEnabled: %v", err)
	}
	if err := mgr.RefreshServer(ctx, "alpha"); err != nil {
		t.Fatalf("RefreshServer: %v", err)
	}
	if gateway.features.ToolCount() != 0 {
		t.Fatalf("closed gateway should ignore catalog events")
	}
}

func TestGatewayProxiesPromptsAndResources(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	notes := &mcp.Resource{URI: "file:///notes.txt", Name: "notes"}
	mgr := newStubManager(t, map[string]*stubSession{"alpha": {
		prompts:   []*mcp.Prompt{{Name: "greet"}},
		resources: []*mcp.Resource{notes},
	}})
	if err := mgr.AddServer(ctx, stubConfig("alpha")); err != nil {
		t.Fatalf("AddServer: %v", err)
	}
	gateway, err := NewGateway(mgr, nil)
	if err != nil {
		t.Fatalf("NewGateway: %v", err)
	}
	session := connectClient(t, ctx, gateway)

	prompt, err := session.GetPrompt(ctx, &mcp.GetPromptParams{Name: "alpha__greet", Arguments: map[string]string{"who": "gateway"}})
	if err != nil {
		t.Fatalf("GetPrompt: %v", err)
	}
	if text, ok := prompt.Messages[0].Content.(*mcp.TextContent); !ok || text.Text != "hello gateway" {
		t.Fatalf("unexpected prompt: %+v", prompt.Messages[0].Content)
	}

	uri := ServerPrefixNamespace{}.ResourceURI("alpha", notes.URI)
	res, err := session.ReadResource(ctx, &mcp.ReadResourceParams{URI: uri})
	if err != nil {
		t.Fatalf("ReadResource: %v", err)
	}
	if len(res.Contents) != 1 || res.Contents[0].Text != "notes body" || res.Contents[0].URI != uri {
		t.Fatalf("unexpected resource contents: %+v", res.Contents)
	}
}
