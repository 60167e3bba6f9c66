package mcpmgr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// fakeServer is an in-memory Transport standing in for one MCP server.
type fakeServer struct {
	mu           sync.Mutex
	tools        []*mcp.Tool
	resources    []*mcp.Resource
	resourcesErr error
	openErrs     []error
	blockOpen    bool
	listToolsErr error
	// crashOnPrompts is how many sessions report Closed while listing prompts.
	crashOnPrompts int
	callErr        error
	callBlock      bool
	opens          int
	calls          []fakeCall
	sessions       []*fakeSession
}

type fakeCall struct {
	name string
	args map[string]any
}

func newFakeServer(tools ...*mcp.Tool) *fakeServer {
	return &fakeServer{tools: tools}
}

func (f *fakeServer) Open(ctx context.Context, cfg ServerConfig, hooks SessionHooks) (Session, error) {
	f.mu.Lock()
	f.opens++
	n := f.opens
	block := f.blockOpen
	var openErr error
	if n <= len(f.openErrs) {
		openErr = f.openErrs[n-1]
	}
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if openErr != nil {
		return nil, openErr
	}
	s := &fakeSession{server: f, hooks: hooks}
	f.mu.Lock()
	f.sessions = append(f.sessions, s)
	f.mu.Unlock()
	return s, nil
}

func (f *fakeServer) setTools(tools ...*mcp.Tool) {
	f.mu.Lock()
	f.tools = tools
	f.mu.Unlock()
}

func (f *fakeServer) openCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opens
}

func (f *fakeServer) recordedCalls() []fakeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.calls)
}

func (f *fakeServer) lastSession() *fakeSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sessions) == 0 {
		return nil
	}
	return f.sessions[len(f.sessions)-1]
}

type fakeSession struct {
	server *fakeServer
	hooks  SessionHooks

	mu     sync.Mutex
	closed int
}

func (s *fakeSession) ListTools(ctx context.Context) ([]*mcp.Tool, error) {
	s.server.mu.Lock()
	defer s.server.mu.Unlock()
	if s.server.listToolsErr != nil {
		return nil, s.server.listToolsErr
	}
	return slices.Clone(s.server.tools), nil
}

func (s *fakeSession) ListResources(ctx context.Context) ([]*mcp.Resource, error) {
	s.server.mu.Lock()
	defer s.server.mu.Unlock()
	if s.server.resourcesErr != nil {
		return nil, s.server.resourcesErr
	}
	return slices.Clone(s.server.resources), nil
}

func (s *fakeSession) ListPrompts(ctx context.Context) ([]*mcp.Prompt, error) {
	s.server.mu.Lock()
	crash := s.server.crashOnPrompts > 0
	if crash {
		s.server.crashOnPrompts--
	}
	s.server.mu.Unlock()
	if crash {
		s.hooks.Closed(errors.New("process exited"))
		return nil, errors.New("connection closed")
	}
	return nil, nil
}

func (s *fakeSession) CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	s.server.mu.Lock()
	s.server.calls = append(s.server.calls, fakeCall{name: name, args: args})
	callErr := s.server.callErr
	block := s.server.callBlock
	s.server.mu.Unlock()
	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if callErr != nil {
		return nil, callErr
	}
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: "ok:" + name}}}, nil
}

func (s *fakeSession) ReadResource(ctx context.Context, uri string) (*mcp.ReadResourceResult, error) {
	return &mcp.ReadResourceResult{Contents: []*mcp.ResourceContents{{URI: uri, Text: "contents"}}}, nil
}

func (s *fakeSession) GetPrompt(ctx context.Context, name string, args map[string]string) (*mcp.GetPromptResult, error) {
	return nil, errors.New("no prompts")
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	s.closed++
	s.mu.Unlock()
	return nil
}

func (s *fakeSession) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// fakeTool builds a tool whose schema declares a required string "query"
// and an optional integer "limit" defaulting to 10.
func fakeTool(name string) *mcp.Tool {
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

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newFakeManager routes every config to the fakeServer registered under its
// name.
func newFakeManager(servers map[string]*fakeServer, opts *ManagerOptions) *Manager {
	if opts == nil {
		opts = &ManagerOptions{}
	}
	transport := TransportFunc(func(ctx context.Context, cfg ServerConfig, hooks SessionHooks) (Session, error) {
		srv, ok := servers[cfg.Name]
		if !ok {
			return nil, fmt.Errorf("no fake server named %q", cfg.Name)
		}
		return srv.Open(ctx, cfg, hooks)
	})
	opts.Transports = map[TransportKind]Transport{
		TransportStdio:          transport,
		TransportStreamableHTTP: transport,
		TransportSSE:            transport,
	}
	if opts.RetryBackoff == 0 {
		opts.RetryBackoff = -1
	}
	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = time.Second
	}
	opts.Logger = discardLogger()
	return NewManager(opts)
}

func stdioConfig(name string) ServerConfig {
	return ServerConfig{Name: name, Transport: TransportStdio, Command: "fake-" + name, Enabled: true}
}

// eventRecorder collects events in emission order.
type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func recordEvents(m *Manager, names ...EventName) *eventRecorder {
	r := &eventRecorder{}
	for _, name := range names {
		m.On(name, func(_ context.Context, ev Event) error {
			r.mu.Lock()
			r.events = append(r.events, ev)
			r.mu.Unlock()
			return nil
		})
	}
	return r
}

func (r *eventRecorder) named(name EventName) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, ev := range r.events {
		if ev.Name == name {
			out = append(out, ev)
		}
	}
	return out
}

func (r *eventRecorder) sequence() []EventName {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventName, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Name)
	}
	return out
}

// memRegistry is a ConfigRegistry held in memory.
type memRegistry struct {
	mu        sync.Mutex
	servers   []ServerConfig
	templates map[string]Template
	addErr    error
}

func (r *memRegistry) Server(name string) (ServerConfig, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.servers {
		if s.Name == name {
			return s.Clone(), true
		}
	}
	return ServerConfig{}, false
}

func (r *memRegistry) Servers() []ServerConfig {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ServerConfig, 0, len(r.servers))
	for _, s := range r.servers {
		out = append(out, s.Clone())
	}
	return out
}

func (r *memRegistry) AddServer(ctx context.Context, cfg ServerConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.addErr != nil {
		return r.addErr
	}
	r.servers = append(r.servers, cfg.Clone())
	return nil
}

func (r *memRegistry) SetEnabled(ctx context.Context, name string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.servers {
		if r.servers[i].Name == name {
			r.servers[i].Enabled = enabled
			return nil
		}
	}
	return ErrUnknownServer
}

func (r *memRegistry) RemoveServer(ctx context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.servers = slices.DeleteFunc(r.servers, func(s ServerConfig) bool { return s.Name == name })
	return nil
}

func (r *memRegistry) Template(name string) (Template, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.templates[name]
	return t, ok
}

func (r *memRegistry) Reload(ctx context.Context) error { return nil }
