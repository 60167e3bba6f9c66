package mcpmgr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// SDKOptions configures the go-sdk backed transports.
type SDKOptions struct {
	// ClientName is advertised during initialization; the server name is used
	// when empty.
	ClientName    string
	ClientVersion string
	ClientOptions mcp.ClientOptions
	// HTTPClient is the base client for HTTP transports.
	HTTPClient   *http.Client
	AuthProvider HTTPAuthProvider
	// RPCLogger receives JSON-RPC traffic for configs with LogJSONRPC set, or
	// for every server when LogAll is true.
	RPCLogger RPCLogger
	LogAll    bool
}

// DefaultTransports returns the go-sdk backed transport for every kind.
func DefaultTransports(opts SDKOptions) map[TransportKind]Transport {
	return map[TransportKind]Transport{
		TransportStdio:          &StdioTransport{SDKOptions: opts},
		TransportStreamableHTTP: &StreamableHTTPTransport{SDKOptions: opts},
		TransportSSE:            &SSETransport{SDKOptions: opts},
	}
}

// StdioTransport launches the configured command and speaks MCP over its
// standard streams.
type StdioTransport struct {
	SDKOptions
}

func (t *StdioTransport) Open(ctx context.Context, cfg ServerConfig, hooks SessionHooks) (Session, error) {
	transport, err := buildStdioTransport(cfg)
	if err != nil {
		return nil, err
	}
	return t.connect(ctx, cfg, transport, hooks)
}

// StreamableHTTPTransport dials a streamable HTTP endpoint and falls back to
// SSE when that fails. Endpoints ending in "/sse" go straight to SSE unless
// PreferSSE says otherwise.
type StreamableHTTPTransport struct {
	SDKOptions
	MaxRetries int
	PreferSSE  *bool
}

func (t *StreamableHTTPTransport) Open(ctx context.Context, cfg ServerConfig, hooks SessionHooks) (Session, error) {
	client := decorateHTTPClient(t.HTTPClient, cfg.Headers, t.AuthProvider)
	var streamErr error
	if !shouldPreferSSE(cfg.URL, t.PreferSSE) {
		streamable := &mcp.StreamableClientTransport{
			Endpoint:   cfg.URL,
			HTTPClient: client,
			MaxRetries: t.MaxRetries,
		}
		session, err := t.connect(ctx, cfg, streamable, hooks)
		if err == nil {
			return session, nil
		}
		if ctx.Err() != nil {
			return nil, err
		}
		streamErr = err
	}
	session, err := t.connect(ctx, cfg, &mcp.SSEClientTransport{Endpoint: cfg.URL, HTTPClient: client}, hooks)
	if err != nil {
		if streamErr != nil {
			return nil, fmt.Errorf("streamable error: %v; sse error: %w", streamErr, err)
		}
		return nil, err
	}
	return session, nil
}

// SSETransport dials a legacy SSE endpoint.
type SSETransport struct {
	SDKOptions
}

func (t *SSETransport) Open(ctx context.Context, cfg ServerConfig, hooks SessionHooks) (Session, error) {
	client := decorateHTTPClient(t.HTTPClient, cfg.Headers, t.AuthProvider)
	return t.connect(ctx, cfg, &mcp.SSEClientTransport{Endpoint: cfg.URL, HTTPClient: client}, hooks)
}

func (o SDKOptions) connect(ctx context.Context, cfg ServerConfig, transport mcp.Transport, hooks SessionHooks) (Session, error) {
	name := o.ClientName
	if name == "" {
		name = cfg.Name
	}
	version := o.ClientVersion
	if version == "" {
		version = "1.0.0"
	}
	client := mcp.NewClient(&mcp.Implementation{Name: name, Version: version}, o.clientOptions(hooks))

	wrapped := transport
	if o.RPCLogger != nil && (o.LogAll || cfg.LogJSONRPC) {
		wrapped = &loggingTransport{serverID: cfg.Name, delegate: transport, logger: o.RPCLogger}
	}
	cs, err := client.Connect(ctx, wrapped, nil)
	if err != nil {
		return nil, err
	}
	s := &sdkSession{cs: cs}
	go s.monitor(hooks.Closed)
	return s, nil
}

func (o SDKOptions) clientOptions(hooks SessionHooks) *mcp.ClientOptions {
	opts := o.ClientOptions
	if hooks.CapabilitiesChanged == nil {
		return &opts
	}
	originalTool := opts.ToolListChangedHandler
	originalPrompt := opts.PromptListChangedHandler
	originalResList := opts.ResourceListChangedHandler
	changed := hooks.CapabilitiesChanged

	opts.ToolListChangedHandler = func(ctx context.Context, req *mcp.ToolListChangedRequest) {
		if originalTool != nil {
			originalTool(ctx, req)
		}
		changed()
	}
	opts.PromptListChangedHandler = func(ctx context.Context, req *mcp.PromptListChangedRequest) {
		if originalPrompt != nil {
			originalPrompt(ctx, req)
		}
		changed()
	}
	opts.ResourceListChangedHandler = func(ctx context.Context, req *mcp.ResourceListChangedRequest) {
		if originalResList != nil {
			originalResList(ctx, req)
		}
		changed()
	}
	return &opts
}

func buildStdioTransport(cfg ServerConfig) (*mcp.CommandTransport, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("mcpmgr: command missing for %q", cfg.Name)
	}
	cmd := exec.Command(cfg.Command, cfg.Args...)
	if len(cfg.Env) > 0 {
		env := os.Environ()
		for k, v := range cfg.Env {
			env = append(env, fmt.Sprintf("%s=%s", k, v))
		}
		cmd.Env = env
	}
	return &mcp.CommandTransport{Command: cmd}, nil
}

// sdkSession adapts *mcp.ClientSession to Session.
type sdkSession struct {
	cs        *mcp.ClientSession
	closing   atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

func (s *sdkSession) monitor(closed func(error)) {
	err := s.cs.Wait()
	if s.closing.Load() || closed == nil {
		return
	}
	if err == nil {
		err = errors.New("session closed by server")
	}
	closed(err)
}

func (s *sdkSession) ListTools(ctx context.Context) ([]*mcp.Tool, error) {
	var tools []*mcp.Tool
	params := &mcp.ListToolsParams{}
	seen := make(map[string]bool)
	for {
		res, err := s.cs.ListTools(ctx, params)
		if err != nil {
			return nil, err
		}
		tools = append(tools, res.Tools...)
		if res.NextCursor == "" || seen[res.NextCursor] {
			return tools, nil
		}
		seen[res.NextCursor] = true
		params = &mcp.ListToolsParams{Cursor: res.NextCursor}
	}
}

func (s *sdkSession) ListResources(ctx context.Context) ([]*mcp.Resource, error) {
	var resources []*mcp.Resource
	params := &mcp.ListResourcesParams{}
	seen := make(map[string]bool)
	for {
		res, err := s.cs.ListResources(ctx, params)
		if err != nil {
			if isMethodUnavailableError(err, "resources/list") {
				return []*mcp.Resource{}, nil
			}
			return nil, err
		}
		resources = append(resources, res.Resources...)
		if res.NextCursor == "" || seen[res.NextCursor] {
			return resources, nil
		}
		seen[res.NextCursor] = true
		params = &mcp.ListResourcesParams{Cursor: res.NextCursor}
	}
}

func (s *sdkSession) ListPrompts(ctx context.Context) ([]*mcp.Prompt, error) {
	var prompts []*mcp.Prompt
	params := &mcp.ListPromptsParams{}
	seen := make(map[string]bool)
	for {
		res, err := s.cs.ListPrompts(ctx, params)
		if err != nil {
			if isMethodUnavailableError(err, "prompts/list") {
				return []*mcp.Prompt{}, nil
			}
			return nil, err
		}
		prompts = append(prompts, res.Prompts...)
		if res.NextCursor == "" || seen[res.NextCursor] {
			return prompts, nil
		}
		seen[res.NextCursor] = true
		params = &mcp.ListPromptsParams{Cursor: res.NextCursor}
	}
}

func (s *sdkSession) CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	return s.cs.CallTool(ctx, &mcp.CallToolParams{Name: name, Arguments: args})
}

func (s *sdkSession) ReadResource(ctx context.Context, uri string) (*mcp.ReadResourceResult, error) {
	return s.cs.ReadResource(ctx, &mcp.ReadResourceParams{URI: uri})
}

func (s *sdkSession) GetPrompt(ctx context.Context, name string, args map[string]string) (*mcp.GetPromptResult, error) {
	return s.cs.GetPrompt(ctx, &mcp.GetPromptParams{Name: name, Arguments: args})
}

func (s *sdkSession) Close() error {
	s.closeOnce.Do(func() {
		s.closing.Store(true)
		s.closeErr = s.cs.Close()
	})
	return s.closeErr
}

// slogRPCLogger writes JSON-RPC traffic to logger at debug level.
func slogRPCLogger(logger *slog.Logger) RPCLogger {
	return func(event RPCLogEvent) {
		logger.Debug("jsonrpc",
			"server", event.ServerID,
			"direction", strings.ToUpper(string(event.Direction)),
			"message", string(event.Message))
	}
}

type loggingTransport struct {
	serverID string
	delegate mcp.Transport
	logger   RPCLogger
}

func (t *loggingTransport) Connect(ctx context.Context) (mcp.Connection, error) {
	conn, err := t.delegate.Connect(ctx)
	if err != nil {
		return nil, err
	}
	return &loggingConnection{serverID: t.serverID, delegate: conn, logger: t.logger}, nil
}

type loggingConnection struct {
	serverID string
	delegate mcp.Connection
	logger   RPCLogger
	mu       sync.Mutex
}

func (c *loggingConnection) SessionID() string { return c.delegate.SessionID() }

func (c *loggingConnection) Read(ctx context.Context) (jsonrpc.Message, error) {
	msg, err := c.delegate.Read(ctx)
	if err == nil {
		c.emit(RPCDirectionReceive, msg)
	}
	return msg, err
}

func (c *loggingConnection) Write(ctx context.Context, msg jsonrpc.Message) error {
	if err := c.delegate.Write(ctx, msg); err != nil {
		return err
	}
	c.emit(RPCDirectionSend, msg)
	return nil
}

func (c *loggingConnection) Close() error { return c.delegate.Close() }

func (c *loggingConnection) emit(direction RPCDirection, msg jsonrpc.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	encoded, err := json.Marshal(msg)
	if err != nil {
		encoded = []byte(err.Error())
	}
	c.logger(RPCLogEvent{Direction: direction, Message: encoded, ServerID: c.serverID})
}

func isMethodUnavailableError(err error, method string) bool {
	if err == nil {
		return false
	}
	lower := strings.ToLower(err.Error())
	if !(strings.Contains(lower, "method not found") ||
		strings.Contains(lower, "not implemented") ||
		strings.Contains(lower, "unsupported") ||
		strings.Contains(lower, "does not support") ||
		strings.Contains(lower, "unimplemented")) {
		return false
	}
	return method == "" || strings.Contains(lower, strings.ToLower(method)) || strings.Contains(lower, "method not found")
}

func shouldPreferSSE(endpoint string, prefer *bool) bool {
	if prefer != nil {
		return *prefer
	}
	return strings.HasSuffix(strings.TrimSpace(endpoint), "/sse")
}

func decorateHTTPClient(base *http.Client, headers map[string]string, provider HTTPAuthProvider) *http.Client {
	if base == nil {
		base = http.DefaultClient
	}
	clone := *base
	clone.Transport = &headerDecorator{
		next:         defaultRoundTripper(base.Transport),
		headers:      toHeader(headers),
		authProvider: provider,
	}
	return &clone
}

func toHeader(values map[string]string) http.Header {
	if len(values) == 0 {
		return nil
	}
	h := make(http.Header, len(values))
	for k, v := range values {
		h.Set(k, os.ExpandEnv(v))
	}
	return h
}

type headerDecorator struct {
	next         http.RoundTripper
	headers      http.Header
	authProvider HTTPAuthProvider
}

func (d *headerDecorator) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	if req.Header == nil {
		req.Header = make(http.Header)
	}
	for k, values := range d.headers {
		req.Header.Del(k)
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}
	if d.authProvider != nil && req.Header.Get("Authorization") == "" {
		token, err := d.authProvider(req.Context())
		if err != nil {
			return nil, err
		}
		if token != "" {
			req.Header.Set("Authorization", token)
		}
	}
	return d.next.RoundTrip(req)
}

func defaultRoundTripper(next http.RoundTripper) http.RoundTripper {
	if next != nil {
		return next
	}
	return http.DefaultTransport
}
