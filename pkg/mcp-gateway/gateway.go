package mcpgateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/auth"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/vikashloomba/mcp-toolhub-go/pkg/mcpmgr"
	"github.com/vikashloomba/mcp-toolhub-go/pkg/tooladapter"
)

const protectedResourcePath = "/.well-known/oauth-protected-resource"

// Gateway exposes the manager's tool catalog as one Streamable MCP server.
// Every enabled catalog entry becomes a tool named by its id; calls go
// through Manager.ExecuteTool so validation and events apply.
type Gateway struct {
	manager *mcpmgr.Manager
	opts    Options

	features *featureIndex

	server        *mcp.Server
	streamHandler *mcp.StreamableHTTPHandler
	mux           *http.ServeMux

	// serverMu serializes resyncs against the MCP server's feature sets.
	serverMu     sync.Mutex
	httpServerMu sync.Mutex
	httpServer   *http.Server

	subs []subscription
}

type subscription struct {
	event mcpmgr.EventName
	id    mcpmgr.Subscription
}

// NewGateway builds a Gateway, exposes the current catalog and subscribes to
// the manager events that change it.
func NewGateway(mgr *mcpmgr.Manager, opts *Options) (*Gateway, error) {
	if mgr == nil {
		return nil, fmt.Errorf("mcpgateway: manager is required")
	}
	options := opts.withDefaults()
	if options.TokenVerifier == nil && options.TokenOptions != nil {
		return nil, fmt.Errorf("mcpgateway: TokenOptions require a TokenVerifier")
	}
	g := &Gateway{
		manager:  mgr,
		opts:     options,
		features: newFeatureIndex(options.Namespace),
	}

	g.server = mcp.NewServer(options.Implementation, &mcp.ServerOptions{
		HasTools:     true,
		HasPrompts:   !options.DisablePrompts,
		HasResources: !options.DisableResources,
	})
	g.streamHandler = mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return g.server
	}, &options.Streamable)
	g.mux = g.mountHandler()

	for _, event := range []mcpmgr.EventName{
		mcpmgr.EventToolsUpdated,
		mcpmgr.EventServerConnected,
		mcpmgr.EventServerDisconnected,
	} {
		id := mgr.On(event, g.onCatalogChange)
		g.subs = append(g.subs, subscription{event: event, id: id})
	}
	g.Sync()
	return g, nil
}

// Handler exposes the HTTP handler that serves the Streamable endpoint and
// any routes registered on ServeMux.
func (g *Gateway) Handler() http.Handler {
	return g.mux
}

// ServeMux returns the mux backing Handler so callers can add routes. Routes
// may be registered before or after serving starts.
func (g *Gateway) ServeMux() *http.ServeMux {
	return g.mux
}

// Options returns the effective options after defaults were applied.
func (g *Gateway) Options() Options {
	return g.opts
}

// Server returns the underlying MCP server.
func (g *Gateway) Server() *mcp.Server {
	return g.server
}

// ListenAndServe runs an HTTP server until the provided context is cancelled or
// the server stops.
func (g *Gateway) ListenAndServe(ctx context.Context) error {
	g.httpServerMu.Lock()
	if g.httpServer != nil {
		serv := g.httpServer
		g.httpServerMu.Unlock()
		return fmt.Errorf("mcpgateway: server already running on %s", serv.Addr)
	}
	srv := &http.Server{Addr: g.opts.Addr, Handler: g.Handler()}
	g.httpServer = srv
	g.httpServerMu.Unlock()
	defer func() {
		g.httpServerMu.Lock()
		if g.httpServer == srv {
			g.httpServer = nil
		}
		g.httpServerMu.Unlock()
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), g.opts.ShutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Shutdown stops the embedded HTTP server if it is running.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.httpServerMu.Lock()
	srv := g.httpServer
	g.httpServer = nil
	g.httpServerMu.Unlock()
	if srv == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return srv.Shutdown(ctx)
}

// Close unsubscribes from the manager. The gateway keeps its last exposed
// set but no longer follows catalog changes.
func (g *Gateway) Close() {
	for _, sub := range g.subs {
		g.manager.Off(sub.event, sub.id)
	}
	g.subs = nil
}

// Sync replaces everything the gateway exposes with the manager's current
// catalog. It is called on every catalog event; call it directly after
// changes that emit none, such as Manager.SetToolEnabled.
func (g *Gateway) Sync() {
	g.serverMu.Lock()
	defer g.serverMu.Unlock()

	plan := g.features.Replace(g.manager.ListTools(""), g.manager.Servers(),
		!g.opts.DisablePrompts, !g.opts.DisableResources)

	if len(plan.RemovedTools) > 0 {
		g.server.RemoveTools(plan.RemovedTools...)
	}
	for _, reg := range plan.Tools {
		g.server.AddTool(reg.Tool, g.makeToolHandler(reg.Target))
	}
	if len(plan.RemovedPrompts) > 0 {
		g.server.RemovePrompts(plan.RemovedPrompts...)
	}
	for _, reg := range plan.Prompts {
		g.server.AddPrompt(reg.Prompt, g.makePromptHandler(reg.Target))
	}
	if len(plan.RemovedResources) > 0 {
		g.server.RemoveResources(plan.RemovedResources...)
	}
	for _, reg := range plan.Resources {
		g.server.AddResource(reg.Resource, g.makeResourceHandler(reg.Target))
	}
	g.opts.Logger.Debug("gateway synced",
		"tools", len(plan.Tools), "prompts", len(plan.Prompts), "resources", len(plan.Resources))
}

func (g *Gateway) onCatalogChange(context.Context, mcpmgr.Event) error {
	g.Sync()
	return nil
}

func (g *Gateway) makeToolHandler(target toolTarget) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args map[string]any
		if req != nil && req.Params != nil && len(req.Params.Arguments) > 0 {
			if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
				return errorResult(fmt.Sprintf("arguments must be a JSON object: %v", err)), nil
			}
		}
		res, err := g.manager.ExecuteTool(ctx, target.ID, args)
		if err != nil {
			g.opts.Logger.Debug("tool call failed", "tool", target.ID, "kind", mcpmgr.KindOf(err), "error", err)
		}
		return callResult(res), nil
	}
}

func (g *Gateway) makePromptHandler(target promptTarget) mcp.PromptHandler {
	return func(ctx context.Context, req *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
		var args map[string]string
		if req != nil && req.Params != nil {
			args = req.Params.Arguments
		}
		return g.manager.GetPrompt(ctx, target.Server, target.NativeName, args)
	}
}

func (g *Gateway) makeResourceHandler(target resourceTarget) mcp.ResourceHandler {
	return func(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		res, err := g.manager.ReadResource(ctx, target.Server, target.NativeURI)
		if err != nil {
			return nil, err
		}
		if res == nil {
			return &mcp.ReadResourceResult{}, nil
		}
		out := *res
		out.Contents = make([]*mcp.ResourceContents, 0, len(res.Contents))
		for _, c := range res.Contents {
			if c == nil {
				continue
			}
			clone := *c
			if clone.URI == target.NativeURI {
				clone.URI = target.GatewayURI
			}
			out.Contents = append(out.Contents, &clone)
		}
		return &out, nil
	}
}

// callResult turns an execution envelope into a tool result. Failed
// envelopes become IsError results rather than protocol errors.
func callResult(res tooladapter.Result) *mcp.CallToolResult {
	if !res.Success {
		msg := res.Error
		if msg == "" {
			msg = "tool execution failed"
		}
		return errorResult(msg)
	}
	out := &mcp.CallToolResult{}
	switch data := res.Data.(type) {
	case nil:
		out.Content = []mcp.Content{}
	case string:
		out.Content = []mcp.Content{&mcp.TextContent{Text: data}}
	default:
		raw, err := json.Marshal(data)
		if err != nil {
			return errorResult(fmt.Sprintf("encode result: %v", err))
		}
		out.Content = []mcp.Content{&mcp.TextContent{Text: string(raw)}}
		if obj, ok := data.(map[string]any); ok {
			out.StructuredContent = obj
		}
	}
	return out
}

func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: msg}},
	}
}

func (g *Gateway) mountHandler() *http.ServeMux {
	path := g.opts.Path
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	var endpoint http.Handler = g.streamHandler
	if g.opts.TokenVerifier != nil {
		endpoint = auth.RequireBearerToken(g.opts.TokenVerifier, g.opts.TokenOptions)(endpoint)
	}
	mux := http.NewServeMux()
	mux.Handle(path, endpoint)
	if !strings.HasSuffix(path, "/") {
		mux.Handle(path+"/", endpoint)
	}
	if g.opts.TokenVerifier != nil && g.opts.AuthorizationServer != "" {
		mux.Handle(protectedResourcePath, g.protectedResourceHandler())
	}
	return mux
}
