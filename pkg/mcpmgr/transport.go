package mcpmgr

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Transport opens sessions to one kind of server. Implementations perform
// mechanical I/O only; retries, timeouts and validation live above them.
type Transport interface {
	Open(ctx context.Context, cfg ServerConfig, hooks SessionHooks) (Session, error)
}

// Session is an open channel to one server.
type Session interface {
	ListTools(ctx context.Context) ([]*mcp.Tool, error)
	ListResources(ctx context.Context) ([]*mcp.Resource, error)
	ListPrompts(ctx context.Context) ([]*mcp.Prompt, error)
	CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error)
	ReadResource(ctx context.Context, uri string) (*mcp.ReadResourceResult, error)
	GetPrompt(ctx context.Context, name string, args map[string]string) (*mcp.GetPromptResult, error)
	// Close releases the channel. It is safe to call more than once.
	Close() error
}

// SessionHooks lets a Transport report server-initiated events back to the
// ServerConnection that owns the session. Either field may be nil.
type SessionHooks struct {
	// CapabilitiesChanged fires when the server announces that its tool,
	// resource or prompt list changed.
	CapabilitiesChanged func()
	// Closed fires once when the session ends without Close being called.
	Closed func(error)
}

// TransportFunc adapts a function to the Transport interface.
type TransportFunc func(ctx context.Context, cfg ServerConfig, hooks SessionHooks) (Session, error)

func (f TransportFunc) Open(ctx context.Context, cfg ServerConfig, hooks SessionHooks) (Session, error) {
	return f(ctx, cfg, hooks)
}
