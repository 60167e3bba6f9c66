package mcpgateway

import (
	"log/slog"
	"time"

	"github.com/modelcontextprotocol/go-sdk/auth"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Options configure a Gateway instance.
type Options struct {
	// Implementation identifies the gateway's MCP server implementation metadata.
	Implementation *mcp.Implementation
	// Addr controls the listen address used by ListenAndServe. Defaults to ":8700".
	Addr string
	// Path mounts the Streamable handler. Defaults to "/mcp".
	Path string
	// Namespace names the prompts and resources proxied from upstream servers.
	// Tools are always exposed under their catalog id. Defaults to
	// ServerPrefixNamespace.
	Namespace NamespaceStrategy
	// DisablePrompts and DisableResources skip proxying those capabilities.
	DisablePrompts   bool
	DisableResources bool
	// Streamable tweaks the Streamable HTTP handler behavior passed to
	// mcp.NewStreamableHTTPHandler.
	Streamable mcp.StreamableHTTPOptions
	// TokenVerifier enables bearer-token authentication on the MCP endpoint.
	TokenVerifier auth.TokenVerifier
	// TokenOptions are passed to auth.RequireBearerToken. Setting them without
	// a TokenVerifier is an error.
	TokenOptions *auth.RequireBearerTokenOptions
	// AuthorizationServer, when set alongside a TokenVerifier, is published in
	// the OAuth protected-resource metadata document.
	AuthorizationServer string
	// AllowedOrigins restricts CORS on the metadata endpoint. Empty allows
	// every origin.
	AllowedOrigins []string
	// Logger receives structured diagnostics.
	Logger *slog.Logger
	// ShutdownTimeout bounds the graceful stop when ListenAndServe's context
	// is cancelled.
	ShutdownTimeout time.Duration
}

const (
	defaultAddr            = ":8700"
	defaultPath            = "/mcp"
	defaultShutdownTimeout = 30 * time.Second
)

func (o *Options) withDefaults() Options {
	if o == nil {
		o = &Options{}
	}
	opts := *o
	if opts.Implementation == nil {
		opts.Implementation = &mcp.Implementation{
			Name:    "toolhub",
			Title:   "MCP Tool Hub",
			Version: "1.0.0",
		}
	} else {
		impl := *opts.Implementation
		opts.Implementation = &impl
	}
	if opts.Addr == "" {
		opts.Addr = defaultAddr
	}
	if opts.Path == "" {
		opts.Path = defaultPath
	}
	if opts.Namespace == nil {
		opts.Namespace = ServerPrefixNamespace{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = defaultShutdownTimeout
	}
	if opts.AllowedOrigins != nil {
		opts.AllowedOrigins = append([]string(nil), opts.AllowedOrigins...)
	}
	return opts
}
