package mcpmgr

import (
	"context"
	"log/slog"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// TransportKind selects the Transport used to reach a server.
type TransportKind string

const (
	// TransportStdio spawns the server as a subprocess and speaks over its
	// standard streams.
	TransportStdio TransportKind = "stdio"
	// TransportStreamableHTTP dials a streamable HTTP endpoint, falling back
	// to SSE when negotiation fails.
	TransportStreamableHTTP TransportKind = "streamable-http"
	// TransportSSE dials a legacy SSE endpoint.
	TransportSSE TransportKind = "sse"
)

// Valid reports whether k names a known transport.
func (k TransportKind) Valid() bool {
	switch k {
	case TransportStdio, TransportStreamableHTTP, TransportSSE:
		return true
	}
	return false
}

// UsesURL reports whether the transport is addressed by URL rather than by a
// command.
func (k TransportKind) UsesURL() bool {
	return k == TransportStreamableHTTP || k == TransportSSE
}

// ServerConfig describes one named server.
type ServerConfig struct {
	Name           string            `json:"name" yaml:"name"`
	Transport      TransportKind     `json:"transport" yaml:"transport"`
	Command        string            `json:"command,omitempty" yaml:"command,omitempty"`
	Args           []string          `json:"args,omitempty" yaml:"args,omitempty"`
	Env            map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	URL            string            `json:"url,omitempty" yaml:"url,omitempty"`
	Headers        map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	Enabled        bool              `json:"enabled" yaml:"enabled"`
	ConnectTimeout time.Duration     `json:"connect_timeout,omitempty" yaml:"connect_timeout,omitempty"`
	RetryAttempts  int               `json:"retry_attempts,omitempty" yaml:"retry_attempts,omitempty"`
	// Category is copied from the template the config was created from.
	Category string `json:"category,omitempty" yaml:"category,omitempty"`
	// Template names the template the config was created from.
	Template string `json:"template,omitempty" yaml:"template,omitempty"`
	// LogJSONRPC logs raw JSON-RPC traffic for this server at debug level.
	LogJSONRPC bool `json:"log_jsonrpc,omitempty" yaml:"log_jsonrpc,omitempty"`
}

// Template is a reusable preset. It has the ServerConfig shape without the
// enabled flag, plus descriptive metadata.
type Template struct {
	Name                     string            `json:"name" yaml:"name"`
	Description              string            `json:"description,omitempty" yaml:"description,omitempty"`
	Category                 string            `json:"category,omitempty" yaml:"category,omitempty"`
	Version                  string            `json:"version,omitempty" yaml:"version,omitempty"`
	Author                   string            `json:"author,omitempty" yaml:"author,omitempty"`
	DocumentationURL         string            `json:"documentation_url,omitempty" yaml:"documentation_url,omitempty"`
	InstallationInstructions string            `json:"installation_instructions,omitempty" yaml:"installation_instructions,omitempty"`
	Transport                TransportKind     `json:"transport" yaml:"transport"`
	Command                  string            `json:"command,omitempty" yaml:"command,omitempty"`
	Args                     []string          `json:"args,omitempty" yaml:"args,omitempty"`
	Env                      map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	URL                      string            `json:"url,omitempty" yaml:"url,omitempty"`
	Headers                  map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	ConnectTimeout           time.Duration     `json:"connect_timeout,omitempty" yaml:"connect_timeout,omitempty"`
	RetryAttempts            int               `json:"retry_attempts,omitempty" yaml:"retry_attempts,omitempty"`
}

// ServerOverrides adjusts a config instantiated from a Template. Nil fields
// keep the template value; Env and Headers are merged key by key.
type ServerOverrides struct {
	Transport      *TransportKind    `json:"transport,omitempty" yaml:"transport,omitempty"`
	Command        *string           `json:"command,omitempty" yaml:"command,omitempty"`
	Args           []string          `json:"args,omitempty" yaml:"args,omitempty"`
	Env            map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	URL            *string           `json:"url,omitempty" yaml:"url,omitempty"`
	Headers        map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	Enabled        *bool             `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	ConnectTimeout *time.Duration    `json:"connect_timeout,omitempty" yaml:"connect_timeout,omitempty"`
	RetryAttempts  *int              `json:"retry_attempts,omitempty" yaml:"retry_attempts,omitempty"`
}

// RPCDirection represents the direction of an observed JSON-RPC message.
type RPCDirection string

const (
	RPCDirectionSend    RPCDirection = "send"
	RPCDirectionReceive RPCDirection = "receive"
)

// RPCLogEvent encapsulates JSON-RPC traffic for custom logging.
type RPCLogEvent struct {
	Direction RPCDirection
	Message   []byte
	ServerID  string
}

// RPCLogger is invoked for each JSON-RPC message when logging is enabled.
type RPCLogger func(RPCLogEvent)

// HTTPAuthProvider dynamically supplies an Authorization header (for example,
// "Bearer <token>") for outbound HTTP requests.
type HTTPAuthProvider func(context.Context) (string, error)

const (
	DefaultConnectTimeout = 30 * time.Second
	DefaultRetryAttempts  = 3
	DefaultRetryBackoff   = 2 * time.Second
	DefaultCallTimeout    = 60 * time.Second
)

// ManagerOptions configures a Manager instance.
type ManagerOptions struct {
	// ClientName is advertised during initialization. When empty, the server
	// name is used.
	ClientName string
	// ClientVersion is reported to servers. Defaults to "1.0.0".
	ClientVersion string
	// ClientOptions are passed to every SDK client.
	ClientOptions mcp.ClientOptions
	// ConnectTimeout bounds each connect attempt when a config leaves
	// ConnectTimeout at zero.
	ConnectTimeout time.Duration
	// RetryAttempts is the connect budget when a config leaves it at zero.
	RetryAttempts int
	// RetryBackoff is slept between failed connect attempts.
	RetryBackoff time.Duration
	// CallTimeout bounds each tool invocation.
	CallTimeout time.Duration
	// Transports overrides the transport used per kind. Kinds not present
	// fall back to the go-sdk backed defaults.
	Transports map[TransportKind]Transport
	// Registry persists configs. When nil, enable/disable and template
	// operations return a configuration error.
	Registry ConfigRegistry
	// Logger receives structured diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
	// LogJSONRPC logs JSON-RPC traffic for every server at debug level.
	LogJSONRPC bool
	// RPCLogger replaces the default JSON-RPC sink.
	RPCLogger RPCLogger
	// HTTPAuthProvider supplies Authorization headers for HTTP transports.
	HTTPAuthProvider HTTPAuthProvider
}

func (o *ManagerOptions) withDefaults() ManagerOptions {
	if o == nil {
		o = &ManagerOptions{}
	}
	opts := *o
	if opts.ClientVersion == "" {
		opts.ClientVersion = "1.0.0"
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}
	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = DefaultRetryAttempts
	}
	if opts.RetryBackoff < 0 {
		opts.RetryBackoff = 0
	} else if opts.RetryBackoff == 0 {
		opts.RetryBackoff = DefaultRetryBackoff
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = DefaultCallTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return opts
}
