package mcpmgr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// ConnectionState is the lifecycle state of a ServerConnection.
type ConnectionState string

const (
	StateIdle       ConnectionState = "idle"
	StateConnecting ConnectionState = "connecting"
	StateConnected  ConnectionState = "connected"
	StateFailed     ConnectionState = "failed"
)

// ConnectionOptions tunes a ServerConnection.
type ConnectionOptions struct {
	// ConnectTimeout bounds each attempt when the config leaves it at zero.
	ConnectTimeout time.Duration
	// RetryAttempts is the budget when the config leaves it at zero.
	RetryAttempts int
	// RetryBackoff is slept between failed attempts.
	RetryBackoff time.Duration
	// CallTimeout bounds each CallTool, ReadResource and GetPrompt.
	CallTimeout time.Duration
	Logger      *slog.Logger
	// OnCapabilitiesChanged runs when a connected server announces a list
	// change.
	OnCapabilitiesChanged func()
	// OnLost runs when a connected session ends without Disconnect.
	OnLost func(error)
}

// ConnectionSnapshot is a copy of a connection's observable state.
type ConnectionSnapshot struct {
	Name        string
	Transport   TransportKind
	State       ConnectionState
	Tools       []*mcp.Tool
	Resources   []*mcp.Resource
	Prompts     []*mcp.Prompt
	LastError   string
	Attempts    int
	ConnectedAt time.Time
}

// ServerConnection owns one Transport session and the capabilities it
// discovered. Capability lists are only populated while Connected.
type ServerConnection struct {
	config    ServerConfig
	transport Transport
	opts      ConnectionOptions
	logger    *slog.Logger

	mu         sync.RWMutex
	state      ConnectionState
	session    Session
	generation uint64
	active     uint64
	// lostGen records a session that closed before it was installed.
	lostGen     uint64
	lostErr     error
	tools       []*mcp.Tool
	resources   []*mcp.Resource
	prompts     []*mcp.Prompt
	lastError   string
	attempts    int
	connectedAt time.Time
}

// NewServerConnection returns an Idle connection for cfg.
func NewServerConnection(cfg ServerConfig, transport Transport, opts ConnectionOptions) *ServerConnection {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = DefaultCallTimeout
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}
	return &ServerConnection{
		config:    cfg.Clone(),
		transport: transport,
		opts:      opts,
		logger:    logger.With("server", cfg.Name),
		state:     StateIdle,
	}
}

// Name returns the configured server name.
func (c *ServerConnection) Name() string { return c.config.Name }

// Config returns a copy of the connection's config.
func (c *ServerConnection) Config() ServerConfig { return c.config.Clone() }

// State returns the current lifecycle state.
func (c *ServerConnection) State() ConnectionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

type discovery struct {
	session   Session
	tools     []*mcp.Tool
	resources []*mcp.Resource
	prompts   []*mcp.Prompt
}

// Connect drives the connection through its retry budget. Each attempt opens
// the transport and lists tools under the attempt timeout; a failure of
// either consumes one attempt. Resource and prompt listing failures only
// degrade those lists to empty.
func (c *ServerConnection) Connect(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateConnected:
		c.mu.Unlock()
		return nil
	case StateConnecting:
		c.mu.Unlock()
		return &Error{Kind: KindConnection, Server: c.config.Name, Message: "connect already in progress"}
	}
	c.state = StateConnecting
	c.attempts = 0
	c.lastError = ""
	c.mu.Unlock()

	budget := c.config.retryBudget(c.opts.RetryAttempts)
	timeout := c.config.connectTimeout(c.opts.ConnectTimeout)
	schedule := backoff.WithContext(backoff.NewConstantBackOff(c.opts.RetryBackoff), ctx)

	var lastErr error
	attempts := 0
	for attempts < budget {
		attempts++
		c.mu.Lock()
		c.attempts = attempts
		c.generation++
		gen := c.generation
		c.mu.Unlock()

		found, err := c.attempt(ctx, timeout, gen)
		if err == nil {
			err = c.install(found, gen)
		}
		if err == nil {
			c.logger.Info("server connected",
				"attempts", attempts, "tools", len(found.tools),
				"resources", len(found.resources), "prompts", len(found.prompts))
			return nil
		}
		lastErr = err
		c.mu.Lock()
		c.lastError = err.Error()
		c.mu.Unlock()
		c.logger.Warn("connect attempt failed", "attempt", attempts, "budget", budget, "error", err)

		if ctx.Err() != nil || attempts == budget {
			break
		}
		wait := schedule.NextBackOff()
		if wait == backoff.Stop {
			break
		}
		if err := sleepContext(ctx, wait); err != nil {
			break
		}
	}

	if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(lastErr, ctxErr) {
		lastErr = errors.Join(lastErr, ctxErr)
	}
	kind := KindOf(lastErr)
	if kind == "" {
		kind = KindConnection
	}
	failure := &Error{
		Kind:     kind,
		Server:   c.config.Name,
		Message:  fmt.Sprintf("connect failed after %d attempt(s)", attempts),
		Attempts: attempts,
		Cause:    lastErr,
	}
	c.mu.Lock()
	c.state = StateFailed
	c.clearLocked()
	c.lastError = lastErr.Error()
	c.mu.Unlock()
	return failure
}

func (c *ServerConnection) attempt(ctx context.Context, timeout time.Duration, gen uint64) (*discovery, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	session, err := c.transport.Open(attemptCtx, c.config, c.hooks(gen))
	if err != nil {
		return nil, &Error{Kind: KindConnection, Server: c.config.Name, Message: "open transport", Cause: err}
	}
	tools, err := session.ListTools(attemptCtx)
	if err != nil {
		_ = session.Close()
		return nil, &Error{Kind: KindCapabilityDiscovery, Server: c.config.Name, Message: "list tools", Cause: err}
	}
	resources, err := session.ListResources(attemptCtx)
	if err != nil {
		c.logger.Warn("resource listing failed; continuing without resources", "error", err)
		resources = nil
	}
	prompts, err := session.ListPrompts(attemptCtx)
	if err != nil {
		c.logger.Warn("prompt listing failed; continuing without prompts", "error", err)
		prompts = nil
	}
	if err := attemptCtx.Err(); err != nil {
		_ = session.Close()
		return nil, &Error{Kind: KindConnection, Server: c.config.Name, Message: "capability discovery interrupted", Cause: err}
	}
	return &discovery{
		session:   session,
		tools:     nonNil(tools),
		resources: nonNil(resources),
		prompts:   nonNil(prompts),
	}, nil
}

// install makes found the live session unless it closed during discovery,
// in which case the attempt fails.
func (c *ServerConnection) install(found *discovery, gen uint64) error {
	c.mu.Lock()
	if c.lostGen == gen {
		cause := c.lostErr
		c.lostGen, c.lostErr = 0, nil
		c.mu.Unlock()
		_ = found.session.Close()
		return &Error{Kind: KindConnection, Server: c.config.Name, Message: "session closed during discovery", Cause: cause}
	}
	defer c.mu.Unlock()
	c.session = found.session
	c.active = gen
	c.tools = found.tools
	c.resources = found.resources
	c.prompts = found.prompts
	c.state = StateConnected
	c.lastError = ""
	c.connectedAt = time.Now()
	return nil
}

func (c *ServerConnection) hooks(gen uint64) SessionHooks {
	return SessionHooks{
		CapabilitiesChanged: func() {
			c.mu.RLock()
			live := c.active == gen && c.state == StateConnected
			c.mu.RUnlock()
			if live && c.opts.OnCapabilitiesChanged != nil {
				c.opts.OnCapabilitiesChanged()
			}
		},
		Closed: func(err error) { c.sessionLost(gen, err) },
	}
}

func (c *ServerConnection) sessionLost(gen uint64, err error) {
	c.mu.Lock()
	if gen == c.generation && c.state == StateConnecting && c.active != gen {
		c.lostGen, c.lostErr = gen, err
		c.mu.Unlock()
		return
	}
	if c.active != gen || c.state != StateConnected {
		c.mu.Unlock()
		return
	}
	session := c.session
	c.session = nil
	c.active = 0
	c.state = StateFailed
	c.clearLocked()
	c.lastError = fmt.Sprintf("session lost: %v", err)
	c.mu.Unlock()

	if session != nil {
		_ = session.Close()
	}
	c.logger.Warn("session lost", "error", err)
	if c.opts.OnLost != nil {
		c.opts.OnLost(err)
	}
}

// Disconnect closes the session and clears capabilities. A Failed connection
// stays Failed; anything else returns to Idle. Calling it again is a no-op.
func (c *ServerConnection) Disconnect() error {
	c.mu.Lock()
	session := c.session
	c.session = nil
	c.active = 0
	c.clearLocked()
	if c.state != StateFailed {
		c.state = StateIdle
	}
	c.mu.Unlock()
	if session == nil {
		return nil
	}
	return session.Close()
}

func (c *ServerConnection) clearLocked() {
	c.tools = nil
	c.resources = nil
	c.prompts = nil
	c.connectedAt = time.Time{}
}

// Refresh re-queries capabilities on the live session. A tool listing
// failure leaves the current lists untouched.
func (c *ServerConnection) Refresh(ctx context.Context) error {
	session, gen, err := c.liveSession()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, c.config.connectTimeout(c.opts.ConnectTimeout))
	defer cancel()

	tools, err := session.ListTools(ctx)
	if err != nil {
		return &Error{Kind: KindCapabilityDiscovery, Server: c.config.Name, Message: "list tools", Cause: err}
	}
	resources, err := session.ListResources(ctx)
	if err != nil {
		c.logger.Warn("resource listing failed during refresh", "error", err)
	}
	prompts, err := session.ListPrompts(ctx)
	if err != nil {
		c.logger.Warn("prompt listing failed during refresh", "error", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active != gen || c.state != StateConnected {
		return &Error{Kind: KindConnection, Server: c.config.Name, Cause: ErrNotConnected}
	}
	c.tools = nonNil(tools)
	c.resources = nonNil(resources)
	c.prompts = nonNil(prompts)
	return nil
}

func (c *ServerConnection) liveSession() (Session, uint64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.state != StateConnected || c.session == nil {
		return nil, 0, &Error{Kind: KindConnection, Server: c.config.Name, Cause: ErrNotConnected}
	}
	return c.session, c.active, nil
}

// CallTool invokes a raw tool name under the call timeout.
func (c *ServerConnection) CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	session, _, err := c.liveSession()
	if err != nil {
		return nil, &Error{Kind: KindInvoke, Server: c.config.Name, Tool: name, Cause: ErrNotConnected}
	}
	ctx, cancel := context.WithTimeout(ctx, c.opts.CallTimeout)
	defer cancel()
	res, err := session.CallTool(ctx, name, args)
	if err != nil {
		return nil, &Error{Kind: KindInvoke, Server: c.config.Name, Tool: name, Cause: err}
	}
	return res, nil
}

// ReadResource reads uri from the server under the call timeout.
func (c *ServerConnection) ReadResource(ctx context.Context, uri string) (*mcp.ReadResourceResult, error) {
	session, _, err := c.liveSession()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, c.opts.CallTimeout)
	defer cancel()
	res, err := session.ReadResource(ctx, uri)
	if err != nil {
		return nil, &Error{Kind: KindInvoke, Server: c.config.Name, Message: "read resource " + uri, Cause: err}
	}
	return res, nil
}

// GetPrompt renders a prompt under the call timeout.
func (c *ServerConnection) GetPrompt(ctx context.Context, name string, args map[string]string) (*mcp.GetPromptResult, error) {
	session, _, err := c.liveSession()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, c.opts.CallTimeout)
	defer cancel()
	res, err := session.GetPrompt(ctx, name, args)
	if err != nil {
		return nil, &Error{Kind: KindInvoke, Server: c.config.Name, Message: "get prompt " + name, Cause: err}
	}
	return res, nil
}

// HasTool reports whether the connected server lists a tool named name.
func (c *ServerConnection) HasTool(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.state != StateConnected {
		return false
	}
	return slices.ContainsFunc(c.tools, func(t *mcp.Tool) bool { return t != nil && t.Name == name })
}

// Tools returns the raw tool descriptors of a connected server.
func (c *ServerConnection) Tools() []*mcp.Tool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.tools)
}

// Snapshot copies the connection's observable state.
func (c *ServerConnection) Snapshot() ConnectionSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ConnectionSnapshot{
		Name:        c.config.Name,
		Transport:   c.config.Transport,
		State:       c.state,
		Tools:       slices.Clone(c.tools),
		Resources:   slices.Clone(c.resources),
		Prompts:     slices.Clone(c.prompts),
		LastError:   c.lastError,
		Attempts:    c.attempts,
		ConnectedAt: c.connectedAt,
	}
}

func nonNil[T any](items []*T) []*T {
	if items == nil {
		return []*T{}
	}
	return items
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
