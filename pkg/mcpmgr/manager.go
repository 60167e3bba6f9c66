package mcpmgr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/vikashloomba/mcp-toolhub-go/pkg/tooladapter"
)

// ConfigRegistry is the persisted configuration the Manager reads from and
// writes through to. registry.ServerRegistry implements it.
type ConfigRegistry interface {
	Server(name string) (ServerConfig, bool)
	Servers() []ServerConfig
	AddServer(ctx context.Context, cfg ServerConfig) error
	SetEnabled(ctx context.Context, name string, enabled bool) error
	RemoveServer(ctx context.Context, name string) error
	Template(name string) (Template, bool)
	Reload(ctx context.Context) error
}

// HealthRecord is a per-server health snapshot.
type HealthRecord struct {
	Server      string          `json:"server"`
	Transport   TransportKind   `json:"transport"`
	State       ConnectionState `json:"state"`
	Connected   bool            `json:"connected"`
	Tools       int             `json:"tools"`
	Resources   int             `json:"resources"`
	Prompts     int             `json:"prompts"`
	LastError   string          `json:"last_error,omitempty"`
	Attempts    int             `json:"attempts"`
	ConnectedAt time.Time       `json:"connected_at,omitempty"`
}

// Status aggregates counts across every live server.
type Status struct {
	Running          bool              `json:"running"`
	TotalServers     int               `json:"total_servers"`
	ConnectedServers int               `json:"connected_servers"`
	TotalTools       int               `json:"total_tools"`
	EnabledTools     int               `json:"enabled_tools"`
	TotalResources   int               `json:"total_resources"`
	TotalPrompts     int               `json:"total_prompts"`
	Categories       []string          `json:"categories"`
	Tools            tooladapter.Stats `json:"tool_stats"`
}

// Manager owns the live ServerConnection set, the aggregate tool catalog and
// the event bus. It is the single entry point for server lifecycle and tool
// execution.
type Manager struct {
	opts       ManagerOptions
	logger     *slog.Logger
	transports map[TransportKind]Transport
	events     *EventBus
	catalog    *tooladapter.Catalog

	mu      sync.RWMutex
	conns   map[string]*ServerConnection
	order   []string
	pending map[string]struct{}
	running bool
}

// NewManager constructs a Manager. Callers can pass nil options to fall back
// to defaults.
func NewManager(opts *ManagerOptions) *Manager {
	options := opts.withDefaults()
	rpcLogger := options.RPCLogger
	if rpcLogger == nil {
		rpcLogger = slogRPCLogger(options.Logger)
	}
	transports := DefaultTransports(SDKOptions{
		ClientName:    options.ClientName,
		ClientVersion: options.ClientVersion,
		ClientOptions: options.ClientOptions,
		AuthProvider:  options.HTTPAuthProvider,
		RPCLogger:     rpcLogger,
		LogAll:        options.LogJSONRPC,
	})
	for kind, t := range options.Transports {
		if t != nil {
			transports[kind] = t
		}
	}
	return &Manager{
		opts:       options,
		logger:     options.Logger,
		transports: transports,
		events:     NewEventBus(options.Logger),
		catalog:    tooladapter.NewCatalog(),
		conns:      make(map[string]*ServerConnection),
		pending:    make(map[string]struct{}),
	}
}

// On subscribes handler to name.
func (m *Manager) On(name EventName, handler Handler) Subscription {
	return m.events.On(name, handler)
}

// Off removes a subscription made with On.
func (m *Manager) Off(name EventName, sub Subscription) bool {
	return m.events.Off(name, sub)
}

// Registry returns the configured registry, which may be nil.
func (m *Manager) Registry() ConfigRegistry { return m.opts.Registry }

// Initialize connects every enabled server in the registry concurrently and
// marks the manager running. Individual failures are joined into the returned
// error; servers that connected stay connected.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	m.running = true
	m.mu.Unlock()
	if m.opts.Registry == nil {
		return nil
	}
	var enabled []ServerConfig
	for _, cfg := range m.opts.Registry.Servers() {
		if cfg.Enabled && !m.HasServer(cfg.Name) {
			enabled = append(enabled, cfg)
		}
	}
	return m.connectAll(ctx, enabled, false)
}

// Shutdown disconnects and removes every live server.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.running = false
	names := slices.Clone(m.order)
	m.mu.Unlock()
	var errs []error
	for _, name := range names {
		if err := m.removeServer(ctx, name); err != nil && !errors.Is(err, ErrUnknownServer) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// AddServer validates cfg, connects it through its retry budget and, on
// success, installs it in the live set and persists it to the registry when
// it is not there yet. On failure nothing is left behind.
func (m *Manager) AddServer(ctx context.Context, cfg ServerConfig) error {
	return m.addServer(ctx, cfg, true)
}

// AddServers connects several servers concurrently.
func (m *Manager) AddServers(ctx context.Context, cfgs ...ServerConfig) error {
	return m.connectAll(ctx, cfgs, true)
}

func (m *Manager) connectAll(ctx context.Context, cfgs []ServerConfig, persist bool) error {
	errs := make([]error, len(cfgs))
	var wg sync.WaitGroup
	for i, cfg := range cfgs {
		wg.Add(1)
		go func(i int, cfg ServerConfig) {
			defer wg.Done()
			errs[i] = m.addServer(ctx, cfg, persist)
		}(i, cfg)
	}
	wg.Wait()
	return errors.Join(errs...)
}

// AddServerFromTemplate instantiates a registry template under newName,
// applies overrides, then behaves like AddServer.
func (m *Manager) AddServerFromTemplate(ctx context.Context, template, newName string, overrides *ServerOverrides) error {
	reg := m.opts.Registry
	if reg == nil {
		err := configError(newName, "", ErrNoRegistry)
		m.emitError(ctx, newName, "", err)
		return err
	}
	tmpl, ok := reg.Template(template)
	if !ok {
		err := configError(newName, fmt.Sprintf("unknown template %q", template), nil)
		m.emitError(ctx, newName, "", err)
		return err
	}
	return m.AddServer(ctx, tmpl.Instantiate(newName, overrides))
}

func (m *Manager) addServer(ctx context.Context, cfg ServerConfig, persist bool) error {
	cfg = cfg.Clone()
	if err := cfg.Validate(); err != nil {
		m.emitError(ctx, cfg.Name, "", err)
		return err
	}
	if !cfg.Enabled {
		err := configError(cfg.Name, "", ErrServerDisabled)
		m.emitError(ctx, cfg.Name, "", err)
		return err
	}
	transport, ok := m.transports[cfg.Transport]
	if !ok {
		err := configError(cfg.Name, fmt.Sprintf("no transport registered for %q", cfg.Transport), nil)
		m.emitError(ctx, cfg.Name, "", err)
		return err
	}
	if err := m.reserve(cfg.Name); err != nil {
		m.emitError(ctx, cfg.Name, "", err)
		return err
	}
	defer m.release(cfg.Name)

	conn := m.newConnection(cfg, transport)
	if err := conn.Connect(ctx); err != nil {
		m.logger.Error("server connect failed", "server", cfg.Name, "error", err)
		m.emitError(ctx, cfg.Name, "", err)
		return err
	}
	if persist && m.opts.Registry != nil {
		if _, exists := m.opts.Registry.Server(cfg.Name); !exists {
			if err := m.opts.Registry.AddServer(ctx, cfg); err != nil {
				_ = conn.Disconnect()
				wrapped := configError(cfg.Name, "persist config", err)
				m.emitError(ctx, cfg.Name, "", wrapped)
				return wrapped
			}
		}
	}
	current := m.install(conn)
	m.events.Emit(ctx, Event{Name: EventServerConnected, Server: cfg.Name})
	m.events.Emit(ctx, Event{Name: EventToolsUpdated, Server: cfg.Name, Tools: current})
	return nil
}

func (m *Manager) reserve(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.conns[name]; ok {
		return configError(name, "", ErrDuplicateServer)
	}
	if _, ok := m.pending[name]; ok {
		return configError(name, "", ErrDuplicateServer)
	}
	m.pending[name] = struct{}{}
	return nil
}

func (m *Manager) release(name string) {
	m.mu.Lock()
	delete(m.pending, name)
	m.mu.Unlock()
}

func (m *Manager) newConnection(cfg ServerConfig, transport Transport) *ServerConnection {
	var conn *ServerConnection
	conn = NewServerConnection(cfg, transport, ConnectionOptions{
		ConnectTimeout: m.opts.ConnectTimeout,
		RetryAttempts:  m.opts.RetryAttempts,
		RetryBackoff:   m.opts.RetryBackoff,
		CallTimeout:    m.opts.CallTimeout,
		Logger:         m.logger,
		OnCapabilitiesChanged: func() {
			go m.refreshConnection(context.Background(), conn)
		},
		OnLost: func(err error) { m.connectionLost(conn, err) },
	})
	return conn
}

func (m *Manager) install(conn *ServerConnection) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	name := conn.Name()
	m.conns[name] = conn
	if !slices.Contains(m.order, name) {
		m.order = append(m.order, name)
	}
	_, current := m.catalog.Replace(name, conn.Tools())
	return current
}

func (m *Manager) connectionLost(conn *ServerConnection, err error) {
	name := conn.Name()
	m.mu.Lock()
	if m.conns[name] != conn {
		m.mu.Unlock()
		return
	}
	removed := m.catalog.Remove(name)
	m.mu.Unlock()

	ctx := context.Background()
	m.events.Emit(ctx, Event{Name: EventServerDisconnected, Server: name, Err: err})
	m.events.Emit(ctx, Event{Name: EventToolsUpdated, Server: name, Tools: []string{}, Removed: removed})
	m.emitError(ctx, name, "", &Error{Kind: KindConnection, Server: name, Message: "session lost", Cause: err})
}

// RemoveServer disconnects name and drops it from the live set. The
// persisted config is untouched. Unknown names return ErrUnknownServer.
func (m *Manager) RemoveServer(ctx context.Context, name string) error {
	return m.removeServer(ctx, name)
}

func (m *Manager) removeServer(ctx context.Context, name string) error {
	m.mu.Lock()
	conn, ok := m.conns[name]
	if !ok {
		m.mu.Unlock()
		return &Error{Kind: KindRouting, Server: name, Cause: ErrUnknownServer}
	}
	delete(m.conns, name)
	m.order = slices.DeleteFunc(m.order, func(s string) bool { return s == name })
	removed := m.catalog.Remove(name)
	m.mu.Unlock()

	err := disconnectWithContext(ctx, conn)
	m.events.Emit(ctx, Event{Name: EventServerDisconnected, Server: name})
	m.events.Emit(ctx, Event{Name: EventToolsUpdated, Server: name, Tools: []string{}, Removed: removed})
	if err != nil {
		m.logger.Warn("disconnect failed", "server", name, "error", err)
		m.emitError(ctx, name, "", err)
	}
	return nil
}

func disconnectWithContext(ctx context.Context, conn *ServerConnection) error {
	done := make(chan error, 1)
	go func() { done <- conn.Disconnect() }()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

// DeleteServer removes name from the live set and from the registry.
func (m *Manager) DeleteServer(ctx context.Context, name string) error {
	liveErr := m.removeServer(ctx, name)
	if m.opts.Registry == nil {
		return liveErr
	}
	if err := m.opts.Registry.RemoveServer(ctx, name); err != nil {
		if liveErr != nil {
			return configError(name, "", err)
		}
		m.logger.Warn("server removed from live set but not from registry", "server", name, "error", err)
	}
	return nil
}

// EnableServer marks the persisted config enabled and connects it. If the
// connect fails, the persisted flag is restored.
func (m *Manager) EnableServer(ctx context.Context, name string) error {
	reg := m.opts.Registry
	if reg == nil {
		return configError(name, "", ErrNoRegistry)
	}
	cfg, ok := reg.Server(name)
	if !ok {
		return configError(name, "", ErrUnknownServer)
	}
	wasEnabled := cfg.Enabled
	if !wasEnabled {
		if err := reg.SetEnabled(ctx, name, true); err != nil {
			return configError(name, "persist enabled flag", err)
		}
	}
	if m.HasServer(name) {
		return nil
	}
	cfg.Enabled = true
	if err := m.addServer(ctx, cfg, false); err != nil {
		if !wasEnabled {
			if rerr := reg.SetEnabled(ctx, name, false); rerr != nil {
				m.logger.Error("restore enabled flag", "server", name, "error", rerr)
			}
		}
		return err
	}
	return nil
}

// DisableServer marks the persisted config disabled and disconnects it.
func (m *Manager) DisableServer(ctx context.Context, name string) error {
	reg := m.opts.Registry
	if reg == nil {
		return configError(name, "", ErrNoRegistry)
	}
	if _, ok := reg.Server(name); !ok {
		return configError(name, "", ErrUnknownServer)
	}
	if err := reg.SetEnabled(ctx, name, false); err != nil {
		return configError(name, "persist enabled flag", err)
	}
	if m.HasServer(name) {
		return m.removeServer(ctx, name)
	}
	return nil
}

// ReconnectServer retries a live server that is not Connected.
func (m *Manager) ReconnectServer(ctx context.Context, name string) error {
	conn := m.connection(name)
	if conn == nil {
		return &Error{Kind: KindRouting, Server: name, Cause: ErrUnknownServer}
	}
	if conn.State() == StateConnected {
		return nil
	}
	if err := conn.Connect(ctx); err != nil {
		m.emitError(ctx, name, "", err)
		return err
	}
	m.mu.Lock()
	if m.conns[name] != conn {
		m.mu.Unlock()
		_ = conn.Disconnect()
		return &Error{Kind: KindRouting, Server: name, Cause: ErrUnknownServer}
	}
	_, current := m.catalog.Replace(name, conn.Tools())
	m.mu.Unlock()
	m.events.Emit(ctx, Event{Name: EventServerConnected, Server: name})
	m.events.Emit(ctx, Event{Name: EventToolsUpdated, Server: name, Tools: current})
	return nil
}

// RefreshServer re-queries name's capabilities and replaces its catalog
// entries wholesale.
func (m *Manager) RefreshServer(ctx context.Context, name string) error {
	conn := m.connection(name)
	if conn == nil {
		return &Error{Kind: KindRouting, Server: name, Cause: ErrUnknownServer}
	}
	return m.refreshConnection(ctx, conn)
}

func (m *Manager) refreshConnection(ctx context.Context, conn *ServerConnection) error {
	name := conn.Name()
	if err := conn.Refresh(ctx); err != nil {
		m.emitError(ctx, name, "", err)
		return err
	}
	m.mu.Lock()
	if m.conns[name] != conn {
		m.mu.Unlock()
		return nil
	}
	removed, current := m.catalog.Replace(name, conn.Tools())
	m.mu.Unlock()
	m.events.Emit(ctx, Event{Name: EventToolsUpdated, Server: name, Tools: current, Removed: removed})
	return nil
}

// ReloadConfiguration re-reads the registry and reconciles the live set:
// servers that vanished or were disabled are removed, changed configs are
// reconnected and newly enabled ones are added.
func (m *Manager) ReloadConfiguration(ctx context.Context) error {
	reg := m.opts.Registry
	if reg == nil {
		return configError("", "", ErrNoRegistry)
	}
	if err := reg.Reload(ctx); err != nil {
		return configError("", "reload registry", err)
	}
	wanted := make(map[string]ServerConfig)
	var order []string
	for _, cfg := range reg.Servers() {
		if cfg.Enabled {
			wanted[cfg.Name] = cfg
			order = append(order, cfg.Name)
		}
	}

	var errs []error
	for _, snap := range m.Servers() {
		cfg, keep := wanted[snap.Name]
		if keep {
			if conn := m.connection(snap.Name); conn != nil && reflect.DeepEqual(conn.Config(), cfg.Clone()) {
				delete(wanted, snap.Name)
				continue
			}
		}
		if err := m.removeServer(ctx, snap.Name); err != nil && !errors.Is(err, ErrUnknownServer) {
			errs = append(errs, err)
		}
	}
	var toAdd []ServerConfig
	for _, name := range order {
		if cfg, ok := wanted[name]; ok {
			toAdd = append(toAdd, cfg)
		}
	}
	if err := m.connectAll(ctx, toAdd, false); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// HasServer reports whether name is in the live set.
func (m *Manager) HasServer(name string) bool {
	return m.connection(name) != nil
}

func (m *Manager) connection(name string) *ServerConnection {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.conns[name]
}

// Servers returns a snapshot of every live server in registration order.
func (m *Manager) Servers() []ConnectionSnapshot {
	m.mu.RLock()
	conns := make([]*ServerConnection, 0, len(m.order))
	for _, name := range m.order {
		conns = append(conns, m.conns[name])
	}
	m.mu.RUnlock()
	out := make([]ConnectionSnapshot, 0, len(conns))
	for _, c := range conns {
		out = append(out, c.Snapshot())
	}
	return out
}

// ListTools returns the aggregate catalog, optionally filtered by category,
// ordered by category then display name.
func (m *Manager) ListTools(category string) []tooladapter.NormalizedTool {
	return m.catalog.List(category)
}

// GetTool returns one catalog entry.
func (m *Manager) GetTool(id string) (tooladapter.NormalizedTool, bool) {
	return m.catalog.Get(id)
}

// ToolsByServer returns a server's catalog entries.
func (m *Manager) ToolsByServer(server string) []tooladapter.NormalizedTool {
	return m.catalog.ByServer(server)
}

// GetCategories returns the categories present in the catalog.
func (m *Manager) GetCategories() []string {
	return m.catalog.Categories()
}

// SearchTools matches query against tool names, descriptions and
// categories.
func (m *Manager) SearchTools(query string) []tooladapter.NormalizedTool {
	return m.catalog.Search(query)
}

// SetToolEnabled enables or disables execution of a catalog entry.
func (m *Manager) SetToolEnabled(id string, enabled bool) error {
	if !m.catalog.SetEnabled(id, enabled) {
		return routingError(id, "", ErrUnknownTool)
	}
	return nil
}

// ExecuteTool routes id to its owning server, validates args, invokes the
// tool and normalizes the result. The returned Result is always populated;
// err is non-nil for routing, validation and invoke failures.
func (m *Manager) ExecuteTool(ctx context.Context, id string, args map[string]any) (tooladapter.Result, error) {
	execID := uuid.NewString()
	tool, ok := m.catalog.Get(id)
	if !ok {
		return m.failExecution(ctx, execID, tooladapter.NormalizedTool{ID: id}, routingError(id, "", ErrUnknownTool))
	}
	return m.execute(ctx, execID, tool, args)
}

// FindAndCallTool dispatches to the first connected server, in registration
// order, whose tool list contains rawName.
func (m *Manager) FindAndCallTool(ctx context.Context, rawName string, args map[string]any) (tooladapter.Result, error) {
	execID := uuid.NewString()
	m.mu.RLock()
	conns := make([]*ServerConnection, 0, len(m.order))
	for _, name := range m.order {
		conns = append(conns, m.conns[name])
	}
	m.mu.RUnlock()
	for _, conn := range conns {
		if !conn.HasTool(rawName) {
			continue
		}
		if tool, ok := m.catalog.Get(tooladapter.ToolID(conn.Name(), rawName)); ok {
			return m.execute(ctx, execID, tool, args)
		}
	}
	return m.failExecution(ctx, execID, tooladapter.NormalizedTool{RawName: rawName},
		routingError(rawName, "no connected server exposes this tool", ErrUnknownTool))
}

func (m *Manager) execute(ctx context.Context, execID string, tool tooladapter.NormalizedTool, args map[string]any) (tooladapter.Result, error) {
	if !tool.Enabled {
		return m.failExecution(ctx, execID, tool, routingError(tool.ID, "", ErrToolDisabled))
	}
	conn := m.connection(tool.Server)
	if conn == nil {
		return m.failExecution(ctx, execID, tool, routingError(tool.ID, "", ErrUnknownServer))
	}
	validated, err := tooladapter.ValidateAndCoerce(tool, args)
	if err != nil {
		return m.failExecution(ctx, execID, tool,
			&Error{Kind: KindValidation, Server: tool.Server, Tool: tool.ID, Cause: err})
	}

	start := time.Now()
	raw, err := conn.CallTool(ctx, tool.RawName, validated)
	elapsed := time.Since(start)
	if err != nil {
		result := m.envelope(tooladapter.Failure(err), execID, tool, elapsed)
		m.emitExecuted(ctx, tool, validated, &result)
		m.emitError(ctx, tool.Server, tool.ID, err)
		return result, err
	}
	result := m.envelope(tooladapter.NormalizeResult(raw), execID, tool, elapsed)
	m.emitExecuted(ctx, tool, validated, &result)
	return result, nil
}

func (m *Manager) failExecution(ctx context.Context, execID string, tool tooladapter.NormalizedTool, err error) (tooladapter.Result, error) {
	result := m.envelope(tooladapter.Failure(err), execID, tool, 0)
	m.emitError(ctx, tool.Server, tool.ID, err)
	return result, err
}

func (m *Manager) envelope(res tooladapter.Result, execID string, tool tooladapter.NormalizedTool, elapsed time.Duration) tooladapter.Result {
	res.ExecutionID = execID
	res.ToolID = tool.ID
	res.Server = tool.Server
	res.Tool = tool.RawName
	res.Duration = elapsed
	return res
}

func (m *Manager) emitExecuted(ctx context.Context, tool tooladapter.NormalizedTool, args map[string]any, res *tooladapter.Result) {
	m.events.Emit(ctx, Event{
		Name:        EventToolExecuted,
		Server:      tool.Server,
		ToolID:      tool.ID,
		ToolName:    tool.RawName,
		ExecutionID: res.ExecutionID,
		Arguments:   args,
		Result:      res,
		Duration:    res.Duration,
	})
}

func (m *Manager) emitError(ctx context.Context, server, tool string, err error) {
	m.events.Emit(ctx, Event{Name: EventError, Server: server, ToolID: tool, Err: err})
}

// ReadResource reads a resource from a connected server.
func (m *Manager) ReadResource(ctx context.Context, server, uri string) (*mcp.ReadResourceResult, error) {
	conn := m.connection(server)
	if conn == nil {
		return nil, &Error{Kind: KindRouting, Server: server, Cause: ErrUnknownServer}
	}
	res, err := conn.ReadResource(ctx, uri)
	if err != nil {
		m.emitError(ctx, server, "", err)
	}
	return res, err
}

// GetPrompt renders a prompt from a connected server.
func (m *Manager) GetPrompt(ctx context.Context, server, name string, args map[string]string) (*mcp.GetPromptResult, error) {
	conn := m.connection(server)
	if conn == nil {
		return nil, &Error{Kind: KindRouting, Server: server, Cause: ErrUnknownServer}
	}
	res, err := conn.GetPrompt(ctx, name, args)
	if err != nil {
		m.emitError(ctx, server, "", err)
	}
	return res, err
}

// HealthCheck snapshots every live server without touching its state.
func (m *Manager) HealthCheck() map[string]HealthRecord {
	out := make(map[string]HealthRecord)
	for _, snap := range m.Servers() {
		out[snap.Name] = HealthRecord{
			Server:      snap.Name,
			Transport:   snap.Transport,
			State:       snap.State,
			Connected:   snap.State == StateConnected,
			Tools:       len(snap.Tools),
			Resources:   len(snap.Resources),
			Prompts:     len(snap.Prompts),
			LastError:   snap.LastError,
			Attempts:    snap.Attempts,
			ConnectedAt: snap.ConnectedAt,
		}
	}
	return out
}

// GetStatus returns aggregate counts.
func (m *Manager) GetStatus() Status {
	m.mu.RLock()
	running := m.running
	m.mu.RUnlock()
	st := Status{Running: running}
	for _, snap := range m.Servers() {
		st.TotalServers++
		if snap.State == StateConnected {
			st.ConnectedServers++
		}
		st.TotalResources += len(snap.Resources)
		st.TotalPrompts += len(snap.Prompts)
	}
	st.Tools = m.catalog.Stats()
	st.TotalTools = st.Tools.Total
	st.EnabledTools = st.Tools.Enabled
	st.Categories = m.catalog.Categories()
	return st
}
