package registry

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/vikashloomba/mcp-toolhub-go/pkg/mcpmgr"
)

// DefaultCategory groups servers with no known category.
const DefaultCategory = "General"

// Options configures a ServerRegistry.
type Options struct {
	// Store persists the registry. Required.
	Store Store
	// TemplatesFile is an optional YAML file of custom templates, read on
	// every load; its entries override built-ins of the same name.
	TemplatesFile string
	Logger        *slog.Logger
}

// Statistics summarizes the configured servers.
type Statistics struct {
	TotalServers       int                          `json:"total_servers"`
	EnabledServers     int                          `json:"enabled_servers"`
	DisabledServers    int                          `json:"disabled_servers"`
	AvailableTemplates int                          `json:"available_templates"`
	ByTransport        map[mcpmgr.TransportKind]int `json:"by_transport"`
	Categories         int                          `json:"categories"`
}

// ServerRegistry holds server configs and templates backed by a Store.
// Mutations are written to the Store before they become visible; a failed
// write leaves the registry unchanged.
type ServerRegistry struct {
	store         Store
	templatesFile string
	logger        *slog.Logger

	mu        sync.RWMutex
	servers   []mcpmgr.ServerConfig
	custom    map[string]mcpmgr.Template
	fileTmpls map[string]mcpmgr.Template
}

// New loads a registry from opts.Store.
func New(ctx context.Context, opts Options) (*ServerRegistry, error) {
	if opts.Store == nil {
		return nil, errors.New("registry: store is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := &ServerRegistry{
		store:         opts.Store,
		templatesFile: opts.TemplatesFile,
		logger:        logger,
	}
	if err := r.Reload(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload re-reads the Store and the templates file.
func (r *ServerRegistry) Reload(ctx context.Context) error {
	snap, err := r.store.Load(ctx)
	if err != nil {
		return err
	}
	fileTmpls, err := LoadTemplatesFile(r.templatesFile)
	if err != nil {
		return err
	}
	custom := make(map[string]mcpmgr.Template, len(snap.Templates))
	for _, t := range snap.Templates {
		custom[t.Name] = t.Clone()
	}
	fromFile := make(map[string]mcpmgr.Template, len(fileTmpls))
	for _, t := range fileTmpls {
		fromFile[t.Name] = t
	}
	r.mu.Lock()
	r.servers = snap.clone().Servers
	r.custom = custom
	r.fileTmpls = fromFile
	r.mu.Unlock()
	if len(fileTmpls) > 0 {
		r.logger.Info("loaded custom templates", "count", len(fileTmpls), "path", r.templatesFile)
	}
	return nil
}

// Close closes the Store when it holds resources.
func (r *ServerRegistry) Close() error {
	if c, ok := r.store.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// snapshotLocked builds the persisted form. Callers hold r.mu.
func (r *ServerRegistry) snapshotLocked() Snapshot {
	snap := Snapshot{Servers: r.servers}
	for _, name := range slices.Sorted(maps.Keys(r.custom)) {
		snap.Templates = append(snap.Templates, r.custom[name])
	}
	return snap.clone()
}

// commitLocked persists next and swaps it in on success. Callers hold r.mu
// for writing.
func (r *ServerRegistry) commitLocked(ctx context.Context, servers []mcpmgr.ServerConfig, custom map[string]mcpmgr.Template) error {
	next := Snapshot{Servers: servers}
	for _, name := range slices.Sorted(maps.Keys(custom)) {
		next.Templates = append(next.Templates, custom[name])
	}
	if err := r.store.Save(ctx, next); err != nil {
		return err
	}
	r.servers = servers
	r.custom = custom
	return nil
}

func (r *ServerRegistry) indexLocked(name string) int {
	return slices.IndexFunc(r.servers, func(c mcpmgr.ServerConfig) bool { return c.Name == name })
}

// Server returns a copy of the named config.
func (r *ServerRegistry) Server(name string) (mcpmgr.ServerConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if i := r.indexLocked(name); i >= 0 {
		return r.servers[i].Clone(), true
	}
	return mcpmgr.ServerConfig{}, false
}

// Servers returns copies of every config in insertion order.
func (r *ServerRegistry) Servers() []mcpmgr.ServerConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]mcpmgr.ServerConfig, 0, len(r.servers))
	for _, cfg := range r.servers {
		out = append(out, cfg.Clone())
	}
	return out
}

// AddServer validates and appends cfg. Names must be unique.
func (r *ServerRegistry) AddServer(ctx context.Context, cfg mcpmgr.ServerConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.indexLocked(cfg.Name) >= 0 {
		return fmt.Errorf("registry: %w: %q", mcpmgr.ErrDuplicateServer, cfg.Name)
	}
	servers := append(slices.Clone(r.servers), cfg.Clone())
	if err := r.commitLocked(ctx, servers, r.custom); err != nil {
		return err
	}
	r.logger.Info("server added", "server", cfg.Name, "transport", string(cfg.Transport))
	return nil
}

// AddServerFromTemplate instantiates a template under serverName and adds the
// result.
func (r *ServerRegistry) AddServerFromTemplate(ctx context.Context, template, serverName string, overrides *mcpmgr.ServerOverrides) (mcpmgr.ServerConfig, error) {
	t, ok := r.Template(template)
	if !ok {
		return mcpmgr.ServerConfig{}, fmt.Errorf("registry: unknown template %q", template)
	}
	cfg := t.Instantiate(serverName, overrides)
	if err := r.AddServer(ctx, cfg); err != nil {
		return mcpmgr.ServerConfig{}, err
	}
	return cfg, nil
}

// UpdateServer applies fn to a copy of the named config, validates the
// result and persists it. fn must not rename the server.
func (r *ServerRegistry) UpdateServer(ctx context.Context, name string, fn func(*mcpmgr.ServerConfig)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.indexLocked(name)
	if i < 0 {
		return fmt.Errorf("registry: %w: %q", mcpmgr.ErrUnknownServer, name)
	}
	updated := r.servers[i].Clone()
	fn(&updated)
	if updated.Name != name {
		return fmt.Errorf("registry: update must not rename %q to %q", name, updated.Name)
	}
	if err := updated.Validate(); err != nil {
		return err
	}
	servers := slices.Clone(r.servers)
	servers[i] = updated
	return r.commitLocked(ctx, servers, r.custom)
}

// SetEnabled flips the enabled flag of the named config.
func (r *ServerRegistry) SetEnabled(ctx context.Context, name string, enabled bool) error {
	return r.UpdateServer(ctx, name, func(c *mcpmgr.ServerConfig) { c.Enabled = enabled })
}

// RemoveServer deletes the named config.
func (r *ServerRegistry) RemoveServer(ctx context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.indexLocked(name)
	if i < 0 {
		return fmt.Errorf("registry: %w: %q", mcpmgr.ErrUnknownServer, name)
	}
	servers := slices.Delete(slices.Clone(r.servers), i, i+1)
	if err := r.commitLocked(ctx, servers, r.custom); err != nil {
		return err
	}
	r.logger.Info("server removed", "server", name)
	return nil
}

// Template resolves a template: stored custom templates win over the
// templates file, which wins over built-ins.
func (r *ServerRegistry) Template(name string) (mcpmgr.Template, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.templatesLocked()[name]
	return t.Clone(), ok
}

func (r *ServerRegistry) templatesLocked() map[string]mcpmgr.Template {
	out := make(map[string]mcpmgr.Template)
	for _, t := range BuiltinTemplates() {
		out[t.Name] = t
	}
	maps.Copy(out, r.fileTmpls)
	maps.Copy(out, r.custom)
	return out
}

// Templates returns every available template sorted by name.
func (r *ServerRegistry) Templates() []mcpmgr.Template {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := slices.Collect(maps.Values(r.templatesLocked()))
	sortTemplates(out)
	return out
}

// PutTemplate stores a custom template, replacing one of the same name.
func (r *ServerRegistry) PutTemplate(ctx context.Context, t mcpmgr.Template) error {
	if err := validateTemplate(t); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	custom := maps.Clone(r.custom)
	if custom == nil {
		custom = make(map[string]mcpmgr.Template)
	}
	custom[t.Name] = t.Clone()
	return r.commitLocked(ctx, r.servers, custom)
}

// DeleteTemplate removes a stored custom template. Built-ins cannot be
// deleted; deleting a custom override restores the built-in.
func (r *ServerRegistry) DeleteTemplate(ctx context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.custom[name]; !ok {
		return fmt.Errorf("registry: no custom template %q", name)
	}
	custom := maps.Clone(r.custom)
	delete(custom, name)
	return r.commitLocked(ctx, r.servers, custom)
}

// ServersByCategory groups server names by the category recorded on the
// config, then by a template with the same transport and command, then
// DefaultCategory.
func (r *ServerRegistry) ServersByCategory() map[string][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	templates := r.templatesLocked()
	names := slices.Sorted(maps.Keys(templates))
	out := make(map[string][]string)
	for _, cfg := range r.servers {
		category := cfg.Category
		if category == "" {
			if t, ok := templates[cfg.Template]; ok {
				category = t.Category
			}
		}
		if category == "" {
			for _, name := range names {
				t := templates[name]
				if t.Transport == cfg.Transport && t.Command != "" && t.Command == cfg.Command && slices.Equal(t.Args, cfg.Args) {
					category = t.Category
					break
				}
			}
		}
		category = cmp.Or(category, DefaultCategory)
		out[category] = append(out[category], cfg.Name)
	}
	return out
}

// Statistics counts configured servers and templates.
func (r *ServerRegistry) Statistics() Statistics {
	byCategory := r.ServersByCategory()
	r.mu.RLock()
	defer r.mu.RUnlock()
	st := Statistics{
		TotalServers:       len(r.servers),
		AvailableTemplates: len(r.templatesLocked()),
		ByTransport:        make(map[mcpmgr.TransportKind]int),
		Categories:         len(byCategory),
	}
	for _, cfg := range r.servers {
		if cfg.Enabled {
			st.EnabledServers++
		} else {
			st.DisabledServers++
		}
		st.ByTransport[cfg.Transport]++
	}
	return st
}

var _ mcpmgr.ConfigRegistry = (*ServerRegistry)(nil)
