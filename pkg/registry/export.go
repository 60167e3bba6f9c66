package registry

import (
	"context"
	"fmt"
	"maps"
	"os"
	"slices"

	"github.com/vikashloomba/mcp-toolhub-go/pkg/mcpmgr"
)

// Export writes the servers and custom templates to path, JSON or YAML by
// extension. Built-in templates are not exported.
func (r *ServerRegistry) Export(path string) error {
	r.mu.RLock()
	snap := r.snapshotLocked()
	r.mu.RUnlock()
	data, err := encode(formatFor(path), fileStoreDocument{Version: fileStoreVersionV1, Snapshot: snap})
	if err != nil {
		return fmt.Errorf("registry: encode export: %w", err)
	}
	return writeFileAtomic(path, data)
}

// Import reads a document written by Export. With merge, imported servers
// and templates replace same-named entries and the rest are kept; without
// it, the registry's servers and custom templates are replaced wholesale.
// Every imported entry is validated before anything is persisted.
func (r *ServerRegistry) Import(ctx context.Context, path string, merge bool) error {
	// #nosec G304 -- path is chosen by the operator.
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("registry: read import: %w", err)
	}
	var doc fileStoreDocument
	if err := decode(formatFor(path), data, &doc); err != nil {
		return fmt.Errorf("registry: decode import %s: %w", path, err)
	}
	seen := make(map[string]bool, len(doc.Servers))
	for _, cfg := range doc.Servers {
		if err := cfg.Validate(); err != nil {
			return err
		}
		if seen[cfg.Name] {
			return fmt.Errorf("registry: import lists %q twice", cfg.Name)
		}
		seen[cfg.Name] = true
	}
	for _, t := range doc.Templates {
		if err := validateTemplate(t); err != nil {
			return err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	var servers []mcpmgr.ServerConfig
	custom := make(map[string]mcpmgr.Template)
	if merge {
		servers = slices.Clone(r.servers)
		maps.Copy(custom, r.custom)
	}
	for _, cfg := range doc.Servers {
		if i := slices.IndexFunc(servers, func(c mcpmgr.ServerConfig) bool { return c.Name == cfg.Name }); i >= 0 {
			servers[i] = cfg.Clone()
			continue
		}
		servers = append(servers, cfg.Clone())
	}
	for _, t := range doc.Templates {
		custom[t.Name] = t.Clone()
	}
	if err := r.commitLocked(ctx, servers, custom); err != nil {
		return err
	}
	r.logger.Info("configuration imported", "path", path, "servers", len(doc.Servers), "templates", len(doc.Templates), "merge", merge)
	return nil
}
