package tooladapter

import (
	"cmp"
	"slices"
	"strings"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Catalog aggregates NormalizedTool entries for every connected server.
type Catalog struct {
	mu sync.RWMutex

	tools       map[string]NormalizedTool
	serverTools map[string][]string
	disabled    map[string]struct{}
}

// Stats summarizes catalog contents.
type Stats struct {
	Total      int            `json:"total"`
	Enabled    int            `json:"enabled"`
	Disabled   int            `json:"disabled"`
	ByServer   map[string]int `json:"by_server"`
	ByCategory map[string]int `json:"by_category"`
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		tools:       make(map[string]NormalizedTool),
		serverTools: make(map[string][]string),
		disabled:    make(map[string]struct{}),
	}
}

// Replace discards every entry owned by server and rebuilds them from
// upstream. Entries for other servers are untouched. It returns the ids that
// disappeared and the ids now present for server.
func (c *Catalog) Replace(server string, upstream []*mcp.Tool) (removed, current []string) {
	built := make([]NormalizedTool, 0, len(upstream))
	for _, raw := range upstream {
		if raw == nil || raw.Name == "" {
			continue
		}
		built = append(built, Adapt(raw, server))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	previous := c.removeServerLocked(server)
	current = make([]string, 0, len(built))
	for _, tool := range built {
		if _, ok := c.disabled[tool.ID]; ok {
			tool.Enabled = false
		}
		if _, dup := c.tools[tool.ID]; !dup {
			current = append(current, tool.ID)
		}
		c.tools[tool.ID] = tool
	}
	slices.Sort(current)
	if len(current) > 0 {
		c.serverTools[server] = current
	}
	for _, id := range previous {
		if _, ok := c.tools[id]; !ok {
			removed = append(removed, id)
		}
	}
	return removed, slices.Clone(current)
}

// Remove drops every entry owned by server and returns their ids.
func (c *Catalog) Remove(server string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.removeServerLocked(server)
}

func (c *Catalog) removeServerLocked(server string) []string {
	ids := c.serverTools[server]
	for _, id := range ids {
		delete(c.tools, id)
	}
	delete(c.serverTools, server)
	return ids
}

// Get returns the tool registered under id.
func (c *Catalog) Get(id string) (NormalizedTool, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	tool, ok := c.tools[id]
	if !ok {
		return NormalizedTool{}, false
	}
	return tool.Clone(), true
}

// List returns every tool, or only those in category when it is non-empty,
// ordered by category then display name.
func (c *Catalog) List(category string) []NormalizedTool {
	c.mu.RLock()
	out := make([]NormalizedTool, 0, len(c.tools))
	for _, tool := range c.tools {
		if category != "" && tool.Category != category {
			continue
		}
		out = append(out, tool.Clone())
	}
	c.mu.RUnlock()
	slices.SortFunc(out, compareCategoryName)
	return out
}

// ByServer returns the tools owned by server, ordered by display name.
func (c *Catalog) ByServer(server string) []NormalizedTool {
	c.mu.RLock()
	ids := c.serverTools[server]
	out := make([]NormalizedTool, 0, len(ids))
	for _, id := range ids {
		out = append(out, c.tools[id].Clone())
	}
	c.mu.RUnlock()
	slices.SortFunc(out, compareName)
	return out
}

// Categories returns the distinct categories currently present, sorted.
func (c *Catalog) Categories() []string {
	c.mu.RLock()
	seen := make(map[string]struct{})
	for _, tool := range c.tools {
		seen[tool.Category] = struct{}{}
	}
	c.mu.RUnlock()
	out := make([]string, 0, len(seen))
	for category := range seen {
		out = append(out, category)
	}
	slices.Sort(out)
	return out
}

// Search matches query case-insensitively against name, raw name,
// description and category. Results are ordered by display name.
func (c *Catalog) Search(query string) []NormalizedTool {
	q := strings.ToLower(strings.TrimSpace(query))
	c.mu.RLock()
	var out []NormalizedTool
	for _, tool := range c.tools {
		if q == "" ||
			strings.Contains(strings.ToLower(tool.Name), q) ||
			strings.Contains(strings.ToLower(tool.RawName), q) ||
			strings.Contains(strings.ToLower(tool.Description), q) ||
			strings.Contains(strings.ToLower(tool.Category), q) {
			out = append(out, tool.Clone())
		}
	}
	c.mu.RUnlock()
	slices.SortFunc(out, compareName)
	return out
}

// SetEnabled flips a tool's enabled flag. The flag survives refreshes of the
// owning server. It reports whether id is currently in the catalog.
func (c *Catalog) SetEnabled(id string, enabled bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if enabled {
		delete(c.disabled, id)
	} else {
		c.disabled[id] = struct{}{}
	}
	tool, ok := c.tools[id]
	if ok {
		tool.Enabled = enabled
		c.tools[id] = tool
	}
	return ok
}

// Len returns the number of tools in the catalog.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.tools)
}

// Stats returns aggregate counts.
func (c *Catalog) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	st := Stats{ByServer: make(map[string]int), ByCategory: make(map[string]int)}
	for _, tool := range c.tools {
		st.Total++
		if tool.Enabled {
			st.Enabled++
		} else {
			st.Disabled++
		}
		st.ByServer[tool.Server]++
		st.ByCategory[tool.Category]++
	}
	return st
}

func compareCategoryName(a, b NormalizedTool) int {
	return cmp.Or(
		cmp.Compare(a.Category, b.Category),
		compareName(a, b),
	)
}

func compareName(a, b NormalizedTool) int {
	return cmp.Or(
		cmp.Compare(a.Name, b.Name),
		cmp.Compare(a.ID, b.ID),
	)
}
