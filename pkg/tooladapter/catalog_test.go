package tooladapter

import (
	"encoding/json"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rawTools(names ...string) []*mcp.Tool {
	out := make([]*mcp.Tool, 0, len(names))
	for _, n := range names {
		out = append(out, &mcp.Tool{Name: n, InputSchema: map[string]any{"type": "object"}})
	}
	return out
}

func TestCatalogReplaceAllShrinks(t *testing.T) {
	t.Parallel()
	c := NewCatalog()
	c.Replace("fs", rawTools("A", "B"))
	c.Replace("other", rawTools("B"))
	require.Equal(t, 3, c.Len())

	removed, current := c.Replace("fs", rawTools("A"))
	assert.Equal(t, []string{ToolID("fs", "B")}, removed)
	assert.Equal(t, []string{ToolID("fs", "A")}, current)

	_, ok := c.Get(ToolID("fs", "B"))
	assert.False(t, ok)
	_, ok = c.Get(ToolID("other", "B"))
	assert.True(t, ok, "refreshing fs must not touch other")
}

func TestCatalogRefreshIsIdempotent(t *testing.T) {
	t.Parallel()
	c := NewCatalog()
	c.Replace("fs", rawTools("read_file", "write_file"))
	c.Replace("git", rawTools("git_log"))

	first, err := json.Marshal(c.List(""))
	require.NoError(t, err)
	c.Replace("fs", rawTools("read_file", "write_file"))
	second, err := json.Marshal(c.List(""))
	require.NoError(t, err)
	assert.Equal(t, string(first), string(second))
}

func TestCatalogOrderingAndFilters(t *testing.T) {
	t.Parallel()
	c := NewCatalog()
	c.Replace("fs", rawTools("write_file", "read_file"))
	c.Replace("misc", rawTools("echo"))
	c.Replace("git", rawTools("git_log"))

	var names []string
	for _, tool := range c.List("") {
		names = append(names, tool.Category+"/"+tool.Name)
	}
	assert.Equal(t, []string{"File System/read_file", "File System/write_file", "General/echo", "Version Control/git_log"}, names)
	assert.Equal(t, []string{"File System", "General", "Version Control"}, c.Categories())
	assert.Len(t, c.List("File System"), 2)

	found := c.Search("FILE")
	require.Len(t, found, 2)
	assert.Equal(t, "read_file", found[0].Name)
}

func TestCatalogEnabledFlagSurvivesRefresh(t *testing.T) {
	t.Parallel()
	c := NewCatalog()
	c.Replace("fs", rawTools("read_file"))
	id := ToolID("fs", "read_file")
	require.True(t, c.SetEnabled(id, false))

	c.Replace("fs", rawTools("read_file"))
	tool, ok := c.Get(id)
	require.True(t, ok)
	assert.False(t, tool.Enabled)

	st := c.Stats()
	assert.Equal(t, 1, st.Total)
	assert.Equal(t, 1, st.Disabled)
	assert.Equal(t, map[string]int{"fs": 1}, st.ByServer)
}

func TestCatalogRemove(t *testing.T) {
	t.Parallel()
	c := NewCatalog()
	c.Replace("fs", rawTools("a", "b"))
	assert.ElementsMatch(t, []string{ToolID("fs", "a"), ToolID("fs", "b")}, c.Remove("fs"))
	assert.Zero(t, c.Len())
	assert.Empty(t, c.Remove("fs"))
}
