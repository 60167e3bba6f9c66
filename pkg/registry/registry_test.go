package registry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vikashloomba/mcp-toolhub-go/pkg/mcpmgr"
)

type memStore struct {
	snap    Snapshot
	saveErr error
	saves   int
}

func (m *memStore) Load(context.Context) (Snapshot, error) { return m.snap.clone(), nil }

func (m *memStore) Save(_ context.Context, snap Snapshot) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saves++
	m.snap = snap.clone()
	return nil
}

func newTestRegistry(t *testing.T, store Store) *ServerRegistry {
	t.Helper()
	reg, err := New(context.Background(), Options{Store: store, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	require.NoError(t, err)
	return reg
}

func stdio(name string) mcpmgr.ServerConfig {
	return mcpmgr.ServerConfig{Name: name, Transport: mcpmgr.TransportStdio, Command: "run-" + name, Enabled: true}
}

func TestRegistryAddUpdateRemove(t *testing.T) {
	store := &memStore{}
	reg := newTestRegistry(t, store)
	ctx := context.Background()

	require.NoError(t, reg.AddServer(ctx, stdio("b")))
	require.NoError(t, reg.AddServer(ctx, stdio("a")))
	assert.ErrorIs(t, reg.AddServer(ctx, stdio("a")), mcpmgr.ErrDuplicateServer)
	assert.ErrorIs(t, reg.AddServer(ctx, mcpmgr.ServerConfig{Name: "bad", Transport: mcpmgr.TransportStdio}), mcpmgr.ErrConfiguration)

	names := func() []string {
		var out []string
		for _, cfg := range reg.Servers() {
			out = append(out, cfg.Name)
		}
		return out
	}
	assert.Equal(t, []string{"b", "a"}, names(), "insertion order is kept")

	require.NoError(t, reg.SetEnabled(ctx, "a", false))
	cfg, ok := reg.Server("a")
	require.True(t, ok)
	assert.False(t, cfg.Enabled)

	err := reg.UpdateServer(ctx, "a", func(c *mcpmgr.ServerConfig) { c.Command = "" })
	assert.ErrorIs(t, err, mcpmgr.ErrConfiguration)
	err = reg.UpdateServer(ctx, "a", func(c *mcpmgr.ServerConfig) { c.Name = "renamed" })
	assert.Error(t, err)

	require.NoError(t, reg.RemoveServer(ctx, "b"))
	assert.ErrorIs(t, reg.RemoveServer(ctx, "b"), mcpmgr.ErrUnknownServer)
	assert.Equal(t, []string{"a"}, names())
	assert.Len(t, store.snap.Servers, 1, "changes are written through")
}

func TestRegistryReturnsCopies(t *testing.T) {
	reg := newTestRegistry(t, &memStore{})
	cfg := stdio("a")
	cfg.Args = []string{"one"}
	require.NoError(t, reg.AddServer(context.Background(), cfg))

	got, _ := reg.Server("a")
	got.Args[0] = "mutated"
	again, _ := reg.Server("a")
	assert.Equal(t, "one", again.Args[0])
}

func TestRegistryFailedSaveLeavesStateUnchanged(t *testing.T) {
	store := &memStore{}
	reg := newTestRegistry(t, store)
	ctx := context.Background()
	require.NoError(t, reg.AddServer(ctx, stdio("a")))

	store.saveErr = errors.New("disk full")
	assert.Error(t, reg.AddServer(ctx, stdio("b")))
	assert.Error(t, reg.SetEnabled(ctx, "a", false))

	_, ok := reg.Server("b")
	assert.False(t, ok)
	cfg, _ := reg.Server("a")
	assert.True(t, cfg.Enabled)
}

func TestRegistryTemplatesPrecedence(t *testing.T) {
	dir := t.TempDir()
	templatesFile := filepath.Join(dir, "templates.yaml")
	require.NoError(t, os.WriteFile(templatesFile, []byte(`templates:
  - name: github
    category: Custom
    transport: stdio
    command: my-github
  - name: internal-search
    transport: streamable-http
    url: https://search.internal/mcp
`), 0o600))

	reg, err := New(context.Background(), Options{Store: &memStore{}, TemplatesFile: templatesFile})
	require.NoError(t, err)

	gh, ok := reg.Template("github")
	require.True(t, ok)
	assert.Equal(t, "my-github", gh.Command, "templates file overrides built-ins")

	_, ok = reg.Template("internal-search")
	assert.True(t, ok)
	assert.Len(t, reg.Templates(), len(BuiltinTemplates())+1)

	ctx := context.Background()
	require.NoError(t, reg.PutTemplate(ctx, mcpmgr.Template{Name: "github", Transport: mcpmgr.TransportStdio, Command: "stored-github"}))
	gh, _ = reg.Template("github")
	assert.Equal(t, "stored-github", gh.Command, "stored templates override the file")

	require.NoError(t, reg.DeleteTemplate(ctx, "github"))
	gh, _ = reg.Template("github")
	assert.Equal(t, "my-github", gh.Command)
	assert.Error(t, reg.DeleteTemplate(ctx, "filesystem"), "built-ins cannot be deleted")

	assert.Error(t, reg.PutTemplate(ctx, mcpmgr.Template{Name: "broken", Transport: mcpmgr.TransportStdio}))
}

func TestRegistryAddServerFromTemplate(t *testing.T) {
	reg := newTestRegistry(t, &memStore{})
	ctx := context.Background()
	token := "secret"

	cfg, err := reg.AddServerFromTemplate(ctx, "postgres", "db", &mcpmgr.ServerOverrides{
		Env: map[string]string{"POSTGRES_CONNECTION_STRING": token},
	})
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Template)
	assert.Equal(t, "Database", cfg.Category)
	assert.Equal(t, token, cfg.Env["POSTGRES_CONNECTION_STRING"])

	_, err = reg.AddServerFromTemplate(ctx, "postgres", "db", nil)
	assert.ErrorIs(t, err, mcpmgr.ErrDuplicateServer)
	_, err = reg.AddServerFromTemplate(ctx, "nope", "x", nil)
	assert.Error(t, err)
}

func TestRegistryServersByCategoryAndStatistics(t *testing.T) {
	reg := newTestRegistry(t, &memStore{})
	ctx := context.Background()

	_, err := reg.AddServerFromTemplate(ctx, "github", "gh", nil)
	require.NoError(t, err)
	// Matches the git template by transport and command only.
	require.NoError(t, reg.AddServer(ctx, mcpmgr.ServerConfig{
		Name: "git-copy", Transport: mcpmgr.TransportStdio, Command: "npx",
		Args: []string{"-y", "@modelcontextprotocol/server-git"},
	}))
	require.NoError(t, reg.AddServer(ctx, mcpmgr.ServerConfig{Name: "web", Transport: mcpmgr.TransportSSE, URL: "http://localhost:9000/sse", Enabled: true}))

	byCategory := reg.ServersByCategory()
	assert.ElementsMatch(t, []string{"gh", "git-copy"}, byCategory["Version Control"])
	assert.Equal(t, []string{"web"}, byCategory[DefaultCategory])

	st := reg.Statistics()
	assert.Equal(t, 3, st.TotalServers)
	assert.Equal(t, 2, st.EnabledServers)
	assert.Equal(t, 1, st.DisabledServers)
	assert.Equal(t, 2, st.ByTransport[mcpmgr.TransportStdio])
	assert.Equal(t, 2, st.Categories)
	assert.Equal(t, len(BuiltinTemplates()), st.AvailableTemplates)
}

func TestRegistryPersistsAcrossReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "servers.yaml")
	ctx := context.Background()
	reg := newTestRegistry(t, NewFileStore(path))
	require.NoError(t, reg.AddServer(ctx, stdio("a")))
	require.NoError(t, reg.PutTemplate(ctx, mcpmgr.Template{Name: "mine", Transport: mcpmgr.TransportStdio, Command: "mine"}))

	reopened := newTestRegistry(t, NewFileStore(path))
	_, ok := reopened.Server("a")
	assert.True(t, ok)
	_, ok = reopened.Template("mine")
	assert.True(t, ok)
}

func TestRegistryExportImport(t *testing.T) {
	ctx := context.Background()
	src := newTestRegistry(t, &memStore{})
	require.NoError(t, src.AddServer(ctx, stdio("a")))
	require.NoError(t, src.AddServer(ctx, stdio("b")))
	require.NoError(t, src.PutTemplate(ctx, mcpmgr.Template{Name: "mine", Transport: mcpmgr.TransportStdio, Command: "mine"}))

	for _, name := range []string{"export.json", "export.yaml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			require.NoError(t, src.Export(path))

			merged := newTestRegistry(t, &memStore{})
			existing := stdio("a")
			existing.Command = "old"
			require.NoError(t, merged.AddServer(ctx, existing))
			require.NoError(t, merged.AddServer(ctx, stdio("c")))
			require.NoError(t, merged.Import(ctx, path, true))
			assert.Len(t, merged.Servers(), 3)
			a, _ := merged.Server("a")
			assert.Equal(t, "run-a", a.Command, "imported entries replace same-named ones")
			_, ok := merged.Template("mine")
			assert.True(t, ok)

			replaced := newTestRegistry(t, &memStore{})
			require.NoError(t, replaced.AddServer(ctx, stdio("c")))
			require.NoError(t, replaced.Import(ctx, path, false))
			_, ok = replaced.Server("c")
			assert.False(t, ok, "non-merge import replaces servers")
			assert.Len(t, replaced.Servers(), 2)
		})
	}
}

func TestRegistryImportRejectsInvalidEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"servers":[{"name":"x","transport":"stdio"}]}`), 0o600))
	reg := newTestRegistry(t, &memStore{})
	require.NoError(t, reg.AddServer(context.Background(), stdio("keep")))

	assert.ErrorIs(t, reg.Import(context.Background(), path, false), mcpmgr.ErrConfiguration)
	_, ok := reg.Server("keep")
	assert.True(t, ok, "failed import leaves the registry untouched")
}
