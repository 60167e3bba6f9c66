package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/vikashloomba/mcp-toolhub-go/pkg/mcpmgr"
	"github.com/vikashloomba/mcp-toolhub-go/pkg/registry"
)

func (a *app) openRegistry(ctx context.Context) (*registry.ServerRegistry, error) {
	path := a.v.GetString("store")
	if path == "" {
		var err error
		if path, err = registry.DefaultStorePath(); err != nil {
			return nil, err
		}
	}
	store, err := registry.OpenStore(path)
	if err != nil {
		return nil, err
	}
	reg, err := registry.New(ctx, registry.Options{
		Store:         store,
		TemplatesFile: a.v.GetString("templates"),
		Logger:        a.logger,
	})
	if err != nil {
		if c, ok := store.(io.Closer); ok {
			_ = c.Close()
		}
		return nil, err
	}
	return reg, nil
}

// withRegistry opens the registry for fn and closes it afterwards.
func (a *app) withRegistry(ctx context.Context, fn func(*registry.ServerRegistry) error) error {
	reg, err := a.openRegistry(ctx)
	if err != nil {
		return err
	}
	return errors.Join(fn(reg), reg.Close())
}

func (a *app) newManager(reg *registry.ServerRegistry) *mcpmgr.Manager {
	return mcpmgr.NewManager(&mcpmgr.ManagerOptions{
		ClientName:     "toolhub",
		ClientVersion:  Version,
		ConnectTimeout: a.connectTimeout(),
		RetryAttempts:  a.v.GetInt("retry_attempts"),
		Registry:       reg,
		Logger:         a.logger,
	})
}

// withManager connects every enabled server, runs fn and shuts down.
// Servers that fail to connect are logged and left out.
func (a *app) withManager(ctx context.Context, fn func(*mcpmgr.Manager) error) error {
	return a.withRegistry(ctx, func(reg *registry.ServerRegistry) error {
		mgr := a.newManager(reg)
		if err := mgr.Initialize(ctx); err != nil {
			a.logger.Warn("some servers failed to connect", "error", err)
		}
		return errors.Join(fn(mgr), mgr.Shutdown(context.WithoutCancel(ctx)))
	})
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// parseArgs turns k=v pairs into tool arguments. Values that parse as JSON
// keep their JSON type; anything else stays a string.
func parseArgs(pairs []string) (map[string]any, error) {
	args := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("argument %q must be key=value", pair)
		}
		var value any
		if err := json.Unmarshal([]byte(raw), &value); err != nil {
			value = raw
		}
		args[key] = value
	}
	return args, nil
}

// truncate shortens s to at most n runes, marking the cut with "...".
func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	if n <= 3 {
		return string(runes[:max(n, 0)])
	}
	return string(runes[:n-3]) + "..."
}
