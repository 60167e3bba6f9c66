package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/vikashloomba/mcp-toolhub-go/pkg/mcpmgr"
)

// Snapshot is everything a Store holds: configured servers in order and the
// custom templates.
type Snapshot struct {
	Servers   []mcpmgr.ServerConfig `json:"servers" yaml:"servers"`
	Templates []mcpmgr.Template     `json:"templates,omitempty" yaml:"templates,omitempty"`
}

func (s Snapshot) clone() Snapshot {
	out := Snapshot{
		Servers:   make([]mcpmgr.ServerConfig, 0, len(s.Servers)),
		Templates: make([]mcpmgr.Template, 0, len(s.Templates)),
	}
	for _, cfg := range s.Servers {
		out.Servers = append(out.Servers, cfg.Clone())
	}
	for _, t := range s.Templates {
		out.Templates = append(out.Templates, t.Clone())
	}
	return out
}

// Store loads and replaces a Snapshot. Save must be atomic: a failed Save
// leaves the previous Snapshot readable.
type Store interface {
	Load(ctx context.Context) (Snapshot, error)
	Save(ctx context.Context, snap Snapshot) error
}

// OpenStore picks a Store by file extension: .json, .yaml and .yml open a
// FileStore; .db, .sqlite and .sqlite3 open a SQLiteStore.
func OpenStore(path string) (Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("registry: store path is empty")
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".yaml", ".yml":
		return NewFileStore(path), nil
	case ".db", ".sqlite", ".sqlite3":
		return NewSQLiteStore(SQLiteStoreConfig{DSN: path})
	}
	return nil, fmt.Errorf("registry: unsupported store extension %q", filepath.Ext(path))
}

type format int

const (
	formatJSON format = iota
	formatYAML
)

func formatFor(path string) format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return formatYAML
	}
	return formatJSON
}

func encode(f format, v any) ([]byte, error) {
	if f == formatYAML {
		return yaml.Marshal(v)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

func decode(f format, data []byte, v any) error {
	if f == formatYAML {
		return yaml.Unmarshal(data, v)
	}
	return json.Unmarshal(data, v)
}
