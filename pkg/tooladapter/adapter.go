package tooladapter

import (
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// NormalizedTool is the uniform representation of one server tool.
type NormalizedTool struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Category    string      `json:"category"`
	Parameters  []Parameter `json:"parameters"`
	Server      string      `json:"server"`
	RawName     string      `json:"raw_name"`
	Enabled     bool        `json:"enabled"`
}

// Clone returns a deep copy of the parameter list so callers may not alias
// catalog state.
func (t NormalizedTool) Clone() NormalizedTool {
	if t.Parameters != nil {
		params := make([]Parameter, len(t.Parameters))
		copy(params, t.Parameters)
		for i := range params {
			if params[i].Enum != nil {
				params[i].Enum = append([]any(nil), params[i].Enum...)
			}
		}
		t.Parameters = params
	}
	return t
}

// Parameter returns the declared parameter with the given name.
func (t NormalizedTool) Parameter(name string) (Parameter, bool) {
	for _, p := range t.Parameters {
		if p.Name == name {
			return p, true
		}
	}
	return Parameter{}, false
}

// Adapt converts a raw descriptor listed by server into a NormalizedTool.
func Adapt(raw *mcp.Tool, server string) NormalizedTool {
	name := raw.Name
	display := strings.TrimSpace(raw.Title)
	if display == "" {
		display = name
	}
	description := strings.TrimSpace(raw.Description)
	if description == "" {
		description = fmt.Sprintf("Tool %s from server %s", name, server)
	}
	return NormalizedTool{
		ID:          ToolID(server, name),
		Name:        display,
		Description: description,
		Category:    InferCategory(name, server, raw.Description),
		Parameters:  ExtractParameters(raw.InputSchema),
		Server:      server,
		RawName:     name,
		Enabled:     true,
	}
}
