package tooladapter

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Result is the envelope returned for every tool execution.
type Result struct {
	Success     bool          `json:"success"`
	Data        any           `json:"data,omitempty"`
	Error       string        `json:"error,omitempty"`
	ToolID      string        `json:"tool_id,omitempty"`
	Server      string        `json:"server,omitempty"`
	Tool        string        `json:"tool,omitempty"`
	ExecutionID string        `json:"execution_id,omitempty"`
	Duration    time.Duration `json:"duration,omitempty"`
}

// Failure builds an unsuccessful envelope carrying err's message.
func Failure(err error) Result {
	if err == nil {
		return Result{Success: false}
	}
	return Result{Success: false, Error: err.Error()}
}

// NormalizeResult collapses a raw call result: one content item becomes a
// scalar payload, several become a list, and an error-flagged result carries
// its payload in Error with Data left empty.
func NormalizeResult(raw *mcp.CallToolResult) Result {
	if raw == nil {
		return Result{Success: true}
	}
	var payload any
	switch len(raw.Content) {
	case 0:
		payload = raw.StructuredContent
	case 1:
		payload = contentValue(raw.Content[0])
	default:
		items := make([]any, 0, len(raw.Content))
		for _, c := range raw.Content {
			items = append(items, contentValue(c))
		}
		payload = items
	}
	if raw.IsError {
		return Result{Success: false, Error: errorText(payload)}
	}
	return Result{Success: true, Data: payload}
}

func contentValue(c mcp.Content) any {
	switch v := c.(type) {
	case *mcp.TextContent:
		return v.Text
	case *mcp.ImageContent:
		return map[string]any{
			"type":      "image",
			"mime_type": v.MIMEType,
			"data":      base64.StdEncoding.EncodeToString(v.Data),
		}
	case *mcp.AudioContent:
		return map[string]any{
			"type":      "audio",
			"mime_type": v.MIMEType,
			"data":      base64.StdEncoding.EncodeToString(v.Data),
		}
	case *mcp.ResourceLink:
		return map[string]any{"type": "resource_link", "uri": v.URI, "name": v.Name}
	case *mcp.EmbeddedResource:
		out := map[string]any{"type": "resource"}
		if v.Resource != nil {
			out["uri"] = v.Resource.URI
			out["mime_type"] = v.Resource.MIMEType
			if v.Resource.Text != "" {
				out["text"] = v.Resource.Text
			}
		}
		return out
	case nil:
		return nil
	default:
		return fmt.Sprint(c)
	}
}

func errorText(payload any) string {
	switch v := payload.(type) {
	case nil:
		return "tool reported an error"
	case string:
		return v
	case []any:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			parts = append(parts, errorText(item))
		}
		return strings.Join(parts, "\n")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Sprint(payload)
	}
	return string(data)
}
