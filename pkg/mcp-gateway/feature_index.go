package mcpgateway

import (
	"encoding/json"
	"maps"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/vikashloomba/mcp-toolhub-go/pkg/mcpmgr"
	"github.com/vikashloomba/mcp-toolhub-go/pkg/tooladapter"
)

const (
	metaKeyServer    = "toolhub.server"
	metaKeyRawName   = "toolhub.raw_name"
	metaKeyCategory  = "toolhub.category"
	metaKeyNativeURI = "toolhub.native_uri"
)

// featureIndex remembers what the gateway currently exposes so every resync
// can remove the previous set before registering the new one.
type featureIndex struct {
	ns NamespaceStrategy

	mu        sync.RWMutex
	tools     map[string]toolTarget
	prompts   map[string]promptTarget
	resources map[string]resourceTarget
}

type toolTarget struct {
	ID      string
	Server  string
	RawName string
}

type promptTarget struct {
	GatewayName string
	Server      string
	NativeName  string
}

type resourceTarget struct {
	GatewayURI string
	Server     string
	NativeURI  string
}

type toolRegistration struct {
	Tool   *mcp.Tool
	Target toolTarget
}

type promptRegistration struct {
	Prompt *mcp.Prompt
	Target promptTarget
}

type resourceRegistration struct {
	Resource *mcp.Resource
	Target   resourceTarget
}

// syncPlan lists what to unregister and then register on the MCP server.
type syncPlan struct {
	RemovedTools     []string
	Tools            []toolRegistration
	RemovedPrompts   []string
	Prompts          []promptRegistration
	RemovedResources []string
	Resources        []resourceRegistration
}

func newFeatureIndex(ns NamespaceStrategy) *featureIndex {
	return &featureIndex{
		ns:        ns,
		tools:     make(map[string]toolTarget),
		prompts:   make(map[string]promptTarget),
		resources: make(map[string]resourceTarget),
	}
}

// Replace swaps the exposed set for the enabled catalog tools and the
// prompts and resources of connected servers.
func (f *featureIndex) Replace(tools []tooladapter.NormalizedTool, servers []mcpmgr.ConnectionSnapshot, withPrompts, withResources bool) syncPlan {
	f.mu.Lock()
	defer f.mu.Unlock()

	var plan syncPlan
	plan.RemovedTools = keys(f.tools)
	plan.RemovedPrompts = keys(f.prompts)
	plan.RemovedResources = keys(f.resources)
	clear(f.tools)
	clear(f.prompts)
	clear(f.resources)

	for _, tool := range tools {
		if !tool.Enabled {
			continue
		}
		target := toolTarget{ID: tool.ID, Server: tool.Server, RawName: tool.RawName}
		f.tools[tool.ID] = target
		plan.Tools = append(plan.Tools, toolRegistration{Tool: exposedTool(tool), Target: target})
	}

	for _, snap := range servers {
		if snap.State != mcpmgr.StateConnected {
			continue
		}
		if withPrompts {
			for _, prompt := range snap.Prompts {
				if prompt == nil {
					continue
				}
				name := f.ns.PromptName(snap.Name, prompt.Name)
				if _, dup := f.prompts[name]; dup {
					continue
				}
				target := promptTarget{GatewayName: name, Server: snap.Name, NativeName: prompt.Name}
				f.prompts[name] = target
				plan.Prompts = append(plan.Prompts, promptRegistration{Prompt: clonePrompt(prompt, target), Target: target})
			}
		}
		if withResources {
			for _, resource := range snap.Resources {
				if resource == nil {
					continue
				}
				uri := f.ns.ResourceURI(snap.Name, resource.URI)
				if _, dup := f.resources[uri]; dup {
					continue
				}
				target := resourceTarget{GatewayURI: uri, Server: snap.Name, NativeURI: resource.URI}
				f.resources[uri] = target
				plan.Resources = append(plan.Resources, resourceRegistration{Resource: cloneResource(resource, target), Target: target})
			}
		}
	}
	return plan
}

func (f *featureIndex) ToolTarget(name string) (toolTarget, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	t, ok := f.tools[name]
	return t, ok
}

func (f *featureIndex) PromptTarget(name string) (promptTarget, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	p, ok := f.prompts[name]
	return p, ok
}

func (f *featureIndex) ResourceTarget(uri string) (resourceTarget, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	r, ok := f.resources[uri]
	return r, ok
}

func (f *featureIndex) ToolCount() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.tools)
}

func keys[V any](m map[string]V) []string {
	if len(m) == 0 {
		return nil
	}
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func exposedTool(tool tooladapter.NormalizedTool) *mcp.Tool {
	return &mcp.Tool{
		Name:        tool.ID,
		Title:       tool.Name,
		Description: tool.Description,
		InputSchema: inputSchema(tool.Parameters),
		Meta: mcp.Meta{
			metaKeyServer:   tool.Server,
			metaKeyRawName:  tool.RawName,
			metaKeyCategory: tool.Category,
		},
	}
}

// inputSchema rebuilds an object schema from normalized parameters.
func inputSchema(params []tooladapter.Parameter) *jsonschema.Schema {
	schema := &jsonschema.Schema{
		Type:       "object",
		Properties: make(map[string]*jsonschema.Schema, len(params)),
	}
	for _, p := range params {
		prop := &jsonschema.Schema{
			Type:        string(p.Type),
			Description: p.Description,
		}
		if len(p.Enum) > 0 {
			prop.Enum = append([]any(nil), p.Enum...)
		}
		if p.HasDefault {
			if raw, err := json.Marshal(p.Default); err == nil {
				prop.Default = raw
			}
		}
		schema.Properties[p.Name] = prop
		if p.Required {
			schema.Required = append(schema.Required, p.Name)
		}
	}
	return schema
}

func clonePrompt(prompt *mcp.Prompt, target promptTarget) *mcp.Prompt {
	clone := *prompt
	clone.Name = target.GatewayName
	clone.Meta = withMeta(prompt.Meta, map[string]any{
		metaKeyServer:  target.Server,
		metaKeyRawName: target.NativeName,
	})
	return &clone
}

func cloneResource(resource *mcp.Resource, target resourceTarget) *mcp.Resource {
	clone := *resource
	clone.URI = target.GatewayURI
	clone.Meta = withMeta(resource.Meta, map[string]any{
		metaKeyServer:    target.Server,
		metaKeyNativeURI: target.NativeURI,
	})
	return &clone
}

func withMeta(base map[string]any, extras map[string]any) map[string]any {
	out := maps.Clone(base)
	if out == nil {
		out = make(map[string]any, len(extras))
	}
	maps.Copy(out, extras)
	return out
}
