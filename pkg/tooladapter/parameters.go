package tooladapter

import (
	"bytes"
	"encoding/json"
	"maps"
	"slices"
	"strings"
)

// ParamType is the closed set of parameter types a NormalizedTool exposes.
type ParamType string

const (
	TypeString  ParamType = "string"
	TypeNumber  ParamType = "number"
	TypeInteger ParamType = "integer"
	TypeBoolean ParamType = "boolean"
	TypeArray   ParamType = "array"
	TypeObject  ParamType = "object"
)

// Valid reports whether t is one of the known parameter types.
func (t ParamType) Valid() bool {
	switch t {
	case TypeString, TypeNumber, TypeInteger, TypeBoolean, TypeArray, TypeObject:
		return true
	}
	return false
}

// Parameter describes one declared tool argument.
type Parameter struct {
	Name        string    `json:"name"`
	Type        ParamType `json:"type"`
	Description string    `json:"description,omitempty"`
	Required    bool      `json:"required"`
	Default     any       `json:"default,omitempty"`
	HasDefault  bool      `json:"has_default,omitempty"`
	Enum        []any     `json:"enum,omitempty"`
}

// ExtractParameters walks an object schema's properties. The schema may be
// any value that marshals to JSON (a map, a *jsonschema.Schema, raw bytes);
// it is always decoded from JSON so numbers arrive as float64. Properties
// whose definition is not an object are skipped.
//
// Raw JSON keeps the declared property order. Go maps carry no order, so
// schemas handed over as maps or structs come back ordered by name.
func ExtractParameters(schema any) []Parameter {
	data := schemaJSON(schema)
	doc := decodeSchema(data)
	props, _ := doc["properties"].(map[string]any)
	if len(props) == 0 {
		return nil
	}
	required := make(map[string]bool)
	if list, ok := doc["required"].([]any); ok {
		for _, item := range list {
			if name, ok := item.(string); ok {
				required[name] = true
			}
		}
	}

	names := propertyOrder(data)
	if len(names) != len(props) {
		names = slices.Sorted(maps.Keys(props))
	}

	params := make([]Parameter, 0, len(names))
	for _, name := range names {
		prop, ok := props[name].(map[string]any)
		if !ok {
			continue
		}
		p := Parameter{
			Name:     name,
			Type:     resolveType(prop["type"]),
			Required: required[name],
		}
		if desc, ok := prop["description"].(string); ok {
			p.Description = desc
		}
		if def, ok := prop["default"]; ok {
			p.Default = def
			p.HasDefault = true
		}
		if enum, ok := prop["enum"].([]any); ok && len(enum) > 0 {
			p.Enum = enum
		}
		params = append(params, p)
	}
	return params
}

// propertyOrder returns the keys of the top-level "properties" object in
// the order they appear in data, or nil when data is not such a document.
func propertyOrder(data []byte) []string {
	dec := json.NewDecoder(bytes.NewReader(data))
	if tok, err := dec.Token(); err != nil || tok != json.Delim('{') {
		return nil
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil
		}
		if key, _ := tok.(string); key != "properties" {
			var skip json.RawMessage
			if err := dec.Decode(&skip); err != nil {
				return nil
			}
			continue
		}
		if tok, err := dec.Token(); err != nil || tok != json.Delim('{') {
			return nil
		}
		var names []string
		for dec.More() {
			tok, err := dec.Token()
			if err != nil {
				return nil
			}
			name, _ := tok.(string)
			var skip json.RawMessage
			if err := dec.Decode(&skip); err != nil {
				return nil
			}
			if !slices.Contains(names, name) {
				names = append(names, name)
			}
		}
		return names
	}
	return nil
}

// resolveType maps a JSON Schema "type" keyword onto ParamType. A type list
// such as ["string","null"] resolves to its first non-null member; anything
// unrecognized becomes a string.
func resolveType(raw any) ParamType {
	switch v := raw.(type) {
	case string:
		if t := ParamType(strings.ToLower(v)); t.Valid() {
			return t
		}
	case []any:
		for _, item := range v {
			s, ok := item.(string)
			if !ok || s == "null" {
				continue
			}
			if t := ParamType(strings.ToLower(s)); t.Valid() {
				return t
			}
			break
		}
	}
	return TypeString
}

func schemaJSON(schema any) []byte {
	switch v := schema.(type) {
	case nil:
		return nil
	case json.RawMessage:
		return v
	case []byte:
		return v
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	return data
}

func decodeSchema(data []byte) map[string]any {
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil
	}
	return doc
}
