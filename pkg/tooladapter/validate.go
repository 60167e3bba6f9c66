package tooladapter

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
)

// ValidationError reports a caller argument that does not satisfy a tool's
// declared parameters.
type ValidationError struct {
	Tool      string
	Parameter string
	Reason    string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("tooladapter: tool %q parameter %q: %s", e.Tool, e.Parameter, e.Reason)
}

// ValidateAndCoerce checks args against tool's parameters and returns the
// arguments to forward: declared parameters only, coerced to their declared
// types, with defaults filled in for absent ones.
func ValidateAndCoerce(tool NormalizedTool, args map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(tool.Parameters))
	for _, p := range tool.Parameters {
		raw, present := args[p.Name]
		if present && raw == nil && !p.Required {
			present = false
		}
		if !present {
			switch {
			case p.Required:
				return nil, &ValidationError{Tool: tool.ID, Parameter: p.Name, Reason: "required parameter missing"}
			case p.HasDefault:
				if v, err := Coerce(p.Type, p.Default); err == nil {
					out[p.Name] = v
				} else {
					out[p.Name] = p.Default
				}
			}
			continue
		}
		v, err := Coerce(p.Type, raw)
		if err != nil {
			return nil, &ValidationError{Tool: tool.ID, Parameter: p.Name, Reason: err.Error()}
		}
		if len(p.Enum) > 0 && !inEnum(p.Type, v, p.Enum) {
			return nil, &ValidationError{
				Tool:      tool.ID,
				Parameter: p.Name,
				Reason:    fmt.Sprintf("value %v not in allowed set %v", v, p.Enum),
			}
		}
		out[p.Name] = v
	}
	return out, nil
}

// Coerce converts v to the Go representation of t: string, float64, int64,
// bool, []any or map[string]any.
func Coerce(t ParamType, v any) (any, error) {
	switch t {
	case TypeInteger:
		return coerceInteger(v)
	case TypeNumber:
		return coerceNumber(v)
	case TypeBoolean:
		return coerceBoolean(v)
	case TypeArray:
		return coerceArray(v)
	case TypeObject:
		return coerceObject(v)
	default:
		return coerceString(v)
	}
}

func coerceString(v any) (any, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case bool:
		return strconv.FormatBool(x), nil
	case json.Number:
		return x.String(), nil
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), nil
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32), nil
	}
	if n, ok := asInt64(v); ok {
		return strconv.FormatInt(n, 10), nil
	}
	return nil, fmt.Errorf("expected string, got %T", v)
}

func coerceInteger(v any) (any, error) {
	if n, ok := asInt64(v); ok {
		return n, nil
	}
	switch x := v.(type) {
	case float64:
		return integralFloat(x)
	case float32:
		return integralFloat(float64(x))
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return n, nil
		}
		f, err := x.Float64()
		if err != nil {
			return nil, fmt.Errorf("expected integer, got %q", x.String())
		}
		return integralFloat(f)
	case string:
		s := strings.TrimSpace(x)
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n, nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("expected integer, got %q", x)
		}
		return integralFloat(f)
	}
	return nil, fmt.Errorf("expected integer, got %T", v)
}

func integralFloat(f float64) (any, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) || math.Abs(f) > 1<<53 {
		return nil, fmt.Errorf("expected integer, got %v", f)
	}
	return int64(f), nil
}

func coerceNumber(v any) (any, error) {
	if n, ok := asInt64(v); ok {
		return float64(n), nil
	}
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return nil, fmt.Errorf("expected number, got %q", x.String())
		}
		return f, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return nil, fmt.Errorf("expected number, got %q", x)
		}
		return f, nil
	}
	return nil, fmt.Errorf("expected number, got %T", v)
}

func coerceBoolean(v any) (any, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case string:
		// Only the true spellings are recognized; any other text is false.
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "true", "1", "yes", "on":
			return true, nil
		}
		return false, nil
	case float64:
		return x != 0, nil
	}
	if n, ok := asInt64(v); ok {
		return n != 0, nil
	}
	return nil, fmt.Errorf("expected boolean, got %T", v)
}

func coerceArray(v any) (any, error) {
	switch x := v.(type) {
	case []any:
		return x, nil
	case string:
		var out []any
		if err := json.Unmarshal([]byte(x), &out); err != nil {
			return nil, fmt.Errorf("expected array, got %q", x)
		}
		return out, nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = rv.Index(i).Interface()
		}
		return out, nil
	}
	return nil, fmt.Errorf("expected array, got %T", v)
}

func coerceObject(v any) (any, error) {
	switch x := v.(type) {
	case map[string]any:
		return x, nil
	case string:
		var out map[string]any
		if err := json.Unmarshal([]byte(x), &out); err != nil || out == nil {
			return nil, fmt.Errorf("expected object, got %q", x)
		}
		return out, nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Map || rv.Kind() == reflect.Struct || (rv.Kind() == reflect.Pointer && rv.Elem().Kind() == reflect.Struct) {
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("expected object: %w", err)
		}
		var out map[string]any
		if err := json.Unmarshal(data, &out); err != nil || out == nil {
			return nil, fmt.Errorf("expected object, got %T", v)
		}
		return out, nil
	}
	return nil, fmt.Errorf("expected object, got %T", v)
}

func asInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int:
		return int64(x), true
	case int8:
		return int64(x), true
	case int16:
		return int64(x), true
	case int32:
		return int64(x), true
	case int64:
		return x, true
	case uint:
		return int64(x), true
	case uint8:
		return int64(x), true
	case uint16:
		return int64(x), true
	case uint32:
		return int64(x), true
	case uint64:
		if x > math.MaxInt64 {
			return 0, false
		}
		return int64(x), true
	}
	return 0, false
}

// inEnum compares the coerced value against the allowed set after coercing
// each allowed entry the same way, so 2 and 2.0 match an integer enum.
func inEnum(t ParamType, v any, allowed []any) bool {
	for _, candidate := range allowed {
		c, err := Coerce(t, candidate)
		if err != nil {
			continue
		}
		if reflect.DeepEqual(c, v) {
			return true
		}
	}
	return false
}
