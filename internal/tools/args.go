package tools

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// errPreviewBytes caps how much of a malformed payload is echoed back to
// the model.
const errPreviewBytes = 500

// ParseArguments decodes the raw JSON argument blob against a tool's
// declared schema. Empty input means no arguments. Malformed JSON returns
// an error carrying a bounded preview of the payload so the model can see
// what it sent. Declared primitive types are coerced where the value
// round-trips losslessly; anything else is passed through as decoded.
func ParseArguments(raw string, schema map[string]any) (map[string]any, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		raw = "{}"
	}

	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, fmt.Errorf("invalid tool arguments: %v (payload: %s)", err, preview(raw))
	}

	props, _ := schema["properties"].(map[string]any)
	for name, decl := range props {
		d, ok := decl.(map[string]any)
		if !ok {
			continue
		}
		val, present := args[name]
		if !present || val == nil {
			continue
		}
		typ, _ := d["type"].(string)
		coerced, err := coerce(val, typ)
		if err != nil {
			return nil, fmt.Errorf("invalid tool arguments: parameter %q: %v", name, err)
		}
		args[name] = coerced
	}

	for _, req := range requiredNames(schema) {
		if v, ok := args[req]; !ok || v == nil {
			return nil, fmt.Errorf("invalid tool arguments: missing required parameter %q", req)
		}
	}
	return args, nil
}

func requiredNames(schema map[string]any) []string {
	raw, _ := schema["required"].([]any)
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		if s, ok := r.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// coerce bends a decoded JSON value toward the declared primitive type.
// Unknown or composite types pass through untouched.
func coerce(val any, typ string) (any, error) {
	switch typ {
	case "string":
		switch v := val.(type) {
		case string:
			return v, nil
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64), nil
		case bool:
			return strconv.FormatBool(v), nil
		}
		return nil, fmt.Errorf("expected string, got %T", val)
	case "integer":
		switch v := val.(type) {
		case float64:
			if v != float64(int64(v)) {
				return nil, fmt.Errorf("expected integer, got %v", v)
			}
			return int64(v), nil
		case string:
			n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("expected integer, got %q", v)
			}
			return n, nil
		}
		return nil, fmt.Errorf("expected integer, got %T", val)
	case "number":
		switch v := val.(type) {
		case float64:
			return v, nil
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				return nil, fmt.Errorf("expected number, got %q", v)
			}
			return f, nil
		}
		return nil, fmt.Errorf("expected number, got %T", val)
	case "boolean":
		switch v := val.(type) {
		case bool:
			return v, nil
		case string:
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				return nil, fmt.Errorf("expected boolean, got %q", v)
			}
			return b, nil
		}
		return nil, fmt.Errorf("expected boolean, got %T", val)
	}
	return val, nil
}

func preview(raw string) string {
	if len(raw) <= errPreviewBytes {
		return raw
	}
	return raw[:errPreviewBytes] + "..."
}

// StringArg extracts an optional string parameter.
func StringArg(args map[string]any, name string) string {
	s, _ := args[name].(string)
	return s
}

// IntArg extracts an optional integer parameter with a fallback.
func IntArg(args map[string]any, name string, def int) int {
	switch v := args[name].(type) {
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}

// BoolArg extracts an optional boolean parameter.
func BoolArg(args map[string]any, name string) bool {
	b, _ := args[name].(bool)
	return b
}

// StringSliceArg extracts an optional array-of-strings parameter.
func StringSliceArg(args map[string]any, name string) []string {
	raw, _ := args[name].([]any)
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		if s, ok := r.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
