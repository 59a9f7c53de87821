package redfish

import (
	"fmt"
	"strings"
)

// ODataID is the Redfish link key.
const ODataID = "@odata.id"

// StripOData returns a copy of doc without keys containing "@odata.".
// Nested objects and arrays of objects are stripped as well.
func StripOData(doc map[string]any) map[string]any {
	if doc == nil {
		return nil
	}
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		if strings.Contains(k, "@odata.") {
			continue
		}
		out[k] = stripValue(v)
	}
	return out
}

func stripValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return StripOData(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = stripValue(item)
		}
		return out
	default:
		return v
	}
}

// Lookup walks nested objects by key and returns the value at path.
func Lookup(doc map[string]any, path ...string) (any, bool) {
	var cur any = doc
	for _, key := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// String returns the string at path, or "" when absent or not a string.
func String(doc map[string]any, path ...string) string {
	v, ok := Lookup(doc, path...)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// Int returns the integer at path. JSON numbers decode as float64.
func Int(doc map[string]any, path ...string) (int, bool) {
	v, ok := Lookup(doc, path...)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case int64:
		return int(n), true
	default:
		return 0, false
	}
}

// Link returns the @odata.id of the object at path.
func Link(doc map[string]any, path ...string) string {
	return String(doc, append(path, ODataID)...)
}

// Members returns the objects in a collection's Members (Redfish) or value (OME) array.
func Members(doc map[string]any) []map[string]any {
	raw, ok := doc["Members"].([]any)
	if !ok {
		raw, _ = doc["value"].([]any)
	}
	out := make([]map[string]any, 0, len(raw))
	for _, item := range raw {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

// MemberLinks returns the @odata.id of every collection member.
func MemberLinks(doc map[string]any) []string {
	var out []string
	for _, m := range Members(doc) {
		if id, _ := m[ODataID].(string); id != "" {
			out = append(out, id)
		}
	}
	return out
}

// ActionTarget returns the target URI of #Actions/<name>.
func ActionTarget(doc map[string]any, name string) (string, error) {
	if !strings.HasPrefix(name, "#") {
		name = "#" + name
	}
	target := String(doc, "Actions", name, "target")
	if target == "" {
		return "", fmt.Errorf("action %s not advertised", name)
	}
	return target, nil
}
