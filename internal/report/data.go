package report

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"khyanalt/internal/imaging"
)

// Data is the hydrated object the templater consumes. The same values are
// reachable twice: nested (walking maps from the root key) and dot-flattened
// (the full dotted path as a single key), matching what the placeholder
// grammar allows template authors to write.
type Data struct {
	Nested map[string]interface{}
	Flat   map[string]interface{}
}

// LoopRecord is one iteration of an array-expansion container.
type LoopRecord map[string]interface{}

// newLoopRecord decorates an image with its loop position.
func newLoopRecord(img *imaging.Content, index, total int) LoopRecord {
	return LoopRecord{
		"image":   img,
		"index":   index,
		"total":   total,
		"isFirst": index == 0,
		"isLast":  index == total-1,
	}
}

// NewData wraps a nested tree and computes its dot-flattened companion.
func NewData(nested map[string]interface{}) *Data {
	d := &Data{Nested: nested, Flat: make(map[string]interface{})}
	flatten("", nested, d.Flat)
	return d
}

func flatten(prefix string, v interface{}, out map[string]interface{}) {
	m, ok := v.(map[string]interface{})
	if !ok {
		if prefix != "" {
			out[prefix] = v
		}
		return
	}
	if prefix != "" {
		out[prefix] = v
	}
	for k, child := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		flatten(key, child, out)
	}
}

// Resolve looks a placeholder path up: innermost loop scope first, then the
// nested tree, then the flat map. ok=false means the path is unresolvable
// and substitutes as the empty string.
func (d *Data) Resolve(path string, scopes []LoopRecord) (interface{}, bool) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, false
	}
	parts := strings.Split(path, ".")

	for i := len(scopes) - 1; i >= 0; i-- {
		if v, ok := walk(map[string]interface{}(scopes[i]), parts); ok {
			return v, true
		}
	}
	if v, ok := walk(d.Nested, parts); ok {
		return v, true
	}
	if v, ok := d.Flat[path]; ok {
		return v, true
	}
	return nil, false
}

func walk(m map[string]interface{}, parts []string) (interface{}, bool) {
	var cur interface{} = m
	for _, p := range parts {
		node, ok := cur.(map[string]interface{})
		if !ok {
			if rec, isRec := cur.(LoopRecord); isRec {
				node, ok = map[string]interface{}(rec), true
			} else {
				return nil, false
			}
		}
		cur, ok = node[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// truthy decides whether a boolean-gated container renders.
func truthy(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0
	case int:
		return t != 0
	case []interface{}:
		return len(t) > 0
	case []LoopRecord:
		return len(t) > 0
	default:
		return true
	}
}

// stringify renders a scalar placeholder value.
func stringify(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		if t {
			return "true"
		}
		return "false"
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case map[string]interface{}:
		// Objects render their values in key order; keeps a remarks object
		// readable if the template drops it into a scalar slot.
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var parts []string
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s: %s", k, stringify(t[k])))
		}
		return strings.Join(parts, "; ")
	default:
		return fmt.Sprintf("%v", t)
	}
}
