// Package aggregate implements the section answer aggregation engine: the
// incremental merging of per-section writes into the single denormalized
// answer document of an inspection.
package aggregate

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Doc is a JSON object that preserves key insertion order across
// marshal/unmarshal. The aggregate's shape is template-dependent and key
// order is user-visible (field order in the rendered report), so the
// document is carried through the system as a Doc rather than a map.
//
// Values are string, float64, bool, nil, []interface{} or *Doc; nested
// objects anywhere (including inside arrays) decode as *Doc.
type Doc struct {
	keys []string
	vals map[string]interface{}
}

// NewDoc returns an empty document.
func NewDoc() *Doc {
	return &Doc{vals: make(map[string]interface{})}
}

// Len returns the number of keys.
func (d *Doc) Len() int { return len(d.keys) }

// Keys returns the keys in insertion order. The slice is shared; callers
// must not mutate it.
func (d *Doc) Keys() []string { return d.keys }

// Has reports whether key is present.
func (d *Doc) Has(key string) bool {
	_, ok := d.vals[key]
	return ok
}

// Get returns the value for key.
func (d *Doc) Get(key string) (interface{}, bool) {
	v, ok := d.vals[key]
	return v, ok
}

// GetDoc returns the value for key if it is a nested document.
func (d *Doc) GetDoc(key string) (*Doc, bool) {
	v, ok := d.vals[key]
	if !ok {
		return nil, false
	}
	nested, ok := v.(*Doc)
	return nested, ok
}

// GetString returns the value for key if it is a string.
func (d *Doc) GetString(key string) (string, bool) {
	v, ok := d.vals[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Set stores value under key, appending the key if new.
func (d *Doc) Set(key string, value interface{}) {
	if _, ok := d.vals[key]; !ok {
		d.keys = append(d.keys, key)
	}
	d.vals[key] = value
}

// Delete removes key if present.
func (d *Doc) Delete(key string) {
	if _, ok := d.vals[key]; !ok {
		return
	}
	delete(d.vals, key)
	for i, k := range d.keys {
		if k == key {
			d.keys = append(d.keys[:i], d.keys[i+1:]...)
			break
		}
	}
}

// Reorder rewrites the key sequence to match wanted first (keys absent from
// the document are skipped), followed by the remaining keys in their current
// insertion order.
func (d *Doc) Reorder(wanted []string) {
	seen := make(map[string]bool, len(wanted))
	ordered := make([]string, 0, len(d.keys))
	for _, k := range wanted {
		if d.Has(k) && !seen[k] {
			ordered = append(ordered, k)
			seen[k] = true
		}
	}
	for _, k := range d.keys {
		if !seen[k] {
			ordered = append(ordered, k)
			seen[k] = true
		}
	}
	d.keys = ordered
}

// Clone returns a deep copy.
func (d *Doc) Clone() *Doc {
	out := NewDoc()
	for _, k := range d.keys {
		out.Set(k, cloneValue(d.vals[k]))
	}
	return out
}

func cloneValue(v interface{}) interface{} {
	switch t := v.(type) {
	case *Doc:
		return t.Clone()
	case []interface{}:
		arr := make([]interface{}, len(t))
		for i, e := range t {
			arr[i] = cloneValue(e)
		}
		return arr
	default:
		return v
	}
}

// Merge deep-merges other into d: nested documents merge key-wise, any other
// value (scalars, arrays, type mismatches) is replaced by the newer write.
// Existing keys keep their position; new keys append in other's order.
func (d *Doc) Merge(other *Doc) {
	for _, k := range other.keys {
		nv := other.vals[k]
		if ev, ok := d.vals[k]; ok {
			ed, eok := ev.(*Doc)
			nd, nok := nv.(*Doc)
			if eok && nok {
				ed.Merge(nd)
				continue
			}
		}
		d.Set(k, cloneValue(nv))
	}
}

// MarshalJSON emits the object with keys in insertion order.
func (d *Doc) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range d.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := json.Marshal(d.vals[k])
		if err != nil {
			return nil, err
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes an object preserving key order; nested objects
// decode as *Doc, arrays as []interface{}.
func (d *Doc) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	delim, ok := tok.(json.Delim)
	if !ok || delim != '{' {
		return fmt.Errorf("aggregate: document must be a JSON object")
	}
	parsed, err := decodeObject(dec)
	if err != nil {
		return err
	}
	*d = *parsed
	return nil
}

// decodeObject consumes an object body (opening brace already read).
func decodeObject(dec *json.Decoder) (*Doc, error) {
	doc := NewDoc()
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("aggregate: object key is not a string")
		}
		val, err := decodeValue(dec)
		if err != nil {
			return nil, err
		}
		doc.Set(key, val)
	}
	// closing brace
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return doc, nil
}

func decodeArray(dec *json.Decoder) ([]interface{}, error) {
	arr := []interface{}{}
	for dec.More() {
		val, err := decodeValue(dec)
		if err != nil {
			return nil, err
		}
		arr = append(arr, val)
	}
	// closing bracket
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return arr, nil
}

func decodeValue(dec *json.Decoder) (interface{}, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			return decodeObject(dec)
		case '[':
			return decodeArray(dec)
		}
		return nil, fmt.Errorf("aggregate: unexpected delimiter %v", t)
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return nil, err
		}
		return f, nil
	default:
		return tok, nil // string, bool, nil
	}
}

// ToMap converts the document (recursively) into plain maps for consumers
// that address values by key and do not need ordering.
func (d *Doc) ToMap() map[string]interface{} {
	out := make(map[string]interface{}, len(d.keys))
	for _, k := range d.keys {
		out[k] = toPlain(d.vals[k])
	}
	return out
}

func toPlain(v interface{}) interface{} {
	switch t := v.(type) {
	case *Doc:
		return t.ToMap()
	case []interface{}:
		arr := make([]interface{}, len(t))
		for i, e := range t {
			arr[i] = toPlain(e)
		}
		return arr
	default:
		return v
	}
}

// ParseDoc decodes data into an ordered document.
func ParseDoc(data []byte) (*Doc, error) {
	d := NewDoc()
	if err := d.UnmarshalJSON(data); err != nil {
		return nil, fmt.Errorf("failed to parse answer document: %w", err)
	}
	return d, nil
}
