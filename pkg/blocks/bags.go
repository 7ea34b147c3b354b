package blocks

import "strconv"

// Data is the caller-defined payload of a block. Unknown keys pass through
// every engine operation untouched.
type Data map[string]any

// Meta is the caller-defined annotation bag of a block.
type Meta map[string]any

// Clone returns a shallow copy. A nil map stays nil.
func (d Data) Clone() Data {
	if d == nil {
		return nil
	}
	out := make(Data, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

func (d Data) Get(key string) (any, bool) {
	v, ok := d[key]
	return v, ok
}

func (d Data) String(key string) string { return asString(d[key]) }
func (d Data) Bool(key string) bool     { return asBool(d[key]) }
func (d Data) Int(key string) (int, bool) {
	return asInt(d[key])
}

// Clone returns a shallow copy. A nil map stays nil.
func (m Meta) Clone() Meta {
	if m == nil {
		return nil
	}
	out := make(Meta, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (m Meta) Get(key string) (any, bool) {
	v, ok := m[key]
	return v, ok
}

func (m Meta) String(key string) string { return asString(m[key]) }
func (m Meta) Bool(key string) bool     { return asBool(m[key]) }
func (m Meta) Int(key string) (int, bool) {
	return asInt(m[key])
}

// MergeData shallow-merges the bags left to right; later keys win.
// The result is always a new map.
func MergeData(bags ...Data) Data {
	out := Data{}
	for _, b := range bags {
		for k, v := range b {
			out[k] = v
		}
	}
	return out
}

// MergeMeta shallow-merges the bags left to right; later keys win.
// The result is always a new map.
func MergeMeta(bags ...Meta) Meta {
	out := Meta{}
	for _, b := range bags {
		for k, v := range b {
			out[k] = v
		}
	}
	return out
}

func asString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	default:
		return ""
	}
}

// asBool accepts the loose truthiness renderers tend to send: real booleans
// and their string spellings.
func asBool(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		r, err := strconv.ParseBool(b)
		return err == nil && r
	default:
		return false
	}
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case int32:
		return int(n), true
	case float64:
		return int(n), true
	case float32:
		return int(n), true
	case uint64:
		return int(n), true
	default:
		return 0, false
	}
}
