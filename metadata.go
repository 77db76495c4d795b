package quill

import "strings"

// Metadata is the Call Context's user metadata map: ordered, case-
// insensitive keys, multi-value, modeled on the header-visiting idiom
// (`VisitAll`/`AddBytesKV`) used throughout the teacher's header
// translation (serverConn.go's handleHeaderFrame / adaptor.go), minus the
// HPACK table — Quill metadata rides as an ordinary map, not a compressed
// header block (see DESIGN.md's note on why hpack.go was not adapted).
type Metadata struct {
	keys   []string // canonical (lowercased) insertion order, deduped
	values map[string][]string
}

// NewMetadata returns an empty Metadata map ready for use.
func NewMetadata() *Metadata {
	return &Metadata{values: make(map[string][]string)}
}

func canonKey(k string) string { return strings.ToLower(k) }

// Add appends v to key's value list, preserving insertion order of keys.
func (m *Metadata) Add(key, v string) {
	if m.values == nil {
		m.values = make(map[string][]string)
	}
	ck := canonKey(key)
	if _, ok := m.values[ck]; !ok {
		m.keys = append(m.keys, ck)
	}
	m.values[ck] = append(m.values[ck], v)
}

// Set replaces key's entire value list with a single value v.
func (m *Metadata) Set(key, v string) {
	if m.values == nil {
		m.values = make(map[string][]string)
	}
	ck := canonKey(key)
	if _, ok := m.values[ck]; !ok {
		m.keys = append(m.keys, ck)
	}
	m.values[ck] = []string{v}
}

// Get returns the first value for key, or "" if absent.
func (m *Metadata) Get(key string) string {
	vs := m.values[canonKey(key)]
	if len(vs) == 0 {
		return ""
	}
	return vs[0]
}

// Values returns every value for key, in insertion order.
func (m *Metadata) Values(key string) []string {
	return m.values[canonKey(key)]
}

// Del removes all values for key.
func (m *Metadata) Del(key string) {
	ck := canonKey(key)
	if _, ok := m.values[ck]; !ok {
		return
	}
	delete(m.values, ck)
	for i, k := range m.keys {
		if k == ck {
			m.keys = append(m.keys[:i], m.keys[i+1:]...)
			break
		}
	}
}

// VisitAll calls fn once per key in insertion order with every value for
// that key, mirroring fasthttp's VisitAll idiom the teacher's adaptor.go
// leans on for header translation.
func (m *Metadata) VisitAll(fn func(key string, values []string)) {
	for _, k := range m.keys {
		fn(k, m.values[k])
	}
}

// Clone returns a deep copy.
func (m *Metadata) Clone() *Metadata {
	out := NewMetadata()
	m.VisitAll(func(key string, values []string) {
		for _, v := range values {
			out.Add(key, v)
		}
	})
	return out
}
