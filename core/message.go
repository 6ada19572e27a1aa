package core

import (
	"encoding/json"
	"fmt"
	"sort"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Message is the record flowing between agents: an ordered mapping of unique
// field names to JSON-serializable values. Field order is insertion order and
// survives JSON encoding at the top level.
//
// Like a Go map, a Message value is a handle onto shared storage: copies of
// the value observe each other's writes. Use Clone before mutating a message
// you did not create. The zero value is an empty message ready for use through
// a pointer (Set initializes storage lazily).
type Message struct {
	fields *orderedmap.OrderedMap[string, any]
}

// NewMessage builds a message from alternating key/value arguments. A
// non-string key panics since it is always a programming error.
func NewMessage(kv ...any) Message {
	if len(kv)%2 != 0 {
		panic("core.NewMessage: odd number of key/value arguments")
	}

	m := Message{fields: orderedmap.New[string, any]()}

	for i := 0; i < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			panic(fmt.Sprintf("core.NewMessage: key at position %d is %T, not string", i, kv[i]))
		}

		m.fields.Set(key, kv[i+1])
	}

	return m
}

// MessageFromMap converts a plain map. Keys are inserted in sorted order so
// the result is deterministic.
func MessageFromMap(src map[string]any) Message {
	keys := make([]string, 0, len(src))
	for k := range src {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	m := Message{fields: orderedmap.New[string, any](len(keys))}
	for _, k := range keys {
		m.fields.Set(k, src[k])
	}

	return m
}

// Get returns the value stored under key.
func (m Message) Get(key string) (any, bool) {
	if m.fields == nil {
		return nil, false
	}

	return m.fields.Get(key)
}

// Value returns the value stored under key or nil.
func (m Message) Value(key string) any {
	v, _ := m.Get(key)
	return v
}

// String returns the value under key when it is a string, otherwise "".
func (m Message) String(key string) string {
	s, _ := m.Value(key).(string)
	return s
}

// Has reports whether key is present.
func (m Message) Has(key string) bool {
	_, ok := m.Get(key)
	return ok
}

// Set stores v under key. Existing keys keep their position.
func (m *Message) Set(key string, v any) {
	if m.fields == nil {
		m.fields = orderedmap.New[string, any]()
	}

	m.fields.Set(key, v)
}

// Delete removes key if present.
func (m *Message) Delete(key string) {
	if m.fields == nil {
		return
	}

	m.fields.Delete(key)
}

// Len returns the number of fields.
func (m Message) Len() int {
	if m.fields == nil {
		return 0
	}

	return m.fields.Len()
}

// IsEmpty reports whether the message has no fields.
func (m Message) IsEmpty() bool { return m.Len() == 0 }

// Keys returns the field names in insertion order.
func (m Message) Keys() []string {
	keys := make([]string, 0, m.Len())

	m.Range(func(k string, _ any) bool {
		keys = append(keys, k)
		return true
	})

	return keys
}

// Range calls fn for every field in order until fn returns false.
func (m Message) Range(fn func(key string, value any) bool) {
	if m.fields == nil {
		return
	}

	for p := m.fields.Oldest(); p != nil; p = p.Next() {
		if !fn(p.Key, p.Value) {
			return
		}
	}
}

// Clone returns a shallow copy with independent field storage.
func (m Message) Clone() Message {
	c := Message{fields: orderedmap.New[string, any](m.Len())}

	m.Range(func(k string, v any) bool {
		c.fields.Set(k, v)
		return true
	})

	return c
}

// Merge assigns every field of other onto m. Keys already present keep their
// position; new keys are appended in other's order.
func (m *Message) Merge(other Message) {
	other.Range(func(k string, v any) bool {
		m.Set(k, v)
		return true
	})
}

// Merged returns a new message holding m's fields overlaid with other's.
func (m Message) Merged(other Message) Message {
	c := m.Clone()
	c.Merge(other)

	return c
}

// ToMap converts the message into a plain map, dropping field order.
func (m Message) ToMap() map[string]any {
	out := make(map[string]any, m.Len())

	m.Range(func(k string, v any) bool {
		out[k] = v
		return true
	})

	return out
}

// Decode converts the message into a Go value through its JSON encoding.
func (m Message) Decode(into any) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return err
	}

	return json.Unmarshal(raw, into)
}

// MarshalJSON encodes the message as a JSON object preserving field order.
func (m Message) MarshalJSON() ([]byte, error) {
	if m.fields == nil {
		return []byte("{}"), nil
	}

	return m.fields.MarshalJSON()
}

// UnmarshalJSON decodes a JSON object preserving the order of its top level keys.
func (m *Message) UnmarshalJSON(data []byte) error {
	fields := orderedmap.New[string, any]()
	if err := fields.UnmarshalJSON(data); err != nil {
		return err
	}

	m.fields = fields

	return nil
}
