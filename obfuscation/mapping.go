package obfuscation

import (
	"encoding/json"
	"fmt"

	"github.com/firasghr/GoShroud/tokenizer"
)

// Mapping is one original → token table with a token → original index kept
// in lockstep. Entries are only ever inserted, never replaced or removed.
//
// A Mapping is not safe for concurrent mutation; the owning Context or the
// session lock serialises writers.
type Mapping struct {
	forward map[string]string
	reverse map[string]string
}

// NewMapping returns an empty Mapping.
func NewMapping() *Mapping {
	return &Mapping{
		forward: make(map[string]string),
		reverse: make(map[string]string),
	}
}

// Get returns the token for original.
func (m *Mapping) Get(original string) (string, bool) {
	if m == nil {
		return "", false
	}
	tok, ok := m.forward[original]
	return tok, ok
}

// Original returns the original value behind token.
func (m *Mapping) Original(token string) (string, bool) {
	if m == nil {
		return "", false
	}
	orig, ok := m.reverse[token]
	return orig, ok
}

// Put inserts original → token unless original is already mapped. It reports
// whether an insert happened.
func (m *Mapping) Put(original, token string) bool {
	if _, ok := m.forward[original]; ok {
		return false
	}
	m.forward[original] = token
	if _, taken := m.reverse[token]; !taken {
		m.reverse[token] = original
	}
	return true
}

// Len returns the number of forward entries.
func (m *Mapping) Len() int {
	if m == nil {
		return 0
	}
	return len(m.forward)
}

// Range calls fn for each entry until fn returns false.
func (m *Mapping) Range(fn func(original, token string) bool) {
	if m == nil {
		return
	}
	for o, t := range m.forward {
		if !fn(o, t) {
			return
		}
	}
}

// MarshalJSON persists only the forward table.
func (m *Mapping) MarshalJSON() ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m.forward)
}

// UnmarshalJSON loads the forward table and rebuilds the reverse index.
func (m *Mapping) UnmarshalJSON(data []byte) error {
	var fwd map[string]string
	if err := json.Unmarshal(data, &fwd); err != nil {
		return fmt.Errorf("obfuscation: decode mapping: %w", err)
	}
	m.forward = make(map[string]string, len(fwd))
	m.reverse = make(map[string]string, len(fwd))
	for o, t := range fwd {
		m.Put(o, t)
	}
	return nil
}

// Mappings groups the five per-session tables.
type Mappings struct {
	Identifiers *Mapping `json:"identifiers"`
	ClassNames  *Mapping `json:"classnames"`
	IDs         *Mapping `json:"ids"`
	TextChunks  *Mapping `json:"textchunks"`
	Links       *Mapping `json:"links"`
}

// NewMappings returns five empty tables.
func NewMappings() *Mappings {
	return &Mappings{
		Identifiers: NewMapping(),
		ClassNames:  NewMapping(),
		IDs:         NewMapping(),
		TextChunks:  NewMapping(),
		Links:       NewMapping(),
	}
}

// For returns the table for category, allocating it if a decoded record
// lacked it.
func (ms *Mappings) For(category tokenizer.Category) *Mapping {
	var slot **Mapping
	switch category {
	case tokenizer.Identifier:
		slot = &ms.Identifiers
	case tokenizer.ClassName:
		slot = &ms.ClassNames
	case tokenizer.ElementID:
		slot = &ms.IDs
	case tokenizer.TextChunk:
		slot = &ms.TextChunks
	case tokenizer.Link:
		slot = &ms.Links
	default:
		panic(fmt.Sprintf("obfuscation: unknown category %q", category))
	}
	if *slot == nil {
		*slot = NewMapping()
	}
	return *slot
}

// Categories lists every category in a stable order.
var Categories = []tokenizer.Category{
	tokenizer.Identifier,
	tokenizer.ClassName,
	tokenizer.ElementID,
	tokenizer.TextChunk,
	tokenizer.Link,
}

// Merge inserts every entry of delta that ms does not already hold and
// returns the number of inserts.
func (ms *Mappings) Merge(delta *Mappings) int {
	if delta == nil {
		return 0
	}
	n := 0
	for _, cat := range Categories {
		dst := ms.For(cat)
		delta.For(cat).Range(func(o, t string) bool {
			if dst.Put(o, t) {
				n++
			}
			return true
		})
	}
	return n
}

// Len returns the total number of entries across all tables.
func (ms *Mappings) Len() int {
	n := 0
	for _, cat := range Categories {
		n += ms.For(cat).Len()
	}
	return n
}
