// Package header implements the case-preserving HTTP/2 header block used
// throughout the proxy: an ordered name -> value-list mapping with
// pseudo-header semantics and the append-or-combine rules the stream state
// machine and translator depend on.
package header

import (
	"fmt"
	"strings"
)

// Pseudo-header names a request or response must carry.
const (
	PseudoMethod    = ":method"
	PseudoPath      = ":path"
	PseudoAuthority = ":authority"
	PseudoScheme    = ":scheme"
	PseudoStatus    = ":status"
)

// field is one (name, values) entry. Repeated Add calls append to values,
// which Get, Range and RangeAll join with ','.
type field struct {
	name   string
	values []string
}

// Block is an ordered header list with case-insensitive lookup for regular
// headers and case-preserving storage for pseudo-headers (which always
// start with ':').
type Block struct {
	fields []field
	// index maps the lower-cased regular header name, or the verbatim
	// pseudo-header name, to its position in fields.
	index map[string]int
}

// New returns an empty header block.
func New() *Block {
	return &Block{index: make(map[string]int)}
}

func isPseudo(name string) bool {
	return len(name) > 0 && name[0] == ':'
}

func key(name string) string {
	if isPseudo(name) {
		return name
	}
	return strings.ToLower(name)
}

// Add appends a value for name. If name already exists on a regular header,
// the new value is combined into the existing entry with a ',' separator
// (the ingest-time behavior spec.md §3 describes for repeated headers).
// Pseudo-headers are rejected if they are added twice; callers that hit
// ErrDuplicatePseudo should treat the request as malformed.
func (b *Block) Add(name, value string) error {
	k := key(name)
	if idx, ok := b.index[k]; ok {
		if isPseudo(name) {
			return fmt.Errorf("%w: %s", ErrDuplicatePseudo, name)
		}
		b.fields[idx].values = append(b.fields[idx].values, value)
		return nil
	}
	b.index[k] = len(b.fields)
	b.fields = append(b.fields, field{name: name, values: []string{value}})
	return nil
}

// Set replaces any existing values for name with a single value, appending
// a new entry if the header was absent. This is the "setting a header that
// already exists ... replaces" semantics from spec.md §3, distinct from Add.
func (b *Block) Set(name, value string) {
	k := key(name)
	if idx, ok := b.index[k]; ok {
		b.fields[idx].values = []string{value}
		return
	}
	b.index[k] = len(b.fields)
	b.fields = append(b.fields, field{name: name, values: []string{value}})
}

// Del removes name entirely. No-op if absent.
func (b *Block) Del(name string) {
	k := key(name)
	idx, ok := b.index[k]
	if !ok {
		return
	}
	b.fields = append(b.fields[:idx], b.fields[idx+1:]...)
	delete(b.index, k)
	for name, i := range b.index {
		if i > idx {
			b.index[name] = i - 1
		}
	}
}

// Get returns the combined value (joined with ',' if multiple Add calls
// occurred) and whether the header is present.
func (b *Block) Get(name string) (string, bool) {
	k := key(name)
	idx, ok := b.index[k]
	if !ok {
		return "", false
	}
	return strings.Join(b.fields[idx].values, ","), true
}

// Has reports whether name is present.
func (b *Block) Has(name string) bool {
	_, ok := b.index[key(name)]
	return ok
}

// Range iterates regular headers (pseudo-headers excluded) in insertion
// order, combined-value per entry, the order the translator must preserve
// per spec.md §8's header-forwarding invariant.
func (b *Block) Range(fn func(name, value string)) {
	for _, f := range b.fields {
		if isPseudo(f.name) {
			continue
		}
		fn(f.name, strings.Join(f.values, ","))
	}
}

// RangeAll iterates every field, pseudo-headers included, in insertion order.
func (b *Block) RangeAll(fn func(name, value string)) {
	for _, f := range b.fields {
		fn(f.name, strings.Join(f.values, ","))
	}
}

// Clone returns a deep copy.
func (b *Block) Clone() *Block {
	out := New()
	for _, f := range b.fields {
		values := make([]string, len(f.values))
		copy(values, f.values)
		out.index[key(f.name)] = len(out.fields)
		out.fields = append(out.fields, field{name: f.name, values: values})
	}
	return out
}

// Len returns the number of distinct header names (pseudo-headers included).
func (b *Block) Len() int { return len(b.fields) }
