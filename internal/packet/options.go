package packet

import (
	"sort"
	"strings"
)

// OptionSet is a case-insensitive name -> value mapping used by RRQ, WRQ,
// and OACK (RFC 2347). Keys are normalized to lowercase on insertion and
// lookup; values are preserved verbatim. Equality is multiset equality of
// (key, value) pairs, independent of iteration order.
type OptionSet map[string]string

// NewOptionSet returns an empty OptionSet ready for use.
func NewOptionSet() OptionSet {
	return make(OptionSet)
}

// Set stores value under the lowercased name, overwriting any prior value.
func (o OptionSet) Set(name, value string) {
	o[strings.ToLower(name)] = value
}

// Get looks up a value by name, case-insensitively.
func (o OptionSet) Get(name string) (string, bool) {
	v, ok := o[strings.ToLower(name)]
	return v, ok
}

// Len reports the number of options.
func (o OptionSet) Len() int { return len(o) }

// Size returns the wire size in bytes: sum of (len(name) + len(value) + 2)
// across all options, per spec.md §4.2.
func (o OptionSet) Size() int {
	n := 0
	for k, v := range o {
		n += len(k) + len(v) + 2
	}
	return n
}

// Equal reports whether two option sets hold the same (key, value) pairs,
// ignoring any notion of order.
func (o OptionSet) Equal(other OptionSet) bool {
	if len(o) != len(other) {
		return false
	}
	for k, v := range o {
		if ov, ok := other[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

// serializeInto appends the wire form of the option set (name\0value\0)*
// to dst. Iteration order is sorted by key purely for deterministic test
// output; the format is order-independent per spec.md §4.1.
func (o OptionSet) serializeInto(dst []byte) []byte {
	if len(o) == 0 {
		return dst
	}
	keys := make([]string, 0, len(o))
	for k := range o {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		dst = append(dst, []byte(k)...)
		dst = append(dst, 0)
		dst = append(dst, []byte(o[k])...)
		dst = append(dst, 0)
	}
	return dst
}
