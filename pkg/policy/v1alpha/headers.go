package policyv1alpha

import "strings"

// Headers is the header view handed to behaviors. Lookups are
// case-insensitive; names are stored lowercased.
//
// Behaviors must treat Headers as read-only and express changes through the
// actions they return. The mutating methods exist for the kernel, which
// applies accumulated modifications between behavior invocations.
type Headers struct {
	values map[string][]string
}

// NewHeaders builds a Headers view from a name -> values map.
// Keys are lowercased on the way in.
func NewHeaders(values map[string][]string) *Headers {
	m := make(map[string][]string, len(values))
	for k, v := range values {
		m[strings.ToLower(k)] = v
	}
	return &Headers{values: m}
}

// Get returns the first value for a header name, or "" if absent.
func (h *Headers) Get(name string) string {
	if h == nil || h.values == nil {
		return ""
	}
	vals := h.values[strings.ToLower(name)]
	if len(vals) == 0 {
		return ""
	}
	return vals[0]
}

// Values returns a copy of all values for a header name.
// Returns nil if the header does not exist.
func (h *Headers) Values(name string) []string {
	if h == nil || h.values == nil {
		return nil
	}
	vals := h.values[strings.ToLower(name)]
	if vals == nil {
		return nil
	}
	return append([]string(nil), vals...)
}

// Has reports whether a header exists.
func (h *Headers) Has(name string) bool {
	if h == nil || h.values == nil {
		return false
	}
	_, ok := h.values[strings.ToLower(name)]
	return ok
}

// Len returns the number of distinct header names.
func (h *Headers) Len() int {
	if h == nil {
		return 0
	}
	return len(h.values)
}

// All returns a defensive copy of every header.
func (h *Headers) All() map[string][]string {
	out := make(map[string][]string, h.Len())
	if h == nil || h.values == nil {
		return out
	}
	for k, v := range h.values {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// Set replaces all values for a header name. Kernel use only.
func (h *Headers) Set(name, value string) {
	h.values[strings.ToLower(name)] = []string{value}
}

// Add appends a value to a header name. Kernel use only.
func (h *Headers) Add(name, value string) {
	key := strings.ToLower(name)
	h.values[key] = append(h.values[key], value)
}

// Del removes a header. Kernel use only.
func (h *Headers) Del(name string) {
	delete(h.values, strings.ToLower(name))
}
