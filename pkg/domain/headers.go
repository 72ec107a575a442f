package domain

// Headers is an ordered, string-keyed response header collection.
//
// Set overwrites the value of an existing key in place and keeps its original
// position; new keys are appended in insertion order. Headers is not safe for
// concurrent use: callers issuing parallel backend calls within one request
// must serialize their updates.
type Headers struct {
	keys   []string
	values map[string]string
}

// NewHeaders returns an empty header collection.
func NewHeaders() *Headers {
	return &Headers{values: make(map[string]string)}
}

// Set stores value under key, replacing any previous value.
func (h *Headers) Set(key, value string) {
	if h.values == nil {
		h.values = make(map[string]string)
	}
	if _, ok := h.values[key]; !ok {
		h.keys = append(h.keys, key)
	}
	h.values[key] = value
}

// Append concatenates value onto the existing value for key. A missing key
// behaves like Set.
func (h *Headers) Append(key, value string) {
	current, ok := h.Get(key)
	if !ok {
		h.Set(key, value)
		return
	}
	h.values[key] = current + value
}

// Get returns the value stored under key.
func (h *Headers) Get(key string) (string, bool) {
	if h == nil || h.values == nil {
		return "", false
	}
	v, ok := h.values[key]
	return v, ok
}

// Has reports whether key is present.
func (h *Headers) Has(key string) bool {
	_, ok := h.Get(key)
	return ok
}

// Len returns the number of keys.
func (h *Headers) Len() int {
	if h == nil {
		return 0
	}
	return len(h.keys)
}

// Keys returns the keys in insertion order.
func (h *Headers) Keys() []string {
	if h == nil {
		return nil
	}
	out := make([]string, len(h.keys))
	copy(out, h.keys)
	return out
}

// Range calls fn for every key in insertion order until fn returns false.
func (h *Headers) Range(fn func(key, value string) bool) {
	if h == nil {
		return
	}
	for _, k := range h.keys {
		if !fn(k, h.values[k]) {
			return
		}
	}
}
