// Package info implements the key/value info objects used to pass tunables
// into communicator operations. Keys keep their insertion order so that a
// round-trip through an Info object is stable.
package info

import "sync"

// Info is an ordered string key/value store. All methods are safe for
// concurrent use.
type Info struct {
	mu   sync.RWMutex
	keys []string
	m    map[string]string
}

// New returns an empty Info object.
func New() *Info {
	return &Info{m: make(map[string]string)}
}

// Set stores value under key, preserving the key's original insertion
// position when it already exists.
func (in *Info) Set(key, value string) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if _, ok := in.m[key]; !ok {
		in.keys = append(in.keys, key)
	}
	in.m[key] = value
}

// Get returns the value stored under key.
func (in *Info) Get(key string) (string, bool) {
	in.mu.RLock()
	defer in.mu.RUnlock()
	v, ok := in.m[key]
	return v, ok
}

// Delete removes key. Removing an absent key is a no-op.
func (in *Info) Delete(key string) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if _, ok := in.m[key]; !ok {
		return
	}
	delete(in.m, key)
	for i, k := range in.keys {
		if k == key {
			in.keys = append(in.keys[:i], in.keys[i+1:]...)
			break
		}
	}
}

// Keys returns the keys in insertion order.
func (in *Info) Keys() []string {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return append([]string(nil), in.keys...)
}

// Len returns the number of stored keys.
func (in *Info) Len() int {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return len(in.keys)
}

// Dup returns an independent copy.
func (in *Info) Dup() *Info {
	in.mu.RLock()
	defer in.mu.RUnlock()
	out := New()
	for _, k := range in.keys {
		out.keys = append(out.keys, k)
		out.m[k] = in.m[k]
	}
	return out
}
