// Package session holds the caller-owned shared state that a login attempt
// rides on between HTTP requests.
//
// The login state machine only sees the narrow Carrier interface; how the
// values are persisted (cookie-bound cache entry, test map) is the host's
// concern.
package session

import "sync"

// Carrier is a per-key get/put view over session-like shared state.
type Carrier interface {
	Get(key string) (string, bool)
	Put(key, value string)
	Delete(key string)
}

// Map is an in-memory Carrier. The zero value is ready to use.
type Map struct {
	mu     sync.RWMutex
	values map[string]string
	dirty  bool
}

// NewMap returns a Map seeded with values (may be nil).
func NewMap(values map[string]string) *Map {
	m := &Map{values: make(map[string]string, len(values))}
	for k, v := range values {
		m.values[k] = v
	}
	return m
}

func (m *Map) Get(key string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok
}

func (m *Map) Put(key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.values == nil {
		m.values = make(map[string]string)
	}
	if cur, ok := m.values[key]; ok && cur == value {
		return
	}
	m.values[key] = value
	m.dirty = true
}

func (m *Map) Delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.values[key]; ok {
		delete(m.values, key)
		m.dirty = true
	}
}

// Len reports the number of keys.
func (m *Map) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.values)
}

// Dirty reports whether the map changed since it was created or last saved.
func (m *Map) Dirty() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.dirty
}

// Snapshot returns a copy of the current values.
func (m *Map) Snapshot() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(m.values))
	for k, v := range m.values {
		out[k] = v
	}
	return out
}

func (m *Map) markClean() {
	m.mu.Lock()
	m.dirty = false
	m.mu.Unlock()
}
