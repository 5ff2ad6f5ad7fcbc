package account

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/dropDatabas3/fedlogin/internal/profile"
)

type memoryEntry struct {
	username string
	attrs    profile.Attributes
}

// Memory is an in-process directory. It is used by tests and by the "memory"
// directory driver for local development.
type Memory struct {
	mu           sync.RWMutex
	realms       map[string]bool
	usernameAttr string
	required     []string
	entries      map[string][]memoryEntry // realm -> entries
	provisioned  int
}

// MemoryOption configures a Memory directory.
type MemoryOption func(*Memory)

// WithRealms restricts the directory to the given realms. Without it every
// non-empty realm is accepted.
func WithRealms(realms ...string) MemoryOption {
	return func(m *Memory) {
		m.realms = make(map[string]bool, len(realms))
		for _, r := range realms {
			m.realms[r] = true
		}
	}
}

// WithUsernameAttribute sets the attribute used as username.
func WithUsernameAttribute(name string) MemoryOption {
	return func(m *Memory) { m.usernameAttr = name }
}

// WithRequired lists attributes ProvisionUser insists on.
func WithRequired(names ...string) MemoryOption {
	return func(m *Memory) { m.required = append([]string(nil), names...) }
}

// NewMemory returns an empty directory.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		usernameAttr: DefaultUsernameAttribute,
		entries:      map[string][]memoryEntry{},
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *Memory) checkRealm(realm string) error {
	if realm == "" {
		return fmt.Errorf("%w: empty", ErrInvalidRealm)
	}
	if m.realms != nil && !m.realms[realm] {
		return fmt.Errorf("%w: %q", ErrInvalidRealm, realm)
	}
	return nil
}

// Add inserts a user directly, bypassing provisioning rules.
func (m *Memory) Add(realm, username string, attrs profile.Attributes) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[realm] = append(m.entries[realm], memoryEntry{username: username, attrs: attrs.Clone()})
}

func (m *Memory) FindUser(ctx context.Context, realm string, attrs profile.Attributes) (string, bool, error) {
	if err := m.checkRealm(realm); err != nil {
		return "", false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var hits []string
	for _, e := range m.entries[realm] {
		if Matches(e.attrs, attrs) {
			hits = append(hits, e.username)
		}
	}
	switch len(hits) {
	case 0:
		return "", false, nil
	case 1:
		return hits[0], true, nil
	default:
		sort.Strings(hits)
		return "", false, fmt.Errorf("%w: %v", ErrAmbiguousMatch, hits)
	}
}

func (m *Memory) ProvisionUser(ctx context.Context, realm string, attrs profile.Attributes) (string, error) {
	if err := m.checkRealm(realm); err != nil {
		return "", err
	}
	username := attrs.First(m.usernameAttr)
	if username == "" {
		return "", fmt.Errorf("%w: %s", ErrMissingAttributes, m.usernameAttr)
	}
	for _, r := range m.required {
		if len(attrs[r]) == 0 {
			return "", fmt.Errorf("%w: %s", ErrMissingAttributes, r)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries[realm] {
		if e.username == username {
			return "", fmt.Errorf("%w: %s", ErrAlreadyExists, username)
		}
	}
	m.entries[realm] = append(m.entries[realm], memoryEntry{username: username, attrs: attrs.Clone()})
	m.provisioned++
	return username, nil
}

// Provisioned returns how many users ProvisionUser has created.
func (m *Memory) Provisioned() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.provisioned
}

// Lookup returns a copy of the stored attributes of username.
func (m *Memory) Lookup(realm, username string) (profile.Attributes, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, e := range m.entries[realm] {
		if e.username == username {
			return e.attrs.Clone(), true
		}
	}
	return nil, false
}
