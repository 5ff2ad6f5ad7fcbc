package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dropDatabas3/fedlogin/internal/cache"
	"github.com/google/uuid"
)

// ErrInvalidID is returned for session ids that are not UUIDs.
var ErrInvalidID = errors.New("session: invalid id")

// Session is a cache-persisted Carrier identified by an opaque id (the value
// of the host's session cookie).
type Session struct {
	ID string
	*Map
}

// Sealer encrypts stored sessions. *secretbox.Box implements it.
type Sealer interface {
	Seal(plain []byte) (string, error)
	Open(sealed string) ([]byte, error)
}

// Store persists sessions in a cache.Client.
type Store struct {
	cache  cache.Client
	ttl    time.Duration
	sealer Sealer
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithSealer encrypts every session before it reaches the cache.
func WithSealer(s Sealer) StoreOption {
	return func(st *Store) { st.sealer = s }
}

// NewStore creates a Store. ttl <= 0 defaults to 15 minutes.
func NewStore(c cache.Client, ttl time.Duration, opts ...StoreOption) *Store {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	s := &Store{cache: c, ttl: ttl}
	for _, o := range opts {
		o(s)
	}
	return s
}

// New returns an empty session with a fresh id. Nothing is written until Save.
func (s *Store) New() *Session {
	return &Session{ID: uuid.NewString(), Map: NewMap(nil)}
}

// Load returns the session for id, or a fresh session when id is empty,
// malformed, expired or sealed with another key.
func (s *Store) Load(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		return s.New(), nil
	}
	if _, err := uuid.Parse(id); err != nil {
		return s.New(), nil
	}
	raw, err := s.cache.Get(ctx, key(id))
	if cache.IsNotFound(err) {
		return s.New(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("session: load: %w", err)
	}
	blob := []byte(raw)
	if s.sealer != nil {
		if blob, err = s.sealer.Open(raw); err != nil {
			return s.New(), nil
		}
	}
	var values map[string]string
	if err := json.Unmarshal(blob, &values); err != nil {
		return nil, fmt.Errorf("session: decode: %w", err)
	}
	return &Session{ID: id, Map: NewMap(values)}, nil
}

// Save writes the session when it changed. An emptied session is destroyed.
func (s *Store) Save(ctx context.Context, sess *Session) error {
	if sess == nil || !sess.Dirty() {
		return nil
	}
	if sess.Len() == 0 {
		return s.Destroy(ctx, sess.ID)
	}
	b, err := json.Marshal(sess.Snapshot())
	if err != nil {
		return fmt.Errorf("session: encode: %w", err)
	}
	stored := string(b)
	if s.sealer != nil {
		if stored, err = s.sealer.Seal(b); err != nil {
			return fmt.Errorf("session: seal: %w", err)
		}
	}
	if err := s.cache.Set(ctx, key(sess.ID), stored, s.ttl); err != nil {
		return fmt.Errorf("session: save: %w", err)
	}
	sess.markClean()
	return nil
}

// Rotate moves the values of sess under a fresh id and destroys the old
// entry. The returned session is dirty; the caller saves it.
func (s *Store) Rotate(ctx context.Context, sess *Session) (*Session, error) {
	next := &Session{ID: uuid.NewString(), Map: NewMap(sess.Snapshot())}
	next.dirty = true
	if err := s.Destroy(ctx, sess.ID); err != nil {
		return nil, fmt.Errorf("session: rotate: %w", err)
	}
	return next, nil
}

// Destroy removes the session from the cache.
func (s *Store) Destroy(ctx context.Context, id string) error {
	if id == "" {
		return ErrInvalidID
	}
	return s.cache.Delete(ctx, key(id))
}

// TTL is the lifetime applied on every Save.
func (s *Store) TTL() time.Duration { return s.ttl }

func key(id string) string { return "session:" + id }
