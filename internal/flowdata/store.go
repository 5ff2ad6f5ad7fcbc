// Package flowdata is the opaque, provider-scoped data store bound to one
// login attempt. The OAuth client writes protocol artifacts into it (nonce,
// tokens, PKCE verifier) and the login state machine reads them back on the
// next request.
package flowdata

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/dropDatabas3/fedlogin/internal/session"
)

// Well-known record keys.
const (
	KeyProvider     = "provider"
	KeyState        = "state"
	KeyNonce        = "nonce"
	KeyPKCEVerifier = "pkce_verifier"
	KeyAccessToken  = "access_token"
	KeyRefreshToken = "refresh_token"
	KeyIDToken      = "id_token"
	KeyExpiry       = "expiry"
	KeyIDClaims     = "id_claims"
	KeyRawProfile   = "raw_profile"
	KeySubject      = "subject"
	KeyOriginalURL  = "original_url"
)

const keyPrefix = "fedlogin.data."

var (
	ErrMissingProvider = errors.New("flowdata: provider required")
	ErrMissingAttempt  = errors.New("flowdata: attempt id required")
	ErrCorrupt         = errors.New("flowdata: stored record is not valid JSON")
)

// Record is the JSON-like payload kept for one provider.
type Record map[string]any

// String returns the string value for key, or "" when absent or not a string.
func (r Record) String(key string) string {
	s, _ := r[key].(string)
	return s
}

// Store is a thin adapter over a session.Carrier. It performs no I/O of its
// own.
type Store struct {
	carrier   session.Carrier
	provider  string
	attemptID string
}

// New binds a Store to a carrier, provider and attempt id.
func New(c session.Carrier, provider, attemptID string) (*Store, error) {
	if strings.TrimSpace(provider) == "" {
		return nil, ErrMissingProvider
	}
	if strings.TrimSpace(attemptID) == "" {
		return nil, ErrMissingAttempt
	}
	return &Store{carrier: c, provider: provider, attemptID: attemptID}, nil
}

// ID is the correlation token of the attempt. It is safe to put in redirect
// URIs and client tokens.
func (s *Store) ID() string { return s.attemptID }

// Provider returns the provider this store is scoped to.
func (s *Store) Provider() string { return s.provider }

// Store replaces the stored record. The provider key is always set.
func (s *Store) Store(data Record) error {
	out := make(Record, len(data)+1)
	for k, v := range data {
		out[k] = v
	}
	out[KeyProvider] = s.provider
	b, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("flowdata: encode: %w", err)
	}
	s.carrier.Put(s.key(), string(b))
	return nil
}

// Retrieve returns the last stored record, or an empty one.
func (s *Store) Retrieve() (Record, error) {
	raw, ok := s.carrier.Get(s.key())
	if !ok || raw == "" {
		return Record{}, nil
	}
	var r Record
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if r == nil {
		r = Record{}
	}
	return r, nil
}

// Put sets a single key, keeping everything else.
func (s *Store) Put(key string, value any) error {
	r, err := s.Retrieve()
	if err != nil {
		return err
	}
	r[key] = value
	return s.Store(r)
}

// Merge adds the keys of update that are not yet stored. Values written by a
// previous step are never overwritten. It returns the keys it skipped.
func (s *Store) Merge(update Record) ([]string, error) {
	r, err := s.Retrieve()
	if err != nil {
		return nil, err
	}
	var kept []string
	for k, v := range update {
		if _, exists := r[k]; exists {
			kept = append(kept, k)
			continue
		}
		r[k] = v
	}
	return kept, s.Store(r)
}

// Clear removes the record.
func (s *Store) Clear() {
	s.carrier.Delete(s.key())
}

func (s *Store) key() string {
	return keyPrefix + s.attemptID + "." + s.provider
}
