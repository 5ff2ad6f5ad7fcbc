// Package account resolves normalized profile attributes to local directory
// users and provisions new ones.
package account

import (
	"context"
	"errors"

	"github.com/dropDatabas3/fedlogin/internal/observability/logger"
	"github.com/dropDatabas3/fedlogin/internal/profile"
)

var (
	ErrMissingAttributes = errors.New("account: required attributes missing")
	ErrInvalidRealm      = errors.New("account: invalid realm")
	ErrAmbiguousMatch    = errors.New("account: more than one user matches")
	ErrAlreadyExists     = errors.New("account: user already exists")
)

// PasswordAttribute carries the argon2id hash of a locally chosen password.
const PasswordAttribute = "userPassword"

// DefaultUsernameAttribute names the attribute a directory uses as username
// when none is configured.
const DefaultUsernameAttribute = "uid"

// Provider is the directory collaborator used by the login flow.
type Provider interface {
	// FindUser returns the username of the single entry matching attrs.
	FindUser(ctx context.Context, realm string, attrs profile.Attributes) (string, bool, error)
	// ProvisionUser creates an entry from attrs and returns its username.
	ProvisionUser(ctx context.Context, realm string, attrs profile.Attributes) (string, error)
}

// Resolve looks attrs up in p. Empty attributes cannot be searched and
// resolve to "not found" without calling the directory.
func Resolve(ctx context.Context, realm string, p Provider, attrs profile.Attributes) (string, bool, error) {
	log := logger.From(ctx).With(logger.Layer("service"), logger.Component("account.resolve"))

	if len(attrs) == 0 {
		log.Debug("no matching attributes, skipping lookup", logger.Realm(realm))
		return "", false, nil
	}
	username, found, err := p.FindUser(ctx, realm, attrs)
	if err != nil {
		log.Warn("directory lookup failed", logger.Realm(realm), logger.Err(err))
		return "", false, err
	}
	if !found || username == "" {
		return "", false, nil
	}
	return username, true, nil
}

// Matches reports whether entry has, for every name in query, at least one
// of the queried values.
func Matches(entry, query profile.Attributes) bool {
	for name, want := range query {
		have := entry[name]
		if !intersects(have, want) {
			return false
		}
	}
	return true
}

func intersects(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}
