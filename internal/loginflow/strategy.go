package loginflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/dropDatabas3/fedlogin/internal/flowdata"
	"github.com/dropDatabas3/fedlogin/internal/mixup"
	"github.com/dropDatabas3/fedlogin/internal/oauth/oidcclient"
)

// StrategyKind selects how the TOKEN step obtains an access token.
type StrategyKind string

const (
	StrategyRedirect StrategyKind = "redirect"
	StrategyHeader   StrategyKind = "header"
)

// DefaultTokenHeader carries the access token for the header strategy.
const DefaultTokenHeader = "X-OAuth-Access-Token"

// TokenStrategy is the closed set of token acquisition variants. The
// unexported method keeps implementations inside this package.
type TokenStrategy interface {
	Kind() StrategyKind
	// SkipsStart reports whether START goes straight to TOKEN.
	SkipsStart() bool
	// IsCallback reports whether req carries an authorization response.
	IsCallback(req Request) bool
	// Acquire leaves an access token in store or fails.
	Acquire(ctx context.Context, store *flowdata.Store, req Request) error

	sealed()
}

// MixUpConfig enables the mix-up check for the redirect strategy.
type MixUpConfig struct {
	Enabled  bool
	ClientID string
	Issuer   string
}

// RedirectStrategy: START redirects to the provider, TOKEN processes the
// authorization response.
type RedirectStrategy struct {
	client OAuthClient
	mixUp  MixUpConfig
}

// NewRedirectStrategy builds the redirect variant.
func NewRedirectStrategy(client OAuthClient, m MixUpConfig) *RedirectStrategy {
	return &RedirectStrategy{client: client, mixUp: m}
}

func (*RedirectStrategy) Kind() StrategyKind { return StrategyRedirect }
func (*RedirectStrategy) SkipsStart() bool   { return false }
func (*RedirectStrategy) sealed()            {}

func (*RedirectStrategy) IsCallback(req Request) bool {
	return req.Params.Has("code") || req.Params.Has("error") || req.Params.Has("state")
}

// Acquire runs the mix-up check before anything touches the provider.
func (s *RedirectStrategy) Acquire(ctx context.Context, store *flowdata.Store, req Request) error {
	if s.mixUp.Enabled {
		if err := mixup.Verify(req.Params, s.mixUp.ClientID, s.mixUp.Issuer); err != nil {
			return err
		}
	}
	return s.client.HandlePostAuth(ctx, store, req.Params)
}

// HeaderTokenStrategy reads an access token obtained out of band (e.g. by a
// mobile app) from a request header. START is skipped.
type HeaderTokenStrategy struct {
	header string
}

// NewHeaderTokenStrategy builds the header variant; an empty header means
// DefaultTokenHeader.
func NewHeaderTokenStrategy(header string) *HeaderTokenStrategy {
	if header == "" {
		header = DefaultTokenHeader
	}
	return &HeaderTokenStrategy{header: header}
}

func (*HeaderTokenStrategy) Kind() StrategyKind      { return StrategyHeader }
func (*HeaderTokenStrategy) SkipsStart() bool        { return true }
func (*HeaderTokenStrategy) IsCallback(Request) bool { return true }
func (*HeaderTokenStrategy) sealed()                 {}

func (s *HeaderTokenStrategy) Acquire(_ context.Context, store *flowdata.Store, req Request) error {
	tok := strings.TrimSpace(req.Header.Get(s.header))
	if len(tok) > 7 && strings.EqualFold(tok[:7], "bearer ") {
		tok = strings.TrimSpace(tok[7:])
	}
	if tok == "" {
		return fmt.Errorf("%w: %s", ErrMissingToken, s.header)
	}
	return store.Put(flowdata.KeyAccessToken, tok)
}

// NewStrategy selects a variant by kind.
func NewStrategy(kind StrategyKind, client OAuthClient, m MixUpConfig, header string) (TokenStrategy, error) {
	switch kind {
	case StrategyRedirect, "":
		return NewRedirectStrategy(client, m), nil
	case StrategyHeader:
		return NewHeaderTokenStrategy(header), nil
	default:
		return nil, fmt.Errorf("unknown token strategy %q", kind)
	}
}

var (
	_ TokenStrategy = (*RedirectStrategy)(nil)
	_ TokenStrategy = (*HeaderTokenStrategy)(nil)
	_ OAuthClient   = (*oidcclient.Client)(nil)
)
