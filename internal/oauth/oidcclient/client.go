// Package oidcclient is the OAuth2 / OpenID Connect client used by the login
// flow. It keeps all protocol artifacts (state, nonce, PKCE verifier, tokens)
// in the attempt's flowdata.Store, so it is stateless between requests.
//
// When an issuer is configured the provider is discovered lazily and ID
// tokens are verified. Without an issuer the client speaks plain OAuth2
// against the explicitly configured endpoints.
package oidcclient

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/dropDatabas3/fedlogin/internal/flowdata"
	"github.com/dropDatabas3/fedlogin/internal/observability/logger"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

var (
	ErrConfig             = errors.New("oidcclient: invalid configuration")
	ErrDiscovery          = errors.New("oidcclient: provider discovery failed")
	ErrProviderError      = errors.New("oidcclient: provider returned an error")
	ErrStateMismatch      = errors.New("oidcclient: state mismatch")
	ErrMissingCode        = errors.New("oidcclient: missing authorization code")
	ErrCodeExchangeFailed = errors.New("oidcclient: code exchange failed")
	ErrInvalidIDToken     = errors.New("oidcclient: invalid id_token")
	ErrNonceMismatch      = errors.New("oidcclient: nonce mismatch")
	ErrNoAccessToken      = errors.New("oidcclient: no access token in flow data")
	ErrUserInfo           = errors.New("oidcclient: userinfo request failed")
)

// Config describes one provider.
type Config struct {
	Issuer       string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string

	// Optional endpoint overrides. Required when Issuer is empty.
	AuthURL     string
	TokenURL    string
	UserInfoURL string

	// HTTPClient is used for discovery, token and userinfo calls.
	HTTPClient *http.Client
}

// AuthOptions are per-request additions to the authorization URL.
type AuthOptions struct {
	// Prompt is passed as the OIDC "prompt" parameter when set.
	Prompt string
	// LoginHint is passed as "login_hint" when set.
	LoginHint string
	// Extra parameters appended verbatim.
	Extra map[string]string
}

// UserInfo is what the login flow needs from the provider.
type UserInfo struct {
	Subject    string
	RawProfile json.RawMessage
	// Claims are the verified ID token claims, nil for plain OAuth2.
	Claims map[string]any
}

// Client is safe for concurrent use.
type Client struct {
	cfg Config

	sf       singleflight.Group
	mu       sync.RWMutex
	provider *oidc.Provider
	verifier *oidc.IDTokenVerifier
	oauth    *oauth2.Config
}

// New validates cfg. Discovery happens on first use.
func New(cfg Config) (*Client, error) {
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("%w: client_id required", ErrConfig)
	}
	if cfg.RedirectURL == "" {
		return nil, fmt.Errorf("%w: redirect_url required", ErrConfig)
	}
	if cfg.Issuer == "" && (cfg.AuthURL == "" || cfg.TokenURL == "" || cfg.UserInfoURL == "") {
		return nil, fmt.Errorf("%w: auth_url, token_url and userinfo_url required without issuer", ErrConfig)
	}
	if len(cfg.Scopes) == 0 {
		if cfg.Issuer != "" {
			cfg.Scopes = []string{oidc.ScopeOpenID, "email", "profile"}
		}
	}
	c := &Client{cfg: cfg}
	if cfg.Issuer == "" {
		c.oauth = c.oauthConfig(oauth2.Endpoint{})
	}
	return c, nil
}

// Issuer returns the configured issuer ("" for plain OAuth2).
func (c *Client) Issuer() string { return c.cfg.Issuer }

// ClientID returns the configured client id.
func (c *Client) ClientID() string { return c.cfg.ClientID }

func (c *Client) oauthConfig(ep oauth2.Endpoint) *oauth2.Config {
	if c.cfg.AuthURL != "" {
		ep.AuthURL = c.cfg.AuthURL
	}
	if c.cfg.TokenURL != "" {
		ep.TokenURL = c.cfg.TokenURL
	}
	return &oauth2.Config{
		ClientID:     c.cfg.ClientID,
		ClientSecret: c.cfg.ClientSecret,
		RedirectURL:  c.cfg.RedirectURL,
		Endpoint:     ep,
		Scopes:       c.cfg.Scopes,
	}
}

func (c *Client) withHTTP(ctx context.Context) context.Context {
	if c.cfg.HTTPClient == nil {
		return ctx
	}
	return oidc.ClientContext(ctx, c.cfg.HTTPClient)
}

// ensure discovers the provider once. Concurrent first callers share one
// discovery request; a failure is not cached.
func (c *Client) ensure(ctx context.Context) (*oauth2.Config, error) {
	c.mu.RLock()
	oc := c.oauth
	c.mu.RUnlock()
	if oc != nil {
		return oc, nil
	}

	_, err, _ := c.sf.Do(c.cfg.Issuer, func() (any, error) {
		c.mu.RLock()
		done := c.oauth != nil
		c.mu.RUnlock()
		if done {
			return nil, nil
		}

		p, err := oidc.NewProvider(c.withHTTP(ctx), c.cfg.Issuer)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDiscovery, err)
		}
		c.mu.Lock()
		c.provider = p
		c.verifier = p.Verifier(&oidc.Config{ClientID: c.cfg.ClientID})
		c.oauth = c.oauthConfig(p.Endpoint())
		c.mu.Unlock()
		return nil, nil
	})
	if err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.oauth, nil
}

func randomToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// AuthRedirect generates state, nonce and PKCE verifier, stores them in the
// attempt's data store and returns the provider authorization URL. The state
// is prefixed with the store id so the callback can be correlated.
func (c *Client) AuthRedirect(ctx context.Context, store *flowdata.Store, opts AuthOptions) (string, error) {
	oc, err := c.ensure(ctx)
	if err != nil {
		return "", err
	}

	random, err := randomToken(24)
	if err != nil {
		return "", err
	}
	state := store.ID() + "." + random
	verifier := oauth2.GenerateVerifier()

	params := []oauth2.AuthCodeOption{oauth2.S256ChallengeOption(verifier)}
	rec := flowdata.Record{
		flowdata.KeyState:        state,
		flowdata.KeyPKCEVerifier: verifier,
	}
	if c.cfg.Issuer != "" {
		nonce, err := randomToken(24)
		if err != nil {
			return "", err
		}
		rec[flowdata.KeyNonce] = nonce
		params = append(params, oidc.Nonce(nonce))
	}
	if opts.Prompt != "" {
		params = append(params, oauth2.SetAuthURLParam("prompt", opts.Prompt))
	}
	if opts.LoginHint != "" {
		params = append(params, oauth2.SetAuthURLParam("login_hint", opts.LoginHint))
	}
	for k, v := range opts.Extra {
		params = append(params, oauth2.SetAuthURLParam(k, v))
	}

	if err := c.overwrite(store, rec); err != nil {
		return "", err
	}
	return oc.AuthCodeURL(state, params...), nil
}

// overwrite sets rec's keys on the stored record. Protocol artifacts of a new
// round trip always replace the previous ones.
func (c *Client) overwrite(store *flowdata.Store, rec flowdata.Record) error {
	cur, err := store.Retrieve()
	if err != nil {
		return err
	}
	for k, v := range rec {
		cur[k] = v
	}
	return store.Store(cur)
}

// HandlePostAuth processes the authorization response: it rejects provider
// errors, checks state, exchanges the code with the stored PKCE verifier and,
// for OIDC providers, verifies the ID token and its nonce. Tokens are written
// to the data store and the one-time artifacts are removed.
func (c *Client) HandlePostAuth(ctx context.Context, store *flowdata.Store, params url.Values) error {
	log := logger.From(ctx).With(logger.Layer("client"), logger.Component("oidcclient"))

	if e := params.Get("error"); e != "" {
		return fmt.Errorf("%w: %s %s", ErrProviderError, e, params.Get("error_description"))
	}

	oc, err := c.ensure(ctx)
	if err != nil {
		return err
	}

	rec, err := store.Retrieve()
	if err != nil {
		return err
	}
	want := rec.String(flowdata.KeyState)
	got := params.Get("state")
	if want == "" || subtle.ConstantTimeCompare([]byte(want), []byte(got)) != 1 {
		return ErrStateMismatch
	}
	code := params.Get("code")
	if code == "" {
		return ErrMissingCode
	}

	hctx := c.withHTTP(ctx)
	if c.cfg.HTTPClient != nil {
		hctx = context.WithValue(hctx, oauth2.HTTPClient, c.cfg.HTTPClient)
	}
	tok, err := oc.Exchange(hctx, code, oauth2.VerifierOption(rec.String(flowdata.KeyPKCEVerifier)))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCodeExchangeFailed, err)
	}

	update := flowdata.Record{
		flowdata.KeyAccessToken: tok.AccessToken,
	}
	if tok.RefreshToken != "" {
		update[flowdata.KeyRefreshToken] = tok.RefreshToken
	}
	if !tok.Expiry.IsZero() {
		update[flowdata.KeyExpiry] = tok.Expiry.UTC().Format(time.RFC3339)
	}

	if c.cfg.Issuer != "" {
		rawIDToken, ok := tok.Extra("id_token").(string)
		if !ok || rawIDToken == "" {
			return fmt.Errorf("%w: missing id_token in token response", ErrInvalidIDToken)
		}
		c.mu.RLock()
		verifier := c.verifier
		c.mu.RUnlock()
		idToken, err := verifier.Verify(hctx, rawIDToken)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidIDToken, err)
		}
		if n := rec.String(flowdata.KeyNonce); n == "" || subtle.ConstantTimeCompare([]byte(n), []byte(idToken.Nonce)) != 1 {
			return ErrNonceMismatch
		}
		var claims map[string]any
		if err := idToken.Claims(&claims); err != nil {
			return fmt.Errorf("%w: failed to parse claims: %v", ErrInvalidIDToken, err)
		}
		update[flowdata.KeyIDToken] = rawIDToken
		update[flowdata.KeyIDClaims] = claims
		update[flowdata.KeySubject] = idToken.Subject
	}

	delete(rec, flowdata.KeyState)
	delete(rec, flowdata.KeyNonce)
	delete(rec, flowdata.KeyPKCEVerifier)
	for k, v := range update {
		rec[k] = v
	}
	if err := store.Store(rec); err != nil {
		return err
	}

	log.Debug("authorization response accepted", logger.Provider(store.Provider()), logger.AttemptID(store.ID()))
	return nil
}

// UserInfo fetches the profile with the stored access token.
func (c *Client) UserInfo(ctx context.Context, store *flowdata.Store) (*UserInfo, error) {
	if _, err := c.ensure(ctx); err != nil {
		return nil, err
	}
	rec, err := store.Retrieve()
	if err != nil {
		return nil, err
	}
	access := rec.String(flowdata.KeyAccessToken)
	if access == "" {
		return nil, ErrNoAccessToken
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: access, TokenType: "Bearer"})

	var claims map[string]any
	if m, ok := rec[flowdata.KeyIDClaims].(map[string]any); ok {
		claims = m
	}

	var raw json.RawMessage
	subject := rec.String(flowdata.KeySubject)

	c.mu.RLock()
	provider := c.provider
	c.mu.RUnlock()

	if provider != nil && c.cfg.UserInfoURL == "" {
		ui, err := provider.UserInfo(c.withHTTP(ctx), ts)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUserInfo, err)
		}
		if err := ui.Claims(&raw); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUserInfo, err)
		}
		if ui.Subject != "" {
			subject = ui.Subject
		}
	} else {
		raw, err = c.fetchUserInfo(ctx, ts)
		if err != nil {
			return nil, err
		}
		var ids struct {
			Sub any `json:"sub"`
			ID  any `json:"id"`
		}
		_ = json.Unmarshal(raw, &ids)
		if s := scalar(ids.Sub); s != "" {
			subject = s
		} else if s := scalar(ids.ID); s != "" && subject == "" {
			subject = s
		}
	}

	if subject == "" {
		return nil, fmt.Errorf("%w: no subject in profile", ErrUserInfo)
	}
	return &UserInfo{Subject: subject, RawProfile: raw, Claims: claims}, nil
}

func (c *Client) fetchUserInfo(ctx context.Context, ts oauth2.TokenSource) (json.RawMessage, error) {
	hctx := ctx
	if c.cfg.HTTPClient != nil {
		hctx = context.WithValue(ctx, oauth2.HTTPClient, c.cfg.HTTPClient)
	}
	hc := oauth2.NewClient(hctx, ts)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.UserInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUserInfo, err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUserInfo, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUserInfo, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrUserInfo, resp.StatusCode)
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("%w: response is not JSON", ErrUserInfo)
	}
	return json.RawMessage(body), nil
}

func scalar(v any) string {
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x)
	case float64:
		return fmt.Sprintf("%.0f", x)
	default:
		return ""
	}
}
