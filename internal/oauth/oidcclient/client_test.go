package oidcclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/dropDatabas3/fedlogin/internal/flowdata"
	"github.com/dropDatabas3/fedlogin/internal/session"
	"github.com/oauth2-proxy/mockoidc"
	"github.com/stretchr/testify/require"
)

const redirectURL = "http://localhost:8080/auth/mock/callback"

func newMockProvider(t *testing.T) (*mockoidc.MockOIDC, *Client) {
	t.Helper()
	m, err := mockoidc.Run()
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Shutdown() })

	c, err := New(Config{
		Issuer:       m.Issuer(),
		ClientID:     m.ClientID,
		ClientSecret: m.ClientSecret,
		RedirectURL:  redirectURL,
	})
	require.NoError(t, err)
	return m, c
}

func newStore(t *testing.T) *flowdata.Store {
	t.Helper()
	s, err := flowdata.New(session.NewMap(nil), "mock", "attempt-1")
	require.NoError(t, err)
	return s
}

// authorize follows the authorization URL once and returns the callback
// query the provider redirected to.
func authorize(t *testing.T, authURL string) url.Values {
	t.Helper()
	hc := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}}
	resp, err := hc.Get(authURL)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusFound, resp.StatusCode)

	loc, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(loc.String(), redirectURL))
	return loc.Query()
}

func TestFullRoundTrip(t *testing.T) {
	m, c := newMockProvider(t)
	ctx := context.Background()
	store := newStore(t)

	m.QueueUser(&mockoidc.MockUser{
		Subject:           "ada-1",
		Email:             "ada@example.com",
		EmailVerified:     true,
		PreferredUsername: "ada",
		Groups:            []string{"eng"},
	})

	authURL, err := c.AuthRedirect(ctx, store, AuthOptions{LoginHint: "ada@example.com"})
	require.NoError(t, err)

	u, err := url.Parse(authURL)
	require.NoError(t, err)
	q := u.Query()
	require.True(t, strings.HasPrefix(q.Get("state"), "attempt-1."))
	require.NotEmpty(t, q.Get("nonce"))
	require.Equal(t, "S256", q.Get("code_challenge_method"))
	require.Equal(t, "ada@example.com", q.Get("login_hint"))

	rec, err := store.Retrieve()
	require.NoError(t, err)
	require.Equal(t, q.Get("state"), rec.String(flowdata.KeyState))
	require.NotEmpty(t, rec.String(flowdata.KeyPKCEVerifier))

	callback := authorize(t, authURL)
	require.NoError(t, c.HandlePostAuth(ctx, store, callback))

	rec, err = store.Retrieve()
	require.NoError(t, err)
	require.NotEmpty(t, rec.String(flowdata.KeyAccessToken))
	require.NotEmpty(t, rec.String(flowdata.KeyIDToken))
	require.Equal(t, "ada-1", rec.String(flowdata.KeySubject))
	require.NotContains(t, rec, flowdata.KeyState)
	require.NotContains(t, rec, flowdata.KeyNonce)

	ui, err := c.UserInfo(ctx, store)
	require.NoError(t, err)
	require.Equal(t, "ada-1", ui.Subject)
	require.Equal(t, "ada-1", ui.Claims["sub"])

	var profile map[string]any
	require.NoError(t, json.Unmarshal(ui.RawProfile, &profile))
	require.Equal(t, "ada@example.com", profile["email"])

	// replaying the same callback fails: state was consumed
	require.ErrorIs(t, c.HandlePostAuth(ctx, store, callback), ErrStateMismatch)
}

func TestHandlePostAuth_Rejects(t *testing.T) {
	_, c := newMockProvider(t)
	ctx := context.Background()

	t.Run("provider error", func(t *testing.T) {
		err := c.HandlePostAuth(ctx, newStore(t), url.Values{"error": {"access_denied"}})
		require.ErrorIs(t, err, ErrProviderError)
	})

	t.Run("state mismatch", func(t *testing.T) {
		store := newStore(t)
		_, err := c.AuthRedirect(ctx, store, AuthOptions{})
		require.NoError(t, err)
		err = c.HandlePostAuth(ctx, store, url.Values{"state": {"attempt-1.forged"}, "code": {"x"}})
		require.ErrorIs(t, err, ErrStateMismatch)
	})

	t.Run("no state stored", func(t *testing.T) {
		err := c.HandlePostAuth(ctx, newStore(t), url.Values{"state": {""}, "code": {"x"}})
		require.ErrorIs(t, err, ErrStateMismatch)
	})

	t.Run("missing code", func(t *testing.T) {
		store := newStore(t)
		authURL, err := c.AuthRedirect(ctx, store, AuthOptions{})
		require.NoError(t, err)
		u, _ := url.Parse(authURL)
		err = c.HandlePostAuth(ctx, store, url.Values{"state": {u.Query().Get("state")}})
		require.ErrorIs(t, err, ErrMissingCode)
	})
}

func TestUserInfo_WithoutToken(t *testing.T) {
	_, c := newMockProvider(t)
	_, err := c.UserInfo(context.Background(), newStore(t))
	require.ErrorIs(t, err, ErrNoAccessToken)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{RedirectURL: redirectURL, Issuer: "https://idp"})
	require.ErrorIs(t, err, ErrConfig)

	_, err = New(Config{ClientID: "c", Issuer: "https://idp"})
	require.ErrorIs(t, err, ErrConfig)

	_, err = New(Config{ClientID: "c", RedirectURL: redirectURL, AuthURL: "https://idp/auth"})
	require.ErrorIs(t, err, ErrConfig)
}

func TestDiscoveryFailureIsNotCached(t *testing.T) {
	c, err := New(Config{Issuer: "http://127.0.0.1:1/none", ClientID: "c", RedirectURL: redirectURL})
	require.NoError(t, err)

	_, err = c.AuthRedirect(context.Background(), newStore(t), AuthOptions{})
	require.ErrorIs(t, err, ErrDiscovery)
	_, err = c.AuthRedirect(context.Background(), newStore(t), AuthOptions{})
	require.ErrorIs(t, err, ErrDiscovery)
}

// plainOAuth2Server is a minimal non-OIDC provider (GitHub-like).
func plainOAuth2Server(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		if r.Form.Get("code") != "good-code" || r.Form.Get("code_verifier") == "" {
			http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"at-1","token_type":"bearer","expires_in":3600}`))
	})
	mux.HandleFunc("/user", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer at-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":12345,"login":"octo","email":"octo@example.com"}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestPlainOAuth2(t *testing.T) {
	srv := plainOAuth2Server(t)
	ctx := context.Background()

	c, err := New(Config{
		ClientID:     "c",
		ClientSecret: "s",
		RedirectURL:  redirectURL,
		AuthURL:      srv.URL + "/authorize",
		TokenURL:     srv.URL + "/token",
		UserInfoURL:  srv.URL + "/user",
		Scopes:       []string{"read:user"},
	})
	require.NoError(t, err)

	store := newStore(t)
	authURL, err := c.AuthRedirect(ctx, store, AuthOptions{})
	require.NoError(t, err)
	u, _ := url.Parse(authURL)
	require.Empty(t, u.Query().Get("nonce"))

	err = c.HandlePostAuth(ctx, store, url.Values{"state": {u.Query().Get("state")}, "code": {"good-code"}})
	require.NoError(t, err)

	ui, err := c.UserInfo(ctx, store)
	require.NoError(t, err)
	require.Equal(t, "12345", ui.Subject)
	require.Nil(t, ui.Claims)
	require.Contains(t, string(ui.RawProfile), `"login":"octo"`)
}
