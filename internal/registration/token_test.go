package registration

import (
	"net/url"
	"strings"
	"testing"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

var secret = []byte(strings.Repeat("k", MinSecretLen))

func newTestGenerator(t *testing.T, now time.Time) *Generator {
	t.Helper()
	g, err := NewGenerator(Config{Secret: secret})
	require.NoError(t, err)
	g.now = func() time.Time { return now }
	return g
}

func TestNewGenerator_RejectsShortSecret(t *testing.T) {
	_, err := NewGenerator(Config{Secret: []byte("short")})
	require.ErrorIs(t, err, ErrMissingSecret)
}

func TestGenerateParse(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	g := newTestGenerator(t, now)

	tok, err := g.Generate("attempt-1", "google", map[string]any{"subject": "1122"})
	require.NoError(t, err)

	claims, err := g.Parse(tok)
	require.NoError(t, err)
	require.Equal(t, "attempt-1", claims.AttemptID)
	require.Equal(t, "google", claims.Provider)
	require.Equal(t, "1122", claims.Data["subject"])
	require.Equal(t, DefaultIssuer, claims.Issuer)
	require.Equal(t, jwtv5.ClaimStrings{DefaultAudience}, claims.Audience)
}

func TestParse_Rejects(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	g := newTestGenerator(t, now)
	tok, err := g.Generate("attempt-1", "google", nil)
	require.NoError(t, err)

	t.Run("expired beyond leeway", func(t *testing.T) {
		late := newTestGenerator(t, now.Add(DefaultTTL+time.Minute))
		_, err := late.Parse(tok)
		require.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("expired within leeway", func(t *testing.T) {
		late := newTestGenerator(t, now.Add(DefaultTTL+10*time.Second))
		_, err := late.Parse(tok)
		require.NoError(t, err)
	})

	t.Run("other secret", func(t *testing.T) {
		other, err := NewGenerator(Config{Secret: []byte(strings.Repeat("x", MinSecretLen))})
		require.NoError(t, err)
		other.now = g.now
		_, err = other.Parse(tok)
		require.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("other audience", func(t *testing.T) {
		other, err := NewGenerator(Config{Secret: secret, Audience: "someone-else"})
		require.NoError(t, err)
		other.now = g.now
		_, err = other.Parse(tok)
		require.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := g.Parse("not.a.jwt")
		require.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("alg none", func(t *testing.T) {
		unsigned := jwtv5.NewWithClaims(jwtv5.SigningMethodNone, Claims{AttemptID: "x"})
		s, err := unsigned.SignedString(jwtv5.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)
		_, err = g.Parse(s)
		require.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestRedirectURL(t *testing.T) {
	g := newTestGenerator(t, time.Now())

	got, err := g.RedirectURL("https://register.example.com/start?lang=es", "TOKEN")
	require.NoError(t, err)
	u, err := url.Parse(got)
	require.NoError(t, err)
	require.Equal(t, "TOKEN", u.Query().Get(DefaultParam))
	require.Equal(t, "es", u.Query().Get("lang"))

	_, err = g.RedirectURL("/relative", "TOKEN")
	require.ErrorIs(t, err, ErrInvalidURL)
}
