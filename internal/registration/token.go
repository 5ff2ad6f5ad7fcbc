// Package registration signs the client token handed to an external
// registration service and verifies it when the user comes back.
package registration

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingSecret = errors.New("registration: signing secret too short")
	ErrInvalidToken  = errors.New("registration: invalid client token")
	ErrInvalidURL    = errors.New("registration: invalid service url")
)

const (
	DefaultParam    = "client_token"
	DefaultIssuer   = "fedlogin"
	DefaultAudience = "registration"
	DefaultTTL      = 10 * time.Minute
	MinSecretLen    = 32
	leeway          = 30 * time.Second
)

// Config of the HS256 client token.
type Config struct {
	Secret   []byte
	Issuer   string
	Audience string
	TTL      time.Duration
	// Param is the query parameter the token travels in.
	Param string
}

// Claims of a client token. Data carries the non-secret part of the flow
// data the registration service needs to prefill its form.
type Claims struct {
	jwtv5.RegisteredClaims
	AttemptID string         `json:"aid"`
	Provider  string         `json:"prv"`
	Data      map[string]any `json:"data,omitempty"`
}

// Generator issues and verifies client tokens.
type Generator struct {
	cfg Config
	now func() time.Time
}

// NewGenerator applies defaults and rejects secrets shorter than MinSecretLen.
func NewGenerator(cfg Config) (*Generator, error) {
	if len(cfg.Secret) < MinSecretLen {
		return nil, fmt.Errorf("%w: need %d bytes", ErrMissingSecret, MinSecretLen)
	}
	if cfg.Issuer == "" {
		cfg.Issuer = DefaultIssuer
	}
	if cfg.Audience == "" {
		cfg.Audience = DefaultAudience
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Param == "" {
		cfg.Param = DefaultParam
	}
	return &Generator{cfg: cfg, now: time.Now}, nil
}

// Param returns the query parameter name carrying the token.
func (g *Generator) Param() string { return g.cfg.Param }

// Generate signs a token correlating the external registration with the
// login attempt.
func (g *Generator) Generate(attemptID, provider string, data map[string]any) (string, error) {
	now := g.now()
	claims := Claims{
		RegisteredClaims: jwtv5.RegisteredClaims{
			Issuer:    g.cfg.Issuer,
			Audience:  jwtv5.ClaimStrings{g.cfg.Audience},
			IssuedAt:  jwtv5.NewNumericDate(now),
			ExpiresAt: jwtv5.NewNumericDate(now.Add(g.cfg.TTL)),
		},
		AttemptID: attemptID,
		Provider:  provider,
		Data:      data,
	}
	tk := jwtv5.NewWithClaims(jwtv5.SigningMethodHS256, claims)
	signed, err := tk.SignedString(g.cfg.Secret)
	if err != nil {
		return "", fmt.Errorf("sign client token: %w", err)
	}
	return signed, nil
}

// Parse valida firma (HS256), iss, aud y exp con una pequeña tolerancia.
func (g *Generator) Parse(token string) (*Claims, error) {
	claims := &Claims{}
	tk, err := jwtv5.ParseWithClaims(token, claims,
		func(*jwtv5.Token) (any, error) { return g.cfg.Secret, nil },
		jwtv5.WithValidMethods([]string{jwtv5.SigningMethodHS256.Alg()}),
		jwtv5.WithIssuer(g.cfg.Issuer),
		jwtv5.WithAudience(g.cfg.Audience),
		jwtv5.WithExpirationRequired(),
		jwtv5.WithLeeway(leeway),
		jwtv5.WithTimeFunc(g.now),
	)
	if err != nil || !tk.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.AttemptID == "" {
		return nil, fmt.Errorf("%w: missing aid", ErrInvalidToken)
	}
	return claims, nil
}

// RedirectURL appends token to base under the configured parameter, keeping
// any query the base already has.
func (g *Generator) RedirectURL(base, token string) (string, error) {
	u, err := url.Parse(base)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidURL, base)
	}
	q := u.Query()
	q.Set(g.cfg.Param, token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
