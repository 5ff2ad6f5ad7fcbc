package loginflow

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/url"

	"github.com/dropDatabas3/fedlogin/internal/account"
	"github.com/dropDatabas3/fedlogin/internal/email"
	"github.com/dropDatabas3/fedlogin/internal/flowdata"
	"github.com/dropDatabas3/fedlogin/internal/i18n"
	"github.com/dropDatabas3/fedlogin/internal/oauth/oidcclient"
	"github.com/dropDatabas3/fedlogin/internal/profile"
	"github.com/dropDatabas3/fedlogin/internal/registration"
	"github.com/dropDatabas3/fedlogin/internal/security/password"
	"github.com/google/uuid"
)

// OAuthClient is the protocol client. *oidcclient.Client implements it.
type OAuthClient interface {
	AuthRedirect(ctx context.Context, store *flowdata.Store, opts oidcclient.AuthOptions) (string, error)
	HandlePostAuth(ctx context.Context, store *flowdata.Store, params url.Values) error
	UserInfo(ctx context.Context, store *flowdata.Store) (*oidcclient.UserInfo, error)
}

// ClientTokens signs the hand-off to the external registration service.
// *registration.Generator implements it.
type ClientTokens interface {
	Generate(attemptID, provider string, data map[string]any) (string, error)
	Parse(token string) (*registration.Claims, error)
	RedirectURL(base, token string) (string, error)
	Param() string
}

// Localizer is the read-only message lookup. *i18n.Bundle implements it.
type Localizer interface {
	Lookup(locale, key string) string
	Format(locale, key string, args ...any) string
}

// Config is the per-provider behaviour of the flow.
type Config struct {
	Provider string
	Realm    string

	CreateAccount     bool
	PromptPassword    bool
	RegistrationURL   string
	AnonymousUser     string
	UsernameAttribute string

	EmailAttribute string
	EmailFrom      string
	SMTP           email.SMTPConfig

	SaveAttributesInSession bool
}

func (c Config) policy() Policy {
	return Policy{
		CreateAccount:     c.CreateAccount,
		RegistrationURL:   c.RegistrationURL,
		PromptPassword:    c.PromptPassword,
		AnonymousUser:     c.AnonymousUser,
		UsernameAttribute: c.UsernameAttribute,
	}
}

// Deps are the collaborators of a Flow.
type Deps struct {
	Config     Config
	Strategy   TokenStrategy
	OAuth      OAuthClient
	Normalizer *profile.Normalizer
	Accounts   account.Provider
	Email      email.Sender
	Tokens     ClientTokens
	Messages   Localizer
	Observer   Observer

	// Hooks for tests. Zero values use the production implementations.
	NewAttemptID func() string
	NewCode      func() (string, error)
	HashPassword func(string) (string, error)
}

// Flow runs the state machine for one provider.
type Flow struct {
	cfg        Config
	strategy   TokenStrategy
	oauth      OAuthClient
	normalizer *profile.Normalizer
	accounts   account.Provider
	email      email.Sender
	tokens     ClientTokens
	messages   Localizer
	observer   Observer

	newAttemptID func() string
	newCode      func() (string, error)
	hashPassword func(string) (string, error)

	handlers map[Step]handler
}

// New validates d and returns a Flow. Configuration problems surface here,
// before any user reaches the flow.
func New(d Deps) (*Flow, error) {
	cfg := d.Config
	var errs []error
	if cfg.Provider == "" {
		errs = append(errs, errors.New("provider name required"))
	}
	if cfg.Realm == "" {
		errs = append(errs, errors.New("realm required"))
	}
	if d.Strategy == nil {
		errs = append(errs, errors.New("token strategy required"))
	}
	if d.OAuth == nil {
		errs = append(errs, errors.New("oauth client required"))
	}
	if d.Normalizer == nil {
		errs = append(errs, errors.New("profile normalizer required"))
	}
	if d.Accounts == nil {
		errs = append(errs, errors.New("account provider required"))
	}
	if cfg.CreateAccount && cfg.RegistrationURL != "" && d.Tokens == nil {
		errs = append(errs, errors.New("delegated provisioning needs a client token generator"))
	}
	if cfg.CreateAccount && cfg.RegistrationURL == "" && cfg.PromptPassword {
		if d.Email == nil {
			errs = append(errs, errors.New("password challenge needs an email sender"))
		}
		if cfg.EmailAttribute == "" {
			errs = append(errs, errors.New("password challenge needs email_attribute"))
		}
		if cfg.EmailFrom == "" {
			errs = append(errs, errors.New("password challenge needs email_from"))
		}
		if cfg.SMTP.Host == "" {
			errs = append(errs, errors.New("password challenge needs an smtp host"))
		}
	}
	if len(errs) > 0 {
		return nil, fail(KindConfiguration, StepStart, errors.Join(errs...))
	}

	f := &Flow{
		cfg:          cfg,
		strategy:     d.Strategy,
		oauth:        d.OAuth,
		normalizer:   d.Normalizer,
		accounts:     d.Accounts,
		email:        d.Email,
		tokens:       d.Tokens,
		messages:     d.Messages,
		observer:     d.Observer,
		newAttemptID: d.NewAttemptID,
		newCode:      d.NewCode,
		hashPassword: d.HashPassword,
	}
	if f.messages == nil {
		f.messages = i18n.Default()
	}
	if f.observer == nil {
		f.observer = nopObserver{}
	}
	if f.newAttemptID == nil {
		f.newAttemptID = uuid.NewString
	}
	if f.newCode == nil {
		f.newCode = func() (string, error) { return ActivationCode(ActivationCodeLength) }
	}
	if f.hashPassword == nil {
		f.hashPassword = func(pw string) (string, error) { return password.Hash(password.Default, pw) }
	}
	f.handlers = f.dispatchTable()
	return f, nil
}

// Provider returns the provider name this flow serves.
func (f *Flow) Provider() string { return f.cfg.Provider }

// Callbacks are the user's answers to a prompt.
type Callbacks struct {
	// Submitted is false when the request only re-displays the prompt.
	Submitted       bool
	Password        string
	ConfirmPassword string
	ActivationCode  string
	Cancel          bool
}

// Request is one inbound request as seen by the flow.
type Request struct {
	Params    url.Values
	Header    http.Header
	Callbacks Callbacks
	Locale    string
}

// Outcome of one Process call.
type Outcome string

const (
	OutcomeRedirect Outcome = "redirect"
	OutcomePrompt   Outcome = "prompt"
	OutcomeSuccess  Outcome = "success"
	OutcomeAbandon  Outcome = "abandon"
	OutcomeError    Outcome = "error"
)

// Prompt asks the user for input at Step. Error holds at most one localized
// validation message.
type Prompt struct {
	Message string
	Error   string
}

// Result is what the caller renders.
type Result struct {
	Outcome     Outcome
	Step        Step
	RedirectURL string
	Prompt      *Prompt
	// Principal is set on success.
	Principal         string
	Anonymous         bool
	SessionProperties map[string]string
}

const (
	ActivationCodeLength   = 8
	activationCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
)

// ActivationCode returns n characters drawn uniformly from an alphabet
// without look-alike characters.
func ActivationCode(n int) (string, error) {
	max := big.NewInt(int64(len(activationCodeAlphabet)))
	b := make([]byte, n)
	for i := range b {
		v, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("activation code: %w", err)
		}
		b[i] = activationCodeAlphabet[v.Int64()]
	}
	return string(b), nil
}
