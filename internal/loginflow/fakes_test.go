package loginflow

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/dropDatabas3/fedlogin/internal/account"
	"github.com/dropDatabas3/fedlogin/internal/email"
	"github.com/dropDatabas3/fedlogin/internal/flowdata"
	"github.com/dropDatabas3/fedlogin/internal/i18n"
	"github.com/dropDatabas3/fedlogin/internal/oauth/oidcclient"
	"github.com/dropDatabas3/fedlogin/internal/profile"
	"github.com/dropDatabas3/fedlogin/internal/registration"
	"github.com/dropDatabas3/fedlogin/internal/security/password"
	"github.com/dropDatabas3/fedlogin/internal/session"
	"github.com/stretchr/testify/require"
)

const (
	testProvider = "mock"
	testRealm    = "/"
	testCode     = "ABC123"
	testClientID = "client-1"
	testIssuer   = "https://idp.example.com"
	testRegURL   = "https://register.example.com/signup"
)

var defaultProfile = `{"sub":"1122","email":"ada@example.com","name":"Ada Lovelace"}`

// fakeOAuth plays the provider: it issues a state at START and checks it on
// the callback.
type fakeOAuth struct {
	mu            sync.Mutex
	redirects     int
	postAuthCalls int
	userInfoCalls int

	subject     string
	rawProfile  string
	postAuthErr error
	userInfoErr error
}

func (f *fakeOAuth) AuthRedirect(_ context.Context, store *flowdata.Store, _ oidcclient.AuthOptions) (string, error) {
	f.mu.Lock()
	f.redirects++
	f.mu.Unlock()
	state := store.ID() + ".xyz"
	if err := store.Put(flowdata.KeyState, state); err != nil {
		return "", err
	}
	return testIssuer + "/authorize?" + url.Values{"state": {state}}.Encode(), nil
}

func (f *fakeOAuth) HandlePostAuth(_ context.Context, store *flowdata.Store, params url.Values) error {
	f.mu.Lock()
	f.postAuthCalls++
	f.mu.Unlock()
	if f.postAuthErr != nil {
		return f.postAuthErr
	}
	rec, err := store.Retrieve()
	if err != nil {
		return err
	}
	if rec.String(flowdata.KeyState) == "" || rec.String(flowdata.KeyState) != params.Get("state") {
		return oidcclient.ErrStateMismatch
	}
	delete(rec, flowdata.KeyState)
	rec[flowdata.KeyAccessToken] = "at-1"
	rec[flowdata.KeySubject] = f.subject
	rec[flowdata.KeyIDClaims] = map[string]any{"sub": f.subject, "iss": testIssuer}
	return store.Store(rec)
}

func (f *fakeOAuth) UserInfo(_ context.Context, store *flowdata.Store) (*oidcclient.UserInfo, error) {
	f.mu.Lock()
	f.userInfoCalls++
	f.mu.Unlock()
	if f.userInfoErr != nil {
		return nil, f.userInfoErr
	}
	rec, err := store.Retrieve()
	if err != nil {
		return nil, err
	}
	if rec.String(flowdata.KeyAccessToken) == "" {
		return nil, oidcclient.ErrNoAccessToken
	}
	claims, _ := rec[flowdata.KeyIDClaims].(map[string]any)
	return &oidcclient.UserInfo{Subject: f.subject, RawProfile: json.RawMessage(f.rawProfile), Claims: claims}, nil
}

type fakeEmail struct {
	mu   sync.Mutex
	sent []email.ActivationMessage
	err  error
}

func (f *fakeEmail) SendActivation(_ context.Context, msg email.ActivationMessage) error {
	if f.err != nil {
		return errors.Join(email.ErrNoEmailSent, f.err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return nil
}

type recordingObserver struct {
	mu          sync.Mutex
	transitions []string
	outcomes    []Outcome
	provisioned []string
}

func (o *recordingObserver) Transition(_ string, from, to Step) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.transitions = append(o.transitions, string(from)+">"+string(to))
}

func (o *recordingObserver) Outcome(_ string, out Outcome) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, out)
}

func (o *recordingObserver) Provisioned(_ string, mode string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.provisioned = append(o.provisioned, mode)
}

func (o *recordingObserver) StepDone(string, Step, time.Duration) {}

type harness struct {
	t       require.TestingT
	flow    *Flow
	carrier *session.Map
	oauth   *fakeOAuth
	mail    *fakeEmail
	dir     *account.Memory
	tokens  *registration.Generator
	obs     *recordingObserver
	locale  string
}

type harnessOpt func(*Config, *Deps)

func withMixUp(clientID, issuer string) harnessOpt {
	return func(_ *Config, d *Deps) {
		d.Strategy = NewRedirectStrategy(d.OAuth, MixUpConfig{Enabled: true, ClientID: clientID, Issuer: issuer})
	}
}

func withHeaderStrategy() harnessOpt {
	return func(_ *Config, d *Deps) { d.Strategy = NewHeaderTokenStrategy("") }
}

func newHarness(t require.TestingT, opts ...harnessOpt) *harness {
	oauth := &fakeOAuth{subject: "1122", rawProfile: defaultProfile}
	mail := &fakeEmail{}
	dir := account.NewMemory(account.WithRealms(testRealm))
	tokens, err := registration.NewGenerator(registration.Config{Secret: []byte(strings.Repeat("s", registration.MinSecretLen))})
	require.NoError(t, err)
	norm, err := profile.NewNormalizer(
		profile.MapperConfig{Prefix: "mock-", Mappings: map[string]string{"sub": "uid"}},
		profile.MapperConfig{Mappings: map[string]string{"email": "mail", "name": "cn"}},
	)
	require.NoError(t, err)
	obs := &recordingObserver{}
	fastHash := password.Params{Memory: 1024, Time: 1, Parallelism: 1, KeyLen: 16}

	cfg := Config{
		Provider:       testProvider,
		Realm:          testRealm,
		EmailAttribute: "mail",
		EmailFrom:      "noreply@example.com",
		SMTP:           email.SMTPConfig{Host: "smtp.example.com"},
	}
	d := Deps{
		OAuth:        oauth,
		Normalizer:   norm,
		Accounts:     dir,
		Email:        mail,
		Tokens:       tokens,
		Messages:     i18n.Default(),
		Observer:     obs,
		NewCode:      func() (string, error) { return testCode, nil },
		HashPassword: func(pw string) (string, error) { return password.Hash(fastHash, pw) },
	}
	d.Strategy = NewRedirectStrategy(oauth, MixUpConfig{})
	for _, o := range opts {
		o(&cfg, &d)
	}
	d.Config = cfg

	flow, err := New(d)
	require.NoError(t, err)
	return &harness{
		t: t, flow: flow, carrier: session.NewMap(nil),
		oauth: oauth, mail: mail, dir: dir, tokens: tokens, obs: obs,
		locale: "en",
	}
}

func (h *harness) process(params url.Values, cb Callbacks) (Result, error) {
	if params == nil {
		params = url.Values{}
	}
	return h.flow.Process(context.Background(), h.carrier, Request{Params: params, Callbacks: cb, Locale: h.locale})
}

// start runs START and returns the provider callback parameters a
// successful authorization would produce.
func (h *harness) start() url.Values {
	res, err := h.process(nil, Callbacks{})
	require.NoError(h.t, err)
	require.Equal(h.t, OutcomeRedirect, res.Outcome)
	require.Equal(h.t, StepToken, res.Step)
	u, err := url.Parse(res.RedirectURL)
	require.NoError(h.t, err)
	return url.Values{"code": {"good-code"}, "state": {u.Query().Get("state")}}
}

func (h *harness) login() (Result, error) {
	return h.process(h.start(), Callbacks{})
}

func (h *harness) submitPassword(pw, confirm string) (Result, error) {
	return h.process(nil, Callbacks{Submitted: true, Password: pw, ConfirmPassword: confirm})
}

func (h *harness) submitCode(code string) (Result, error) {
	return h.process(nil, Callbacks{Submitted: true, ActivationCode: code})
}

func (h *harness) state() *FlowState {
	st, err := loadState(h.carrier, testProvider)
	require.NoError(h.t, err)
	return st
}

func createLocally(prompt bool) harnessOpt {
	return func(c *Config, _ *Deps) {
		c.CreateAccount = true
		c.PromptPassword = prompt
	}
}

func delegate() harnessOpt {
	return func(c *Config, _ *Deps) {
		c.CreateAccount = true
		c.RegistrationURL = testRegURL
	}
}
