package loginflow

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"testing"

	"github.com/dropDatabas3/fedlogin/internal/account"
	"github.com/dropDatabas3/fedlogin/internal/email"
	"github.com/dropDatabas3/fedlogin/internal/flowdata"
	"github.com/dropDatabas3/fedlogin/internal/mixup"
	"github.com/dropDatabas3/fedlogin/internal/profile"
	"github.com/dropDatabas3/fedlogin/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func requireKind(t require.TestingT, err error, want Kind) {
	require.Error(t, err)
	got, ok := KindOf(err)
	require.True(t, ok, "not a FlowError: %v", err)
	require.Equal(t, want, got, "error: %v", err)
}

func TestStart_RedirectsAndStoresState(t *testing.T) {
	h := newHarness(t)
	params := h.start()

	st := h.state()
	require.NotNil(t, st)
	require.Equal(t, StepToken, st.Step)
	require.Equal(t, testProvider, st.Provider)
	require.Contains(t, params.Get("state"), st.AttemptID)
	require.Equal(t, 1, h.oauth.redirects)
}

func TestExistingUserSucceeds(t *testing.T) {
	h := newHarness(t)
	h.dir.Add(testRealm, "ada", profile.Attributes{"uid": {"mock-1122"}})

	res, err := h.login()
	require.NoError(t, err)
	require.Equal(t, OutcomeSuccess, res.Outcome)
	require.Equal(t, StepSucceed, res.Step)
	require.Equal(t, "ada", res.Principal)
	require.False(t, res.Anonymous)
	require.Nil(t, h.state(), "terminal step clears the state")
	require.Zero(t, h.dir.Provisioned())
	require.Equal(t, []Outcome{OutcomeRedirect, OutcomeSuccess}, h.obs.outcomes)
	require.Equal(t, []string{"START>TOKEN", "TOKEN>SUCCEED"}, h.obs.transitions)
}

func TestExistingUserSucceeds_BindsExactlyResolvedUsername(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		username := rapid.StringMatching(`u[a-z0-9._-]{0,20}`).Draw(t, "username")
		subject := rapid.StringMatching(`[0-9]{1,12}`).Draw(t, "subject")

		h := newHarness(t)
		h.oauth.subject = subject
		h.oauth.rawProfile = `{"sub":"` + subject + `"}`
		h.dir.Add(testRealm, "decoy", profile.Attributes{"uid": {"mock-x" + subject}})
		h.dir.Add(testRealm, username, profile.Attributes{"uid": {"mock-" + subject}})

		res, err := h.login()
		require.NoError(t, err)
		require.Equal(t, OutcomeSuccess, res.Outcome)
		require.Equal(t, username, res.Principal)
	})
}

func TestSessionProperties(t *testing.T) {
	h := newHarness(t, func(c *Config, _ *Deps) { c.SaveAttributesInSession = true })
	h.oauth.rawProfile = `{"sub":"1122","email":["a@x.com","b@x.com"],"name":"Ada"}`
	h.dir.Add(testRealm, "ada", profile.Attributes{"uid": {"mock-1122"}})

	res, err := h.login()
	require.NoError(t, err)
	require.Equal(t, map[string]string{
		PropProvider:            testProvider,
		PropAttemptID:           res.SessionProperties[PropAttemptID],
		PropSubject:             "1122",
		PropAccessToken:         "at-1",
		PropAttrPrefix + "mail": "a@x.com|b@x.com",
		PropAttrPrefix + "cn":   "Ada",
	}, res.SessionProperties)
	require.NotEmpty(t, res.SessionProperties[PropAttemptID])
}

func TestMixUp_RejectsBeforeExchange(t *testing.T) {
	h := newHarness(t, withMixUp(testClientID, testIssuer))
	h.dir.Add(testRealm, "ada", profile.Attributes{"uid": {"mock-1122"}})

	params := h.start()
	params.Set("client_id", "someone-else")
	params.Set("iss", testIssuer)

	_, err := h.process(params, Callbacks{})
	requireKind(t, err, KindSecurity)
	require.ErrorIs(t, err, mixup.ErrMixUpViolation)
	require.Zero(t, h.oauth.postAuthCalls, "token exchange must not happen")
	require.Zero(t, h.oauth.userInfoCalls)
	require.Nil(t, h.state())
}

func TestMixUp_MissingIssuerIsFatal(t *testing.T) {
	h := newHarness(t, withMixUp(testClientID, testIssuer))
	params := h.start()
	params.Set("client_id", testClientID)

	_, err := h.process(params, Callbacks{})
	require.ErrorIs(t, err, mixup.ErrMixUpViolation)
	require.Zero(t, h.oauth.postAuthCalls)
}

func TestMixUp_MatchingParametersPass(t *testing.T) {
	h := newHarness(t, withMixUp(testClientID, testIssuer))
	h.dir.Add(testRealm, "ada", profile.Attributes{"uid": {"mock-1122"}})
	params := h.start()
	params.Set("client_id", testClientID)
	params.Set("iss", testIssuer)

	res, err := h.process(params, Callbacks{})
	require.NoError(t, err)
	require.Equal(t, "ada", res.Principal)
}

func TestToken_ProviderFailuresAreSecurityErrors(t *testing.T) {
	t.Run("exchange", func(t *testing.T) {
		h := newHarness(t)
		h.oauth.postAuthErr = errors.New("invalid_grant")
		_, err := h.login()
		requireKind(t, err, KindSecurity)
	})
	t.Run("userinfo", func(t *testing.T) {
		h := newHarness(t)
		h.oauth.userInfoErr = errors.New("timeout")
		_, err := h.login()
		requireKind(t, err, KindSecurity)
	})
	t.Run("forged state", func(t *testing.T) {
		h := newHarness(t)
		params := h.start()
		params.Set("state", "forged")
		_, err := h.process(params, Callbacks{})
		requireKind(t, err, KindSecurity)
	})
}

func TestToken_NormalizationErrorIsFatal(t *testing.T) {
	h := newHarness(t)
	h.oauth.rawProfile = `{"email":"ada@example.com"}`
	h.oauth.subject = ""

	_, err := h.login()
	requireKind(t, err, KindSecurity)
	require.ErrorIs(t, err, profile.ErrNormalization)
	require.Nil(t, h.state())
}

func TestToken_RestartsWhenNotACallback(t *testing.T) {
	h := newHarness(t)
	h.start()
	first := h.state().AttemptID

	res, err := h.process(nil, Callbacks{})
	require.NoError(t, err)
	require.Equal(t, OutcomeRedirect, res.Outcome)
	require.NotEqual(t, first, h.state().AttemptID)
	require.Equal(t, 2, h.oauth.redirects)
}

func TestReject(t *testing.T) {
	h := newHarness(t)
	_, err := h.login()
	requireKind(t, err, KindRejected)
	require.ErrorIs(t, err, ErrRejected)
	require.Equal(t, OutcomeError, h.obs.outcomes[len(h.obs.outcomes)-1])
}

func TestAnonymousFallback(t *testing.T) {
	h := newHarness(t, func(c *Config, _ *Deps) { c.AnonymousUser = "anon" })

	res, err := h.login()
	require.NoError(t, err)
	require.Equal(t, OutcomeSuccess, res.Outcome)
	require.Equal(t, "anon", res.Principal)
	require.True(t, res.Anonymous)
	require.Equal(t, "true", res.SessionProperties[PropAnonymous])
	require.Zero(t, h.dir.Provisioned())
	require.Empty(t, h.obs.provisioned)
}

func TestMappedUsernameFromProfile(t *testing.T) {
	h := newHarness(t, func(c *Config, _ *Deps) { c.UsernameAttribute = "mail" })

	res, err := h.login()
	require.NoError(t, err)
	require.Equal(t, "ada@example.com", res.Principal)
	require.Zero(t, h.dir.Provisioned())
}

func TestSilentProvisioning(t *testing.T) {
	h := newHarness(t, createLocally(false))

	res, err := h.login()
	require.NoError(t, err)
	require.Equal(t, OutcomeSuccess, res.Outcome)
	require.Equal(t, "mock-1122", res.Principal)
	require.Equal(t, 1, h.dir.Provisioned())
	require.Equal(t, []string{"silent"}, h.obs.provisioned)

	attrs, ok := h.dir.Lookup(testRealm, "mock-1122")
	require.True(t, ok)
	require.Equal(t, []string{"ada@example.com"}, attrs["mail"])
	require.Empty(t, attrs[account.PasswordAttribute])

	// a second login finds the account instead of provisioning again
	res, err = h.login()
	require.NoError(t, err)
	require.Equal(t, "mock-1122", res.Principal)
	require.Equal(t, 1, h.dir.Provisioned())
}

func TestSilentProvisioning_DirectoryFailureIsFatal(t *testing.T) {
	h := newHarness(t, createLocally(false), func(c *Config, _ *Deps) { c.Realm = "/other" })
	_, err := h.login()
	// the realm is rejected on lookup already
	requireKind(t, err, KindConfiguration)
	require.ErrorIs(t, err, account.ErrInvalidRealm)
}

func TestSilentProvisioning_ProvisionFailure(t *testing.T) {
	dir := account.NewMemory(account.WithRequired("telephoneNumber"))
	h := newHarness(t, createLocally(false), func(_ *Config, d *Deps) { d.Accounts = dir })

	_, err := h.login()
	requireKind(t, err, KindProvisioning)
	require.ErrorIs(t, err, account.ErrMissingAttributes)
}

func TestPasswordChallenge_Validation(t *testing.T) {
	h := newHarness(t, createLocally(true))

	res, err := h.login()
	require.NoError(t, err)
	require.Equal(t, OutcomePrompt, res.Outcome)
	require.Equal(t, StepSetPassword, res.Step)
	require.Equal(t, "Choose a password for your new account", res.Prompt.Message)
	require.Empty(t, res.Prompt.Error)

	cases := []struct {
		pw, confirm, wantErr string
	}{
		{"short1", "short1", "The password must be at least 8 characters long"},
		{"password1", "password2", "The password and its confirmation do not match"},
		{"", "", "The password must not be empty"},
	}
	for _, tc := range cases {
		res, err := h.submitPassword(tc.pw, tc.confirm)
		require.NoError(t, err)
		require.Equal(t, StepSetPassword, res.Step, "password %q", tc.pw)
		require.Equal(t, tc.wantErr, res.Prompt.Error)
	}
	require.Empty(t, h.mail.sent)

	// a re-display without submission carries no error
	res, err = h.process(nil, Callbacks{})
	require.NoError(t, err)
	require.Equal(t, StepSetPassword, res.Step)
	require.Empty(t, res.Prompt.Error)

	res, err = h.submitPassword("password1", "password1")
	require.NoError(t, err)
	require.Equal(t, OutcomePrompt, res.Outcome)
	require.Equal(t, StepCreateUser, res.Step)
	require.Len(t, h.mail.sent, 1)
	require.Equal(t, email.ActivationMessage{
		From:   "noreply@example.com",
		To:     "ada@example.com",
		Code:   testCode,
		SMTP:   email.SMTPConfig{Host: "smtp.example.com"},
		Locale: "en",
	}, h.mail.sent[0])

	st := h.state()
	require.NotNil(t, st.Challenge)
	require.Equal(t, testCode, st.Challenge.Code)
	require.NotContains(t, st.Challenge.PasswordHash, "password1")
}

func TestPasswordChallenge_LocalizedErrors(t *testing.T) {
	h := newHarness(t, createLocally(true))
	h.locale = "es-AR"
	_, err := h.login()
	require.NoError(t, err)

	res, err := h.submitPassword("short1", "short1")
	require.NoError(t, err)
	require.Equal(t, "La contraseña debe tener al menos 8 caracteres", res.Prompt.Error)
}

func TestActivationCode_RoundTrip(t *testing.T) {
	h := newHarness(t, createLocally(true))
	_, err := h.login()
	require.NoError(t, err)
	_, err = h.submitPassword("password1", "password1")
	require.NoError(t, err)

	// case differs: rejected, same step, code not leaked
	res, err := h.submitCode(" abc123 ")
	require.NoError(t, err)
	require.Equal(t, OutcomePrompt, res.Outcome)
	require.Equal(t, StepCreateUser, res.Step)
	require.Equal(t, "The activation code is not valid", res.Prompt.Error)
	require.NotContains(t, res.Prompt.Error, testCode)
	require.NotContains(t, res.Prompt.Message, testCode)
	require.Zero(t, h.dir.Provisioned())

	// surrounding whitespace is ignored
	res, err = h.submitCode("  ABC123\n")
	require.NoError(t, err)
	require.Equal(t, OutcomeSuccess, res.Outcome)
	require.Equal(t, "mock-1122", res.Principal)
	require.Equal(t, 1, h.dir.Provisioned())
	require.Equal(t, []string{"password"}, h.obs.provisioned)

	attrs, ok := h.dir.Lookup(testRealm, "mock-1122")
	require.True(t, ok)
	require.Len(t, attrs[account.PasswordAttribute], 1)
	require.Contains(t, attrs[account.PasswordAttribute][0], "$argon2id$")
}

func TestActivationCode_SecondSubmissionDoesNotProvisionAgain(t *testing.T) {
	h := newHarness(t, createLocally(true))
	_, err := h.login()
	require.NoError(t, err)
	_, err = h.submitPassword("password1", "password1")
	require.NoError(t, err)

	res, err := h.submitCode(testCode)
	require.NoError(t, err)
	require.Equal(t, OutcomeSuccess, res.Outcome)

	// the attempt is over; the same submission starts a new attempt
	res, err = h.submitCode(testCode)
	require.NoError(t, err)
	require.Equal(t, OutcomeRedirect, res.Outcome)
	require.Equal(t, 1, h.dir.Provisioned())
}

func TestPasswordChallenge_Cancel(t *testing.T) {
	for _, atCreateUser := range []bool{false, true} {
		h := newHarness(t, createLocally(true))
		_, err := h.login()
		require.NoError(t, err)
		if atCreateUser {
			_, err = h.submitPassword("password1", "password1")
			require.NoError(t, err)
		}

		res, err := h.process(nil, Callbacks{Submitted: true, Cancel: true})
		require.NoError(t, err)
		require.Equal(t, OutcomeAbandon, res.Outcome)
		require.Equal(t, StepAbandon, res.Step)
		require.Nil(t, h.state())
		require.Zero(t, h.dir.Provisioned())
	}
}

func TestPasswordChallenge_EmailFailures(t *testing.T) {
	t.Run("attribute absent from profile", func(t *testing.T) {
		h := newHarness(t, createLocally(true))
		h.oauth.rawProfile = `{"sub":"1122"}`
		_, err := h.login()
		require.NoError(t, err)

		_, err = h.submitPassword("password1", "password1")
		requireKind(t, err, KindEmail)
		require.ErrorIs(t, err, ErrMissingEmail)
		require.Nil(t, h.state())
	})

	t.Run("send fails", func(t *testing.T) {
		h := newHarness(t, createLocally(true))
		h.mail.err = errors.New("dial tcp: refused")
		_, err := h.login()
		require.NoError(t, err)

		_, err = h.submitPassword("password1", "password1")
		requireKind(t, err, KindEmail)
		require.ErrorIs(t, err, email.ErrNoEmailSent)
		require.Nil(t, h.state())
	})
}

func TestDelegation_RoundTrip(t *testing.T) {
	h := newHarness(t, delegate())

	res, err := h.login()
	require.NoError(t, err)
	require.Equal(t, OutcomeRedirect, res.Outcome)
	require.Equal(t, StepResume, res.Step)
	require.Equal(t, StepResume, h.state().Step)

	u, err := url.Parse(res.RedirectURL)
	require.NoError(t, err)
	require.Equal(t, "register.example.com", u.Host)
	tok := u.Query().Get(h.tokens.Param())
	require.NotEmpty(t, tok)

	claims, err := h.tokens.Parse(tok)
	require.NoError(t, err)
	require.Equal(t, h.state().AttemptID, claims.AttemptID)
	require.Equal(t, testProvider, claims.Provider)
	require.Equal(t, "1122", claims.Data[flowdata.KeySubject])
	require.NotContains(t, claims.Data, flowdata.KeyAccessToken)
	require.NotContains(t, claims.Data, flowdata.KeyState)

	// the registration service created the user
	h.dir.Add(testRealm, "ada.registered", profile.Attributes{"uid": {"mock-1122"}})

	res, err = h.process(url.Values{h.tokens.Param(): {tok}}, Callbacks{})
	require.NoError(t, err)
	require.Equal(t, OutcomeSuccess, res.Outcome)
	require.Equal(t, "ada.registered", res.Principal)
	require.Zero(t, h.dir.Provisioned())
	require.Nil(t, h.state())
}

func TestDelegation_NoUserMapped(t *testing.T) {
	h := newHarness(t, delegate())
	res, err := h.login()
	require.NoError(t, err)
	u, _ := url.Parse(res.RedirectURL)

	_, err = h.process(u.Query(), Callbacks{})
	requireKind(t, err, KindNoUserMapped)
	require.ErrorIs(t, err, ErrNoUserMapped)
	require.Nil(t, h.state())
}

func TestDelegation_TokenFromAnotherAttempt(t *testing.T) {
	h := newHarness(t, delegate())
	_, err := h.login()
	require.NoError(t, err)

	other, err := h.tokens.Generate("another-attempt", testProvider, nil)
	require.NoError(t, err)
	h.dir.Add(testRealm, "ada", profile.Attributes{"uid": {"mock-1122"}})

	_, err = h.process(url.Values{h.tokens.Param(): {other}}, Callbacks{})
	requireKind(t, err, KindSecurity)
	require.ErrorIs(t, err, ErrAttemptMismatch)
}

func TestDelegation_TamperedToken(t *testing.T) {
	h := newHarness(t, delegate())
	_, err := h.login()
	require.NoError(t, err)

	_, err = h.process(url.Values{h.tokens.Param(): {"eyJhbGciOiJIUzI1NiJ9.e30.bad"}}, Callbacks{})
	requireKind(t, err, KindSecurity)
}

func TestHeaderStrategy(t *testing.T) {
	h := newHarness(t, withHeaderStrategy())
	h.dir.Add(testRealm, "ada", profile.Attributes{"uid": {"mock-1122"}})

	hdr := http.Header{}
	hdr.Set(DefaultTokenHeader, "Bearer mobile-token")
	res, err := h.flow.Process(context.Background(), h.carrier, Request{Params: url.Values{}, Header: hdr})
	require.NoError(t, err)
	require.Equal(t, OutcomeSuccess, res.Outcome)
	require.Equal(t, "ada", res.Principal)
	require.Equal(t, "mobile-token", res.SessionProperties[PropAccessToken])
	require.Zero(t, h.oauth.redirects)
	require.Zero(t, h.oauth.postAuthCalls)
}

func TestHeaderStrategy_MissingHeader(t *testing.T) {
	h := newHarness(t, withHeaderStrategy())
	_, err := h.flow.Process(context.Background(), h.carrier, Request{Params: url.Values{}, Header: http.Header{}})
	requireKind(t, err, KindSecurity)
	require.ErrorIs(t, err, ErrMissingToken)
}

func TestUnknownStepIsFatal(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, saveState(h.carrier, &FlowState{Step: "BOGUS", Provider: testProvider, AttemptID: "a1"}))

	_, err := h.process(nil, Callbacks{})
	requireKind(t, err, KindInternal)
	require.ErrorIs(t, err, ErrUnknownStep)
	require.Nil(t, h.state())
}

func TestCorruptStateStartsOver(t *testing.T) {
	h := newHarness(t)
	h.carrier.Put(stateKey(testProvider), "{not json")

	res, err := h.process(nil, Callbacks{})
	require.NoError(t, err)
	require.Equal(t, OutcomeRedirect, res.Outcome)
}

func TestCreateUserWithoutChallenge(t *testing.T) {
	h := newHarness(t, createLocally(true))
	require.NoError(t, saveState(h.carrier, &FlowState{Step: StepCreateUser, Provider: testProvider, AttemptID: "a1"}))

	_, err := h.submitCode(testCode)
	requireKind(t, err, KindSecurity)
	require.ErrorIs(t, err, ErrMissingChallenge)
}

func TestConcurrentProvidersDoNotCollide(t *testing.T) {
	a := newHarness(t)
	b := newHarness(t, func(c *Config, _ *Deps) { c.Provider = "other" })
	shared := session.NewMap(nil)
	a.carrier, b.carrier = shared, shared
	a.dir.Add(testRealm, "ada", profile.Attributes{"uid": {"mock-1122"}})

	pa := a.start()
	pb := b.start()
	require.NotEqual(t, pa.Get("state"), pb.Get("state"))

	res, err := a.process(pa, Callbacks{})
	require.NoError(t, err)
	require.Equal(t, "ada", res.Principal)

	st, err := loadState(shared, "other")
	require.NoError(t, err)
	require.NotNil(t, st)
	require.Equal(t, StepToken, st.Step)
}

func TestProcess_NilCarrier(t *testing.T) {
	h := newHarness(t)
	_, err := h.flow.Process(context.Background(), nil, Request{})
	requireKind(t, err, KindConfiguration)
}

func TestNew_ConfigurationErrors(t *testing.T) {
	_, err := New(Deps{})
	requireKind(t, err, KindConfiguration)

	h := newHarness(t)
	base := Deps{
		Strategy:   h.flow.strategy,
		OAuth:      h.oauth,
		Normalizer: h.flow.normalizer,
		Accounts:   h.dir,
	}

	d := base
	d.Config = Config{Provider: "p", Realm: "/", CreateAccount: true, RegistrationURL: testRegURL}
	_, err = New(d)
	requireKind(t, err, KindConfiguration)

	d = base
	d.Config = Config{Provider: "p", Realm: "/", CreateAccount: true, PromptPassword: true}
	_, err = New(d)
	requireKind(t, err, KindConfiguration)
	assert.Contains(t, err.Error(), "email_attribute")

	d = base
	d.Config = Config{Provider: "p", Realm: "/"}
	_, err = New(d)
	require.NoError(t, err)
}
