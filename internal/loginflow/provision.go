package loginflow

import (
	"context"
	"crypto/subtle"
	"strings"
	"time"

	"github.com/dropDatabas3/fedlogin/internal/account"
	"github.com/dropDatabas3/fedlogin/internal/email"
	"github.com/dropDatabas3/fedlogin/internal/i18n"
	"github.com/dropDatabas3/fedlogin/internal/observability/logger"
	"github.com/dropDatabas3/fedlogin/internal/profile"
	"github.com/dropDatabas3/fedlogin/internal/security/password"
)

const (
	keyPasswordPrompt   = i18n.KeyPasswordPrompt
	keyActivationPrompt = i18n.KeyActivationPrompt
)

func (f *Flow) prompt(a *attempt, next Step, key, errMsg string) transition {
	return transition{
		next: next,
		result: &Result{
			Outcome: OutcomePrompt,
			Prompt:  &Prompt{Message: f.messages.Lookup(a.req.Locale, key), Error: errMsg},
		},
	}
}

func (f *Flow) violationMessage(locale string, v password.Violation) string {
	switch v {
	case password.Empty:
		return f.messages.Lookup(locale, i18n.KeyPasswordEmpty)
	case password.TooShort:
		return f.messages.Format(locale, i18n.KeyPasswordTooShort, password.MinLength)
	default:
		return f.messages.Lookup(locale, i18n.KeyPasswordMismatch)
	}
}

// setPassword validates the chosen password and emails an activation code.
func (f *Flow) setPassword(ctx context.Context, a *attempt) (transition, error) {
	cb := a.req.Callbacks
	if cb.Cancel {
		return transition{next: StepAbandon}, nil
	}
	if !cb.Submitted {
		return f.prompt(a, StepSetPassword, keyPasswordPrompt, ""), nil
	}
	if v := password.Check(cb.Password, cb.ConfirmPassword); v != password.OK {
		a.log.Debug("password rejected", logger.String("violation", string(v)))
		return f.prompt(a, StepSetPassword, keyPasswordPrompt, f.violationMessage(a.req.Locale, v)), nil
	}

	full, err := f.fullAttributes(a)
	if err != nil {
		return transition{}, fail(KindSecurity, StepSetPassword, err)
	}
	to := ""
	if f.cfg.EmailAttribute != "" {
		to = full.First(f.cfg.EmailAttribute)
	}
	if to == "" || f.email == nil {
		return transition{}, fail(KindEmail, StepSetPassword, ErrMissingEmail)
	}

	code, err := f.newCode()
	if err != nil {
		return transition{}, fail(KindInternal, StepSetPassword, err)
	}
	hash, err := f.hashPassword(cb.Password)
	if err != nil {
		return transition{}, fail(KindInternal, StepSetPassword, err)
	}

	err = f.email.SendActivation(ctx, email.ActivationMessage{
		From:   f.cfg.EmailFrom,
		To:     to,
		Code:   code,
		SMTP:   f.cfg.SMTP,
		Locale: a.req.Locale,
	})
	if err != nil {
		return transition{}, fail(KindEmail, StepSetPassword, err)
	}

	a.state.Challenge = &ActivationChallenge{
		Code:         code,
		PasswordHash: hash,
		Email:        to,
		IssuedAt:     time.Now().UTC(),
	}
	a.log.Info("activation code sent", logger.Email(to))
	return f.prompt(a, StepCreateUser, keyActivationPrompt, ""), nil
}

// CodesMatch compares a submitted activation code with the expected one.
// Surrounding whitespace of the submission is ignored; case is significant.
func CodesMatch(expected, submitted string) bool {
	if expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(strings.TrimSpace(submitted))) == 1
}

// createUser checks the activation code and provisions the account exactly
// once, on the transition out of this step.
func (f *Flow) createUser(ctx context.Context, a *attempt) (transition, error) {
	cb := a.req.Callbacks
	if cb.Cancel {
		return transition{next: StepAbandon}, nil
	}
	ch := a.state.Challenge
	if ch == nil {
		return transition{}, fail(KindSecurity, StepCreateUser, ErrMissingChallenge)
	}
	if !cb.Submitted {
		return f.prompt(a, StepCreateUser, keyActivationPrompt, ""), nil
	}
	if !CodesMatch(ch.Code, cb.ActivationCode) {
		a.log.Debug("activation code mismatch")
		msg := f.messages.Lookup(a.req.Locale, i18n.KeyActivationInvalid)
		return f.prompt(a, StepCreateUser, keyActivationPrompt, msg), nil
	}

	a.state.Challenge = nil
	username, err := f.provision(ctx, a, StepCreateUser, "password", profile.Attributes{
		account.PasswordAttribute: {ch.PasswordHash},
	})
	if err != nil {
		return transition{}, err
	}
	a.principal = username
	return transition{next: StepSucceed}, nil
}

// provision creates the directory entry. Failures are fatal: the flow never
// downgrades to another provisioning mode.
func (f *Flow) provision(ctx context.Context, a *attempt, step Step, mode string, extra profile.Attributes) (string, error) {
	attrs, err := f.provisioningAttributes(a)
	if err != nil {
		return "", fail(KindSecurity, step, err)
	}
	attrs.Merge(extra)

	username, err := f.accounts.ProvisionUser(ctx, f.cfg.Realm, attrs)
	if err != nil {
		return "", fail(KindProvisioning, step, err)
	}
	f.observer.Provisioned(f.cfg.Provider, mode)
	a.log.Info("account provisioned",
		logger.Principal(username),
		logger.Realm(f.cfg.Realm),
		logger.String("mode", mode),
	)
	return username, nil
}
