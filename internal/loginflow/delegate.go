package loginflow

import (
	"context"
	"encoding/json"

	"github.com/dropDatabas3/fedlogin/internal/account"
	"github.com/dropDatabas3/fedlogin/internal/flowdata"
)

// Keys never handed to the external registration service.
var secretKeys = map[string]bool{
	flowdata.KeyAccessToken:  true,
	flowdata.KeyRefreshToken: true,
	flowdata.KeyIDToken:      true,
	flowdata.KeyPKCEVerifier: true,
	flowdata.KeyState:        true,
	flowdata.KeyNonce:        true,
}

func handoffData(rec flowdata.Record) map[string]any {
	out := make(map[string]any, len(rec))
	for k, v := range rec {
		if secretKeys[k] {
			continue
		}
		if k == flowdata.KeyRawProfile {
			if s, ok := v.(string); ok && json.Valid([]byte(s)) {
				v = json.RawMessage(s)
			}
		}
		out[k] = v
	}
	return out
}

// delegatedRedirect signs the flow data and sends the user to the external
// registration service. The next request for this attempt resumes at RESUME.
func (f *Flow) delegatedRedirect(ctx context.Context, a *attempt) (transition, error) {
	rec, err := a.store.Retrieve()
	if err != nil {
		return transition{}, fail(KindInternal, StepDelegatedRedirect, err)
	}
	tok, err := f.tokens.Generate(a.state.AttemptID, f.cfg.Provider, handoffData(rec))
	if err != nil {
		return transition{}, fail(KindInternal, StepDelegatedRedirect, err)
	}
	u, err := f.tokens.RedirectURL(f.cfg.RegistrationURL, tok)
	if err != nil {
		return transition{}, fail(KindConfiguration, StepDelegatedRedirect, err)
	}
	a.log.Info("delegating provisioning to registration service")
	return transition{
		next:   StepResume,
		result: &Result{Outcome: OutcomeRedirect, RedirectURL: u},
	}, nil
}

// resume runs account resolution again once the registration service sends
// the user back.
func (f *Flow) resume(ctx context.Context, a *attempt) (transition, error) {
	if f.tokens != nil {
		if tok := a.req.Params.Get(f.tokens.Param()); tok != "" {
			claims, err := f.tokens.Parse(tok)
			if err != nil {
				return transition{}, fail(KindSecurity, StepResume, err)
			}
			if claims.AttemptID != a.state.AttemptID || claims.Provider != f.cfg.Provider {
				return transition{}, fail(KindSecurity, StepResume, ErrAttemptMismatch)
			}
		}
	}

	acct, err := f.accountAttributes(a)
	if err != nil {
		return transition{}, fail(KindSecurity, StepResume, err)
	}
	username, found, err := account.Resolve(ctx, f.cfg.Realm, f.accounts, acct)
	if err != nil {
		return transition{}, directoryError(StepResume, err)
	}
	if !found {
		return transition{}, fail(KindNoUserMapped, StepResume, ErrNoUserMapped)
	}
	a.principal = username
	return transition{next: StepSucceed}, nil
}
