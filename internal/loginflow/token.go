package loginflow

import (
	"context"

	"github.com/dropDatabas3/fedlogin/internal/account"
	"github.com/dropDatabas3/fedlogin/internal/flowdata"
	"github.com/dropDatabas3/fedlogin/internal/observability/logger"
)

// token acquires the access token, fetches and normalizes the profile,
// resolves the account and acts on the provisioning decision.
func (f *Flow) token(ctx context.Context, a *attempt) (transition, error) {
	if err := f.strategy.Acquire(ctx, a.store, a.req); err != nil {
		return transition{}, fail(KindSecurity, StepToken, err)
	}

	ui, err := f.oauth.UserInfo(ctx, a.store)
	if err != nil {
		return transition{}, fail(KindSecurity, StepToken, err)
	}

	update := flowdata.Record{
		flowdata.KeyRawProfile: string(ui.RawProfile),
		flowdata.KeySubject:    ui.Subject,
	}
	if ui.Claims != nil {
		update[flowdata.KeyIDClaims] = ui.Claims
	}
	kept, err := a.store.Merge(update)
	if err != nil {
		return transition{}, fail(KindInternal, StepToken, err)
	}
	if len(kept) > 0 {
		a.log.Debug("flow data kept from previous step", logger.Strings("keys", kept))
	}

	acct, err := f.accountAttributes(a)
	if err != nil {
		return transition{}, fail(KindSecurity, StepToken, err)
	}
	username, found, err := account.Resolve(ctx, f.cfg.Realm, f.accounts, acct)
	if err != nil {
		return transition{}, directoryError(StepToken, err)
	}
	full, err := f.fullAttributes(a)
	if err != nil {
		return transition{}, fail(KindSecurity, StepToken, err)
	}

	d := Decide(f.cfg.policy(), username, found, full)
	a.log.Info("provisioning decision", logger.String("decision", d.Kind.String()), logger.Realm(f.cfg.Realm))

	switch d.Kind {
	case LoginExistingUser, LoginMappedUsername:
		a.principal = d.Username
		return transition{next: StepSucceed}, nil

	case LoginAsAnonymous:
		a.principal = d.Username
		a.anonymous = true
		return transition{next: StepSucceed}, nil

	case DelegateToExternalService:
		return transition{next: StepDelegatedRedirect}, nil

	case CreateLocallyWithPasswordChallenge:
		return f.prompt(a, StepSetPassword, keyPasswordPrompt, ""), nil

	case CreateLocallySilently:
		username, err := f.provision(ctx, a, StepToken, "silent", nil)
		if err != nil {
			return transition{}, err
		}
		a.principal = username
		return transition{next: StepSucceed}, nil

	default:
		return transition{}, fail(KindRejected, StepToken, ErrRejected)
	}
}
