package loginflow

import (
	"context"

	"github.com/dropDatabas3/fedlogin/internal/oauth/oidcclient"
)

// start stashes the protocol artifacts and redirects to the provider.
func (f *Flow) start(ctx context.Context, a *attempt) (transition, error) {
	if f.strategy.SkipsStart() {
		return transition{next: StepToken}, nil
	}

	opts := oidcclient.AuthOptions{
		LoginHint: a.req.Params.Get("login_hint"),
		Prompt:    a.req.Params.Get("prompt"),
	}
	u, err := f.oauth.AuthRedirect(ctx, a.store, opts)
	if err != nil {
		return transition{}, fail(KindSecurity, StepStart, err)
	}
	return transition{
		next:   StepToken,
		result: &Result{Outcome: OutcomeRedirect, RedirectURL: u},
	}, nil
}
