package loginflow

import (
	"context"
	"strings"

	"github.com/dropDatabas3/fedlogin/internal/flowdata"
	"github.com/dropDatabas3/fedlogin/internal/observability/logger"
)

// Session properties written on success.
const (
	PropProvider    = "fedlogin.provider"
	PropAttemptID   = "fedlogin.attempt_id"
	PropSubject     = "fedlogin.subject"
	PropAccessToken = "fedlogin.access_token"
	PropAnonymous   = "fedlogin.anonymous"
	PropAttrPrefix  = "fedlogin.attr."
)

func (f *Flow) succeed(ctx context.Context, a *attempt) (transition, error) {
	if a.principal == "" {
		return transition{}, fail(KindInternal, StepSucceed, errNoPrincipal)
	}
	rec, err := a.store.Retrieve()
	if err != nil {
		return transition{}, fail(KindInternal, StepSucceed, err)
	}

	props := map[string]string{
		PropProvider:  f.cfg.Provider,
		PropAttemptID: a.state.AttemptID,
	}
	if s := rec.String(flowdata.KeySubject); s != "" {
		props[PropSubject] = s
	}
	if at := rec.String(flowdata.KeyAccessToken); at != "" {
		props[PropAccessToken] = at
	}
	if a.anonymous {
		props[PropAnonymous] = "true"
	}
	if f.cfg.SaveAttributesInSession {
		full, err := f.fullAttributes(a)
		if err != nil {
			return transition{}, fail(KindSecurity, StepSucceed, err)
		}
		for name, vs := range full {
			props[PropAttrPrefix+name] = strings.Join(vs, "|")
		}
	}

	a.log.Info("login succeeded", logger.Principal(a.principal), logger.Bool("anonymous", a.anonymous))
	return transition{
		next: StepSucceed,
		result: &Result{
			Outcome:           OutcomeSuccess,
			Principal:         a.principal,
			Anonymous:         a.anonymous,
			SessionProperties: props,
		},
	}, nil
}

func (f *Flow) abandon(ctx context.Context, a *attempt) (transition, error) {
	a.log.Info("login attempt abandoned by user")
	return transition{next: StepAbandon, result: &Result{Outcome: OutcomeAbandon}}, nil
}
