package loginflow

import (
	"encoding/json"
	"errors"

	"github.com/dropDatabas3/fedlogin/internal/account"
	"github.com/dropDatabas3/fedlogin/internal/flowdata"
	"github.com/dropDatabas3/fedlogin/internal/profile"
)

// The normalized profile is never persisted: every step that needs it
// recomputes it from the raw profile kept in the data store.

func storedProfile(a *attempt) (json.RawMessage, map[string]any, error) {
	rec, err := a.store.Retrieve()
	if err != nil {
		return nil, nil, err
	}
	raw := json.RawMessage(rec.String(flowdata.KeyRawProfile))
	claims, _ := rec[flowdata.KeyIDClaims].(map[string]any)
	return raw, claims, nil
}

func (f *Flow) accountAttributes(a *attempt) (profile.Attributes, error) {
	raw, claims, err := storedProfile(a)
	if err != nil {
		return nil, err
	}
	return f.normalizer.AccountAttributes(raw, claims)
}

func (f *Flow) fullAttributes(a *attempt) (profile.Attributes, error) {
	raw, claims, err := storedProfile(a)
	if err != nil {
		return nil, err
	}
	return f.normalizer.FullAttributes(raw, claims)
}

// provisioningAttributes is the full profile plus the account attributes, so
// a new entry can be found again by the account mapper.
func (f *Flow) provisioningAttributes(a *attempt) (profile.Attributes, error) {
	full, err := f.fullAttributes(a)
	if err != nil {
		return nil, err
	}
	acct, err := f.accountAttributes(a)
	if err != nil {
		return nil, err
	}
	out := full.Clone()
	out.Merge(acct)
	return out, nil
}

func directoryError(step Step, err error) *FlowError {
	if errors.Is(err, account.ErrInvalidRealm) {
		return fail(KindConfiguration, step, err)
	}
	return fail(KindDirectory, step, err)
}
