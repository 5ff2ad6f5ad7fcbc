// Package mixup defends against OAuth mix-up attacks by checking that the
// authorization response was issued for this client by this issuer
// (RFC 9207 "iss" plus the echoed "client_id").
package mixup

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/url"
)

// ErrMixUpViolation is returned for any missing or mismatching parameter.
var ErrMixUpViolation = errors.New("mixup: authorization response does not match provider")

const (
	ParamClientID = "client_id"
	ParamIssuer   = "iss"
)

// Verify compares the client_id and iss echoed in params against the
// configured values. Both parameters must be present.
func Verify(params url.Values, clientID, issuer string) error {
	if err := check(params, ParamClientID, clientID); err != nil {
		return err
	}
	return check(params, ParamIssuer, issuer)
}

func check(params url.Values, name, want string) error {
	vs, ok := params[name]
	if !ok || len(vs) == 0 || vs[0] == "" {
		return fmt.Errorf("%w: missing %s", ErrMixUpViolation, name)
	}
	if len(vs) > 1 {
		return fmt.Errorf("%w: repeated %s", ErrMixUpViolation, name)
	}
	if subtle.ConstantTimeCompare([]byte(vs[0]), []byte(want)) != 1 {
		return fmt.Errorf("%w: %s mismatch", ErrMixUpViolation, name)
	}
	return nil
}
