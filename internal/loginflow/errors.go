package loginflow

import (
	"errors"
	"fmt"
)

// Kind classifies fatal flow errors.
type Kind int

const (
	// KindConfiguration: invalid wiring or settings. Not retryable.
	KindConfiguration Kind = iota + 1
	// KindSecurity: mix-up mismatch, bad state, token or profile failures.
	KindSecurity
	// KindValidation is recoverable and reported through Prompt.Error. It
	// is never returned by Process.
	KindValidation
	// KindProvisioning: the directory rejected account creation.
	KindProvisioning
	// KindEmail: the activation code could not be delivered.
	KindEmail
	// KindNoUserMapped: the external registration finished without a user.
	KindNoUserMapped
	// KindRejected: no account, no provisioning and no fallback configured.
	KindRejected
	// KindDirectory: the directory lookup itself failed.
	KindDirectory
	// KindInternal: a programming error such as an unknown step.
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindSecurity:
		return "security"
	case KindValidation:
		return "validation"
	case KindProvisioning:
		return "provisioning"
	case KindEmail:
		return "email"
	case KindNoUserMapped:
		return "no_user_mapped"
	case KindRejected:
		return "rejected"
	case KindDirectory:
		return "directory"
	case KindInternal:
		return "internal"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

var (
	ErrRejected         = errors.New("loginflow: no account and no provisioning configured")
	ErrNoUserMapped     = errors.New("loginflow: no user mapped after registration")
	ErrUnknownStep      = errors.New("loginflow: unknown step")
	ErrMissingChallenge = errors.New("loginflow: activation challenge missing")
	ErrAttemptMismatch  = errors.New("loginflow: client token belongs to another attempt")
	ErrMissingEmail     = errors.New("loginflow: no email address for activation code")
	ErrMissingToken     = errors.New("loginflow: access token header missing")
	ErrNoCarrier        = errors.New("loginflow: session carrier required")

	errNoPrincipal = errors.New("loginflow: no principal to bind")
)

// FlowError is the single structured error Process returns for fatal
// conditions.
type FlowError struct {
	Kind Kind
	Step Step
	Err  error
}

func (e *FlowError) Error() string {
	return fmt.Sprintf("loginflow: %s error at %s: %v", e.Kind, e.Step, e.Err)
}

func (e *FlowError) Unwrap() error { return e.Err }

// KindOf returns the Kind of err when it is (or wraps) a *FlowError.
func KindOf(err error) (Kind, bool) {
	var fe *FlowError
	if errors.As(err, &fe) {
		return fe.Kind, true
	}
	return 0, false
}

func fail(kind Kind, step Step, err error) *FlowError {
	return &FlowError{Kind: kind, Step: step, Err: err}
}
