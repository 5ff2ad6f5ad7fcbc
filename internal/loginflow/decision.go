package loginflow

import "github.com/dropDatabas3/fedlogin/internal/profile"

// DecisionKind tags a ProvisioningDecision.
type DecisionKind int

const (
	LoginExistingUser DecisionKind = iota + 1
	DelegateToExternalService
	CreateLocallyWithPasswordChallenge
	CreateLocallySilently
	LoginAsAnonymous
	LoginMappedUsername
	Reject
)

func (k DecisionKind) String() string {
	switch k {
	case LoginExistingUser:
		return "login_existing_user"
	case DelegateToExternalService:
		return "delegate_to_external_service"
	case CreateLocallyWithPasswordChallenge:
		return "create_locally_with_password_challenge"
	case CreateLocallySilently:
		return "create_locally_silently"
	case LoginAsAnonymous:
		return "login_as_anonymous"
	case LoginMappedUsername:
		return "login_mapped_username"
	case Reject:
		return "reject"
	default:
		return "unknown"
	}
}

// Decision is computed once per TOKEN step and never persisted.
type Decision struct {
	Kind DecisionKind
	// Username to bind for the login kinds.
	Username string
	// RegistrationURL is the external service base URL for delegation.
	RegistrationURL string
}

// Policy is the subset of provider configuration that drives Decide.
type Policy struct {
	CreateAccount     bool
	RegistrationURL   string
	PromptPassword    bool
	AnonymousUser     string
	UsernameAttribute string
}

// Decide picks the next branch after account resolution. The order of the
// checks is significant: an existing account always wins, provisioning is
// preferred over the anonymous fallback, and the anonymous fallback over a
// username taken from the profile.
func Decide(p Policy, username string, found bool, full profile.Attributes) Decision {
	switch {
	case found:
		return Decision{Kind: LoginExistingUser, Username: username}
	case p.CreateAccount && p.RegistrationURL != "":
		return Decision{Kind: DelegateToExternalService, RegistrationURL: p.RegistrationURL}
	case p.CreateAccount && p.PromptPassword:
		return Decision{Kind: CreateLocallyWithPasswordChallenge}
	case p.CreateAccount:
		return Decision{Kind: CreateLocallySilently}
	case p.AnonymousUser != "":
		return Decision{Kind: LoginAsAnonymous, Username: p.AnonymousUser}
	case p.UsernameAttribute != "" && full.First(p.UsernameAttribute) != "":
		return Decision{Kind: LoginMappedUsername, Username: full.First(p.UsernameAttribute)}
	default:
		return Decision{Kind: Reject}
	}
}
