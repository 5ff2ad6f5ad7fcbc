package validation

import "regexp"

// Scope tokens as sent in the authorization request:
//   - Printable ASCII except space, double quote and backslash.
//   - Length 1..256.
//
// Valid: openid, read:user, https://www.googleapis.com/auth/drive.readonly
// Invalid: "", bad space, quo"te, back\slash, ñ
var scopeTokenRe = regexp.MustCompile(`^[\x21\x23-\x5B\x5D-\x7E]{1,256}$`)

// ValidScopeToken reports whether name can travel as one scope in the
// space-separated scope parameter.
func ValidScopeToken(name string) bool {
	return scopeTokenRe.MatchString(name)
}
