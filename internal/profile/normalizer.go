// Package profile turns a raw identity-provider profile (plus optional ID
// token claims) into the attribute maps used for account matching and
// provisioning.
package profile

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/tidwall/gjson"
)

// ErrNormalization is the sentinel wrapped by every *NormalizationError.
var ErrNormalization = errors.New("profile: normalization failed")

// NormalizationError reports a mapper that could not produce attributes.
type NormalizationError struct {
	Mapper string   // "account" or "attribute"
	Claims []string // claim paths that were looked up
	Err    error
}

func (e *NormalizationError) Error() string {
	msg := fmt.Sprintf("profile: %s mapper produced no attributes (claims: %s)", e.Mapper, strings.Join(e.Claims, ","))
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *NormalizationError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrNormalization, e.Err}
	}
	return []error{ErrNormalization}
}

// MapperConfig translates provider claims into local attributes.
type MapperConfig struct {
	// Prefix is prepended to every produced value, e.g. "google-".
	Prefix string `yaml:"prefix"`
	// Mappings is claim path -> local attribute. Claim paths use gjson
	// syntax, so nested claims read as "address.country".
	Mappings map[string]string `yaml:"mappings"`
}

// Normalizer is configured once per provider and is safe for concurrent use.
type Normalizer struct {
	account   MapperConfig
	attribute MapperConfig
}

// NewNormalizer validates the mapper configuration. The account mapper must
// name at least one claim.
func NewNormalizer(account, attribute MapperConfig) (*Normalizer, error) {
	if len(account.Mappings) == 0 {
		return nil, errors.New("profile: account mapper has no mappings")
	}
	return &Normalizer{account: account, attribute: attribute}, nil
}

// AccountAttributes returns the attributes used for directory lookup. It fails
// with a *NormalizationError when none of the account mapper's claims is
// present, since such a user can never be resolved.
func (n *Normalizer) AccountAttributes(raw json.RawMessage, claims map[string]any) (Attributes, error) {
	attrs, err := apply(n.account, raw, claims)
	if err != nil {
		return nil, &NormalizationError{Mapper: "account", Claims: claimPaths(n.account), Err: err}
	}
	if len(attrs) == 0 {
		return nil, &NormalizationError{Mapper: "account", Claims: claimPaths(n.account)}
	}
	return attrs, nil
}

// FullAttributes returns the profile attributes stored on provisioning and
// exposed as session properties. Missing claims are skipped.
func (n *Normalizer) FullAttributes(raw json.RawMessage, claims map[string]any) (Attributes, error) {
	attrs, err := apply(n.attribute, raw, claims)
	if err != nil {
		return nil, &NormalizationError{Mapper: "attribute", Claims: claimPaths(n.attribute), Err: err}
	}
	return attrs, nil
}

func apply(cfg MapperConfig, raw json.RawMessage, claims map[string]any) (Attributes, error) {
	if len(raw) > 0 && !gjson.ValidBytes(raw) {
		return nil, errors.New("raw profile is not valid JSON")
	}
	var claimsJSON []byte
	if len(claims) > 0 {
		b, err := json.Marshal(claims)
		if err != nil {
			return nil, fmt.Errorf("encode claims: %w", err)
		}
		claimsJSON = b
	}

	out := Attributes{}
	for _, path := range claimPaths(cfg) {
		local := cfg.Mappings[path]
		res := lookup(raw, claimsJSON, path)
		if !res.Exists() {
			continue
		}
		for _, v := range values(res) {
			out.Add(local, cfg.Prefix+v)
		}
	}
	return out, nil
}

// lookup prefers the raw profile and falls back to the ID token claims.
func lookup(raw, claims []byte, path string) gjson.Result {
	if len(raw) > 0 {
		if r := gjson.GetBytes(raw, path); r.Exists() && r.Type != gjson.Null {
			return r
		}
	}
	if len(claims) > 0 {
		return gjson.GetBytes(claims, path)
	}
	return gjson.Result{}
}

func values(r gjson.Result) []string {
	switch {
	case r.IsArray():
		var out []string
		for _, el := range r.Array() {
			out = append(out, values(el)...)
		}
		return out
	case r.IsObject():
		return []string{r.Raw}
	case r.Type == gjson.Null:
		return nil
	default:
		return []string{r.String()}
	}
}

func claimPaths(cfg MapperConfig) []string {
	out := make([]string, 0, len(cfg.Mappings))
	for k := range cfg.Mappings {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
