// Package presets holds well-known identity provider settings so a provider
// block can say `preset: google` instead of spelling out endpoints and
// claim mappings.
package presets

import "sort"

// Preset is the default configuration of a known provider. Empty fields
// leave the provider block untouched.
type Preset struct {
	Issuer      string
	AuthURL     string
	TokenURL    string
	UserInfoURL string
	Scopes      []string

	// AccountMappings and AttributeMappings are claim path -> local attribute.
	AccountMappings   map[string]string
	AttributeMappings map[string]string
}

var known = map[string]Preset{
	// OIDC with discovery; the ID token carries sub and email.
	"google": {
		Issuer: "https://accounts.google.com",
		Scopes: []string{"openid", "email", "profile"},
		AccountMappings: map[string]string{
			"sub": "uid",
		},
		AttributeMappings: map[string]string{
			"email":       "mail",
			"given_name":  "givenName",
			"family_name": "sn",
			"name":        "cn",
		},
	},
	// Plain OAuth2, no ID token. Identity comes from the user API.
	"github": {
		AuthURL:     "https://github.com/login/oauth/authorize",
		TokenURL:    "https://github.com/login/oauth/access_token",
		UserInfoURL: "https://api.github.com/user",
		Scopes:      []string{"read:user", "user:email"},
		AccountMappings: map[string]string{
			"id": "uid",
		},
		AttributeMappings: map[string]string{
			"login": "githubLogin",
			"email": "mail",
			"name":  "cn",
		},
	},
}

// Lookup returns a copy of the named preset.
func Lookup(name string) (Preset, bool) {
	p, ok := known[name]
	if !ok {
		return Preset{}, false
	}
	p.Scopes = append([]string(nil), p.Scopes...)
	p.AccountMappings = cloneMap(p.AccountMappings)
	p.AttributeMappings = cloneMap(p.AttributeMappings)
	return p, true
}

// Names lists the available presets, sorted.
func Names() []string {
	out := make([]string, 0, len(known))
	for n := range known {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func cloneMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
