// Package i18n provides the read-only message bundle injected into the login
// flow. Catalogs are embedded YAML files, one per locale.
package i18n

import (
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

// Message keys used by the login flow and the activation email.
const (
	KeyPasswordPrompt    = "password.prompt"
	KeyPasswordEmpty     = "password.empty"
	KeyPasswordTooShort  = "password.too_short"
	KeyPasswordMismatch  = "password.mismatch"
	KeyActivationPrompt  = "activation.prompt"
	KeyActivationInvalid = "activation.invalid"
	KeyActivationSubject = "activation.subject"
	KeyActivationBody    = "activation.body"
	KeyErrorGeneric      = "error.generic"
)

// BaseLocale must be present in every bundle; it is the fallback for
// unknown locales and missing keys.
const BaseLocale = "en"

//go:embed locales/*.yaml
var embeddedFS embed.FS

type catalogFile struct {
	Locale   string            `yaml:"locale"`
	Messages map[string]string `yaml:"messages"`
}

// Bundle is immutable after construction and safe for concurrent use.
type Bundle struct {
	tags     []language.Tag
	matcher  language.Matcher
	messages map[string]map[string]string // locale -> key -> text
}

// Default loads the embedded catalogs. It panics on a broken build.
func Default() *Bundle {
	b, err := LoadFromFS(embeddedFS)
	if err != nil {
		panic(err)
	}
	return b
}

// LoadFromFS loads every locales/*.yaml file in fsys.
func LoadFromFS(fsys fs.FS) (*Bundle, error) {
	paths, err := fs.Glob(fsys, "locales/*.yaml")
	if err != nil {
		return nil, fmt.Errorf("glob locale catalogs: %w", err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no catalog files found")
	}
	sort.Strings(paths)

	msgs := map[string]map[string]string{}
	for _, p := range paths {
		data, err := fs.ReadFile(fsys, p)
		if err != nil {
			return nil, fmt.Errorf("read catalog %s: %w", p, err)
		}
		var f catalogFile
		if err := yaml.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("parse catalog %s: %w", p, err)
		}
		if strings.TrimSpace(f.Locale) == "" {
			return nil, fmt.Errorf("catalog %s: locale is required", p)
		}
		if _, err := language.Parse(f.Locale); err != nil {
			return nil, fmt.Errorf("catalog %s: %w", p, err)
		}
		msgs[f.Locale] = f.Messages
	}
	return New(msgs)
}

// New builds a bundle from in-memory catalogs.
func New(messages map[string]map[string]string) (*Bundle, error) {
	if _, ok := messages[BaseLocale]; !ok {
		return nil, fmt.Errorf("base locale %s is not defined in catalogs", BaseLocale)
	}
	locales := make([]string, 0, len(messages))
	for l := range messages {
		locales = append(locales, l)
	}
	// base locale first so the matcher falls back to it
	sort.Slice(locales, func(i, j int) bool {
		if locales[i] == BaseLocale || locales[j] == BaseLocale {
			return locales[i] == BaseLocale
		}
		return locales[i] < locales[j]
	})

	b := &Bundle{messages: make(map[string]map[string]string, len(messages))}
	for _, l := range locales {
		tag, err := language.Parse(l)
		if err != nil {
			return nil, fmt.Errorf("locale %q: %w", l, err)
		}
		b.tags = append(b.tags, tag)
		b.messages[tag.String()] = messages[l]
	}
	b.matcher = language.NewMatcher(b.tags)
	return b, nil
}

// Match returns the supported locale closest to locale, which may be a single
// tag ("es-AR") or an Accept-Language header value.
func (b *Bundle) Match(locale string) string {
	locale = strings.TrimSpace(locale)
	if locale == "" {
		return b.tags[0].String()
	}
	tags, _, err := language.ParseAcceptLanguage(locale)
	if err != nil || len(tags) == 0 {
		return b.tags[0].String()
	}
	_, idx, conf := b.matcher.Match(tags...)
	if conf == language.No {
		return b.tags[0].String()
	}
	return b.tags[idx].String()
}

// Locales returns the supported locales, base locale first.
func (b *Bundle) Locales() []string {
	out := make([]string, len(b.tags))
	for i, t := range b.tags {
		out[i] = t.String()
	}
	return out
}

// Lookup returns the message for key in the best matching locale, falling
// back to the base locale and finally to key itself.
func (b *Bundle) Lookup(locale, key string) string {
	if msg, ok := b.messages[b.Match(locale)][key]; ok {
		return msg
	}
	if msg, ok := b.messages[b.tags[0].String()][key]; ok {
		return msg
	}
	return key
}

// Format is Lookup followed by fmt.Sprintf.
func (b *Bundle) Format(locale, key string, args ...any) string {
	return fmt.Sprintf(b.Lookup(locale, key), args...)
}
