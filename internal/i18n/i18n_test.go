package i18n

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/require"
)

func TestDefaultBundle(t *testing.T) {
	b := Default()
	require.Equal(t, []string{"en", "es"}, b.Locales())

	for _, key := range []string{
		KeyPasswordPrompt, KeyPasswordEmpty, KeyPasswordTooShort, KeyPasswordMismatch,
		KeyActivationPrompt, KeyActivationInvalid, KeyActivationSubject, KeyActivationBody,
		KeyErrorGeneric,
	} {
		for _, loc := range b.Locales() {
			require.NotEqual(t, key, b.Lookup(loc, key), "missing %s in %s", key, loc)
		}
	}
}

func TestMatch(t *testing.T) {
	b := Default()
	require.Equal(t, "es", b.Match("es-AR"))
	require.Equal(t, "es", b.Match("fr;q=0.9, es;q=0.8"))
	require.Equal(t, "en", b.Match("en-GB"))
	require.Equal(t, "en", b.Match(""))
	require.Equal(t, "en", b.Match("not a locale!!"))
	require.Equal(t, "en", b.Match("ja"))
}

func TestLookupFallbacks(t *testing.T) {
	b, err := New(map[string]map[string]string{
		"en": {"a": "A", "b": "B"},
		"es": {"a": "A-es"},
	})
	require.NoError(t, err)

	require.Equal(t, "A-es", b.Lookup("es", "a"))
	require.Equal(t, "B", b.Lookup("es", "b"))
	require.Equal(t, "zzz", b.Lookup("es", "zzz"))
}

func TestFormat(t *testing.T) {
	b := Default()
	require.Equal(t, "The password must be at least 8 characters long", b.Format("en", KeyPasswordTooShort, 8))
	require.Equal(t, "Tu código de activación es: XYZ", b.Format("es", KeyActivationBody, "XYZ"))
}

func TestLoadFromFS_Errors(t *testing.T) {
	_, err := LoadFromFS(fstest.MapFS{})
	require.Error(t, err)

	_, err = LoadFromFS(fstest.MapFS{"locales/es.yaml": {Data: []byte("locale: es\nmessages: {}\n")}})
	require.ErrorContains(t, err, "base locale")

	_, err = LoadFromFS(fstest.MapFS{"locales/en.yaml": {Data: []byte("messages: {}\n")}})
	require.ErrorContains(t, err, "locale is required")
}
