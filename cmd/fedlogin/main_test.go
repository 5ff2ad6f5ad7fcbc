package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/dropDatabas3/fedlogin/internal/registration"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "0123456789abcdef0123456789abcdef"

const testYAML = `
registration:
  secret: "` + secret + `"
providers:
  - name: google
    issuer: https://accounts.google.com
    client_id: gid
    redirect_url: https://login.example.com/auth/google/callback
    mixup_mitigation: true
    account_mapper: {mappings: {sub: uid}}
    create_account: true
  - name: partner
    issuer: https://idp.partner.example
    client_id: pid
    redirect_url: https://login.example.com/auth/partner/callback
    account_mapper: {mappings: {sub: uid}}
    create_account: true
    registration: {url: https://register.example.com}
`

func run(t *testing.T, cfgBody string, args ...string) (string, error) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fedlogin.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfgBody), 0o600))

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--config", path, "--env-file", ""}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestConfigCheck(t *testing.T) {
	out, err := run(t, testYAML, "config", "check")
	require.NoError(t, err)
	assert.Contains(t, out, "config ok: 2 provider(s)")
	assert.Contains(t, out, "create=silent")
	assert.Contains(t, out, "create=delegated")
}

func TestConfigCheck_Invalid(t *testing.T) {
	_, err := run(t, "providers: [{name: x}]", "config", "check")
	require.ErrorContains(t, err, "providers.x")
}

func TestTokenInspect(t *testing.T) {
	g, err := registration.NewGenerator(registration.Config{Secret: []byte(secret)})
	require.NoError(t, err)
	tok, err := g.Generate("attempt-9", "partner", map[string]any{"mail": "p@example.com"})
	require.NoError(t, err)

	out, err := run(t, testYAML, "token", "inspect", tok)
	require.NoError(t, err)
	assert.Contains(t, out, `"aid": "attempt-9"`)
	assert.Contains(t, out, `"prv": "partner"`)

	_, err = run(t, testYAML, "token", "inspect", tok+"x")
	require.Error(t, err)
}
