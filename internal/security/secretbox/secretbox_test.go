package secretbox

import (
	"encoding/base64"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey() []byte {
	raw := make([]byte, 32)
	for i := range raw {
		raw[i] = byte(i + 1)
	}
	return raw
}

func TestSealOpen_RoundTrip(t *testing.T) {
	b, err := New(testKey())
	require.NoError(t, err)

	msg := "hola mundo ✓ secreto"
	ct, err := b.Seal([]byte(msg))
	require.NoError(t, err)
	assert.NotContains(t, ct, "hola")

	pt, err := b.Open(ct)
	require.NoError(t, err)
	assert.Equal(t, msg, string(pt))

	// nonce aleatorio: dos Seal del mismo texto difieren
	ct2, err := b.Seal([]byte(msg))
	require.NoError(t, err)
	assert.NotEqual(t, ct, ct2)
}

func TestOpen_DetectsTamper(t *testing.T) {
	b, err := New(testKey())
	require.NoError(t, err)
	ct, err := b.Seal([]byte("top secret"))
	require.NoError(t, err)

	parts := strings.Split(ct, "|")
	require.Len(t, parts, 2)
	bs, err := base64.StdEncoding.DecodeString(parts[1])
	require.NoError(t, err)
	bs[0] ^= 0x01
	_, err = b.Open(parts[0] + "|" + base64.StdEncoding.EncodeToString(bs))
	require.Error(t, err)

	_, err = b.Open("no-separator")
	require.ErrorIs(t, err, ErrFormat)
}

func TestOpen_WrongKey(t *testing.T) {
	b, err := New(testKey())
	require.NoError(t, err)
	ct, err := b.Seal([]byte("x"))
	require.NoError(t, err)

	other := testKey()
	other[0] ^= 0xff
	b2, err := New(other)
	require.NoError(t, err)
	_, err = b2.Open(ct)
	require.Error(t, err)
}

func TestParseKey(t *testing.T) {
	raw := testKey()
	for name, in := range map[string]string{
		"base64":     base64.StdEncoding.EncodeToString(raw),
		"base64 raw": base64.RawStdEncoding.EncodeToString(raw),
		"hex":        hex.EncodeToString(raw),
	} {
		k, err := ParseKey(in)
		require.NoError(t, err, name)
		assert.Equal(t, raw, k, name)
	}

	k, err := ParseKey("0123456789abcdef0123456789abcdef")
	require.NoError(t, err)
	assert.Len(t, k, 32)

	_, err = ParseKey("short")
	require.Error(t, err)

	_, err = New([]byte("short"))
	require.Error(t, err)
}
