package auth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const testCookieSecret = "0123456789abcdef0123456789abcdef"

func TestCookieSignerRoundTrip(t *testing.T) {
	signer, err := NewCookieSigner(testCookieSecret)
	require.NoError(t, err)

	signed, err := signer.Sign("abc123")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(signed, "abc123."))

	value, err := signer.Verify(signed)
	require.NoError(t, err)
	require.Equal(t, "abc123", value)
}

func TestCookieSignerRejectsTampering(t *testing.T) {
	signer, err := NewCookieSigner(testCookieSecret)
	require.NoError(t, err)

	signed, err := signer.Sign("abc123")
	require.NoError(t, err)
	sig := signed[strings.LastIndexByte(signed, '.'):]

	cases := map[string]string{
		"swapped value":   "abc124" + sig,
		"no signature":    "abc123",
		"empty signature": "abc123.",
		"empty value":     sig,
		"bad encoding":    "abc123.!!!",
		"truncated":       signed[:len(signed)-2],
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := signer.Verify(input)
			require.ErrorIs(t, err, ErrCookieSignature)
		})
	}

	other, err := NewCookieSigner(strings.Repeat("z", 40))
	require.NoError(t, err)
	_, err = other.Verify(signed)
	require.ErrorIs(t, err, ErrCookieSignature)
}

func TestCookieSignerRequiresStrongSecret(t *testing.T) {
	_, err := NewCookieSigner("short")
	require.ErrorIs(t, err, ErrCookieSecretTooShort)
}
