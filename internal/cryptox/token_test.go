package cryptox

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenerateToken(t *testing.T) {
	t.Parallel()

	t.Run("encodes requested entropy", func(t *testing.T) {
		token, err := GenerateToken(TokenSize256)
		require.NoError(t, err)

		raw, err := base64.RawURLEncoding.DecodeString(token)
		require.NoError(t, err)
		require.Len(t, raw, TokenSize256)
	})

	t.Run("tokens differ", func(t *testing.T) {
		a, err := GenerateToken(TokenSize256)
		require.NoError(t, err)
		b, err := GenerateToken(TokenSize256)
		require.NoError(t, err)
		require.NotEqual(t, a, b)
	})

	t.Run("rejects non-positive size", func(t *testing.T) {
		_, err := GenerateToken(0)
		require.Error(t, err)
	})
}

func TestFingerprintToken(t *testing.T) {
	t.Parallel()

	require.Equal(t, FingerprintToken("abc"), FingerprintToken("abc"))
	require.NotEqual(t, FingerprintToken("abc"), FingerprintToken("abd"))
	require.Len(t, FingerprintToken("abc"), 43)
}

func TestGenerateCode(t *testing.T) {
	t.Parallel()

	for range 200 {
		code, err := GenerateCode(OtpDigits)
		require.NoError(t, err)
		require.Len(t, code, OtpDigits)
		for _, ch := range code {
			require.True(t, ch >= '0' && ch <= '9', "unexpected rune %q in %q", ch, code)
		}
	}

	_, err := GenerateCode(0)
	require.Error(t, err)
}

func TestEqualConstantTime(t *testing.T) {
	t.Parallel()

	require.True(t, EqualConstantTime("123456", "123456"))
	require.False(t, EqualConstantTime("123456", "123457"))
	require.False(t, EqualConstantTime("123456", "12345"))
}
