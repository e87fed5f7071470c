package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokens_IssueVerify(t *testing.T) {
	tk := NewTokens("secret", time.Hour)
	token, err := tk.Issue("u1")
	require.NoError(t, err)

	uid, err := tk.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", uid)
}

func TestTokens_Rejects(t *testing.T) {
	tk := NewTokens("secret", time.Hour)
	token, err := tk.Issue("u1")
	require.NoError(t, err)

	t.Run("empty", func(t *testing.T) {
		_, err := tk.Verify("")
		assert.ErrorIs(t, err, ErrNoToken)
	})
	t.Run("other secret", func(t *testing.T) {
		_, err := NewTokens("other", time.Hour).Verify(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
	t.Run("garbage", func(t *testing.T) {
		_, err := tk.Verify("not.a.token")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
	t.Run("expired", func(t *testing.T) {
		late := NewTokens("secret", time.Hour)
		late.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
		_, err := late.Verify(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
	t.Run("none alg", func(t *testing.T) {
		unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{UserID: "u1"})
		s, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)
		_, err = tk.Verify(s)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestBearerToken(t *testing.T) {
	assert.Equal(t, "abc", BearerToken("Bearer abc"))
	assert.Equal(t, "abc", BearerToken("bearer  abc "))
	assert.Empty(t, BearerToken("Basic abc"))
	assert.Empty(t, BearerToken(""))
}

func TestPassword(t *testing.T) {
	h, err := HashPassword("hunter22")
	require.NoError(t, err)
	assert.NotEqual(t, "hunter22", h)
	assert.True(t, CheckPassword(h, "hunter22"))
	assert.False(t, CheckPassword(h, "hunter23"))
}
