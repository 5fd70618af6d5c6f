package auth

import (
	"encoding/base64"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashAndVerifyPassword(t *testing.T) {
	hash, salt, err := HashPassword("correct horse battery staple")
	require.NoError(t, err)
	assert.Len(t, salt, saltLen)
	assert.Len(t, hash, passwordKeyLen)

	ok, err := VerifyPassword("correct horse battery staple", hash, salt)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = VerifyPassword("wrong password", hash, salt)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHashPasswordUsesFreshSalt(t *testing.T) {
	_, salt1, err := HashPassword("same password")
	require.NoError(t, err)
	_, salt2, err := HashPassword("same password")
	require.NoError(t, err)
	assert.NotEqual(t, salt1, salt2)
}

func TestUserTokenSecretRoundTrip(t *testing.T) {
	secret, hash, salt, err := GenerateUserTokenSecret()
	require.NoError(t, err)
	assert.Len(t, secret, randomTokenLen)

	ok, err := VerifyUserTokenSecret(secret, hash, salt)
	require.NoError(t, err)
	assert.True(t, ok)

	otherSecret, _, _, err := GenerateUserTokenSecret()
	require.NoError(t, err)
	ok, err = VerifyUserTokenSecret(otherSecret, hash, salt)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEncodeDecodeUserToken(t *testing.T) {
	userID := uuid.New()
	secret := []byte("0123456789abcdef0123456789abcdef")

	token := EncodeUserToken(userID, secret)
	gotID, gotSecret, ok := DecodeUserToken(token)
	require.True(t, ok)
	assert.Equal(t, userID, gotID)
	assert.Equal(t, secret, gotSecret)
}

func TestDecodeUserTokenRejectsMalformedInput(t *testing.T) {
	t.Run("invalid base64", func(t *testing.T) {
		_, _, ok := DecodeUserToken("not base64!!")
		assert.False(t, ok)
	})

	t.Run("missing delimiter", func(t *testing.T) {
		noDelimiter := base64.StdEncoding.EncodeToString([]byte(uuid.New().String()))
		_, _, ok := DecodeUserToken(noDelimiter)
		assert.False(t, ok)
	})

	t.Run("not a uuid", func(t *testing.T) {
		_, _, ok := DecodeUserToken("bm90LWEtdXVpZDpzZWNyZXQ=")
		assert.False(t, ok)
	})
}

func TestGenerateOpaqueTokenIsUnique(t *testing.T) {
	a, err := GenerateOpaqueToken()
	require.NoError(t, err)
	b, err := GenerateOpaqueToken()
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
	assert.NotEmpty(t, a)
}

func TestConstantTimeEquals(t *testing.T) {
	assert.True(t, ConstantTimeEquals("abc", "abc"))
	assert.False(t, ConstantTimeEquals("abc", "abd"))
	assert.False(t, ConstantTimeEquals("abc", "abcd"))
}

func TestParseAuthorization(t *testing.T) {
	cases := []struct {
		name                         string
		authorization, share, apiTok string
		wantScheme                   Scheme
		wantToken                    string
	}{
		{"user token", "Token abc123", "", "", SchemeUser, "abc123"},
		{"worker token", "Worker def456", "", "", SchemeWorker, "def456"},
		{"share token", "", "share789", "", SchemeShare, "share789"},
		{"admin token", "", "", "admin000", SchemeAdmin, "admin000"},
		{"nothing present", "", "", "", SchemeNone, ""},
		{"authorization wins over share token", "Token abc123", "share789", "", SchemeUser, "abc123"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cred := ParseAuthorization(tc.authorization, tc.share, tc.apiTok)
			assert.Equal(t, tc.wantScheme, cred.Scheme)
			assert.Equal(t, tc.wantToken, cred.Token)
		})
	}
}
