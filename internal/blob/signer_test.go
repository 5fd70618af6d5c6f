package blob

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignAndVerify(t *testing.T) {
	s := NewSigner("server-secret", time.Hour)
	now := time.Now()

	sig, ts, err := s.Sign("abc123", now)
	require.NoError(t, err)
	assert.NotEmpty(t, sig)

	err = s.Verify("abc123", ts, sig, now.Add(time.Minute))
	assert.NoError(t, err)
}

func TestVerifyRejectsWrongSignature(t *testing.T) {
	s := NewSigner("server-secret", time.Hour)
	now := time.Now()

	_, ts, err := s.Sign("abc123", now)
	require.NoError(t, err)

	err = s.Verify("abc123", ts, "not-the-signature", now)
	assert.ErrorIs(t, err, ErrSignatureMismatch)
}

func TestVerifyRejectsDifferentSecret(t *testing.T) {
	signer := NewSigner("secret-one", time.Hour)
	sig, ts, err := signer.Sign("abc123", time.Now())
	require.NoError(t, err)

	other := NewSigner("secret-two", time.Hour)
	err = other.Verify("abc123", ts, sig, time.Now())
	assert.ErrorIs(t, err, ErrSignatureMismatch)
}

func TestVerifyRejectsExpiredSignature(t *testing.T) {
	s := NewSigner("server-secret", time.Minute)
	now := time.Now()

	sig, ts, err := s.Sign("abc123", now)
	require.NoError(t, err)

	err = s.Verify("abc123", ts, sig, now.Add(2*time.Hour))
	assert.ErrorIs(t, err, ErrSignatureExpired)
}

func TestValidID(t *testing.T) {
	assert.True(t, ValidID("abc-123_XYZ"))
	assert.False(t, ValidID(""))
	assert.False(t, ValidID("../etc/passwd"))
	assert.False(t, ValidID("has space"))
}
