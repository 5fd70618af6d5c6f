// Package auth implements password hashing and the coordinator's four
// bearer-credential schemes: user, worker, share, and admin. The
// authoritative copy of every token lives in Postgres rather than in memory,
// so sessions and worker credentials survive a coordinator restart.
package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/scrypt"
)

const (
	passwordN      = 1 << 14
	passwordR      = 8
	passwordP      = 1
	passwordKeyLen = 32
	saltLen        = 16

	userTokenSecretN = 1 << 5
	userTokenSecretR = 8
	userTokenSecretP = 1

	randomTokenLen = 32
)

// HashPassword derives a scrypt hash and fresh random salt for a new or
// changed password.
func HashPassword(password string) (hash, salt []byte, err error) {
	salt = make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, nil, fmt.Errorf("generate salt: %w", err)
	}
	hash, err = scrypt.Key([]byte(password), salt, passwordN, passwordR, passwordP, passwordKeyLen)
	if err != nil {
		return nil, nil, fmt.Errorf("derive password hash: %w", err)
	}
	return hash, salt, nil
}

// VerifyPassword reports whether password matches the stored hash/salt,
// comparing in constant time.
func VerifyPassword(password string, hash, salt []byte) (bool, error) {
	derived, err := scrypt.Key([]byte(password), salt, passwordN, passwordR, passwordP, passwordKeyLen)
	if err != nil {
		return false, fmt.Errorf("derive password hash: %w", err)
	}
	return subtle.ConstantTimeCompare(derived, hash) == 1, nil
}

// GenerateUserTokenSecret creates the random secret backing a fresh user
// token, and its lighter-parameter scrypt hash for storage.
func GenerateUserTokenSecret() (secret, hash, salt []byte, err error) {
	secret = make([]byte, randomTokenLen)
	if _, err := rand.Read(secret); err != nil {
		return nil, nil, nil, fmt.Errorf("generate token secret: %w", err)
	}
	salt = make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, nil, nil, fmt.Errorf("generate token salt: %w", err)
	}
	hash, err = scrypt.Key(secret, salt, userTokenSecretN, userTokenSecretR, userTokenSecretP, passwordKeyLen)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("derive token hash: %w", err)
	}
	return secret, hash, salt, nil
}

// VerifyUserTokenSecret reports whether secret matches the stored hash/salt.
func VerifyUserTokenSecret(secret, hash, salt []byte) (bool, error) {
	derived, err := scrypt.Key(secret, salt, userTokenSecretN, userTokenSecretR, userTokenSecretP, passwordKeyLen)
	if err != nil {
		return false, fmt.Errorf("derive token hash: %w", err)
	}
	return subtle.ConstantTimeCompare(derived, hash) == 1, nil
}

// EncodeUserToken builds the wire token base64(user_id ":" secret_b64) a
// client presents as `Authorization: Token <token>`.
func EncodeUserToken(userID uuid.UUID, secret []byte) string {
	raw := userID.String() + ":" + base64.StdEncoding.EncodeToString(secret)
	return base64.StdEncoding.EncodeToString([]byte(raw))
}

// DecodeUserToken reverses EncodeUserToken. A malformed token (bad base64
// or missing delimiter) reports ok=false, which the caller maps to a 400
// rather than a generic authentication failure.
func DecodeUserToken(token string) (userID uuid.UUID, secret []byte, ok bool) {
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return uuid.UUID{}, nil, false
	}
	idPart, secretPart, found := strings.Cut(string(raw), ":")
	if !found {
		return uuid.UUID{}, nil, false
	}
	id, err := uuid.Parse(idPart)
	if err != nil {
		return uuid.UUID{}, nil, false
	}
	secret, err = base64.StdEncoding.DecodeString(secretPart)
	if err != nil {
		return uuid.UUID{}, nil, false
	}
	return id, secret, true
}

// GenerateOpaqueToken returns a fresh random token for worker and share
// credentials, which are stored and compared as cleartext (the worker
// token authenticates server-to-server traffic only; the share token is
// compared constant-time since it travels over client-facing requests).
func GenerateOpaqueToken() (string, error) {
	b := make([]byte, randomTokenLen)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString(b), nil
}

// ConstantTimeEquals compares two tokens without leaking timing
// information, for share-token and admin-token checks.
func ConstantTimeEquals(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Scheme identifies which of the four header-carried credential kinds a
// request presented.
type Scheme int

const (
	SchemeNone Scheme = iota
	SchemeUser
	SchemeWorker
	SchemeShare
	SchemeAdmin
)

// Credential is the parsed, not-yet-verified content of an Authorization
// (or Share-Token/Api-Token) header.
type Credential struct {
	Scheme Scheme
	Token  string
}

// ParseAuthorization extracts the scheme and raw token from the
// Authorization header's "Token "/"Worker " prefixes, and from the
// Share-Token/Api-Token headers. Returns SchemeNone, "" when nothing is
// present; the caller treats that as anonymous, not as an error.
func ParseAuthorization(authorization, shareToken, apiToken string) Credential {
	switch {
	case strings.HasPrefix(authorization, "Token "):
		return Credential{Scheme: SchemeUser, Token: strings.TrimPrefix(authorization, "Token ")}
	case strings.HasPrefix(authorization, "Worker "):
		return Credential{Scheme: SchemeWorker, Token: strings.TrimPrefix(authorization, "Worker ")}
	case shareToken != "":
		return Credential{Scheme: SchemeShare, Token: shareToken}
	case apiToken != "":
		return Credential{Scheme: SchemeAdmin, Token: apiToken}
	default:
		return Credential{Scheme: SchemeNone}
	}
}
