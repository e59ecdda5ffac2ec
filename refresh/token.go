package refresh

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strings"
)

// SecretSize is the number of random bytes in a refresh secret.
const SecretSize = 32

// ErrMalformedToken is returned for tokens that do not match the wire format.
var ErrMalformedToken = errors.New("refresh: malformed token")

// Presented is a decoded bearer token.
type Presented struct {
	Secret string
	Claim  string
}

// HasClaim reports whether the token carried a family claim.
func (p Presented) HasClaim() bool {
	return p.Claim != ""
}

// NewSecret returns a fresh base64url encoded secret.
func NewSecret() (string, error) {
	var raw [SecretSize]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

// HashSecret returns the hex SHA-256 digest stored in place of the secret.
func HashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// Encode joins a secret and an optional signed claim.
func Encode(secret, claim string) string {
	if claim == "" {
		return secret
	}
	return secret + "." + claim
}

// Decode splits a presented token at its first '.' and checks the secret.
func Decode(token string) (Presented, error) {
	token = strings.TrimSpace(token)
	secret, claim, found := strings.Cut(token, ".")
	if found && claim == "" {
		return Presented{}, ErrMalformedToken
	}

	raw, err := base64.RawURLEncoding.DecodeString(secret)
	if err != nil || len(raw) != SecretSize {
		return Presented{}, ErrMalformedToken
	}
	if strings.Count(claim, ".") != 2 && claim != "" {
		return Presented{}, ErrMalformedToken
	}
	return Presented{Secret: secret, Claim: claim}, nil
}
