package credentials

import (
	"context"
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// ErrUnknownUser is what a UserLookup returns for an unregistered identifier.
var ErrUnknownUser = errors.New("unknown user")

// UserLookup resolves an identifier to a user id and stored bcrypt hash.
type UserLookup interface {
	FindCredentials(ctx context.Context, identifier string) (userID, passwordHash string, err error)
}

// LookupFunc adapts a function to UserLookup.
type LookupFunc func(ctx context.Context, identifier string) (string, string, error)

func (f LookupFunc) FindCredentials(ctx context.Context, identifier string) (string, string, error) {
	return f(ctx, identifier)
}

// BcryptVerifier checks passwords against bcrypt hashes.
type BcryptVerifier struct {
	users    UserLookup
	notFound error
	// dummy is compared against for unknown users so both paths cost one
	// bcrypt comparison.
	dummy []byte
}

// NewBcryptVerifier returns a verifier over users. notFound is the error
// users returns for an unknown identifier; nil means ErrUnknownUser.
func NewBcryptVerifier(users UserLookup, notFound error) (*BcryptVerifier, error) {
	if users == nil {
		return nil, errors.New("credentials: nil user lookup")
	}
	if notFound == nil {
		notFound = ErrUnknownUser
	}
	dummy, err := bcrypt.GenerateFromPassword([]byte("dummy-password-for-timing"), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	return &BcryptVerifier{users: users, notFound: notFound, dummy: dummy}, nil
}

// VerifyCredentials implements tokenauth.CredentialVerifier.
func (v *BcryptVerifier) VerifyCredentials(ctx context.Context, identifier, password string) (string, bool, error) {
	userID, hash, err := v.users.FindCredentials(ctx, strings.TrimSpace(identifier))
	if errors.Is(err, v.notFound) {
		_ = bcrypt.CompareHashAndPassword(v.dummy, []byte(password))
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return "", false, nil
		}
		return "", false, err
	}
	return userID, true, nil
}

// HashPassword returns a bcrypt hash of password at cost, or the default
// cost when cost is 0.
func HashPassword(password string, cost int) (string, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
