package internal

import "github.com/google/uuid"

// NewFamilyID returns a random family identifier.
func NewFamilyID() string {
	return uuid.NewString()
}

// NewTokenID returns a random token row identifier. It is distinct from the
// bearer secret and safe to log.
func NewTokenID() string {
	return uuid.NewString()
}

// NewEventID returns a random identifier for ledger and security event rows.
func NewEventID() string {
	return uuid.NewString()
}

func NewUserID() string {
	return uuid.NewString()
}
