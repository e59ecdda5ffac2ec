package postgres

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/abrahamahn/abe-stack-sub006/internal"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrUserNotFound is returned when no user has the given email.
	ErrUserNotFound = errors.New("user not found")
	// ErrUserExists is returned when the email is already registered.
	ErrUserExists = errors.New("user already exists")
)

// UserStore holds login identities for the credential verifier.
type UserStore struct {
	db querier
}

func NewUserStore(pool *pgxpool.Pool) *UserStore {
	return &UserStore{db: pool}
}

// CreateUser stores email with an already computed password hash and returns
// the new user id.
func (s *UserStore) CreateUser(ctx context.Context, email, passwordHash string) (string, error) {
	id := internal.NewUserID()
	_, err := s.db.Exec(ctx, `
    INSERT INTO users (id, email, password_hash, created_at)
    VALUES ($1, $2, $3, $4);`, id, strings.TrimSpace(email), passwordHash, time.Now().UTC())
	if isUniqueViolation(err) {
		return "", ErrUserExists
	}
	if err != nil {
		return "", err
	}
	return id, nil
}

// FindCredentials returns the id and password hash registered for email.
func (s *UserStore) FindCredentials(ctx context.Context, email string) (string, string, error) {
	var id, hash string
	err := s.db.QueryRow(ctx, `
    SELECT id, password_hash FROM users WHERE lower(email) = lower($1);`, strings.TrimSpace(email)).Scan(&id, &hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", "", ErrUserNotFound
	}
	if err != nil {
		return "", "", err
	}
	return id, hash, nil
}
