package postgres

import (
	"context"
	"fmt"
)

const schema = `
CREATE TABLE IF NOT EXISTS refresh_tokens (
    id                   TEXT        PRIMARY KEY,
    user_id              TEXT        NOT NULL,
    family_id            TEXT        NOT NULL,
    token                TEXT        NOT NULL,
    expires_at           TIMESTAMPTZ NOT NULL,
    created_at           TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    family_ip_address    TEXT        NOT NULL DEFAULT '',
    family_user_agent    TEXT        NOT NULL DEFAULT '',
    family_created_at    TIMESTAMPTZ NOT NULL,
    family_revoked_at    TIMESTAMPTZ,
    family_revoke_reason TEXT
);
CREATE UNIQUE INDEX IF NOT EXISTS refresh_tokens_token_key ON refresh_tokens (token);
CREATE INDEX IF NOT EXISTS refresh_tokens_family_idx ON refresh_tokens (family_id);
CREATE INDEX IF NOT EXISTS refresh_tokens_user_idx ON refresh_tokens (user_id);
CREATE INDEX IF NOT EXISTS refresh_tokens_expires_idx ON refresh_tokens (expires_at);

CREATE TABLE IF NOT EXISTS login_attempts (
    id             TEXT        PRIMARY KEY,
    email          TEXT        NOT NULL,
    ip_address     TEXT        NOT NULL DEFAULT '',
    user_agent     TEXT        NOT NULL DEFAULT '',
    success        BOOLEAN     NOT NULL,
    failure_reason TEXT,
    created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS login_attempts_email_idx ON login_attempts (email, created_at);
CREATE INDEX IF NOT EXISTS login_attempts_ip_idx ON login_attempts (ip_address, created_at) WHERE NOT success;
CREATE INDEX IF NOT EXISTS login_attempts_created_idx ON login_attempts (created_at);

CREATE TABLE IF NOT EXISTS security_events (
    id         TEXT        PRIMARY KEY,
    type       TEXT        NOT NULL,
    user_id    TEXT        NOT NULL DEFAULT '',
    family_id  TEXT        NOT NULL DEFAULT '',
    ip_address TEXT        NOT NULL DEFAULT '',
    user_agent TEXT        NOT NULL DEFAULT '',
    metadata   JSONB,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS security_events_user_idx ON security_events (user_id, created_at DESC);

CREATE TABLE IF NOT EXISTS users (
    id            TEXT        PRIMARY KEY,
    email         TEXT        NOT NULL,
    password_hash TEXT        NOT NULL,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE UNIQUE INDEX IF NOT EXISTS users_email_key ON users (lower(email));
`

// Migrate creates the tables and indexes used by this package. It is
// idempotent.
func Migrate(ctx context.Context, db querier) error {
	if _, err := db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize db state: %w", err)
	}
	return nil
}
