package postgres

import (
	"context"

	"github.com/abrahamahn/abe-stack-sub006/session"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SecurityEventStore persists security events. Metadata is stored as JSONB.
type SecurityEventStore struct {
	db querier
}

func NewSecurityEventStore(pool *pgxpool.Pool) *SecurityEventStore {
	return &SecurityEventStore{db: pool}
}

func (s *SecurityEventStore) Create(ctx context.Context, ev *session.SecurityEvent) error {
	_, err := s.db.Exec(ctx, `
    INSERT INTO security_events (id, type, user_id, family_id, ip_address, user_agent, metadata, created_at)
    VALUES ($1, $2, $3, $4, $5, $6, $7, $8);`,
		ev.ID, ev.Type, ev.UserID, ev.FamilyID, ev.IPAddress, ev.UserAgent, ev.Metadata, ev.CreatedAt,
	)
	return err
}

// FindByUser returns up to limit events for userID, newest first.
func (s *SecurityEventStore) FindByUser(ctx context.Context, userID string, limit int) ([]session.SecurityEvent, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.Query(ctx, `
    SELECT id, type, user_id, family_id, ip_address, user_agent, metadata, created_at
    FROM security_events
    WHERE user_id = $1
    ORDER BY created_at DESC
    LIMIT $2;`, userID, limit)
	if err != nil {
		return nil, err
	}

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (session.SecurityEvent, error) {
		var ev session.SecurityEvent
		err := row.Scan(&ev.ID, &ev.Type, &ev.UserID, &ev.FamilyID, &ev.IPAddress, &ev.UserAgent, &ev.Metadata, &ev.CreatedAt)
		return ev, err
	})
}
