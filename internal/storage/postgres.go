package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// PostgresStore keeps meetings in the appointment_meetings table.
type PostgresStore struct{ db *sql.DB }

// NewPostgresStore wraps an open connection (lib/pq).
func NewPostgresStore(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

// EnsureSchema creates the table when missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS appointment_meetings (
			transaction_id TEXT PRIMARY KEY,
			provider_id    TEXT NOT NULL,
			meeting_id     BIGINT NOT NULL,
			join_url       TEXT NOT NULL,
			password       TEXT NOT NULL DEFAULT '',
			start_time     TIMESTAMPTZ NOT NULL,
			duration       INTEGER NOT NULL,
			created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("create appointment_meetings: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveMeeting(ctx context.Context, m Meeting) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO appointment_meetings
			(transaction_id, provider_id, meeting_id, join_url, password, start_time, duration, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (transaction_id) DO UPDATE SET
			provider_id = $2, meeting_id = $3, join_url = $4, password = $5,
			start_time = $6, duration = $7
	`, m.TransactionID, m.ProviderID, m.MeetingID, m.JoinURL, m.Password, m.StartTime, m.Duration, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("save meeting: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetMeeting(ctx context.Context, transactionID string) (Meeting, error) {
	var m Meeting
	err := s.db.QueryRowContext(ctx, `
		SELECT transaction_id, provider_id, meeting_id, join_url, password, start_time, duration, created_at
		FROM appointment_meetings
		WHERE transaction_id = $1
	`, transactionID).Scan(&m.TransactionID, &m.ProviderID, &m.MeetingID, &m.JoinURL, &m.Password,
		&m.StartTime, &m.Duration, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Meeting{}, ErrNotFound
	}
	if err != nil {
		return Meeting{}, fmt.Errorf("get meeting: %w", err)
	}
	return m, nil
}
