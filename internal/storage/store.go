// Package storage keeps the meeting ledger: which Zoom meeting was
// created for which accepted transaction.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sharetribe/ftw-time/internal/config"
)

// ErrNotFound is returned when no meeting exists for a transaction.
var ErrNotFound = errors.New("storage: meeting not found")

// Meeting is one ledger entry.
type Meeting struct {
	TransactionID string    `json:"transactionId" dynamodbav:"TransactionID"`
	ProviderID    string    `json:"providerId" dynamodbav:"ProviderID"`
	MeetingID     int64     `json:"meetingId" dynamodbav:"MeetingID"`
	JoinURL       string    `json:"joinUrl" dynamodbav:"JoinURL"`
	Password      string    `json:"password,omitempty" dynamodbav:"Password,omitempty"`
	StartTime     time.Time `json:"startTime" dynamodbav:"StartTime"`
	Duration      int       `json:"duration" dynamodbav:"Duration"` // minutes
	CreatedAt     time.Time `json:"createdAt" dynamodbav:"CreatedAt"`
}

// MeetingStore persists meetings keyed by transaction id. SaveMeeting
// replaces an existing entry.
type MeetingStore interface {
	SaveMeeting(ctx context.Context, m Meeting) error
	GetMeeting(ctx context.Context, transactionID string) (Meeting, error)
}

// New picks the backend named by cfg.Type. db is required for postgres.
func New(ctx context.Context, cfg config.StorageConfig, db *sql.DB) (MeetingStore, error) {
	switch cfg.Type {
	case "", "memory":
		return NewMemoryStore(), nil
	case "postgres":
		if db == nil {
			return nil, fmt.Errorf("storage: postgres backend needs a database connection")
		}
		store := NewPostgresStore(db)
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		return store, nil
	case "dynamodb":
		if cfg.DynamoDBTable == "" {
			return nil, fmt.Errorf("storage: dynamodb backend needs a table name")
		}
		return NewDynamoStoreFromConfig(ctx, cfg.DynamoDBTable, cfg.AWSRegion, cfg.AWSProfile)
	default:
		return nil, fmt.Errorf("storage: unknown type %q", cfg.Type)
	}
}

// MemoryStore keeps meetings in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	meetings map[string]Meeting
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{meetings: make(map[string]Meeting)}
}

func (s *MemoryStore) SaveMeeting(_ context.Context, m Meeting) error {
	if m.TransactionID == "" {
		return fmt.Errorf("storage: meeting without transaction id")
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	s.meetings[m.TransactionID] = m
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) GetMeeting(_ context.Context, transactionID string) (Meeting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.meetings[transactionID]
	if !ok {
		return Meeting{}, ErrNotFound
	}
	return m, nil
}
