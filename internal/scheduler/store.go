package scheduler

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Entry is one durable deadline: fire a draw for ListingID at FireAt.
// At most one entry exists per listing; rescheduling replaces it.
type Entry struct {
	ListingID uuid.UUID
	FireAt    time.Time
	CreatedAt time.Time
}

// ScheduleStore persists deadline entries so timers survive restarts.
type ScheduleStore interface {
	// Upsert inserts or replaces the entry for its listing.
	Upsert(ctx context.Context, e Entry) error
	// Delete removes the entry. Deleting an absent entry is not an error.
	Delete(ctx context.Context, listingID uuid.UUID) error
	List(ctx context.Context) ([]Entry, error)
}

// PostgresScheduleStore keeps entries in the draw_schedule table.
type PostgresScheduleStore struct {
	db *sql.DB
}

func NewPostgresScheduleStore(db *sql.DB) *PostgresScheduleStore {
	return &PostgresScheduleStore{db: db}
}

func (s *PostgresScheduleStore) Upsert(ctx context.Context, e Entry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO draw_schedule (listing_id, fire_at, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (listing_id) DO UPDATE SET fire_at = EXCLUDED.fire_at`,
		e.ListingID, e.FireAt, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert schedule entry: %w", err)
	}
	return nil
}

func (s *PostgresScheduleStore) Delete(ctx context.Context, listingID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM draw_schedule WHERE listing_id = $1`, listingID)
	if err != nil {
		return fmt.Errorf("delete schedule entry: %w", err)
	}
	return nil
}

func (s *PostgresScheduleStore) List(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT listing_id, fire_at, created_at FROM draw_schedule ORDER BY fire_at`)
	if err != nil {
		return nil, fmt.Errorf("list schedule entries: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ListingID, &e.FireAt, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan schedule entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// MemoryScheduleStore is the in-process ScheduleStore for tests.
type MemoryScheduleStore struct {
	mu      sync.Mutex
	entries map[uuid.UUID]Entry
	failing bool
}

func NewMemoryScheduleStore() *MemoryScheduleStore {
	return &MemoryScheduleStore{entries: make(map[uuid.UUID]Entry)}
}

var errStoreUnavailable = errors.New("schedule store unavailable")

// SetFailing makes every call return an error, for fault-path tests.
func (s *MemoryScheduleStore) SetFailing(failing bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failing = failing
}

func (s *MemoryScheduleStore) Upsert(_ context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return errStoreUnavailable
	}
	s.entries[e.ListingID] = e
	return nil
}

func (s *MemoryScheduleStore) Delete(_ context.Context, listingID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return errStoreUnavailable
	}
	delete(s.entries, listingID)
	return nil
}

func (s *MemoryScheduleStore) List(_ context.Context) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return nil, errStoreUnavailable
	}
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	return out, nil
}
