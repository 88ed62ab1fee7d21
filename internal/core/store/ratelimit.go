package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gridlens/gridlens/internal/core"
)

// SnapshotStore persists one account's rate limiter state. It implements
// engine.Snapshotter.
type SnapshotStore struct {
	store   *Store
	account string
}

// NewSnapshotStore scopes limiter persistence to an account key (the
// configured email).
func NewSnapshotStore(s *Store, account string) *SnapshotStore {
	return &SnapshotStore{store: s, account: strings.TrimSpace(account)}
}

// Load returns the stored snapshot, or nil when none exists.
func (s *SnapshotStore) Load(ctx context.Context) (*core.LimiterSnapshot, error) {
	if s == nil || s.store == nil || s.store.DB == nil {
		return nil, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if s.account == "" {
		return nil, errors.New("account is required")
	}

	var (
		hourlyTokens float64
		burstTokens  float64
		savedAt      int64
	)

	row := s.store.DB.QueryRowContext(ctx, `
		SELECT hourly_tokens, burst_tokens, saved_at
		FROM rate_limiter_state
		WHERE account = ?
	`, s.account)

	if err := row.Scan(&hourlyTokens, &burstTokens, &savedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch rate limiter state: %w", err)
	}

	return &core.LimiterSnapshot{
		HourlyTokens: hourlyTokens,
		BurstTokens:  burstTokens,
		SavedAt:      time.Unix(savedAt, 0).UTC(),
	}, nil
}

// Save upserts the snapshot for the account.
func (s *SnapshotStore) Save(ctx context.Context, snap core.LimiterSnapshot) error {
	if s == nil || s.store == nil || s.store.DB == nil {
		return errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if s.account == "" {
		return errors.New("account is required")
	}

	savedAt := snap.SavedAt
	if savedAt.IsZero() {
		savedAt = time.Now().UTC()
	}

	_, err := s.store.DB.ExecContext(ctx, `
		INSERT INTO rate_limiter_state (account, hourly_tokens, burst_tokens, saved_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(account) DO UPDATE SET
			hourly_tokens = excluded.hourly_tokens,
			burst_tokens = excluded.burst_tokens,
			saved_at = excluded.saved_at
	`, s.account, snap.HourlyTokens, snap.BurstTokens, savedAt.Unix())
	if err != nil {
		return fmt.Errorf("store rate limiter state: %w", err)
	}

	return nil
}

// Remove deletes the stored snapshot for the account.
func (s *SnapshotStore) Remove(ctx context.Context) error {
	if s == nil || s.store == nil || s.store.DB == nil {
		return errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if s.account == "" {
		return errors.New("account is required")
	}

	if _, err := s.store.DB.ExecContext(ctx, `
		DELETE FROM rate_limiter_state WHERE account = ?
	`, s.account); err != nil {
		return fmt.Errorf("remove rate limiter state: %w", err)
	}

	return nil
}
