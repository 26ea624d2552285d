package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ignite/coupon-sync/internal/domain"
)

// WatchStore persists Drive push-notification channels so renewal
// decisions can be made from local state instead of API calls.
type WatchStore struct {
	db *sql.DB
}

// NewWatchStore creates a WatchStore over an open database handle.
func NewWatchStore(db *sql.DB) *WatchStore {
	return &WatchStore{db: db}
}

// Upsert records a watch channel for a file, replacing any previous one.
func (s *WatchStore) Upsert(ctx context.Context, w domain.SheetWatch) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sheet_watches (file_id, channel_id, resource_id, expires_at, renewed_at, created_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		ON CONFLICT (file_id) DO UPDATE
		SET channel_id = $2, resource_id = $3, expires_at = $4, renewed_at = NOW()
	`, w.FileID, w.ChannelID, w.ResourceID, w.ExpiresAt)
	if err != nil {
		return fmt.Errorf("upserting watch for file %s: %w", w.FileID, err)
	}
	return nil
}

// Get returns the recorded watch for a file, or nil when none exists.
func (s *WatchStore) Get(ctx context.Context, fileID string) (*domain.SheetWatch, error) {
	var w domain.SheetWatch
	err := s.db.QueryRowContext(ctx, `
		SELECT file_id, channel_id, resource_id, expires_at, renewed_at, created_at
		FROM sheet_watches
		WHERE file_id = $1
	`, fileID).Scan(&w.FileID, &w.ChannelID, &w.ResourceID, &w.ExpiresAt, &w.RenewedAt, &w.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading watch for file %s: %w", fileID, err)
	}
	return &w, nil
}

// GetByChannelID resolves a push notification's channel id back to the
// watched file, or nil when the channel is unknown.
func (s *WatchStore) GetByChannelID(ctx context.Context, channelID string) (*domain.SheetWatch, error) {
	var w domain.SheetWatch
	err := s.db.QueryRowContext(ctx, `
		SELECT file_id, channel_id, resource_id, expires_at, renewed_at, created_at
		FROM sheet_watches
		WHERE channel_id = $1
	`, channelID).Scan(&w.FileID, &w.ChannelID, &w.ResourceID, &w.ExpiresAt, &w.RenewedAt, &w.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading watch for channel %s: %w", channelID, err)
	}
	return &w, nil
}

// ListExpiring returns watches expiring before the cutoff.
func (s *WatchStore) ListExpiring(ctx context.Context, before time.Time) ([]domain.SheetWatch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT file_id, channel_id, resource_id, expires_at, renewed_at, created_at
		FROM sheet_watches
		WHERE expires_at < $1
		ORDER BY expires_at
	`, before)
	if err != nil {
		return nil, fmt.Errorf("listing expiring watches: %w", err)
	}
	defer rows.Close()

	var watches []domain.SheetWatch
	for rows.Next() {
		var w domain.SheetWatch
		if err := rows.Scan(&w.FileID, &w.ChannelID, &w.ResourceID, &w.ExpiresAt, &w.RenewedAt, &w.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning watch: %w", err)
		}
		watches = append(watches, w)
	}
	return watches, rows.Err()
}

// Delete removes the watch record for a file.
func (s *WatchStore) Delete(ctx context.Context, fileID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sheet_watches WHERE file_id = $1`, fileID)
	if err != nil {
		return fmt.Errorf("deleting watch for file %s: %w", fileID, err)
	}
	return nil
}
