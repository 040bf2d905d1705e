package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fentz26/flightops/internal/models"
	"github.com/google/uuid"
)

// AcquireLock attempts to acquire an expiring lock on a resource atomically.
// It first cleans up expired locks, then attempts to insert a new lock.
// If a live lock already exists, it returns ErrResourceLocked.
func (s *Store) AcquireLock(ctx context.Context, resourceID, holderID string, ttl time.Duration) (*models.Lock, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()

	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM locks WHERE resource_id = ? AND expires_at <= ?`), resourceID, now); err != nil {
		return nil, fmt.Errorf("clean expired locks: %w", err)
	}

	var existingHolder string
	err = tx.QueryRowContext(ctx, s.rebind(
		`SELECT holder_id FROM locks WHERE resource_id = ? AND expires_at > ?`),
		resourceID, now,
	).Scan(&existingHolder)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("check existing lock: %w", err)
	}
	if err == nil {
		return nil, ErrResourceLocked
	}

	lock := &models.Lock{
		ID:         uuid.New().String(),
		ResourceID: resourceID,
		HolderID:   holderID,
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
	}

	_, err = tx.ExecContext(ctx, s.rebind(
		`INSERT INTO locks (id, resource_id, holder_id, created_at, expires_at) VALUES (?, ?, ?, ?, ?)`),
		lock.ID, lock.ResourceID, lock.HolderID, lock.CreatedAt, lock.ExpiresAt,
	)
	if err != nil {
		// Lost the race to another holder between the check and the insert
		if isUniqueViolation(err) {
			return nil, ErrResourceLocked
		}
		return nil, fmt.Errorf("insert lock: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return lock, nil
}

// GetLock retrieves a live lock by resource id, or ErrNotFound.
func (s *Store) GetLock(ctx context.Context, resourceID string) (*models.Lock, error) {
	lock := &models.Lock{}
	err := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT id, resource_id, holder_id, created_at, expires_at FROM locks WHERE resource_id = ? AND expires_at > ?`),
		resourceID, time.Now().UTC(),
	).Scan(&lock.ID, &lock.ResourceID, &lock.HolderID, &lock.CreatedAt, &lock.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query lock: %w", err)
	}
	return lock, nil
}

// ReleaseLock releases a lock.
func (s *Store) ReleaseLock(ctx context.Context, lockID string) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM locks WHERE id = ?`), lockID)
	return err
}
