package state

import (
	"context"
	"fmt"
	"time"
)

// Lease records which process is currently syncing.
type Lease struct {
	Holder     string    `json:"holder"`
	Trigger    string    `json:"trigger"`
	AcquiredAt time.Time `json:"acquiredAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

// AcquireLease claims the sync lease for holder until ttl elapses. It fails
// with ErrSyncInProgress while another holder has an unexpired lease. The
// claim is a single conditional UPDATE so two processes cannot both win.
func (s *Store) AcquireLease(ctx context.Context, holder, trigger string, ttl time.Duration) error {
	now := s.now()
	res, err := s.db.ExecContext(ctx,
		`UPDATE sync_lease
		 SET holder = ?, trigger = ?, acquired_at = ?, expires_at = ?
		 WHERE id = 1 AND (holder = '' OR expires_at <= ?)`,
		holder, trigger, now.Unix(), now.Add(ttl).Unix(), now.Unix())
	if err != nil {
		return fmt.Errorf("failed to acquire sync lease: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to acquire sync lease: %w", err)
	}
	if n == 0 {
		return ErrSyncInProgress
	}
	return nil
}

// ExtendLease pushes the expiry of holder's lease to ttl from now. A lease
// that lapsed but was not taken over is revived. It fails with ErrLeaseLost
// once another holder owns the lease.
func (s *Store) ExtendLease(ctx context.Context, holder string, ttl time.Duration) error {
	now := s.now()
	res, err := s.db.ExecContext(ctx,
		`UPDATE sync_lease SET expires_at = ?
		 WHERE id = 1 AND holder = ?`,
		now.Add(ttl).Unix(), holder)
	if err != nil {
		return fmt.Errorf("failed to extend sync lease: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to extend sync lease: %w", err)
	}
	if n == 0 {
		return ErrLeaseLost
	}
	return nil
}

// ReleaseLease frees the lease if holder still owns it.
func (s *Store) ReleaseLease(ctx context.Context, holder string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sync_lease SET holder = '', trigger = '', acquired_at = 0, expires_at = 0
		 WHERE id = 1 AND holder = ?`, holder)
	if err != nil {
		return fmt.Errorf("failed to release sync lease: %w", err)
	}
	return nil
}

// CurrentLease returns the active lease, or nil when no sync is running.
func (s *Store) CurrentLease(ctx context.Context) (*Lease, error) {
	var (
		l                 Lease
		acquired, expires int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT holder, trigger, acquired_at, expires_at FROM sync_lease WHERE id = 1`).
		Scan(&l.Holder, &l.Trigger, &acquired, &expires)
	if err != nil {
		return nil, fmt.Errorf("failed to read sync lease: %w", err)
	}
	if l.Holder == "" || expires <= s.now().Unix() {
		return nil, nil
	}
	l.AcquiredAt = time.Unix(acquired, 0)
	l.ExpiresAt = time.Unix(expires, 0)
	return &l, nil
}
