// internal/lock/lock.go
package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"vaste-chatbot/internal/clock"
)

var ErrInvalidInput = errors.New("invalid lock request")

// Store performs the lease mutations. Each method must be a single atomic
// compare-and-swap against the shared store and report whether it applied.
type Store interface {
	AcquireLock(ctx context.Context, id, holder string, nowMs, expiresAtMs int64) (bool, error)
	ExtendLock(ctx context.Context, id, holder string, nowMs, expiresAtMs int64) (bool, error)
	ClearLock(ctx context.Context, id, holder string) (bool, error)
	LockState(ctx context.Context, id string) (holder string, expiresAtMs int64, err error)
}

// Lease is the outcome of a lock operation. A denied claim or a lost renewal
// is reported with OK false, not as an error.
type Lease struct {
	OK        bool
	Holder    string
	ExpiresAt time.Time
}

type Service struct {
	store Store
	clock clock.Clock
	log   *slog.Logger
}

func NewService(store Store, clk clock.Clock, log *slog.Logger) *Service {
	if clk == nil {
		clk = clock.SystemClock{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{store: store, clock: clk, log: log}
}

// Claim takes the lease on resourceID for holderID when it is free, expired, or
// already held by holderID.
func (s *Service) Claim(ctx context.Context, resourceID, holderID string, ttl time.Duration) (Lease, error) {
	if err := validate(resourceID, holderID, ttl); err != nil {
		return Lease{}, err
	}

	now := s.clock.Now()
	expires := now.Add(ttl)
	ok, err := s.store.AcquireLock(ctx, resourceID, holderID, now.UnixMilli(), expires.UnixMilli())
	if err != nil {
		return Lease{}, fmt.Errorf("claim %s: %w", resourceID, err)
	}
	if ok {
		return Lease{OK: true, Holder: holderID, ExpiresAt: expires}, nil
	}

	// Denied, or the resource does not exist.
	holder, expiresAt, err := s.store.LockState(ctx, resourceID)
	if err != nil {
		return Lease{}, fmt.Errorf("claim %s: %w", resourceID, err)
	}
	s.log.Debug("Lock claim denied", "config_id", resourceID, "instance_id", holderID, "holder", holder)
	return Lease{Holder: holder, ExpiresAt: time.UnixMilli(expiresAt)}, nil
}

// Renew extends the lease only while holderID is the current unexpired holder.
// A missing resource counts as a lost lease.
func (s *Service) Renew(ctx context.Context, resourceID, holderID string, ttl time.Duration) (Lease, error) {
	if err := validate(resourceID, holderID, ttl); err != nil {
		return Lease{}, err
	}

	now := s.clock.Now()
	expires := now.Add(ttl)
	ok, err := s.store.ExtendLock(ctx, resourceID, holderID, now.UnixMilli(), expires.UnixMilli())
	if err != nil {
		return Lease{}, fmt.Errorf("renew %s: %w", resourceID, err)
	}
	if ok {
		return Lease{OK: true, Holder: holderID, ExpiresAt: expires}, nil
	}

	lease := Lease{}
	if holder, expiresAt, err := s.store.LockState(ctx, resourceID); err == nil {
		lease.Holder = holder
		lease.ExpiresAt = time.UnixMilli(expiresAt)
	}
	s.log.Warn("Lease lost", "config_id", resourceID, "instance_id", holderID, "holder", lease.Holder)
	return lease, nil
}

// Release clears the lease if holderID still owns it. Releasing a lease that
// expired or moved to another holder is a no-op.
func (s *Service) Release(ctx context.Context, resourceID, holderID string) (bool, error) {
	if strings.TrimSpace(resourceID) == "" || strings.TrimSpace(holderID) == "" {
		return false, ErrInvalidInput
	}

	released, err := s.store.ClearLock(ctx, resourceID, holderID)
	if err != nil {
		return false, fmt.Errorf("release %s: %w", resourceID, err)
	}
	return released, nil
}

func validate(resourceID, holderID string, ttl time.Duration) error {
	switch {
	case strings.TrimSpace(resourceID) == "":
		return fmt.Errorf("%w: resource id is required", ErrInvalidInput)
	case strings.TrimSpace(holderID) == "":
		return fmt.Errorf("%w: holder id is required", ErrInvalidInput)
	case ttl <= 0:
		return fmt.Errorf("%w: ttl must be positive", ErrInvalidInput)
	}
	return nil
}
