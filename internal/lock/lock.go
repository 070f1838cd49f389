// Package lock guards a broadcast cycle across processes. Two bot instances
// pointed at the same store must not dispatch the same batch concurrently.
package lock

import (
	"context"
	"errors"
)

// ErrNotAcquired means another holder owns the lock.
var ErrNotAcquired = errors.New("lock: held by another process")

// Locker hands out exclusive leases.
type Locker interface {
	// Acquire returns ErrNotAcquired without waiting when the lock is taken.
	Acquire(ctx context.Context) (Lease, error)
	Close() error
}

// Lease is one successful acquisition.
type Lease interface {
	// Release is safe to call more than once.
	Release(ctx context.Context) error
}

// Local is the Locker used when no redis is configured. Process-local
// exclusion is already provided by the scheduler gate.
type Local struct{}

func (Local) Acquire(context.Context) (Lease, error) { return localLease{}, nil }
func (Local) Close() error                           { return nil }

type localLease struct{}

func (localLease) Release(context.Context) error { return nil }
