// Package lock serializes extraction runs that share one MySQL sink using
// named advisory locks.
package lock

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrLockTimeout means another process held the lock for the whole wait.
var ErrLockTimeout = errors.New("lock acquisition timed out")

// GET_LOCK waits, in seconds. MySQL treats a negative wait as unbounded.
const (
	TimeoutImmediate = 0
	TimeoutShort     = 1
	TimeoutInfinite  = -1
)

// maxNameLength is the MySQL limit on lock names.
const maxNameLength = 64

// AdvisoryLock is a named MySQL session lock. The session is a connection
// reserved from the pool for as long as the lock is held, so MySQL drops the
// lock by itself if the process dies.
type AdvisoryLock struct {
	db   *sql.DB
	conn *sql.Conn
	name string
}

// NewAdvisoryLock prepares a lock called name. Nothing is taken until
// AcquireLock.
func NewAdvisoryLock(db *sql.DB, name string) *AdvisoryLock {
	return &AdvisoryLock{db: db, name: name}
}

// decodeLockResult interprets the 1 / 0 / NULL answers of GET_LOCK and
// RELEASE_LOCK.
func decodeLockResult(fn, name string, r sql.NullInt64) (bool, error) {
	switch {
	case !r.Valid:
		return false, fmt.Errorf("%s returned NULL for lock %q", fn, name)
	case r.Int64 == 1:
		return true, nil
	case r.Int64 == 0:
		return false, nil
	default:
		return false, fmt.Errorf("unexpected %s result %d for lock %q", fn, r.Int64, name)
	}
}

// AcquireLock waits up to timeoutSeconds for the lock. It reports false when
// the wait ran out and is a no-op when the lock is already held.
func (a *AdvisoryLock) AcquireLock(ctx context.Context, timeoutSeconds int) (bool, error) {
	if a.conn != nil {
		return true, nil
	}
	if a.db == nil {
		return false, fmt.Errorf("database connection is nil")
	}

	conn, err := a.db.Conn(ctx)
	if err != nil {
		return false, fmt.Errorf("reserve connection for lock %q: %w", a.name, err)
	}

	var r sql.NullInt64
	if err := conn.QueryRowContext(ctx, "SELECT GET_LOCK(?, ?)", a.name, timeoutSeconds).Scan(&r); err != nil {
		conn.Close()
		return false, fmt.Errorf("GET_LOCK %q: %w", a.name, err)
	}
	ok, err := decodeLockResult("GET_LOCK", a.name, r)
	if !ok {
		conn.Close()
		return false, err
	}
	a.conn = conn
	return true, nil
}

// ReleaseLock gives the lock back and returns its connection to the pool. It
// reports false when the lock was not held.
func (a *AdvisoryLock) ReleaseLock(ctx context.Context) (bool, error) {
	conn := a.conn
	if conn == nil {
		return false, nil
	}
	a.conn = nil
	defer conn.Close()

	var r sql.NullInt64
	if err := conn.QueryRowContext(ctx, "SELECT RELEASE_LOCK(?)", a.name).Scan(&r); err != nil {
		return false, fmt.Errorf("RELEASE_LOCK %q: %w", a.name, err)
	}
	return decodeLockResult("RELEASE_LOCK", a.name, r)
}

// IsHeld reports whether this instance holds the lock.
func (a *AdvisoryLock) IsHeld() bool { return a.conn != nil }

// LockName returns the MySQL lock name.
func (a *AdvisoryLock) LockName() string { return a.name }

// TryAcquire takes the lock only if it is free right now.
func (a *AdvisoryLock) TryAcquire(ctx context.Context) (bool, error) {
	return a.AcquireLock(ctx, TimeoutImmediate)
}

// AcquireOrFail waits TimeoutShort and wraps ErrLockTimeout when the lock
// stays taken.
func (a *AdvisoryLock) AcquireOrFail(ctx context.Context) error {
	return a.acquire(ctx, TimeoutShort)
}

func (a *AdvisoryLock) acquire(ctx context.Context, timeoutSeconds int) error {
	ok, err := a.AcquireLock(ctx, timeoutSeconds)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: lock %q is held by another instance", ErrLockTimeout, a.name)
	}
	return nil
}

// WithLock runs fn while holding the lock. The lock is released with a fresh
// context because fn may return after ctx was canceled.
func (a *AdvisoryLock) WithLock(ctx context.Context, timeoutSeconds int, fn func() error) error {
	if err := a.acquire(ctx, timeoutSeconds); err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, _ = a.ReleaseLock(releaseCtx)
	}()
	return fn()
}

// GenerateRunLockName returns "goextract:run:<scope>" with every character
// outside [A-Za-z0-9_-] replaced by '_', cut to the MySQL length limit.
func GenerateRunLockName(scope string) string {
	name := "goextract:run:" + strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		}
		return '_'
	}, scope)
	if len(name) > maxNameLength {
		name = name[:maxNameLength]
	}
	return name
}

// NewRunLock returns the lock guarding runs that write into scope, normally
// the sink database name.
func NewRunLock(db *sql.DB, scope string) *AdvisoryLock {
	return NewAdvisoryLock(db, GenerateRunLockName(scope))
}

// IsRunActive reports whether some other process holds the run lock for
// scope. The answer may be stale as soon as it is returned.
func IsRunActive(ctx context.Context, db *sql.DB, scope string) (bool, error) {
	l := NewRunLock(db, scope)
	ok, err := l.TryAcquire(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to check run lock for %q: %w", scope, err)
	}
	if ok {
		_, _ = l.ReleaseLock(ctx)
	}
	return !ok, nil
}
