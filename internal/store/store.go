package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

var (
	// ErrAlreadyResolved is returned when a resolve loses to an earlier one.
	ErrAlreadyResolved = errors.New("review request already resolved")
	// ErrRequestNotFound is returned when a review request id does not exist.
	ErrRequestNotFound = errors.New("review request not found")
	// ErrCompanyNotFound is returned when a company id does not exist.
	ErrCompanyNotFound = errors.New("company not found")
	// ErrStorageUnavailable wraps every failure of the underlying database.
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// base carries what every table store needs: the connection, a per-call timeout
// and a clock.
type base struct {
	db      *sqlx.DB
	timeout time.Duration
	now     func() time.Time
}

func newBase(db *sqlx.DB, timeout time.Duration) base {
	return base{db: db, timeout: timeout, now: func() time.Time { return time.Now().UTC() }}
}

func (b base) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if b.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, b.timeout)
}

func (b base) rebind(query string) string {
	return b.db.Rebind(query)
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStorageUnavailable, err)
}

func nullableInt(p *int) any {
	if p == nil {
		return nil
	}
	return int64(*p)
}

func nullableInt64(p *int64) any {
	if p == nil {
		return nil
	}
	return *p
}
