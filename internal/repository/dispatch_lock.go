package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"

	appErrors "github.com/unclebandit/newsletter-dispatch/internal/errors"
)

// DispatchLock holds a session-level Postgres advisory lock per newsletter
// for the length of a dispatch. The lock lives on a dedicated connection, so
// it is released when the holder's process dies.
type DispatchLock struct {
	DB *sqlx.DB
}

func (l *DispatchLock) TryLock(ctx context.Context, newsletterID string) (func(), error) {
	conn, err := l.DB.Connx(ctx)
	if err != nil {
		return nil, fmt.Errorf("reserving lock connection: %w", err)
	}

	var acquired bool
	query := `SELECT pg_try_advisory_lock(hashtextextended($1, 0))`
	if err := conn.QueryRowxContext(ctx, query, newsletterID).Scan(&acquired); err != nil {
		conn.Close()
		return nil, fmt.Errorf("acquiring dispatch lock: %w", err)
	}
	if !acquired {
		conn.Close()
		return nil, appErrors.ErrDispatchInProgress
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			// Closing the connection drops the lock even if this fails.
			_, _ = conn.ExecContext(ctx, `SELECT pg_advisory_unlock(hashtextextended($1, 0))`, newsletterID)
			conn.Close()
		})
	}, nil
}
