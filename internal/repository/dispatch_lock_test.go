package repository

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/unclebandit/newsletter-dispatch/internal/errors"
)

func TestDispatchLockAcquireAndRelease(t *testing.T) {
	db, mock := newMock(t)
	lock := &DispatchLock{DB: db}

	mock.ExpectQuery(regexp.QuoteMeta("SELECT pg_try_advisory_lock(hashtextextended($1, 0))")).
		WithArgs("c1").
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(true))
	mock.ExpectExec(regexp.QuoteMeta("SELECT pg_advisory_unlock(hashtextextended($1, 0))")).
		WithArgs("c1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	unlock, err := lock.TryLock(context.Background(), "c1")
	require.NoError(t, err)
	unlock()
	unlock()

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDispatchLockHeldElsewhere(t *testing.T) {
	db, mock := newMock(t)
	lock := &DispatchLock{DB: db}

	mock.ExpectQuery(regexp.QuoteMeta("SELECT pg_try_advisory_lock(hashtextextended($1, 0))")).
		WithArgs("c1").
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(false))

	unlock, err := lock.TryLock(context.Background(), "c1")
	assert.Nil(t, unlock)
	assert.ErrorIs(t, err, appErrors.ErrDispatchInProgress)
	assert.NoError(t, mock.ExpectationsWereMet())
}
