package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestErrorClassification(t *testing.T) {
	wrapped := func(code string) error {
		return fmt.Errorf("advance: %w", &pgconn.PgError{Code: code})
	}

	assert.True(t, IsSerializationFailure(wrapped("40001")))
	assert.True(t, IsDeadlock(wrapped("40P01")))
	assert.True(t, IsLockTimeout(wrapped("55P03")))

	assert.True(t, IsRetryableConflict(wrapped("40001")))
	assert.True(t, IsRetryableConflict(wrapped("40P01")))
	assert.True(t, IsRetryableConflict(wrapped("55P03")))
	assert.False(t, IsRetryableConflict(wrapped("23505")))
	assert.False(t, IsRetryableConflict(errors.New("boom")))
	assert.False(t, IsRetryableConflict(nil))

	assert.True(t, IsDuplicateKeyErr(wrapped("23505")))
	assert.True(t, IsDuplicateKeyErr(gorm.ErrDuplicatedKey))
	assert.True(t, IsDuplicateKeyErr(errors.New("UNIQUE constraint failed: obligations.id")))
	assert.False(t, IsDuplicateKeyErr(nil))
}
