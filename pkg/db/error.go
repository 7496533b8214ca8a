package db

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

const (
	pgCodeUniqueViolation      = "23505"
	pgCodeSerializationFailure = "40001"
	pgCodeDeadlockDetected     = "40P01"
	pgCodeLockNotAvailable     = "55P03"
)

func IsDuplicateKeyErr(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, gorm.ErrDuplicatedKey) || HasPGCode(err, pgCodeUniqueViolation) {
		return true
	}

	// MySQL (error code 1062)
	if strings.Contains(err.Error(), "Error 1062") {
		return true
	}

	// SQLite (error code 2067)
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return true
	}

	return false
}

// IsLockTimeout reports lock_not_available, raised when a row lock cannot be
// acquired within lock_timeout.
func IsLockTimeout(err error) bool {
	return HasPGCode(err, pgCodeLockNotAvailable)
}

func IsSerializationFailure(err error) bool {
	return HasPGCode(err, pgCodeSerializationFailure)
}

func IsDeadlock(err error) bool {
	return HasPGCode(err, pgCodeDeadlockDetected)
}

// IsRetryableConflict reports errors caused by a competing transaction, where
// re-running the whole read-modify-write can succeed.
func IsRetryableConflict(err error) bool {
	return IsSerializationFailure(err) || IsDeadlock(err) || IsLockTimeout(err)
}

func HasPGCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	return false
}
