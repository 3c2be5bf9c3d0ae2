package database

import (
	"errors"

	"zapis/internal/domain"

	"github.com/mattn/go-sqlite3"
)

var (
	ErrNotAvailable           = domain.ErrSlotUnavailable
	ErrConcurrentModification = domain.ErrConcurrentModification
)

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
