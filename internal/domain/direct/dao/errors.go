package dao

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vadim/neo-inbox/internal/apperr"
)

const uniqueViolation = "23505"

// isUniqueViolation reports whether err is a unique constraint violation on constraint
func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == uniqueViolation && (constraint == "" || pgErr.ConstraintName == constraint)
	}
	return false
}

// storeError classifies a driver failure as a transient store error
func storeError(op string, err error) error {
	return apperr.Unavailable(op, err)
}
