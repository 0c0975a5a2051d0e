package store

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNotFound covers both rows that do not exist and rows the caller is
	// not allowed to see. The two cases are indistinguishable on purpose.
	ErrNotFound = errors.New("store: not found")

	// ErrDuplicate reports a unique-constraint violation on insert.
	ErrDuplicate = errors.New("store: duplicate")
)

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
