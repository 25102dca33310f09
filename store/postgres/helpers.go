package postgres

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// isNoRows returns true when err indicates no rows were found.
func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// isDuplicateKey checks if a PostgreSQL error is a unique_violation (23505).
func isDuplicateKey(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

// textArray returns names as a non-nil slice so it encodes as an empty
// array rather than NULL.
func textArray(names []string) []string {
	if names == nil {
		return []string{}
	}
	return names
}

// nullableLimit maps a zero limit to NULL, which Postgres treats as no limit.
func nullableLimit(limit int) any {
	if limit <= 0 {
		return nil
	}
	return limit
}
