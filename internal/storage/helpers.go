package storage

import (
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// pgUniqueViolation is the Postgres error code for a unique_violation,
// mirrored here so callers don't need to import pgconn directly.
const pgUniqueViolation = "23505"

// classifyUniqueViolation maps a unique-constraint violation to ErrConflict,
// leaving every other error untouched.
func classifyUniqueViolation(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return ErrConflict
	}
	return err
}

// newOpaqueID mints a random identifier for rows the caller did not already
// assign an ID to (accounts created during OAuth linking, for instance).
func newOpaqueID() string {
	return uuid.NewString()
}
