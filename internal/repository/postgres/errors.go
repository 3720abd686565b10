package postgres

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"docstore/internal/domain"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// IsPgDuplicateError checks if error is a unique constraint violation
func IsPgDuplicateError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

// IsPgNoRowsError checks if error is a "no rows" error
func IsPgNoRowsError(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// IsPgForeignKeyError checks if error is a foreign key violation
func IsPgForeignKeyError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation
}

// TranslateError maps driver errors onto the domain taxonomy so services
// can branch with errors.Is regardless of backend.
func TranslateError(err error, resource, id string) error {
	switch {
	case err == nil:
		return nil
	case IsPgNoRowsError(err):
		return &domain.NotFoundError{Resource: resource, ID: id}
	case IsPgDuplicateError(err):
		return &domain.ConflictError{Resource: resource, ID: id, Message: "already exists"}
	case IsPgForeignKeyError(err):
		return &domain.InvariantError{DocID: id, Message: resource + " references a missing row: " + err.Error()}
	}
	return err
}
