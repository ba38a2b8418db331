package postgres

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/billforge/billforge/pkg/apperr"
	"github.com/billforge/billforge/pkg/model"
)

// SQLSTATE codes the store maps onto the error taxonomy.
const (
	codeUniqueViolation      = "23505"
	codeForeignKeyViolation  = "23503"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
	codeQueryCanceled        = "57014"
	codeAdminShutdown        = "57P01"
	codeCannotConnectNow     = "57P03"
)

// classify translates driver errors into apperr types. Errors that are
// already classified pass through unchanged.
func classify(op string, err error) error {
	if err == nil || apperr.Classified(err) {
		return err
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", op, apperr.ErrNotFound)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeUniqueViolation:
			field, ok := model.UniqueFieldForIndex(pgErr.ConstraintName)
			if !ok {
				field = pgErr.ColumnName
			}
			return &apperr.UniquenessConflictError{Field: field}
		case codeForeignKeyViolation:
			return &apperr.ReferentialConflictError{Parent: pgErr.ConstraintName, Child: pgErr.TableName, Count: 1}
		case codeSerializationFailure, codeDeadlockDetected:
			return fmt.Errorf("%s: %s: %w", op, pgErr.Message, apperr.ErrConflict)
		case codeLockNotAvailable, codeQueryCanceled, codeAdminShutdown, codeCannotConnectNow:
			return apperr.Unavailable(op, err)
		}
		return err
	}

	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) ||
		pgconn.Timeout(err) ||
		errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) {
		return apperr.Unavailable(op, err)
	}
	return err
}
