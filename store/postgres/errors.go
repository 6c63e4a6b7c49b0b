package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/MrEthical07/orgauth/store"
)

// mapError converts driver errors to store sentinels. Anything that is not a
// missing row or a constraint violation is treated as an outage.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}

	switch pgErr.Code {
	case pgerrcode.UniqueViolation:
		return fmt.Errorf("%w: %s", store.ErrConflict, pgErr.ConstraintName)
	case pgerrcode.ForeignKeyViolation, pgerrcode.CheckViolation, pgerrcode.NotNullViolation:
		return fmt.Errorf("%w: %s", store.ErrInvalid, pgErr.ConstraintName)
	case pgerrcode.SerializationFailure, pgerrcode.DeadlockDetected:
		return fmt.Errorf("%w: transaction conflict: %v", store.ErrUnavailable, err)
	default:
		return fmt.Errorf("%w: postgres error [%s]: %s", store.ErrUnavailable, pgErr.Code, pgErr.Message)
	}
}
