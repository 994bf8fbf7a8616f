package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"grocerylist/internal/grocery/model"

	"github.com/lib/pq"
)

// mapError converts database/sql and lib/pq errors to model errors.
// Context cancellation passes through unchanged.
func mapError(err error, entity string, id int64) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s %d: %w", entity, id, err)
	}

	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %d: %w", entity, id, model.ErrNotFound)
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23503", "23505": // foreign_key_violation, unique_violation
			return fmt.Errorf("%s %d: %s: %w", entity, id, pqErr.Code.Name(), model.ErrConflict)
		case "23514": // check_violation
			return fmt.Errorf("%s %d: %s: %w", entity, id, pqErr.Code.Name(), model.ErrValidation)
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return fmt.Errorf("%s %d: %s: %w", entity, id, pqErr.Code.Name(), model.ErrConflict)
		}
	}

	return fmt.Errorf("%s %d: %w", entity, id, err)
}
