package uow

import (
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

var (
	// ErrTransactionInProgress is returned by BeginTransaction while a transaction is active.
	ErrTransactionInProgress = errors.New("uow: transaction already in progress")
	// ErrNoTransaction is returned by Commit and Rollback when no transaction is active.
	ErrNoTransaction = errors.New("uow: no active transaction")
	// ErrClosed is returned by any operation on a closed unit of work.
	ErrClosed = errors.New("uow: unit of work is closed")
	// ErrConflict matches persistence errors caused by a constraint violation.
	ErrConflict = errors.New("uow: persistence conflict")
	// ErrNilEntity is returned when a nil record is handed to a repository.
	ErrNilEntity = errors.New("uow: entity is nil")
)

// PersistenceError reports a store failure while flushing or committing.
type PersistenceError struct {
	Op       string
	Conflict bool
	Err      error
}

func (e *PersistenceError) Error() string {
	if e.Conflict {
		return fmt.Sprintf("uow: %s: conflict: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("uow: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrConflict) match constraint violations.
func (e *PersistenceError) Is(target error) bool {
	return target == ErrConflict && e.Conflict
}

// IsConflict reports whether err is a constraint violation surfaced by the store.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

func persistenceError(op string, err error) error {
	if err == nil {
		return nil
	}
	var existing *PersistenceError
	if errors.As(err, &existing) {
		return err
	}
	return &PersistenceError{Op: op, Conflict: isConstraintViolation(err), Err: err}
}

func isConstraintViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
		return true
	}

	// SQLSTATE class 23: integrity constraint violation
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code.Class() == "23" {
		return true
	}
	return false
}
