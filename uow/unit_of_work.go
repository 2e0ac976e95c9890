package uow

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"reflect"

	"github.com/uptrace/bun"
)

type opKind int

const (
	opInsert opKind = iota + 1
	opUpdate
	opDelete
)

func (k opKind) String() string {
	switch k {
	case opInsert:
		return "insert"
	case opUpdate:
		return "update"
	case opDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// mutation is one buffered write waiting for the next flush.
type mutation struct {
	op    opKind
	model any
}

// UnitOfWork owns one logical operation's pending writes, its repositories and
// at most one open transaction. It is not safe for concurrent use and must not
// outlive the operation that created it.
type UnitOfWork struct {
	db      *bun.DB
	tx      bun.Tx
	active  bool
	closed  bool
	pending []mutation
	repos   map[reflect.Type]any
	hooks   []func(context.Context)
	logger  *slog.Logger
}

// Option configures a UnitOfWork.
type Option func(*UnitOfWork)

// WithLogger sets the logger used for transaction diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(u *UnitOfWork) {
		if logger != nil {
			u.logger = logger
		}
	}
}

// New creates a unit of work over db. The database handle is shared and is
// not closed by the unit of work.
func New(db *bun.DB, opts ...Option) *UnitOfWork {
	u := &UnitOfWork{
		db:     db,
		repos:  make(map[reflect.Type]any),
		logger: slog.Default().WithGroup("uow"),
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// InTransaction reports whether a transaction is active.
func (u *UnitOfWork) InTransaction() bool {
	return u.active
}

// Pending returns the number of buffered mutations.
func (u *UnitOfWork) Pending() int {
	return len(u.pending)
}

// IDB returns the handle reads and writes should go through: the open
// transaction if there is one, the database otherwise.
func (u *UnitOfWork) IDB() bun.IDB {
	if u.active {
		return u.tx
	}
	return u.db
}

// AfterCommit registers fn to run once the pending work is durably committed,
// either by Commit or by SaveChanges outside a transaction. Hooks are dropped
// on rollback and on Close.
func (u *UnitOfWork) AfterCommit(fn func(ctx context.Context)) {
	if fn == nil || u.closed {
		return
	}
	u.hooks = append(u.hooks, fn)
}

// BeginTransaction opens a transaction. Transactions never nest.
func (u *UnitOfWork) BeginTransaction(ctx context.Context) error {
	if u.closed {
		return ErrClosed
	}
	if u.active {
		return ErrTransactionInProgress
	}

	tx, err := u.db.BeginTx(ctx, nil)
	if err != nil {
		return persistenceError("begin", err)
	}
	u.tx = tx
	u.active = true
	u.logger.Debug("transaction started")
	return nil
}

// Commit flushes pending mutations into the transaction and commits it.
// Any failure rolls the transaction back and leaves the unit of work idle.
func (u *UnitOfWork) Commit(ctx context.Context) error {
	if u.closed {
		return ErrClosed
	}
	if !u.active {
		return ErrNoTransaction
	}

	if _, err := u.flush(ctx, u.tx); err != nil {
		u.abort()
		return err
	}
	if err := u.tx.Commit(); err != nil {
		u.abort()
		return persistenceError("commit", err)
	}

	u.reset()
	u.logger.Debug("transaction committed")
	u.runHooks(ctx)
	return nil
}

// Rollback discards the transaction and every mutation buffered since.
func (u *UnitOfWork) Rollback(ctx context.Context) error {
	if u.closed {
		return ErrClosed
	}
	if !u.active {
		return ErrNoTransaction
	}
	return u.abort()
}

// SaveChanges flushes pending mutations and returns the number of affected rows.
// Inside a transaction the rows become durable on Commit. Outside one the
// batch is written atomically in its own short transaction. A failed flush
// discards the batch.
func (u *UnitOfWork) SaveChanges(ctx context.Context) (int, error) {
	if u.closed {
		return 0, ErrClosed
	}
	if u.active {
		return u.flush(ctx, u.tx)
	}
	if len(u.pending) == 0 {
		return 0, nil
	}

	var affected int
	err := u.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		n, err := u.flush(ctx, tx)
		affected = n
		return err
	})
	if err != nil {
		u.pending = nil
		u.hooks = nil
		return 0, persistenceError("save", err)
	}

	u.runHooks(ctx)
	return affected, nil
}

// Execute runs fn inside a transaction. See ExecuteInTransaction.
func (u *UnitOfWork) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := ExecuteInTransaction(ctx, u, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// ExecuteInTransaction begins a transaction, runs work and commits. If work
// returns an error, or panics, the transaction is rolled back and the original
// error is returned unchanged. A failed commit is returned as a PersistenceError.
//
// work must not commit or roll back the transaction itself. If it does and
// still returns nil, ExecuteInTransaction reports ErrNoTransaction; whatever
// work committed stays committed.
func ExecuteInTransaction[T any](ctx context.Context, u *UnitOfWork, work func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	if err := u.BeginTransaction(ctx); err != nil {
		return zero, err
	}

	done := false
	defer func() {
		if !done {
			u.abort()
		}
	}()

	result, err := work(ctx)
	done = true
	if err != nil {
		if rbErr := u.abort(); rbErr != nil {
			u.logger.Warn("rollback after failed work returned an error",
				slog.String("error", rbErr.Error()),
			)
		}
		return zero, err
	}

	if !u.active {
		return zero, fmt.Errorf("%w: work ended the transaction itself", ErrNoTransaction)
	}
	if err := u.Commit(ctx); err != nil {
		return zero, err
	}
	return result, nil
}

// Close releases the unit of work. An uncommitted transaction is rolled back.
// Calling Close more than once is safe.
func (u *UnitOfWork) Close() error {
	if u.closed {
		return nil
	}

	var err error
	if u.active {
		err = u.abort()
	}
	u.closed = true
	u.pending = nil
	u.hooks = nil
	u.repos = nil
	return err
}

func (u *UnitOfWork) track(op opKind, model any) error {
	if u.closed {
		return ErrClosed
	}
	u.pending = append(u.pending, mutation{op: op, model: model})
	return nil
}

func (u *UnitOfWork) flush(ctx context.Context, idb bun.IDB) (int, error) {
	batch := u.pending
	u.pending = nil

	affected := 0
	for _, m := range batch {
		if err := ctx.Err(); err != nil {
			return affected, persistenceError(m.op.String(), err)
		}

		var (
			res sql.Result
			err error
		)
		switch m.op {
		case opInsert:
			res, err = idb.NewInsert().Model(m.model).Exec(ctx)
		case opUpdate:
			res, err = idb.NewUpdate().Model(m.model).WherePK().Exec(ctx)
		case opDelete:
			res, err = idb.NewDelete().Model(m.model).WherePK().Exec(ctx)
		default:
			err = errors.New("unknown mutation")
		}
		if err != nil {
			return affected, persistenceError(m.op.String(), err)
		}

		if n, err := res.RowsAffected(); err == nil {
			affected += int(n)
		}
	}
	return affected, nil
}

// abort rolls back the open transaction, if any, and returns the unit of work
// to idle.
func (u *UnitOfWork) abort() error {
	if !u.active {
		u.pending = nil
		u.hooks = nil
		return nil
	}
	err := u.tx.Rollback()
	u.reset()
	u.pending = nil
	u.hooks = nil
	u.logger.Debug("transaction rolled back")
	if err != nil && !errors.Is(err, sql.ErrTxDone) {
		return persistenceError("rollback", err)
	}
	return nil
}

func (u *UnitOfWork) reset() {
	u.tx = bun.Tx{}
	u.active = false
}

func (u *UnitOfWork) runHooks(ctx context.Context) {
	hooks := u.hooks
	u.hooks = nil
	for _, hook := range hooks {
		hook(ctx)
	}
}
