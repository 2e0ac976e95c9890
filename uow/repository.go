package uow

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"reflect"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

// Repository exposes typed operations for one bun model bound to a unit of
// work. Writes are buffered in the unit of work until the next flush; reads
// go through its open transaction when there is one and do not see
// mutations that have not been flushed yet.
type Repository[T any] struct {
	uow *UnitOfWork
}

// RepositoryOf returns the repository for T, creating it on first use. Every
// call on the same unit of work returns the same instance.
func RepositoryOf[T any](u *UnitOfWork) *Repository[T] {
	key := reflect.TypeFor[T]()
	if u.repos == nil {
		// closed units still hand out a repository; its operations fail with ErrClosed
		return &Repository[T]{uow: u}
	}
	if existing, ok := u.repos[key]; ok {
		return existing.(*Repository[T])
	}
	repo := &Repository[T]{uow: u}
	u.repos[key] = repo
	return repo
}

// Add schedules an insert.
func (r *Repository[T]) Add(entity *T) error {
	if entity == nil {
		return ErrNilEntity
	}
	return r.uow.track(opInsert, entity)
}

// Update schedules a full-row update by primary key.
func (r *Repository[T]) Update(entity *T) error {
	if entity == nil {
		return ErrNilEntity
	}
	return r.uow.track(opUpdate, entity)
}

// Remove schedules a delete by primary key.
func (r *Repository[T]) Remove(entity *T) error {
	if entity == nil {
		return ErrNilEntity
	}
	return r.uow.track(opDelete, entity)
}

// FindByID loads a record by primary key. found is false when it does not exist.
func (r *Repository[T]) FindByID(ctx context.Context, id any, criteria ...repository.SelectCriteria) (*T, bool, error) {
	if r.uow.closed {
		return nil, false, ErrClosed
	}

	entity := new(T)
	q := r.uow.IDB().NewSelect().Model(entity).Where("?PKs = ?", id)
	for _, c := range criteria {
		q = c(q)
	}
	err := q.Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("find %s by id: %w", typeName[T](), err)
	}
	return entity, true, nil
}

// List returns every record matching criteria.
func (r *Repository[T]) List(ctx context.Context, criteria ...repository.SelectCriteria) ([]T, error) {
	if r.uow.closed {
		return nil, ErrClosed
	}

	var records []T
	if err := r.query(&records, criteria).Scan(ctx); err != nil {
		return nil, fmt.Errorf("list %s: %w", typeName[T](), err)
	}
	return records, nil
}

// Count returns the number of records matching criteria.
func (r *Repository[T]) Count(ctx context.Context, criteria ...repository.SelectCriteria) (int, error) {
	if r.uow.closed {
		return 0, ErrClosed
	}

	n, err := r.query((*T)(nil), criteria).Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", typeName[T](), err)
	}
	return n, nil
}

func (r *Repository[T]) query(model any, criteria []repository.SelectCriteria) *bun.SelectQuery {
	q := r.uow.IDB().NewSelect().Model(model)
	for _, c := range criteria {
		q = c(q)
	}
	return q
}

func typeName[T any]() string {
	return reflect.TypeFor[T]().Name()
}
