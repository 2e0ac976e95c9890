// Package taskservice exposes owner scoped task operations. Reads go through
// a (normally cached) reader; writes run in a unit of work and evict the
// owner's cached reads once they commit.
package taskservice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/goliatone/go-taskstore/identity"
	"github.com/goliatone/go-taskstore/task"
	"github.com/goliatone/go-taskstore/uow"
	"github.com/uptrace/bun"
)

// ErrNotFound is returned when a task does not exist or belongs to another owner.
var ErrNotFound = errors.New("taskservice: task not found")

// Reader serves task views.
type Reader interface {
	ListViews(ctx context.Context, ownerID string, q task.Query) ([]task.View, error)
	GetView(ctx context.Context, ownerID, id string) (task.View, bool, error)
}

// Invalidator evicts cached reads for an owner and the given entities.
type Invalidator interface {
	Invalidate(ctx context.Context, kind, ownerID string, entityIDs ...string)
}

// Service implements the task operations.
type Service struct {
	db          *bun.DB
	reader      Reader
	invalidator Invalidator
	identity    identity.Provider
	now         func() time.Time
	newID       func() string
	logger      *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator overrides how new task ids are produced.
func WithIDGenerator(gen func() string) Option {
	return func(s *Service) {
		if gen != nil {
			s.newID = gen
		}
	}
}

// New creates a Service. invalidator may be nil when reads are not cached.
func New(db *bun.DB, reader Reader, invalidator Invalidator, provider identity.Provider, opts ...Option) *Service {
	s := &Service{
		db:          db,
		reader:      reader,
		invalidator: invalidator,
		identity:    provider,
		now:         time.Now,
		newID:       task.NewID,
		logger:      slog.Default().WithGroup("taskservice"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// List returns one page of the caller's tasks with subtask aggregates.
func (s *Service) List(ctx context.Context, q task.Query) ([]task.View, error) {
	owner, err := s.identity.OwnerID(ctx)
	if err != nil {
		return nil, err
	}
	return s.reader.ListViews(ctx, owner, q)
}

// Get returns one of the caller's tasks with its subtask aggregates.
func (s *Service) Get(ctx context.Context, id string) (task.View, error) {
	owner, err := s.identity.OwnerID(ctx)
	if err != nil {
		return task.View{}, err
	}
	view, found, err := s.reader.GetView(ctx, owner, id)
	if err != nil {
		return task.View{}, err
	}
	if !found {
		return task.View{}, ErrNotFound
	}
	return view, nil
}

// Create stores a new task. When a parent is given it must belong to the caller.
func (s *Service) Create(ctx context.Context, in task.NewTask) (*task.Task, error) {
	created, _, err := s.CreateWithSubtasks(ctx, in)
	return created, err
}

// CreateWithSubtasks stores a task and its direct subtasks atomically: either
// all of them are persisted or none is.
func (s *Service) CreateWithSubtasks(ctx context.Context, in task.NewTask, subtasks ...task.NewTask) (*task.Task, []*task.Task, error) {
	owner, err := s.identity.OwnerID(ctx)
	if err != nil {
		return nil, nil, err
	}
	if err := in.Validate(); err != nil {
		return nil, nil, err
	}
	for i, sub := range subtasks {
		if err := sub.Validate(); err != nil {
			return nil, nil, fmt.Errorf("subtask %d: %w", i, err)
		}
	}

	u := uow.New(s.db, uow.WithLogger(s.logger))
	defer u.Close()

	type result struct {
		parent   *task.Task
		children []*task.Task
	}

	res, err := uow.ExecuteInTransaction(ctx, u, func(ctx context.Context) (result, error) {
		tasks := uow.RepositoryOf[task.Task](u)
		now := s.now()

		parent := s.build(in, owner, now)
		if parent.IsSubtask() {
			if err := task.CheckParent(ctx, owner, "", *parent.ParentID, s.lookup(u)); err != nil {
				return result{}, err
			}
		}
		if err := tasks.Add(parent); err != nil {
			return result{}, err
		}

		children := make([]*task.Task, 0, len(subtasks))
		for _, sub := range subtasks {
			child := s.build(sub, owner, now)
			child.ParentID = &parent.ID
			if err := tasks.Add(child); err != nil {
				return result{}, err
			}
			children = append(children, child)
		}

		if _, err := u.SaveChanges(ctx); err != nil {
			return result{}, err
		}

		touched := []string{parent.ID}
		if parent.IsSubtask() {
			touched = append(touched, *parent.ParentID)
		}
		s.invalidateAfterCommit(u, owner, touched...)
		return result{parent: parent, children: children}, nil
	})
	if err != nil {
		return nil, nil, err
	}

	s.logger.Debug("created task",
		slog.String("owner", owner),
		slog.String("id", res.parent.ID),
		slog.Int("subtasks", len(res.children)),
	)
	return res.parent, res.children, nil
}

// Update applies patch to one of the caller's tasks.
func (s *Service) Update(ctx context.Context, id string, patch task.Patch) (*task.Task, error) {
	owner, err := s.identity.OwnerID(ctx)
	if err != nil {
		return nil, err
	}
	if err := patch.Validate(); err != nil {
		return nil, err
	}

	u := uow.New(s.db, uow.WithLogger(s.logger))
	defer u.Close()

	return uow.ExecuteInTransaction(ctx, u, func(ctx context.Context) (*task.Task, error) {
		t, err := s.load(ctx, u, owner, id)
		if err != nil {
			return nil, err
		}

		patch.Apply(t, s.now())
		if err := uow.RepositoryOf[task.Task](u).Update(t); err != nil {
			return nil, err
		}

		touched := []string{t.ID}
		if t.IsSubtask() {
			// the parent's completed count may have changed
			touched = append(touched, *t.ParentID)
		}
		s.invalidateAfterCommit(u, owner, touched...)
		return t, nil
	})
}

// Move re-parents one of the caller's tasks. A nil or empty parentID makes it
// a root task. Moving a task under itself or one of its descendants fails
// with task.ErrCycle.
func (s *Service) Move(ctx context.Context, id string, parentID *string) (*task.Task, error) {
	owner, err := s.identity.OwnerID(ctx)
	if err != nil {
		return nil, err
	}

	u := uow.New(s.db, uow.WithLogger(s.logger))
	defer u.Close()

	return uow.ExecuteInTransaction(ctx, u, func(ctx context.Context) (*task.Task, error) {
		t, err := s.load(ctx, u, owner, id)
		if err != nil {
			return nil, err
		}

		touched := []string{t.ID}
		if t.IsSubtask() {
			touched = append(touched, *t.ParentID)
		}

		var next *string
		if parentID != nil && *parentID != "" {
			if err := task.CheckParent(ctx, owner, t.ID, *parentID, s.lookup(u)); err != nil {
				return nil, err
			}
			p := *parentID
			next = &p
			touched = append(touched, p)
		}

		t.ParentID = next
		t.UpdatedAt = s.now().UTC()
		if err := uow.RepositoryOf[task.Task](u).Update(t); err != nil {
			return nil, err
		}

		s.invalidateAfterCommit(u, owner, touched...)
		return t, nil
	})
}

// Delete removes one of the caller's tasks together with all of its
// descendants and returns the number of tasks removed.
func (s *Service) Delete(ctx context.Context, id string) (int, error) {
	owner, err := s.identity.OwnerID(ctx)
	if err != nil {
		return 0, err
	}

	u := uow.New(s.db, uow.WithLogger(s.logger))
	defer u.Close()

	return uow.ExecuteInTransaction(ctx, u, func(ctx context.Context) (int, error) {
		root, err := s.load(ctx, u, owner, id)
		if err != nil {
			return 0, err
		}

		subtree, err := s.descendants(ctx, u, owner, root)
		if err != nil {
			return 0, err
		}

		tasks := uow.RepositoryOf[task.Task](u)
		touched := make([]string, 0, len(subtree)+1)
		// leaves first
		for i := len(subtree) - 1; i >= 0; i-- {
			if err := tasks.Remove(subtree[i]); err != nil {
				return 0, err
			}
			touched = append(touched, subtree[i].ID)
		}
		if root.IsSubtask() {
			touched = append(touched, *root.ParentID)
		}

		removed, err := u.SaveChanges(ctx)
		if err != nil {
			return 0, err
		}

		s.invalidateAfterCommit(u, owner, touched...)
		return removed, nil
	})
}

// descendants returns root followed by every task below it, level by level.
func (s *Service) descendants(ctx context.Context, u *uow.UnitOfWork, owner string, root *task.Task) ([]*task.Task, error) {
	tasks := uow.RepositoryOf[task.Task](u)
	out := []*task.Task{root}
	level := []string{root.ID}

	for depth := 0; len(level) > 0; depth++ {
		if depth > task.MaxDepth {
			return nil, fmt.Errorf("%w: subtree deeper than %d", task.ErrCycle, task.MaxDepth)
		}

		parents := level
		children, err := tasks.List(ctx, ownedBy(owner), func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("t.parent_id IN (?)", bun.In(parents))
		})
		if err != nil {
			return nil, err
		}

		level = make([]string, 0, len(children))
		for i := range children {
			out = append(out, &children[i])
			level = append(level, children[i].ID)
		}
	}
	return out, nil
}

func (s *Service) build(in task.NewTask, owner string, now time.Time) *task.Task {
	t := in.Build(owner, now)
	t.ID = s.newID()
	return t
}

func (s *Service) load(ctx context.Context, u *uow.UnitOfWork, owner, id string) (*task.Task, error) {
	t, found, err := uow.RepositoryOf[task.Task](u).FindByID(ctx, id, ownedBy(owner))
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrNotFound
	}
	return t, nil
}

func (s *Service) lookup(u *uow.UnitOfWork) task.LookupFn {
	tasks := uow.RepositoryOf[task.Task](u)
	return func(ctx context.Context, id string) (*task.Task, bool, error) {
		return tasks.FindByID(ctx, id)
	}
}

func (s *Service) invalidateAfterCommit(u *uow.UnitOfWork, owner string, ids ...string) {
	if s.invalidator == nil {
		return
	}
	u.AfterCommit(func(ctx context.Context) {
		s.invalidator.Invalidate(ctx, task.Kind, owner, ids...)
	})
}

func ownedBy(owner string) repository.SelectCriteria {
	return func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("t.owner_id = ?", owner)
	}
}
