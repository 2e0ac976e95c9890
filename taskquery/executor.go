// Package taskquery builds and runs the aggregate task listing queries.
//
// Subtask counts are projected by the store through correlated COUNT sub-selects,
// so a page of N parent tasks costs one round trip instead of 1+N.
package taskquery

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/goliatone/go-taskstore/identity"
	"github.com/goliatone/go-taskstore/task"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
)

const (
	subtaskCountExpr          = "(SELECT COUNT(*) FROM tasks AS c WHERE c.parent_id = t.id) AS subtask_count"
	completedSubtaskCountExpr = "(SELECT COUNT(*) FROM tasks AS c WHERE c.parent_id = t.id AND c.status = ?) AS completed_subtask_count"
)

// Executor runs aggregate task queries against a bun database.
type Executor struct {
	db     bun.IDB
	logger *slog.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the logger used for query diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewExecutor creates an Executor bound to db, which may be a *bun.DB or a bun.Tx.
func NewExecutor(db bun.IDB, opts ...Option) *Executor {
	e := &Executor{
		db:     db,
		logger: slog.Default().WithGroup("taskquery"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ListViews returns one page of ownerID's tasks with their subtask aggregates.
func (e *Executor) ListViews(ctx context.Context, ownerID string, q task.Query) ([]task.View, error) {
	ownerID, err := identity.Require(ownerID)
	if err != nil {
		return nil, err
	}
	q = q.Normalized()

	views := make([]task.View, 0, q.PageSize)
	sel := e.newSelect(&views)
	for _, apply := range Criteria(ownerID, q) {
		sel = apply(sel)
	}
	sel = sel.Limit(q.PageSize).Offset(q.Offset())

	if err := sel.Scan(ctx); err != nil {
		return nil, fmt.Errorf("list task views: %w", err)
	}

	e.logger.Debug("listed task views",
		slog.String("owner", ownerID),
		slog.Int("page", q.Page),
		slog.Int("rows", len(views)),
	)
	return views, nil
}

// GetView loads a single task view. found is false when the task does not exist
// or belongs to a different owner.
func (e *Executor) GetView(ctx context.Context, ownerID, id string) (task.View, bool, error) {
	ownerID, err := identity.Require(ownerID)
	if err != nil {
		return task.View{}, false, err
	}

	var view task.View
	err = e.newSelect(&view).
		Where("t.owner_id = ?", ownerID).
		Where("t.id = ?", id).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return task.View{}, false, nil
	}
	if err != nil {
		return task.View{}, false, fmt.Errorf("get task view %s: %w", id, err)
	}
	return view, true, nil
}

func (e *Executor) newSelect(model any) *bun.SelectQuery {
	return e.db.NewSelect().
		Model(model).
		ColumnExpr("t.*").
		ColumnExpr(subtaskCountExpr).
		ColumnExpr(completedSubtaskCountExpr, task.StatusCompleted)
}

// Criteria translates a query into select criteria: owner scope, filters and ordering.
// Pagination is left to the caller.
func Criteria(ownerID string, q task.Query) []repository.SelectCriteria {
	q = q.Normalized()

	criteria := []repository.SelectCriteria{
		func(sq *bun.SelectQuery) *bun.SelectQuery {
			return sq.Where("t.owner_id = ?", ownerID)
		},
	}

	if !q.IncludeSubtasks {
		criteria = append(criteria, func(sq *bun.SelectQuery) *bun.SelectQuery {
			return sq.Where("t.parent_id IS NULL")
		})
	}
	if q.Status != nil {
		status := *q.Status
		criteria = append(criteria, func(sq *bun.SelectQuery) *bun.SelectQuery {
			return sq.Where("t.status = ?", status)
		})
	}
	if q.Priority != nil {
		priority := *q.Priority
		criteria = append(criteria, func(sq *bun.SelectQuery) *bun.SelectQuery {
			return sq.Where("t.priority = ?", priority)
		})
	}
	if q.DueFrom != nil {
		from := *q.DueFrom
		criteria = append(criteria, func(sq *bun.SelectQuery) *bun.SelectQuery {
			return sq.Where("t.due_at >= ?", from)
		})
	}
	if q.DueTo != nil {
		to := *q.DueTo
		criteria = append(criteria, func(sq *bun.SelectQuery) *bun.SelectQuery {
			return sq.Where("t.due_at <= ?", to)
		})
	}
	if search := strings.TrimSpace(q.Search); search != "" {
		pattern := likePattern(search)
		criteria = append(criteria, func(sq *bun.SelectQuery) *bun.SelectQuery {
			return sq.WhereGroup(" AND ", func(g *bun.SelectQuery) *bun.SelectQuery {
				return g.
					Where("LOWER(t.title) LIKE ? ESCAPE '\\'", pattern).
					WhereOr("LOWER(t.description) LIKE ? ESCAPE '\\'", pattern)
			})
		})
	}
	if tag := strings.TrimSpace(q.Tag); tag != "" {
		pattern := likePattern(tag)
		criteria = append(criteria, func(sq *bun.SelectQuery) *bun.SelectQuery {
			return sq.Where(tagMatchExpr(sq.DB().Dialect().Name()), pattern)
		})
	}

	criteria = append(criteria, orderBy(q.SortBy, q.SortDirection))
	return criteria
}

func orderBy(field task.SortField, dir task.SortDirection) repository.SelectCriteria {
	direction := "DESC"
	if dir == task.Ascending {
		direction = "ASC"
	}
	column := "t." + string(field)
	return func(sq *bun.SelectQuery) *bun.SelectQuery {
		if field == task.SortByDueAt {
			// tasks without a due date sort last in both directions
			sq = sq.OrderExpr("CASE WHEN t.due_at IS NULL THEN 1 ELSE 0 END ASC")
		}
		return sq.
			OrderExpr(column + " " + direction).
			OrderExpr("t.id " + direction)
	}
}

// tagMatchExpr matches when any element of the JSON tags array contains the
// pattern. Matching element by element keeps a search from spanning two tags.
func tagMatchExpr(name dialect.Name) string {
	if name == dialect.PG {
		return "EXISTS (SELECT 1 FROM jsonb_array_elements_text(t.tags) AS tag(value) WHERE LOWER(tag.value) LIKE ? ESCAPE '\\')"
	}
	return "EXISTS (SELECT 1 FROM json_each(t.tags) AS tag WHERE LOWER(tag.value) LIKE ? ESCAPE '\\')"
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func likePattern(s string) string {
	return "%" + likeEscaper.Replace(strings.ToLower(s)) + "%"
}
