package task

import (
	"strings"
	"time"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// SortField is one of the fixed columns a task listing can be ordered by.
type SortField string

const (
	SortByCreatedAt SortField = "created_at"
	SortByUpdatedAt SortField = "updated_at"
	SortByTitle     SortField = "title"
	SortByPriority  SortField = "priority"
	SortByDueAt     SortField = "due_at"
	SortByStatus    SortField = "status"
)

func (f SortField) Valid() bool {
	switch f {
	case SortByCreatedAt, SortByUpdatedAt, SortByTitle, SortByPriority, SortByDueAt, SortByStatus:
		return true
	}
	return false
}

// SortDirection is ascending or descending.
type SortDirection string

const (
	Ascending  SortDirection = "asc"
	Descending SortDirection = "desc"
)

// Query describes a filtered, sorted and paginated listing of one owner's tasks.
// Zero values mean "no filter".
type Query struct {
	Status          *Status
	Priority        *Priority
	DueFrom         *time.Time
	DueTo           *time.Time
	Search          string
	Tag             string
	IncludeSubtasks bool
	SortBy          SortField
	SortDirection   SortDirection
	Page            int
	PageSize        int
}

// Normalized returns a copy with defaults applied and out of range values clamped.
func (q Query) Normalized() Query {
	if !q.SortBy.Valid() {
		q.SortBy = SortByCreatedAt
	}
	if q.SortDirection != Ascending && q.SortDirection != Descending {
		q.SortDirection = Descending
	}
	if q.Page < 1 {
		q.Page = 1
	}
	switch {
	case q.PageSize <= 0:
		q.PageSize = DefaultPageSize
	case q.PageSize > MaxPageSize:
		q.PageSize = MaxPageSize
	}
	q.Search = strings.TrimSpace(q.Search)
	q.Tag = strings.ToLower(strings.TrimSpace(q.Tag))
	if q.DueFrom != nil {
		from := q.DueFrom.UTC()
		q.DueFrom = &from
	}
	if q.DueTo != nil {
		to := q.DueTo.UTC()
		q.DueTo = &to
	}
	return q
}

// Offset is the number of rows skipped before the requested page.
func (q Query) Offset() int {
	return (q.Page - 1) * q.PageSize
}
