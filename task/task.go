package task

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Kind is the entity kind used when tagging cached reads that belong to a task.
const Kind = "task"

// Status is the lifecycle state of a task.
type Status string

const (
	StatusTodo       Status = "todo"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusOnHold     Status = "on_hold"
	StatusCancelled  Status = "cancelled"
	StatusWaiting    Status = "waiting"
)

// Statuses lists every valid Status.
func Statuses() []Status {
	return []Status{StatusTodo, StatusInProgress, StatusCompleted, StatusOnHold, StatusCancelled, StatusWaiting}
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	for _, known := range Statuses() {
		if s == known {
			return true
		}
	}
	return false
}

// Priority orders tasks from Low to Critical.
type Priority int

const (
	PriorityLow Priority = iota + 1
	PriorityMedium
	PriorityHigh
	PriorityCritical
)

func (p Priority) Valid() bool {
	return p >= PriorityLow && p <= PriorityCritical
}

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityMedium:
		return "medium"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// ParsePriority maps a priority name back to its value.
func ParsePriority(s string) (Priority, bool) {
	for p := PriorityLow; p <= PriorityCritical; p++ {
		if p.String() == s {
			return p, true
		}
	}
	return 0, false
}

// Task is the persisted task record.
type Task struct {
	bun.BaseModel `bun:"table:tasks,alias:t" json:"-" msgpack:"-"`

	ID          string     `bun:"id,pk" json:"id"`
	OwnerID     string     `bun:"owner_id,notnull" json:"owner_id"`
	ParentID    *string    `bun:"parent_id" json:"parent_id,omitempty"`
	Title       string     `bun:"title,notnull" json:"title"`
	Description string     `bun:"description,notnull" json:"description"`
	Status      Status     `bun:"status,notnull" json:"status"`
	Priority    Priority   `bun:"priority,notnull" json:"priority"`
	DueAt       *time.Time `bun:"due_at" json:"due_at,omitempty"`
	Tags        []string   `bun:"tags" json:"tags"`
	CreatedAt   time.Time  `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt   time.Time  `bun:"updated_at,notnull" json:"updated_at"`
}

// View is a task plus subtask aggregates computed by the store at query time.
// Views are never persisted.
type View struct {
	Task `bun:",extend"`

	SubtaskCount          int `bun:"subtask_count,scanonly" json:"subtask_count"`
	CompletedSubtaskCount int `bun:"completed_subtask_count,scanonly" json:"completed_subtask_count"`
}

// NewID returns a time ordered task identifier.
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// IsSubtask reports whether the task has a parent.
func (t *Task) IsSubtask() bool {
	return t.ParentID != nil && *t.ParentID != ""
}
