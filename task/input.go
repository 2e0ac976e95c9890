package task

import (
	"errors"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

var (
	// ErrCycle is returned when a parent assignment would make a task its own ancestor.
	ErrCycle = errors.New("task: parent assignment creates a cycle")
	// ErrParentNotFound covers both a missing parent and a parent owned by someone else.
	ErrParentNotFound = errors.New("task: parent not found")
)

const maxTitleLength = 500

// NewTask carries the caller supplied fields for a task being created.
type NewTask struct {
	Title       string
	Description string
	Status      Status
	Priority    Priority
	DueAt       *time.Time
	ParentID    *string
	Tags        []string
}

// Validate checks the input at the write boundary.
func (n NewTask) Validate() error {
	n.Title = strings.TrimSpace(n.Title)
	return validation.ValidateStruct(&n,
		validation.Field(&n.Title, validation.Required, validation.Length(1, maxTitleLength)),
		validation.Field(&n.Status, validation.By(validStatus)),
		validation.Field(&n.Priority, validation.By(validPriority)),
	)
}

// Build materializes the input into a Task owned by ownerID.
func (n NewTask) Build(ownerID string, now time.Time) *Task {
	status := n.Status
	if status == "" {
		status = StatusTodo
	}
	priority := n.Priority
	if priority == 0 {
		priority = PriorityMedium
	}
	now = now.UTC()
	return &Task{
		ID:          NewID(),
		OwnerID:     ownerID,
		ParentID:    cleanParent(n.ParentID),
		Title:       strings.TrimSpace(n.Title),
		Description: n.Description,
		Status:      status,
		Priority:    priority,
		DueAt:       utcPtr(n.DueAt),
		Tags:        normalizeTags(n.Tags),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Patch holds optional field updates; nil fields are left unchanged.
type Patch struct {
	Title       *string
	Description *string
	Status      *Status
	Priority    *Priority
	DueAt       *time.Time
	ClearDueAt  bool
	Tags        []string
}

func (p Patch) Validate() error {
	if p.Title != nil {
		title := strings.TrimSpace(*p.Title)
		p.Title = &title
	}
	return validation.ValidateStruct(&p,
		validation.Field(&p.Title, validation.NilOrNotEmpty, validation.Length(1, maxTitleLength)),
		validation.Field(&p.Status, validation.By(validStatus)),
		validation.Field(&p.Priority, validation.By(validPriority)),
	)
}

// Apply writes the patch onto t and bumps UpdatedAt.
func (p Patch) Apply(t *Task, now time.Time) {
	if p.Title != nil {
		t.Title = strings.TrimSpace(*p.Title)
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Status != nil {
		t.Status = *p.Status
	}
	if p.Priority != nil {
		t.Priority = *p.Priority
	}
	if p.DueAt != nil {
		t.DueAt = utcPtr(p.DueAt)
	}
	if p.ClearDueAt {
		t.DueAt = nil
	}
	if p.Tags != nil {
		t.Tags = normalizeTags(p.Tags)
	}
	t.UpdatedAt = now.UTC()
}

func validStatus(value any) error {
	var s Status
	switch v := value.(type) {
	case Status:
		s = v
	case *Status:
		if v == nil {
			return nil
		}
		s = *v
	}
	if s == "" || s.Valid() {
		return nil
	}
	return errors.New("unknown status")
}

func validPriority(value any) error {
	var p Priority
	switch v := value.(type) {
	case Priority:
		p = v
	case *Priority:
		if v == nil {
			return nil
		}
		p = *v
	}
	if p == 0 || p.Valid() {
		return nil
	}
	return errors.New("unknown priority")
}

func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	return out
}

func cleanParent(id *string) *string {
	if id == nil || strings.TrimSpace(*id) == "" {
		return nil
	}
	v := strings.TrimSpace(*id)
	return &v
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
