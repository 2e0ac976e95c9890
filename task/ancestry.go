package task

import (
	"context"
	"fmt"
)

// MaxDepth bounds the ancestor walk. A chain longer than this is treated as a cycle.
const MaxDepth = 64

// LookupFn loads an owner scoped task by id; found is false when the id is unknown
// or belongs to another owner.
type LookupFn func(ctx context.Context, id string) (t *Task, found bool, err error)

// CheckParent validates assigning parentID as the parent of taskID for ownerID.
// taskID may be empty for a task that does not exist yet. It walks from the
// proposed parent up to the root and fails with ErrCycle if taskID shows up.
func CheckParent(ctx context.Context, ownerID, taskID, parentID string, lookup LookupFn) error {
	if parentID == "" {
		return nil
	}
	if parentID == taskID {
		return ErrCycle
	}

	current := parentID
	for depth := 0; current != ""; depth++ {
		if depth >= MaxDepth {
			return fmt.Errorf("%w: ancestor chain deeper than %d", ErrCycle, MaxDepth)
		}

		t, found, err := lookup(ctx, current)
		if err != nil {
			return err
		}
		if !found || t.OwnerID != ownerID {
			if depth == 0 {
				return ErrParentNotFound
			}
			// broken chain above the parent; nothing further to walk
			return nil
		}
		if taskID != "" && t.ID == taskID {
			return ErrCycle
		}
		if !t.IsSubtask() {
			return nil
		}
		current = *t.ParentID
	}
	return nil
}
