package task

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"
)

// CreateSchema creates the tasks table and its lookup indexes if they are missing.
func CreateSchema(ctx context.Context, db bun.IDB) error {
	if _, err := db.NewCreateTable().
		Model((*Task)(nil)).
		IfNotExists().
		Exec(ctx); err != nil {
		return fmt.Errorf("create tasks table: %w", err)
	}

	if _, err := db.NewCreateIndex().
		Model((*Task)(nil)).
		Index("idx_tasks_owner_parent").
		Column("owner_id", "parent_id").
		IfNotExists().
		Exec(ctx); err != nil {
		return fmt.Errorf("create tasks owner index: %w", err)
	}

	if _, err := db.NewCreateIndex().
		Model((*Task)(nil)).
		Index("idx_tasks_parent_status").
		Column("parent_id", "status").
		IfNotExists().
		Exec(ctx); err != nil {
		return fmt.Errorf("create tasks parent index: %w", err)
	}

	return nil
}
