// Package uow implements a unit of work over bun.
//
// A UnitOfWork buffers inserts, updates and deletes made through its typed
// repositories and writes them in one batch, either inside an explicit
// transaction or in a short transaction of its own:
//
//	u := uow.New(db)
//	defer u.Close()
//
//	created, err := uow.ExecuteInTransaction(ctx, u, func(ctx context.Context) (*task.Task, error) {
//		tasks := uow.RepositoryOf[task.Task](u)
//		if err := tasks.Add(parent); err != nil {
//			return nil, err
//		}
//		return parent, tasks.Add(child)
//	})
//
// If the work function fails or panics, every write made since the
// transaction began is rolled back and the original error is returned.
// Constraint violations surface as *PersistenceError matching ErrConflict.
//
// Hooks registered with AfterCommit run once the batch is durable and are
// dropped on rollback, which is where cache invalidation belongs.
//
// A UnitOfWork is meant for a single logical operation and is not safe for
// concurrent use.
package uow
