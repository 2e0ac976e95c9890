package testsupport

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goliatone/go-taskstore/task"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
)

//go:embed testdata
var fixtures embed.FS

var dbCounter atomic.Int64

// LoadFixture returns the raw bytes of an embedded fixture. Build name with
// FixturePath.
func LoadFixture(t testing.TB, name string) []byte {
	t.Helper()

	data, err := fixtures.ReadFile(name)
	if err != nil {
		t.Fatalf("failed to load fixture %s: %v", name, err)
	}
	return data
}

// LoadFixtureJSON decodes an embedded JSON fixture into dest.
func LoadFixtureJSON(t testing.TB, name string, dest any) {
	t.Helper()

	if err := json.Unmarshal(LoadFixture(t, name), dest); err != nil {
		t.Fatalf("failed to decode fixture %s: %v", name, err)
	}
}

// FixturePath names a file under testdata. Embedded paths always use
// forward slashes.
func FixturePath(filename string) string {
	return path.Join("testdata", filename)
}

// OpenDB returns a private in-memory SQLite database with the tasks schema
// applied. The database is closed when the test ends.
//
// The pool is limited to one connection, so code under test must not use the
// database handle while a transaction on it is open.
func OpenDB(t testing.TB) *bun.DB {
	t.Helper()

	name := strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			return r
		}
		return '_'
	}, t.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", name, dbCounter.Add(1))

	sqldb, err := sql.Open("sqlite3", dsn)
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { _ = db.Close() })

	if err := task.CreateSchema(context.Background(), db); err != nil {
		t.Fatalf("failed to create schema: %v", err)
	}
	return db
}

// Tasks returns the task fixtures from testdata/tasks.json. U1 owns T1 with children T2
// (completed) and T3 (in progress), T4 is a completed grandchild under T2,
// and T5 is a second root. U2 owns T6.
func Tasks(t testing.TB) []task.Task {
	t.Helper()

	var tasks []task.Task
	LoadFixtureJSON(t, FixturePath("tasks.json"), &tasks)
	return tasks
}

// SeedTasks inserts tasks directly, bypassing the unit of work.
func SeedTasks(t testing.TB, db bun.IDB, tasks ...task.Task) {
	t.Helper()
	if len(tasks) == 0 {
		return
	}

	if _, err := db.NewInsert().Model(&tasks).Exec(context.Background()); err != nil {
		t.Fatalf("failed to seed %d tasks: %v", len(tasks), err)
	}
}

// SeedFixtures opens a database and loads the embedded task fixtures into it.
func SeedFixtures(t testing.TB) *bun.DB {
	t.Helper()

	db := OpenDB(t)
	SeedTasks(t, db, Tasks(t)...)
	return db
}

// GenerateTasks builds n root tasks for ownerID with strictly increasing
// creation times starting at base.
func GenerateTasks(ownerID string, n int, base time.Time) []task.Task {
	tasks := make([]task.Task, n)
	for i := range tasks {
		created := base.Add(time.Duration(i) * time.Minute).UTC()
		tasks[i] = task.Task{
			ID:        fmt.Sprintf("%s-%04d", ownerID, i),
			OwnerID:   ownerID,
			Title:     fmt.Sprintf("Task %d", i),
			Status:    task.StatusTodo,
			Priority:  task.PriorityMedium,
			Tags:      []string{},
			CreatedAt: created,
			UpdatedAt: created,
		}
	}
	return tasks
}

// CountTasks returns the number of rows in the tasks table.
func CountTasks(t testing.TB, db bun.IDB) int {
	t.Helper()

	n, err := db.NewSelect().Model((*task.Task)(nil)).Count(context.Background())
	if err != nil {
		t.Fatalf("failed to count tasks: %v", err)
	}
	return n
}
