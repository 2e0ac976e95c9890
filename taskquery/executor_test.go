package taskquery

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goliatone/go-taskstore/identity"
	"github.com/goliatone/go-taskstore/pkg/testsupport"
	"github.com/goliatone/go-taskstore/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
)

// queryCounter counts statements that reach the database.
type queryCounter struct {
	n atomic.Int32
}

func (c *queryCounter) BeforeQuery(ctx context.Context, _ *bun.QueryEvent) context.Context {
	return ctx
}

func (c *queryCounter) AfterQuery(_ context.Context, _ *bun.QueryEvent) {
	c.n.Add(1)
}

func ids(views []task.View) []string {
	out := make([]string, len(views))
	for i, v := range views {
		out[i] = v.ID
	}
	return out
}

func TestExecutor_ListViews_Aggregates(t *testing.T) {
	ctx := context.Background()
	exec := NewExecutor(testsupport.SeedFixtures(t))

	views, err := exec.ListViews(ctx, "U1", task.Query{})
	require.NoError(t, err)

	// roots only, newest first
	assert.Equal(t, []string{"T5", "T1"}, ids(views))

	t1 := views[1]
	assert.Equal(t, 2, t1.SubtaskCount, "grandchildren are not counted")
	assert.Equal(t, 1, t1.CompletedSubtaskCount)
	assert.Equal(t, task.PriorityHigh, t1.Priority)
	require.NotNil(t, t1.DueAt)
	assert.True(t, t1.DueAt.Equal(time.Date(2024, 3, 10, 17, 0, 0, 0, time.UTC)))
	assert.Equal(t, []string{"release", "q1"}, t1.Tags)

	assert.Equal(t, 0, views[0].SubtaskCount)
}

func TestExecutor_ListViews_IncludeSubtasks(t *testing.T) {
	ctx := context.Background()
	exec := NewExecutor(testsupport.SeedFixtures(t))

	views, err := exec.ListViews(ctx, "U1", task.Query{IncludeSubtasks: true, SortBy: task.SortByCreatedAt, SortDirection: task.Ascending})
	require.NoError(t, err)
	assert.Equal(t, []string{"T1", "T2", "T3", "T4", "T5"}, ids(views))

	byID := map[string]task.View{}
	for _, v := range views {
		byID[v.ID] = v
	}
	assert.Equal(t, 1, byID["T2"].SubtaskCount)
	assert.Equal(t, 1, byID["T2"].CompletedSubtaskCount)
	assert.Equal(t, 0, byID["T4"].SubtaskCount)
}

func TestExecutor_ListViews_Filters(t *testing.T) {
	ctx := context.Background()
	exec := NewExecutor(testsupport.SeedFixtures(t))

	completed := task.StatusCompleted
	critical := task.PriorityCritical
	from := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		q    task.Query
		want []string
	}{
		{"status", task.Query{Status: &completed, IncludeSubtasks: true, SortDirection: task.Ascending}, []string{"T2", "T4"}},
		{"priority", task.Query{Priority: &critical}, []string{"T5"}},
		{"due range", task.Query{DueFrom: &from, DueTo: &to}, []string{"T1"}},
		{"search title case insensitive", task.Query{Search: "SHIP"}, []string{"T1"}},
		{"search description", task.Query{Search: "budget"}, []string{"T5"}},
		{"search escapes wildcards", task.Query{Search: "100%"}, []string{"T5"}},
		{"search literal percent only", task.Query{Search: "%"}, []string{"T5"}},
		{"tag", task.Query{Tag: "release"}, []string{"T1"}},
		{"tag substring", task.Query{Tag: "rel"}, []string{"T1"}},
		{"tag case insensitive", task.Query{Tag: " Q1 "}, []string{"T1"}},
		{"tag substring of one element", task.Query{Tag: "q"}, []string{"T1"}},
		{"tag does not span elements", task.Query{Tag: `e","q`}, []string{}},
		{"tag escapes wildcards", task.Query{Tag: "re_ease"}, []string{}},
		{"tag on subtask", task.Query{Tag: "docs", IncludeSubtasks: true}, []string{"T2"}},
		{"no match", task.Query{Search: "nothing like this"}, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			views, err := exec.ListViews(ctx, "U1", tt.q)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(views))
		})
	}
}

func TestExecutor_ListViews_Sorting(t *testing.T) {
	ctx := context.Background()
	exec := NewExecutor(testsupport.SeedFixtures(t))

	views, err := exec.ListViews(ctx, "U1", task.Query{SortBy: task.SortByPriority, SortDirection: task.Descending})
	require.NoError(t, err)
	assert.Equal(t, []string{"T5", "T1"}, ids(views))

	// tasks without a due date sort last in both directions
	for _, dir := range []task.SortDirection{task.Ascending, task.Descending} {
		views, err := exec.ListViews(ctx, "U1", task.Query{SortBy: task.SortByDueAt, SortDirection: dir})
		require.NoError(t, err)
		assert.Equal(t, []string{"T1", "T5"}, ids(views), "direction %s", dir)
	}
}

func TestExecutor_ListViews_Pagination(t *testing.T) {
	ctx := context.Background()
	db := testsupport.OpenDB(t)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	testsupport.SeedTasks(t, db, testsupport.GenerateTasks("U1", 120, base)...)
	exec := NewExecutor(db)

	tests := []struct {
		page    int
		wantLen int
	}{
		{1, 50},
		{2, 50},
		{3, 20},
		{4, 0},
	}

	seen := map[string]bool{}
	for _, tt := range tests {
		views, err := exec.ListViews(ctx, "U1", task.Query{Page: tt.page, PageSize: 50})
		require.NoError(t, err)
		assert.Len(t, views, tt.wantLen, "page %d", tt.page)
		for _, v := range views {
			assert.False(t, seen[v.ID], "task %s returned on two pages", v.ID)
			seen[v.ID] = true
		}
	}
	assert.Len(t, seen, 120)

	first, err := exec.ListViews(ctx, "U1", task.Query{Page: 1, PageSize: 50})
	require.NoError(t, err)
	assert.Equal(t, "U1-0119", first[0].ID, "newest first by default")
}

func TestExecutor_OwnerScope(t *testing.T) {
	ctx := context.Background()
	exec := NewExecutor(testsupport.SeedFixtures(t))

	views, err := exec.ListViews(ctx, "U2", task.Query{})
	require.NoError(t, err)
	assert.Equal(t, []string{"T6"}, ids(views))

	_, found, err := exec.GetView(ctx, "U2", "T1")
	require.NoError(t, err)
	assert.False(t, found, "another owner's task must look absent")

	_, err = exec.ListViews(ctx, "", task.Query{})
	assert.True(t, errors.Is(err, identity.ErrUnauthenticated))
	_, _, err = exec.GetView(ctx, " ", "T1")
	assert.True(t, errors.Is(err, identity.ErrUnauthenticated))
}

func TestExecutor_GetView(t *testing.T) {
	ctx := context.Background()
	exec := NewExecutor(testsupport.SeedFixtures(t))

	view, found, err := exec.GetView(ctx, "U1", "T2")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "Write changelog", view.Title)
	require.NotNil(t, view.ParentID)
	assert.Equal(t, "T1", *view.ParentID)
	assert.Equal(t, 1, view.SubtaskCount)
	assert.Equal(t, 1, view.CompletedSubtaskCount)

	_, found, err = exec.GetView(ctx, "U1", "missing")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestCriteria_OwnerAlwaysFirst(t *testing.T) {
	criteria := Criteria("U1", task.Query{})
	// owner, roots only, order
	assert.Len(t, criteria, 3)

	completed := task.StatusCompleted
	criteria = Criteria("U1", task.Query{IncludeSubtasks: true, Status: &completed, Search: "x", Tag: "y"})
	assert.Len(t, criteria, 5)
}

func TestExecutor_ListViews_SingleRoundTrip(t *testing.T) {
	ctx := context.Background()
	db := testsupport.OpenDB(t)

	// 10 parents with 3 children each, every other child completed
	parents := testsupport.GenerateTasks("U1", 10, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	testsupport.SeedTasks(t, db, parents...)
	var children []task.Task
	for i := range parents {
		parentID := parents[i].ID
		for j, child := range testsupport.GenerateTasks("U1", 3, parents[i].CreatedAt.Add(time.Second)) {
			child.ID = fmt.Sprintf("%s-c%d", parentID, j)
			child.ParentID = &parentID
			if j%2 == 0 {
				child.Status = task.StatusCompleted
			}
			children = append(children, child)
		}
	}
	testsupport.SeedTasks(t, db, children...)

	counter := &queryCounter{}
	db.AddQueryHook(counter)
	exec := NewExecutor(db)

	views, err := exec.ListViews(ctx, "U1", task.Query{PageSize: 10})
	require.NoError(t, err)
	require.Len(t, views, 10)
	assert.Equal(t, int32(1), counter.n.Load(), "a page of parents must cost one query")

	for _, v := range views {
		assert.Equal(t, 3, v.SubtaskCount, v.ID)
		assert.Equal(t, 2, v.CompletedSubtaskCount, v.ID)
	}

	counter.n.Store(0)
	_, found, err := exec.GetView(ctx, "U1", parents[0].ID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, int32(1), counter.n.Load())
}
