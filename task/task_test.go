package task

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func ptr[T any](v T) *T { return &v }

func TestPriority(t *testing.T) {
	for p := PriorityLow; p <= PriorityCritical; p++ {
		if !p.Valid() {
			t.Errorf("expected %d to be valid", p)
		}
		parsed, ok := ParsePriority(p.String())
		if !ok || parsed != p {
			t.Errorf("expected %q to parse back to %d, got %d", p.String(), p, parsed)
		}
	}

	if Priority(0).Valid() || Priority(5).Valid() {
		t.Error("expected out of range priorities to be invalid")
	}
	if _, ok := ParsePriority("urgent"); ok {
		t.Error("expected unknown priority name to fail")
	}
}

func TestStatus_Valid(t *testing.T) {
	for _, s := range Statuses() {
		if !s.Valid() {
			t.Errorf("expected %q to be valid", s)
		}
	}
	if Status("done").Valid() {
		t.Error("expected unknown status to be invalid")
	}
}

func TestQuery_Normalized(t *testing.T) {
	due := time.Date(2024, 3, 1, 12, 0, 0, 0, time.FixedZone("CET", 3600))

	tests := []struct {
		name string
		in   Query
		want Query
	}{
		{
			name: "defaults",
			in:   Query{},
			want: Query{SortBy: SortByCreatedAt, SortDirection: Descending, Page: 1, PageSize: DefaultPageSize},
		},
		{
			name: "clamps page size",
			in:   Query{Page: 3, PageSize: 500},
			want: Query{SortBy: SortByCreatedAt, SortDirection: Descending, Page: 3, PageSize: MaxPageSize},
		},
		{
			name: "unknown sort falls back",
			in:   Query{SortBy: "owner_id; DROP TABLE tasks", SortDirection: "sideways", Page: -2},
			want: Query{SortBy: SortByCreatedAt, SortDirection: Descending, Page: 1, PageSize: DefaultPageSize},
		},
		{
			name: "keeps valid sort and trims filters",
			in:   Query{SortBy: SortByDueAt, SortDirection: Ascending, Search: "  release ", Tag: " Docs "},
			want: Query{SortBy: SortByDueAt, SortDirection: Ascending, Search: "release", Tag: "docs", Page: 1, PageSize: DefaultPageSize},
		},
		{
			name: "dates in UTC",
			in:   Query{DueFrom: &due},
			want: Query{DueFrom: ptr(due.UTC()), SortBy: SortByCreatedAt, SortDirection: Descending, Page: 1, PageSize: DefaultPageSize},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.in.Normalized()
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Normalized() mismatch (-want +got):\n%s", diff)
			}
			if got.DueFrom != nil && got.DueFrom.Location() != time.UTC {
				t.Errorf("expected UTC location, got %v", got.DueFrom.Location())
			}
		})
	}
}

func TestQuery_Offset(t *testing.T) {
	q := Query{Page: 3, PageSize: 50}
	if got := q.Offset(); got != 100 {
		t.Errorf("expected offset 100, got %d", got)
	}
}

func TestNewTask_Validate(t *testing.T) {
	tests := []struct {
		name    string
		in      NewTask
		wantErr bool
	}{
		{"valid", NewTask{Title: "Write docs"}, false},
		{"blank title", NewTask{Title: "   "}, true},
		{"long title", NewTask{Title: strings.Repeat("x", 501)}, true},
		{"unknown status", NewTask{Title: "x", Status: "done"}, true},
		{"unknown priority", NewTask{Title: "x", Priority: 9}, true},
		{"explicit values", NewTask{Title: "x", Status: StatusWaiting, Priority: PriorityCritical}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.in.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewTask_Build(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.FixedZone("EST", -5*3600))
	due := now.Add(48 * time.Hour)

	got := NewTask{
		Title:    "  Review PR  ",
		DueAt:    &due,
		ParentID: ptr("  "),
		Tags:     []string{"review", " review ", "", "code"},
	}.Build("U1", now)

	want := &Task{
		OwnerID:   "U1",
		Title:     "Review PR",
		Status:    StatusTodo,
		Priority:  PriorityMedium,
		DueAt:     ptr(due.UTC()),
		Tags:      []string{"review", "code"},
		CreatedAt: now.UTC(),
		UpdatedAt: now.UTC(),
	}

	if diff := cmp.Diff(want, got, cmpopts.IgnoreFields(Task{}, "ID")); diff != "" {
		t.Errorf("Build() mismatch (-want +got):\n%s", diff)
	}
	if got.ID == "" {
		t.Error("expected an id to be assigned")
	}
	if got.IsSubtask() {
		t.Error("blank parent id must not make a subtask")
	}
}

func TestPatch(t *testing.T) {
	if err := (Patch{Title: ptr("")}).Validate(); err == nil {
		t.Error("expected empty title patch to fail")
	}
	if err := (Patch{Title: ptr("  ")}).Validate(); err == nil {
		t.Error("expected blank title patch to fail")
	}
	if err := (Patch{Status: ptr(Status("nope"))}).Validate(); err == nil {
		t.Error("expected unknown status patch to fail")
	}
	if err := (Patch{}).Validate(); err != nil {
		t.Errorf("expected empty patch to be valid, got %v", err)
	}

	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	due := created.Add(time.Hour)
	tk := &Task{Title: "old", Status: StatusTodo, Priority: PriorityLow, DueAt: &due, Tags: []string{"a"}, UpdatedAt: created}

	later := created.Add(24 * time.Hour)
	Patch{Title: ptr(" new "), Status: ptr(StatusCompleted), ClearDueAt: true}.Apply(tk, later)

	if tk.Title != "new" || tk.Status != StatusCompleted {
		t.Errorf("unexpected patched task %+v", tk)
	}
	if tk.DueAt != nil {
		t.Error("expected due date cleared")
	}
	if tk.Priority != PriorityLow || len(tk.Tags) != 1 {
		t.Error("expected untouched fields to be kept")
	}
	if !tk.UpdatedAt.Equal(later) {
		t.Errorf("expected UpdatedAt bumped to %v, got %v", later, tk.UpdatedAt)
	}
}

// chain builds a lookup over tasks keyed by id.
func chain(tasks ...*Task) LookupFn {
	byID := make(map[string]*Task, len(tasks))
	for _, tk := range tasks {
		byID[tk.ID] = tk
	}
	return func(ctx context.Context, id string) (*Task, bool, error) {
		tk, ok := byID[id]
		return tk, ok, nil
	}
}

func TestCheckParent(t *testing.T) {
	ctx := context.Background()
	a := &Task{ID: "A", OwnerID: "U1"}
	b := &Task{ID: "B", OwnerID: "U1", ParentID: ptr("A")}
	c := &Task{ID: "C", OwnerID: "U1", ParentID: ptr("B")}
	foreign := &Task{ID: "X", OwnerID: "U2"}
	lookup := chain(a, b, c, foreign)

	tests := []struct {
		name    string
		taskID  string
		parent  string
		wantErr error
	}{
		{"no parent", "A", "", nil},
		{"new task under leaf", "", "C", nil},
		{"move leaf under root", "C", "A", nil},
		{"self parent", "A", "A", ErrCycle},
		{"ancestor under descendant", "A", "C", ErrCycle},
		{"direct child as parent", "B", "C", ErrCycle},
		{"missing parent", "C", "nope", ErrParentNotFound},
		{"foreign parent", "C", "X", ErrParentNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckParent(ctx, "U1", tt.taskID, tt.parent, lookup)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestCheckParent_DepthLimit(t *testing.T) {
	ctx := context.Background()

	// a corrupt loop that does not involve the task being moved
	loop := []*Task{
		{ID: "L0", OwnerID: "U1", ParentID: ptr("L1")},
		{ID: "L1", OwnerID: "U1", ParentID: ptr("L0")},
	}
	if err := CheckParent(ctx, "U1", "Z", "L0", chain(loop...)); !errors.Is(err, ErrCycle) {
		t.Errorf("expected ErrCycle for a pre-existing loop, got %v", err)
	}

	deep := make([]*Task, MaxDepth-2)
	for i := range deep {
		deep[i] = &Task{ID: fmt.Sprintf("D%d", i), OwnerID: "U1"}
		if i > 0 {
			deep[i].ParentID = ptr(fmt.Sprintf("D%d", i-1))
		}
	}
	if err := CheckParent(ctx, "U1", "", deep[len(deep)-1].ID, chain(deep...)); err != nil {
		t.Errorf("expected a chain within the limit to pass, got %v", err)
	}
}

func TestCheckParent_LookupError(t *testing.T) {
	boom := errors.New("db gone")
	err := CheckParent(context.Background(), "U1", "A", "B", func(context.Context, string) (*Task, bool, error) {
		return nil, false, boom
	})
	if !errors.Is(err, boom) {
		t.Errorf("expected lookup error, got %v", err)
	}
}
