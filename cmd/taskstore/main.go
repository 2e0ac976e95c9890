package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/alecthomas/kingpin/v2"

	"github.com/goliatone/go-taskstore/identity"
	"github.com/goliatone/go-taskstore/pkg/config"
	"github.com/goliatone/go-taskstore/pkg/di"
	"github.com/goliatone/go-taskstore/task"
	"github.com/goliatone/go-taskstore/taskservice"
)

var statuses = []string{
	string(task.StatusTodo), string(task.StatusInProgress), string(task.StatusCompleted),
	string(task.StatusOnHold), string(task.StatusCancelled), string(task.StatusWaiting),
}

var priorities = []string{"low", "medium", "high", "critical"}

var (
	app        = kingpin.New("taskstore", "Task tracker backed by a cached query store")
	configPath = app.Flag("config", "Path to a YAML config file").Envar("TASKSTORE_CONFIG").String()
	ownerFlag  = app.Flag("owner", "Owner id to act as (overrides config)").String()

	migrateCmd = app.Command("migrate", "Create the tasks schema")

	addCmd      = app.Command("add", "Create a task")
	addTitle    = addCmd.Arg("title", "Task title").Required().String()
	addDesc     = addCmd.Flag("description", "Task description").String()
	addParent   = addCmd.Flag("parent", "Parent task id").String()
	addPriority = addCmd.Flag("priority", "Task priority").Default("medium").Enum(priorities...)
	addStatus   = addCmd.Flag("status", "Initial status").Default(string(task.StatusTodo)).Enum(statuses...)
	addDue      = addCmd.Flag("due", "Due date (YYYY-MM-DD or RFC 3339)").String()
	addTags     = addCmd.Flag("tag", "Tag, repeatable").Strings()
	addSubtasks = addCmd.Flag("subtask", "Subtask title created with the task, repeatable").Strings()

	listCmd      = app.Command("list", "List tasks with subtask counts")
	listStatus   = listCmd.Flag("status", "Only tasks with this status").Enum(statuses...)
	listSearch   = listCmd.Flag("search", "Match title or description").String()
	listTag      = listCmd.Flag("tag", "Only tasks carrying this tag").String()
	listSort     = listCmd.Flag("sort", "Sort field").Default(string(task.SortByCreatedAt)).String()
	listAsc      = listCmd.Flag("asc", "Sort ascending").Bool()
	listPage     = listCmd.Flag("page", "Page number").Default("1").Int()
	listSize     = listCmd.Flag("size", "Page size").Default("20").Int()
	listSubtasks = listCmd.Flag("all", "Include subtasks").Bool()

	showCmd = app.Command("show", "Show one task")
	showID  = showCmd.Arg("id", "Task id").Required().String()

	doneCmd = app.Command("done", "Mark a task completed")
	doneID  = doneCmd.Arg("id", "Task id").Required().String()

	moveCmd    = app.Command("move", "Move a task under another task, or to the root")
	moveID     = moveCmd.Arg("id", "Task id").Required().String()
	moveParent = moveCmd.Arg("parent", "New parent id; omit to make it a root task").String()

	deleteCmd = app.Command("delete", "Delete a task and its subtasks")
	deleteID  = deleteCmd.Arg("id", "Task id").Required().String()
)

func main() {
	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	cfg, err := config.Load(*configPath)
	app.FatalIfError(err, "load config")
	if *ownerFlag != "" {
		cfg.Owner = *ownerFlag
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, command, cfg, logger); err != nil {
		logger.Error("command failed", slog.String("command", command), slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(ctx context.Context, command string, cfg *config.Config, logger *slog.Logger) error {
	container, err := di.Open(ctx, *cfg, di.WithLogger(logger))
	if err != nil {
		return err
	}
	defer container.Close()

	if command == migrateCmd.FullCommand() {
		if err := container.Migrate(ctx); err != nil {
			return err
		}
		fmt.Println("schema ready")
		return nil
	}

	svc := container.TaskService(identity.Static(cfg.Owner))

	switch command {
	case addCmd.FullCommand():
		return handleAdd(ctx, svc)
	case listCmd.FullCommand():
		return handleList(ctx, svc)
	case showCmd.FullCommand():
		return handleShow(ctx, svc, *showID)
	case doneCmd.FullCommand():
		status := task.StatusCompleted
		updated, err := svc.Update(ctx, *doneID, task.Patch{Status: &status})
		if err != nil {
			return err
		}
		fmt.Printf("%s completed\n", updated.ID)
		return nil
	case moveCmd.FullCommand():
		var parent *string
		if *moveParent != "" {
			parent = moveParent
		}
		moved, err := svc.Move(ctx, *moveID, parent)
		if err != nil {
			return err
		}
		fmt.Printf("%s moved\n", moved.ID)
		return nil
	case deleteCmd.FullCommand():
		n, err := svc.Delete(ctx, *deleteID)
		if err != nil {
			return err
		}
		fmt.Printf("deleted %d task(s)\n", n)
		return nil
	}
	return fmt.Errorf("unknown command %q", command)
}

func handleAdd(ctx context.Context, svc *taskservice.Service) error {
	priority, _ := task.ParsePriority(*addPriority)
	in := task.NewTask{
		Title:       *addTitle,
		Description: *addDesc,
		Status:      task.Status(*addStatus),
		Priority:    priority,
		Tags:        *addTags,
	}
	if *addParent != "" {
		in.ParentID = addParent
	}
	if *addDue != "" {
		due, err := parseDue(*addDue)
		if err != nil {
			return err
		}
		in.DueAt = &due
	}

	subtasks := make([]task.NewTask, 0, len(*addSubtasks))
	for _, title := range *addSubtasks {
		subtasks = append(subtasks, task.NewTask{Title: title, Priority: priority})
	}

	created, children, err := svc.CreateWithSubtasks(ctx, in, subtasks...)
	if err != nil {
		return err
	}
	fmt.Println(created.ID)
	for _, child := range children {
		fmt.Printf("  %s\n", child.ID)
	}
	return nil
}

func handleList(ctx context.Context, svc *taskservice.Service) error {
	q := task.Query{
		Search:          *listSearch,
		Tag:             *listTag,
		IncludeSubtasks: *listSubtasks,
		SortBy:          task.SortField(*listSort),
		SortDirection:   task.Descending,
		Page:            *listPage,
		PageSize:        *listSize,
	}
	if *listAsc {
		q.SortDirection = task.Ascending
	}
	if *listStatus != "" {
		status := task.Status(*listStatus)
		q.Status = &status
	}

	views, err := svc.List(ctx, q)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tSTATUS\tPRIORITY\tDUE\tSUBTASKS")
	for _, v := range views {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d/%d\n",
			v.ID, v.Title, v.Status, v.Priority, formatDue(v.DueAt),
			v.CompletedSubtaskCount, v.SubtaskCount)
	}
	return w.Flush()
}

func handleShow(ctx context.Context, svc *taskservice.Service, id string) error {
	v, err := svc.Get(ctx, id)
	if errors.Is(err, taskservice.ErrNotFound) {
		return fmt.Errorf("task %s not found", id)
	}
	if err != nil {
		return err
	}

	parent := "-"
	if v.ParentID != nil {
		parent = *v.ParentID
	}
	fmt.Printf("ID:          %s\n", v.ID)
	fmt.Printf("Title:       %s\n", v.Title)
	fmt.Printf("Status:      %s\n", v.Status)
	fmt.Printf("Priority:    %s\n", v.Priority)
	fmt.Printf("Due:         %s\n", formatDue(v.DueAt))
	fmt.Printf("Parent:      %s\n", parent)
	fmt.Printf("Tags:        %s\n", strings.Join(v.Tags, ", "))
	fmt.Printf("Subtasks:    %d (%d completed)\n", v.SubtaskCount, v.CompletedSubtaskCount)
	if v.Description != "" {
		fmt.Printf("\n%s\n", v.Description)
	}
	return nil
}

func parseDue(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid due date %q", s)
	}
	return t, nil
}

func formatDue(due *time.Time) string {
	if due == nil {
		return "-"
	}
	return due.Format(time.DateOnly)
}
