package di

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/goliatone/go-taskstore/identity"
	"github.com/goliatone/go-taskstore/pkg/config"
	"github.com/goliatone/go-taskstore/pkg/testsupport"
	"github.com/goliatone/go-taskstore/task"
	"github.com/redis/go-redis/v9"
)

func TestNewContainer(t *testing.T) {
	db := testsupport.SeedFixtures(t)
	cfg := config.Default()
	cfg.Cache.Capacity = 1000

	container, err := NewContainer(db, cfg)
	if err != nil {
		t.Fatalf("NewContainer() failed: %v", err)
	}
	defer container.Close()

	if container.DB() != db {
		t.Error("Container should hold the database it was given")
	}
	if container.CacheService() == nil {
		t.Error("Container should have a non-nil cache service")
	}
	if container.KeyCodec() == nil {
		t.Error("Container should have a non-nil key codec")
	}
	if container.Invalidator() == nil {
		t.Error("Container should have a non-nil invalidator")
	}
	if container.Executor() == nil || container.Reader() == nil {
		t.Error("Container should have a query executor and a cached reader")
	}

	if got := container.Config().Cache.Capacity; got != 1000 {
		t.Errorf("Expected capacity 1000, got %d", got)
	}
}

func TestNewContainerWithDefaults(t *testing.T) {
	container, err := NewContainerWithDefaults(testsupport.OpenDB(t))
	if err != nil {
		t.Fatalf("NewContainerWithDefaults() failed: %v", err)
	}
	defer container.Close()

	if container.Config() != config.Default() {
		t.Errorf("Expected default config, got %+v", container.Config())
	}
}

func TestNewContainer_InvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Cache.Capacity = 0

	if _, err := NewContainer(testsupport.OpenDB(t), cfg); err == nil {
		t.Error("Expected error for zero capacity")
	}
	if _, err := NewContainer(nil, config.Default()); err == nil {
		t.Error("Expected error for nil database")
	}
}

func TestNewContainer_RedisBackend(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	cfg := config.Default()
	cfg.Cache.Backend = config.BackendRedis
	cfg.Cache.KeyPrefix = "di-test:"

	container, err := NewContainer(testsupport.OpenDB(t), cfg, WithRedisClient(client))
	if err != nil {
		t.Fatalf("NewContainer() failed: %v", err)
	}
	defer container.Close()

	ctx := context.Background()
	if err := container.CacheService().Set(ctx, "greeting", "hello"); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}

	if !mr.Exists("di-test:greeting") {
		t.Errorf("Expected prefixed key in redis, have %v", mr.Keys())
	}

	var got string
	if !container.CacheService().Get(ctx, "greeting", &got) || got != "hello" {
		t.Errorf("Expected cached greeting, got %q", got)
	}

	// a client passed in is left open
	if err := client.Ping(ctx).Err(); err != nil {
		t.Errorf("Expected caller's client to stay usable: %v", err)
	}
}

func TestNewContainer_RedisClientFromConfig(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg := config.Default()
	cfg.Cache.Backend = config.BackendRedis
	cfg.Redis.Addr = mr.Addr()

	container, err := NewContainer(testsupport.OpenDB(t), cfg)
	if err != nil {
		t.Fatalf("NewContainer() failed: %v", err)
	}

	if err := container.CacheService().Set(context.Background(), "k", 1); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	if err := container.Close(); err != nil {
		t.Errorf("Close() failed: %v", err)
	}
}

func TestOpen_SQLite(t *testing.T) {
	cfg := config.Default()
	cfg.Database.DSN = "file:di_open_sqlite?mode=memory&cache=shared"

	ctx := context.Background()
	container, err := Open(ctx, cfg)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer container.Close()

	if err := container.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() failed: %v", err)
	}
	// migrating twice is harmless
	if err := container.Migrate(ctx); err != nil {
		t.Fatalf("second Migrate() failed: %v", err)
	}

	svc := container.TaskService(identity.Static("U1"))
	created, err := svc.Create(ctx, task.NewTask{Title: "Write release notes"})
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}

	views, err := svc.List(ctx, task.Query{})
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if len(views) != 1 || views[0].ID != created.ID {
		t.Errorf("Expected the created task, got %+v", views)
	}
}

func TestOpenDB_UnsupportedDriver(t *testing.T) {
	_, err := OpenDB(context.Background(), config.DatabaseConfig{Driver: "mysql", DSN: "x"})
	if err == nil {
		t.Error("Expected error for unsupported driver")
	}
}

func TestContainer_NewUnitOfWork(t *testing.T) {
	container, err := NewContainerWithDefaults(testsupport.OpenDB(t))
	if err != nil {
		t.Fatalf("NewContainerWithDefaults() failed: %v", err)
	}
	defer container.Close()

	first := container.NewUnitOfWork()
	second := container.NewUnitOfWork()
	defer first.Close()
	defer second.Close()

	if first == second {
		t.Error("Expected a fresh unit of work per call")
	}
	if first.InTransaction() || first.Pending() != 0 {
		t.Error("Expected an idle unit of work")
	}
}
