// Package di wires the task store together: database, cache backend, key
// codec, invalidator, cached reader and the task service.
package di

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/goliatone/go-taskstore/cache"
	"github.com/goliatone/go-taskstore/identity"
	"github.com/goliatone/go-taskstore/pkg/config"
	"github.com/goliatone/go-taskstore/repositorycache"
	"github.com/goliatone/go-taskstore/task"
	"github.com/goliatone/go-taskstore/taskquery"
	"github.com/goliatone/go-taskstore/taskservice"
	"github.com/goliatone/go-taskstore/uow"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
)

// Container holds the singleton components of one task store. Units of work
// are not singletons; NewUnitOfWork hands out a fresh one per operation.
type Container struct {
	config       config.Config
	db           *bun.DB
	redis        redis.UniversalClient
	cacheService *cache.Service
	keyCodec     cache.KeyCodec
	invalidator  *cache.Invalidator
	executor     *taskquery.Executor
	reader       *repositorycache.CachedTaskReader
	logger       *slog.Logger

	ownsDB    bool
	ownsRedis bool
}

// Option configures a Container.
type Option func(*Container)

// WithLogger sets the base logger. Components log under their own group.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Container) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithRedisClient supplies the client used by the redis cache backend. The
// container does not close a client it was given.
func WithRedisClient(client redis.UniversalClient) Option {
	return func(c *Container) {
		c.redis = client
	}
}

// NewContainer builds the components on top of an open database. The
// database is not closed by Close.
func NewContainer(db *bun.DB, cfg config.Config, opts ...Option) (*Container, error) {
	if db == nil {
		return nil, errors.New("di: database is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Container{
		config: cfg,
		db:     db,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if err := c.initCache(); err != nil {
		return nil, err
	}

	invalidatorOpts := []cache.InvalidatorOption{
		cache.WithInvalidatorLogger(c.logger.WithGroup("invalidator")),
	}
	if cfg.Cache.AsyncInvalidation {
		invalidatorOpts = append(invalidatorOpts, cache.WithAsync())
	}

	c.keyCodec = cache.NewDefaultKeyCodec()
	c.invalidator = cache.NewInvalidator(c.cacheService, invalidatorOpts...)
	c.executor = taskquery.NewExecutor(db, taskquery.WithLogger(c.logger.WithGroup("taskquery")))
	c.reader = repositorycache.New(c.executor, c.cacheService, c.keyCodec,
		repositorycache.WithLogger(c.logger.WithGroup("repositorycache")),
	)
	return c, nil
}

// NewContainerWithDefaults builds a container with config.Default over db.
func NewContainerWithDefaults(db *bun.DB, opts ...Option) (*Container, error) {
	return NewContainer(db, config.Default(), opts...)
}

// Open connects to the configured database and builds a container that owns
// the connection.
func Open(ctx context.Context, cfg config.Config, opts ...Option) (*Container, error) {
	db, err := OpenDB(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}

	c, err := NewContainer(db, cfg, opts...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	c.ownsDB = true
	return c, nil
}

// OpenDB opens and pings a bun database for the configured driver.
func OpenDB(ctx context.Context, cfg config.DatabaseConfig) (*bun.DB, error) {
	var db *bun.DB
	switch cfg.Driver {
	case config.DriverSQLite:
		sqldb, err := sql.Open("sqlite3", cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		// SQLite allows one writer; a single connection also keeps
		// in-memory databases coherent.
		sqldb.SetMaxOpenConns(1)
		db = bun.NewDB(sqldb, sqlitedialect.New())
	case config.DriverPostgres:
		sqldb, err := sql.Open("postgres", cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		db = bun.NewDB(sqldb, pgdialect.New())
	default:
		return nil, fmt.Errorf("di: unsupported database driver %q", cfg.Driver)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", cfg.Driver, err)
	}
	return db, nil
}

func (c *Container) initCache() error {
	cacheCfg := c.config.CacheConfig()
	serviceOpts := []cache.ServiceOption{
		cache.WithCodec(c.config.Codec()),
		cache.WithLogger(c.logger.WithGroup("cache")),
	}

	var err error
	switch c.config.Cache.Backend {
	case config.BackendRedis:
		if c.redis == nil {
			c.redis = redis.NewClient(&redis.Options{
				Addr:     c.config.Redis.Addr,
				Password: c.config.Redis.Password,
				DB:       c.config.Redis.DB,
			})
			c.ownsRedis = true
		}
		c.cacheService, err = cache.NewRedisCacheService(c.redis, cacheCfg, serviceOpts...)
	default:
		c.cacheService, err = cache.NewCacheService(cacheCfg, serviceOpts...)
	}
	if err != nil {
		if c.ownsRedis {
			_ = c.redis.Close()
		}
		return fmt.Errorf("di: build cache: %w", err)
	}
	return nil
}

// Migrate creates the schema if it is missing.
func (c *Container) Migrate(ctx context.Context) error {
	return task.CreateSchema(ctx, c.db)
}

// DB returns the database handle.
func (c *Container) DB() *bun.DB {
	return c.db
}

// Config returns a copy of the configuration the container was built with.
func (c *Container) Config() config.Config {
	return c.config
}

// CacheService returns the singleton cache service.
func (c *Container) CacheService() cache.CacheService {
	return c.cacheService
}

// KeyCodec returns the singleton key codec.
func (c *Container) KeyCodec() cache.KeyCodec {
	return c.keyCodec
}

func (c *Container) Invalidator() *cache.Invalidator {
	return c.invalidator
}

// Executor returns the uncached query executor.
func (c *Container) Executor() *taskquery.Executor {
	return c.executor
}

// Reader returns the cached task reader.
func (c *Container) Reader() *repositorycache.CachedTaskReader {
	return c.reader
}

// NewUnitOfWork returns a fresh unit of work. The caller must Close it.
func (c *Container) NewUnitOfWork() *uow.UnitOfWork {
	return uow.New(c.db, uow.WithLogger(c.logger.WithGroup("uow")))
}

// TaskService returns a task service that resolves the caller through provider.
func (c *Container) TaskService(provider identity.Provider, opts ...taskservice.Option) *taskservice.Service {
	opts = append([]taskservice.Option{
		taskservice.WithLogger(c.logger.WithGroup("taskservice")),
	}, opts...)
	return taskservice.New(c.db, c.reader, c.invalidator, provider, opts...)
}

// Close waits for pending invalidations and releases what the container opened.
func (c *Container) Close() error {
	c.invalidator.Wait()

	var errs []error
	if c.ownsRedis && c.redis != nil {
		errs = append(errs, c.redis.Close())
		c.ownsRedis = false
	}
	if c.ownsDB && c.db != nil {
		errs = append(errs, c.db.Close())
		c.ownsDB = false
	}
	return errors.Join(errs...)
}
