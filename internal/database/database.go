// Package database opens the session store. SQLite, PostgreSQL and MySQL
// are supported through GORM; the schema is migrated on open.
package database

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/jmylchreest/esplayer/internal/config"
	"github.com/jmylchreest/esplayer/internal/database/migrations"
)

// sqlitePragmas are applied through the DSN so every pooled connection
// gets them.
var sqlitePragmas = []string{
	"busy_timeout(5000)",
	"journal_mode(WAL)",
	"synchronous(NORMAL)",
	"foreign_keys(ON)",
}

var dialectors = map[string]func(dsn string) gorm.Dialector{
	"sqlite":   func(dsn string) gorm.Dialector { return sqlite.Open(sqliteDSN(dsn)) },
	"postgres": postgres.Open,
	"mysql":    mysql.Open,
}

// Drivers lists the supported driver names.
func Drivers() []string {
	names := make([]string, 0, len(dialectors))
	for name := range dialectors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DB is an open, migrated session store.
type DB struct {
	*gorm.DB
	driver string
	logger *slog.Logger
}

// Open connects with cfg and applies pending migrations.
func Open(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (*DB, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "database"))

	open, ok := dialectors[cfg.Driver]
	if !ok {
		return nil, fmt.Errorf("unsupported database driver %q (want one of %s)",
			cfg.Driver, strings.Join(Drivers(), ", "))
	}

	gdb, err := gorm.Open(open(cfg.DSN), &gorm.Config{
		Logger:                 newGormLogger(logger, cfg.LogLevel),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening %s database: %w", cfg.Driver, err)
	}
	db := &DB{DB: gdb, driver: cfg.Driver, logger: logger}

	if err := db.configurePool(cfg); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	logger.Debug("session store ready", slog.String("driver", cfg.Driver))
	return db, nil
}

// configurePool applies the pool limits. An in-memory SQLite database exists
// per connection, so it is pinned to one.
func (db *DB) configurePool(cfg config.DatabaseConfig) error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return fmt.Errorf("getting sql.DB: %w", err)
	}
	maxOpen, maxIdle := cfg.MaxOpenConns, cfg.MaxIdleConns
	if db.InMemory(cfg.DSN) {
		maxOpen, maxIdle = 1, 1
	}
	if maxOpen > 0 {
		sqlDB.SetMaxOpenConns(maxOpen)
	}
	if maxIdle > 0 {
		sqlDB.SetMaxIdleConns(maxIdle)
	}
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	return nil
}

// InMemory reports whether dsn names an in-memory SQLite database.
func (db *DB) InMemory(dsn string) bool {
	return db.driver == "sqlite" && strings.Contains(dsn, ":memory:")
}

// Migrate applies pending schema migrations.
func (db *DB) Migrate(ctx context.Context) error {
	m := migrations.NewMigrator(db.DB, db.logger)
	m.RegisterAll(migrations.AllMigrations())
	if err := m.Up(ctx); err != nil {
		return fmt.Errorf("migrating session store: %w", err)
	}
	return nil
}

// Driver returns the driver name.
func (db *DB) Driver() string { return db.driver }

// Ping checks the connection.
func (db *DB) Ping(ctx context.Context) error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the connection pool.
func (db *DB) Close() error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func sqliteDSN(dsn string) string {
	var b strings.Builder
	b.WriteString(dsn)
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	for _, p := range sqlitePragmas {
		b.WriteString(sep)
		b.WriteString("_pragma=")
		b.WriteString(p)
		sep = "&"
	}
	return b.String()
}
