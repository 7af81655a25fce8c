// Package migrations versions the session store schema. Each step runs in
// its own transaction and is recorded in schema_migrations.
package migrations

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"gorm.io/gorm"
)

// Migration is one schema step. Down may be nil for irreversible steps.
type Migration struct {
	Version     string
	Description string
	Up          func(tx *gorm.DB) error
	Down        func(tx *gorm.DB) error
}

// Record is a row of schema_migrations.
type Record struct {
	Version   string    `gorm:"primaryKey;size:32"`
	AppliedAt time.Time `gorm:"not null"`
}

// TableName implements gorm's Tabler.
func (Record) TableName() string { return "schema_migrations" }

// Migrator applies migrations in version order.
type Migrator struct {
	db     *gorm.DB
	logger *slog.Logger
	steps  []Migration
}

// NewMigrator returns a Migrator with no steps registered.
func NewMigrator(db *gorm.DB, logger *slog.Logger) *Migrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Migrator{db: db, logger: logger}
}

// RegisterAll adds steps and keeps them sorted by version.
func (m *Migrator) RegisterAll(steps []Migration) {
	m.steps = append(m.steps, steps...)
	sort.Slice(m.steps, func(i, j int) bool { return m.steps[i].Version < m.steps[j].Version })
}

// Up applies every pending step.
func (m *Migrator) Up(ctx context.Context) error {
	pending, err := m.Pending(ctx)
	if err != nil {
		return err
	}
	for _, step := range pending {
		m.logger.InfoContext(ctx, "applying migration",
			slog.String("version", step.Version),
			slog.String("description", step.Description))
		err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := step.Up(tx); err != nil {
				return err
			}
			return tx.Create(&Record{Version: step.Version, AppliedAt: time.Now().UTC()}).Error
		})
		if err != nil {
			return fmt.Errorf("migration %s: %w", step.Version, err)
		}
	}
	return nil
}

// Down reverts the newest applied step. It is a no-op when nothing has
// been applied.
func (m *Migrator) Down(ctx context.Context) error {
	if err := m.ensureTable(ctx); err != nil {
		return err
	}
	var last Record
	err := m.db.WithContext(ctx).Order("version DESC").Take(&last).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading last migration: %w", err)
	}

	i := sort.Search(len(m.steps), func(i int) bool { return m.steps[i].Version >= last.Version })
	if i == len(m.steps) || m.steps[i].Version != last.Version {
		return fmt.Errorf("migration %s is applied but not registered", last.Version)
	}
	step := m.steps[i]
	if step.Down == nil {
		return fmt.Errorf("migration %s cannot be reverted", step.Version)
	}

	m.logger.InfoContext(ctx, "reverting migration", slog.String("version", step.Version))
	err = m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := step.Down(tx); err != nil {
			return err
		}
		return tx.Delete(&Record{Version: step.Version}).Error
	})
	if err != nil {
		return fmt.Errorf("reverting migration %s: %w", step.Version, err)
	}
	return nil
}

// Pending returns the registered steps not yet applied, oldest first.
func (m *Migrator) Pending(ctx context.Context) ([]Migration, error) {
	if err := m.ensureTable(ctx); err != nil {
		return nil, err
	}
	var versions []string
	if err := m.db.WithContext(ctx).Model(&Record{}).Pluck("version", &versions).Error; err != nil {
		return nil, fmt.Errorf("reading applied migrations: %w", err)
	}
	applied := make(map[string]bool, len(versions))
	for _, v := range versions {
		applied[v] = true
	}

	var pending []Migration
	for _, step := range m.steps {
		if !applied[step.Version] {
			pending = append(pending, step)
		}
	}
	return pending, nil
}

func (m *Migrator) ensureTable(ctx context.Context) error {
	if err := m.db.WithContext(ctx).AutoMigrate(&Record{}); err != nil {
		return fmt.Errorf("creating schema_migrations: %w", err)
	}
	return nil
}
