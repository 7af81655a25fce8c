package migrations

import (
	"gorm.io/gorm"

	"github.com/jmylchreest/esplayer/internal/models"
)

const pruneIndex = "idx_sessions_state_released_at"

// AllMigrations returns all registered migrations in order.
// - 001: Create the sessions table
// - 002: Add the composite index used by the session janitor
func AllMigrations() []Migration {
	return []Migration{
		migration001Sessions(),
		migration002PruneIndex(),
	}
}

func migration001Sessions() Migration {
	return Migration{
		Version:     "001",
		Description: "Create sessions table",
		Up: func(tx *gorm.DB) error {
			return tx.AutoMigrate(&models.Session{})
		},
		Down: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&models.Session{})
		},
	}
}

func migration002PruneIndex() Migration {
	return Migration{
		Version:     "002",
		Description: "Add session prune index",
		Up: func(tx *gorm.DB) error {
			if tx.Migrator().HasIndex(&models.Session{}, pruneIndex) {
				return nil
			}
			return tx.Exec("CREATE INDEX " + pruneIndex + " ON sessions (state, released_at)").Error
		},
		Down: func(tx *gorm.DB) error {
			if !tx.Migrator().HasIndex(&models.Session{}, pruneIndex) {
				return nil
			}
			return tx.Migrator().DropIndex(&models.Session{}, pruneIndex)
		},
	}
}
