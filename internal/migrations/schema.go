// Package migrations embeds and applies the marketplace schema.
package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/rs/zerolog/log"
)

// sqlFS contains the embedded SQL migration files.
//
//go:embed sql/*.sql
var sqlFS embed.FS

func newMigrate(db *sql.DB) (*migrate.Migrate, error) {
	if db == nil {
		return nil, errors.New("migrations: db cannot be nil")
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return nil, fmt.Errorf("migrations: create postgres driver: %w", err)
	}

	sourceDriver, err := iofs.New(sqlFS, "sql")
	if err != nil {
		return nil, fmt.Errorf("migrations: open embedded migrations: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("migrations: init migrate instance: %w", err)
	}
	return m, nil
}

// Up applies all pending database migrations. It is safe to call multiple
// times; when the database schema is up to date, the function is a no-op.
func Up(db *sql.DB) error {
	m, err := newMigrate(db)
	if err != nil {
		return err
	}

	currentVersion := uint(0)
	if v, _, verr := m.Version(); verr == nil {
		currentVersion = v
		log.Info().Str("component", "migrations").Uint("version", v).Msg("current database schema version")
	} else if errors.Is(verr, migrate.ErrNilVersion) {
		log.Info().Str("component", "migrations").Msg("no existing migration version (fresh database)")
	} else {
		log.Warn().Str("component", "migrations").Err(verr).Msg("unable to determine current version")
	}

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			log.Info().Str("component", "migrations").Uint("version", currentVersion).Msg("database is up to date")
			return nil
		}
		return fmt.Errorf("migrations: apply: %w", err)
	}

	if v, _, err := m.Version(); err == nil {
		log.Info().Str("component", "migrations").Uint("version", v).Msg("applied migrations")
	} else {
		log.Warn().Str("component", "migrations").Err(err).Msg("applied migrations but failed to read new version")
	}

	return nil
}

// IsDirty reports whether err came from a migration left half-applied.
func IsDirty(err error) bool {
	var dirty migrate.ErrDirty
	return errors.As(err, &dirty)
}

// StatusInfo describes the schema version recorded in the database.
type StatusInfo struct {
	Version uint
	Dirty   bool
	// Fresh is true when no migration has ever been applied.
	Fresh bool
}

// Status reads the recorded schema version.
func Status(db *sql.DB) (StatusInfo, error) {
	m, err := newMigrate(db)
	if err != nil {
		return StatusInfo{}, err
	}

	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return StatusInfo{Fresh: true}, nil
	}
	if err != nil {
		return StatusInfo{}, fmt.Errorf("migrations: read version: %w", err)
	}
	return StatusInfo{Version: v, Dirty: dirty}, nil
}

// FixDirtyDatabase rolls the recorded version back to the last migration that
// completed, so the failed one is retried by the next Up.
func FixDirtyDatabase(db *sql.DB) error {
	m, err := newMigrate(db)
	if err != nil {
		return err
	}

	v, dirty, err := m.Version()
	if err != nil {
		if errors.Is(err, migrate.ErrNilVersion) {
			return nil
		}
		return fmt.Errorf("migrations: read version: %w", err)
	}
	if !dirty {
		log.Info().Str("component", "migrations").Uint("version", v).Msg("database is not dirty")
		return nil
	}

	target := int(v) - 1
	if target < 1 {
		// -1 clears the version table entirely.
		target = -1
	}
	log.Warn().Str("component", "migrations").Uint("dirty_version", v).Int("target", target).Msg("forcing dirty database back")
	if err := m.Force(target); err != nil {
		return fmt.Errorf("migrations: force version %d: %w", target, err)
	}
	return nil
}

// ForceVersion records version as the current schema version without running
// any migration.
func ForceVersion(db *sql.DB, version uint) error {
	m, err := newMigrate(db)
	if err != nil {
		return err
	}
	if err := m.Force(int(version)); err != nil {
		return fmt.Errorf("migrations: force version %d: %w", version, err)
	}
	return nil
}
