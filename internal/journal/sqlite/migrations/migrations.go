package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/slok/taskvisor/internal/log"
)

//go:embed sql/*.sql
var schema embed.FS

const schemaTable = "journal_schema_migrations"

// SchemaConfig is the configuration of the journal schema.
type SchemaConfig struct {
	DB     *sql.DB
	Logger log.Logger
}

func (c *SchemaConfig) defaults() error {
	if c.DB == nil {
		return fmt.Errorf("db is required")
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "journal.Schema"})
	return nil
}

// Schema keeps the journal tables up to date.
type Schema struct {
	db     *sql.DB
	logger log.Logger
}

// NewSchema returns a new journal schema.
func NewSchema(cfg SchemaConfig) (*Schema, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Schema{db: cfg.DB, logger: cfg.Logger}, nil
}

// Ensure applies the pending journal migrations and returns the resulting
// schema version.
func (s *Schema) Ensure() (uint, error) {
	var version uint
	err := s.withMigrate(func(m *migrate.Migrate) error {
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("could not apply journal migrations: %w", err)
		}

		v, dirty, err := m.Version()
		if err != nil {
			return fmt.Errorf("could not get journal schema version: %w", err)
		}
		if dirty {
			return fmt.Errorf("journal schema version %d is dirty", v)
		}
		version = v
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.logger.Debugf("Journal schema at version %d", version)
	return version, nil
}

func (s *Schema) withMigrate(fn func(m *migrate.Migrate) error) error {
	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{MigrationsTable: schemaTable})
	if err != nil {
		return fmt.Errorf("could not create migrate driver: %w", err)
	}

	src, err := iofs.New(schema, "sql")
	if err != nil {
		return fmt.Errorf("could not load journal migrations: %w", err)
	}
	defer func() {
		if err := src.Close(); err != nil {
			s.logger.Warningf("Could not close journal migrations: %s", err)
		}
	}()

	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	return fn(m)
}
