// Package db owns the docsage schema: documents, chunks (with the
// pgvector column the retrieval index searches), graph nodes and
// edges, user settings, and the rate counter table. Migrations are
// embedded and applied at startup, before the connection pool is
// created, so a booting service never queries a stale schema.
package db

import (
	"embed"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5" // pgx v5 driver
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/docsage/docsage/internal/log"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migrate applies pending migrations in order. golang-migrate tracks
// applied versions in schema_migrations; already-applied migrations
// are skipped, so calling this on every boot is cheap.
//
// connURL must use the postgres:// or postgresql:// scheme, the same
// URL config.DatabaseURL renders. A nil logger discards migration
// progress output.
func Migrate(connURL string, logger log.Logger) error {
	if logger == nil {
		logger = log.NewNop()
	}
	logger.Debug("applying schema migrations")

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("opening embedded migrations: %w", err)
	}

	// golang-migrate selects its driver by URL scheme and wants pgx5://
	// for the pgx v5 driver.
	dbURL, err := convertToMigrateURL(connURL)
	if err != nil {
		return err
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, dbURL)
	if err != nil {
		return fmt.Errorf("connecting for migrations: %w", err)
	}
	defer func() {
		srcErr, dbErr := m.Close()
		if srcErr != nil {
			logger.Warn("closing migration source", "error", srcErr)
		}
		if dbErr != nil {
			logger.Warn("closing migration connection", "error", dbErr)
		}
	}()

	// A dirty row means a previous run died mid-migration. Refuse to
	// proceed; applying more DDL on top of a half-applied version can
	// wreck the chunks or rate_counters tables.
	version, dirty, verErr := m.Version()
	if verErr != nil && !errors.Is(verErr, migrate.ErrNilVersion) {
		return fmt.Errorf("reading migration version: %w", verErr)
	}
	if dirty {
		logger.Error("schema is dirty, refusing to migrate",
			"version", version,
			"hint", fmt.Sprintf("inspect the schema, then: migrate force %d", version))
		return fmt.Errorf("schema in dirty state (version=%d), manual cleanup required", version)
	}

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			logger.Debug("schema already current")
			return nil
		}
		if postVersion, postDirty, postErr := m.Version(); postErr == nil && postDirty {
			logger.Error("migration failed, schema left dirty",
				"version", postVersion,
				"hint", fmt.Sprintf("fix the migration, then: migrate force %d", postVersion))
		}
		return fmt.Errorf("applying migrations: %w", err)
	}

	finalVersion, finalDirty, verErr := m.Version()
	if verErr != nil {
		logger.Warn("migrations applied but version check failed",
			"error", verErr,
			"hint", "check manually: SELECT version, dirty FROM schema_migrations")
		return nil
	}
	logger.Info("schema migrated", "version", finalVersion, "dirty", finalDirty)
	return nil
}

// convertToMigrateURL rewrites a postgres:// or postgresql:// URL to
// the pgx5:// scheme golang-migrate's pgx v5 driver registers under.
func convertToMigrateURL(connURL string) (string, error) {
	u, err := url.Parse(connURL)
	if err != nil {
		return "", fmt.Errorf("parsing database URL: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "postgres", "postgresql":
		u.Scheme = "pgx5"
		return u.String(), nil
	default:
		return "", fmt.Errorf("unsupported database URL scheme %q (expected postgres or postgresql)", u.Scheme)
	}
}
