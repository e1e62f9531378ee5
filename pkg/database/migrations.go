package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/alim08/stockcache/pkg/logger"
	"go.uber.org/zap"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	UpSQL       string
	DownSQL     string
}

// Migrations holds all database migrations
var Migrations = []Migration{
	{
		Version:     1,
		Description: "Create documents table",
		UpSQL: `
			CREATE TABLE IF NOT EXISTS documents (
				collection VARCHAR(64) NOT NULL,
				doc_key VARCHAR(128) NOT NULL,
				body JSONB NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
				updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
				PRIMARY KEY (collection, doc_key)
			);

			CREATE OR REPLACE FUNCTION update_updated_at_column()
			RETURNS TRIGGER AS $$
			BEGIN
				NEW.updated_at = NOW();
				RETURN NEW;
			END;
			$$ language 'plpgsql';

			CREATE TRIGGER update_documents_updated_at BEFORE UPDATE ON documents
				FOR EACH ROW EXECUTE FUNCTION update_updated_at_column();
		`,
		DownSQL: `
			DROP TRIGGER IF EXISTS update_documents_updated_at ON documents;
			DROP FUNCTION IF EXISTS update_updated_at_column();
			DROP TABLE IF EXISTS documents;
		`,
	},
}

const (
	createMigrationsTableSQL = `CREATE TABLE IF NOT EXISTS migrations (
		version INTEGER PRIMARY KEY,
		description TEXT NOT NULL,
		applied_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	)`

	appliedMigrationsSQL = `SELECT version, applied_at FROM migrations ORDER BY version`

	recordMigrationSQL = `INSERT INTO migrations (version, description) VALUES ($1, $2)`
)

// MigrationStatus represents the status of a migration
type MigrationStatus struct {
	Version     int       `json:"version"`
	Applied     bool      `json:"applied"`
	AppliedAt   time.Time `json:"applied_at,omitempty"`
	Description string    `json:"description"`
}

// RunMigrations runs all pending database migrations
func (db *DB) RunMigrations(ctx context.Context) error {
	logger.Log.Info("starting database migrations")

	if err := db.createMigrationsTable(ctx); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	applied, err := db.getAppliedMigrations(ctx)
	if err != nil {
		return fmt.Errorf("failed to get applied migrations: %w", err)
	}

	for _, migration := range Migrations {
		if _, ok := applied[migration.Version]; ok {
			logger.Log.Debug("migration already applied", zap.Int("version", migration.Version))
			continue
		}

		logger.Log.Info("applying migration",
			zap.Int("version", migration.Version),
			zap.String("description", migration.Description))

		if err := db.applyMigration(ctx, migration); err != nil {
			return fmt.Errorf("failed to apply migration %d: %w", migration.Version, err)
		}

		logger.Log.Info("migration applied successfully", zap.Int("version", migration.Version))
	}

	logger.Log.Info("database migrations completed")
	return nil
}

// createMigrationsTable creates the migrations tracking table
func (db *DB) createMigrationsTable(ctx context.Context) error {
	_, err := db.ExecContext(ctx, createMigrationsTableSQL)
	return err
}

// getAppliedMigrations maps each applied version to when it was applied.
func (db *DB) getAppliedMigrations(ctx context.Context) (map[int]time.Time, error) {
	rows, err := db.QueryContext(ctx, appliedMigrationsSQL)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[int]time.Time)
	for rows.Next() {
		var version int
		var at time.Time
		if err := rows.Scan(&version, &at); err != nil {
			return nil, err
		}
		applied[version] = at
	}
	return applied, rows.Err()
}

// applyMigration applies a single migration and records it
func (db *DB) applyMigration(ctx context.Context, migration Migration) error {
	return db.Transaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, migration.UpSQL); err != nil {
			return fmt.Errorf("failed to execute migration SQL: %w", err)
		}
		if _, err := tx.ExecContext(ctx, recordMigrationSQL, migration.Version, migration.Description); err != nil {
			return fmt.Errorf("failed to record migration: %w", err)
		}
		return nil
	})
}

// GetMigrationStatus reports every known migration and whether it has been
// applied. The health endpoint surfaces it for the postgres backend.
func (db *DB) GetMigrationStatus(ctx context.Context) ([]MigrationStatus, error) {
	applied, err := db.getAppliedMigrations(ctx)
	if err != nil {
		return nil, err
	}

	status := make([]MigrationStatus, 0, len(Migrations))
	for _, migration := range Migrations {
		at, ok := applied[migration.Version]
		status = append(status, MigrationStatus{
			Version:     migration.Version,
			Applied:     ok,
			AppliedAt:   at,
			Description: migration.Description,
		})
	}
	return status, nil
}
