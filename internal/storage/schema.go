package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
)

// currentSchemaVersion is the version this build expects. Bump it when
// adding a migration step below.
const currentSchemaVersion = 1

// schemaStatements create the baseline table/index set. Every statement
// is idempotent; ensureSchema runs them on every open.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS options (
		name TEXT,
		value TEXT,
		CONSTRAINT options_name_unique UNIQUE (name)
	)`,
	`CREATE TABLE IF NOT EXISTS messages (
		network TEXT,
		channel TEXT,
		time INTEGER,
		type TEXT,
		msg TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS messages_network_channel ON messages (network, channel)`,
	`CREATE INDEX IF NOT EXISTS messages_time ON messages (time)`,
}

// migration is one ordered upgrade step. apply runs inside the migration
// transaction, before the stored version is bumped past version.
type migration struct {
	version int64
	apply   func(ctx context.Context, tx *sql.Tx) error
}

// migrations lists upgrade steps in ascending version order. Version 1 is
// the baseline created by schemaStatements and transforms nothing.
var migrations = []migration{
	{version: 1, apply: func(context.Context, *sql.Tx) error { return nil }},
}

// ensureSchema creates the table/index set if absent and reconciles the
// stored schema version with currentSchemaVersion. A database written by
// a newer version is left untouched: the condition is logged and the
// store keeps operating on the schema it finds.
func ensureSchema(ctx context.Context, db *sql.DB, log *slog.Logger) error {
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}

	stored, err := schemaVersion(ctx, db)
	if errors.Is(err, sql.ErrNoRows) {
		// Fresh database.
		_, err := db.ExecContext(ctx,
			"INSERT INTO options (name, value) VALUES ('schema_version', ?)",
			strconv.FormatInt(currentSchemaVersion, 10))
		if err != nil {
			return fmt.Errorf("insert schema version: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	switch {
	case stored == currentSchemaVersion:
		return nil
	case stored > currentSchemaVersion:
		log.Warn("database schema is newer than this version supports, continuing on existing schema",
			"stored_version", stored,
			"supported_version", currentSchemaVersion,
			"error", ErrNewerSchema,
		)
		return nil
	default:
		return migrateSchema(ctx, db, log, stored)
	}
}

// migrateSchema applies every migration step newer than the stored
// version, in order, then persists the new version. Steps and the
// version bump commit as one transaction.
func migrateSchema(ctx context.Context, db *sql.DB, log *slog.Logger, stored int64) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration: %w", err)
	}
	defer tx.Rollback()

	for _, m := range migrations {
		if m.version <= stored {
			continue
		}
		if err := m.apply(ctx, tx); err != nil {
			return fmt.Errorf("apply migration to version %d: %w", m.version, err)
		}
		log.Info("applied schema migration",
			"from_version", stored,
			"to_version", m.version,
		)
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE options SET value = ? WHERE name = 'schema_version'",
		strconv.FormatInt(currentSchemaVersion, 10))
	if err != nil {
		return fmt.Errorf("update schema version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration: %w", err)
	}
	return nil
}

// schemaVersion reads the stored schema version. Returns sql.ErrNoRows on
// a database that has never been opened before.
func schemaVersion(ctx context.Context, db *sql.DB) (int64, error) {
	var value string
	err := db.QueryRowContext(ctx,
		"SELECT value FROM options WHERE name = 'schema_version'").Scan(&value)
	if err != nil {
		return 0, err
	}
	version, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse schema version %q: %w", value, err)
	}
	return version, nil
}
