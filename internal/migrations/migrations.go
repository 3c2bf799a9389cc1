// Package migrations applies dbmate-compatible migration files at startup.
//
// The migration system stays compatible with dbmate so the schema can
// also be managed out-of-band:
//   - the same `schema_migrations` tracking table
//   - the same `-- migrate:up` / `-- migrate:down` SQL file format
//   - SQLite and PostgreSQL variants in per-database subdirectories
package migrations

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// DetectDBType detects the database type from a connection URL.
// Returns "sqlite" or "postgresql".
func DetectDBType(url string) (string, error) {
	lower := strings.ToLower(url)

	if strings.HasPrefix(lower, "postgres") {
		return "postgresql", nil
	}
	if strings.Contains(lower, "sqlite") || strings.HasPrefix(lower, "file:") ||
		strings.HasSuffix(lower, ".db") || lower == ":memory:" {
		return "sqlite", nil
	}

	return "", fmt.Errorf("cannot detect database type from URL: %s", url)
}

// ensureSchemaMigrationsTable creates the tracking table if missing.
// Safe for concurrent execution by multiple workers.
func ensureSchemaMigrationsTable(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version VARCHAR(255) PRIMARY KEY
		)
	`)
	if err != nil {
		// Another worker may have created it first.
		errMsg := strings.ToLower(err.Error())
		if strings.Contains(errMsg, "already exists") ||
			strings.Contains(errMsg, "duplicate") ||
			strings.Contains(errMsg, "42p07") {
			return nil
		}
		return err
	}
	return nil
}

// appliedMigrations returns the set of already applied versions.
func appliedMigrations(ctx context.Context, db *sql.DB) (map[string]bool, error) {
	applied := make(map[string]bool)

	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		// Table might not exist yet.
		return applied, nil
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

// recordMigration marks a version as applied. Returns false when
// another worker recorded it first.
func recordMigration(ctx context.Context, db *sql.DB, dbType, version string) (bool, error) {
	query := "INSERT INTO schema_migrations (version) VALUES (?)"
	if dbType == "postgresql" {
		query = "INSERT INTO schema_migrations (version) VALUES ($1)"
	}
	if _, err := db.ExecContext(ctx, query, version); err != nil {
		errMsg := strings.ToLower(err.Error())
		if strings.Contains(errMsg, "unique") ||
			strings.Contains(errMsg, "duplicate") ||
			strings.Contains(errMsg, "constraint") {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

var versionRe = regexp.MustCompile(`^(\d+)_`)

// versionFromFilename extracts the dbmate version prefix
// (YYYYMMDDHHMMSS_description.sql -> YYYYMMDDHHMMSS).
func versionFromFilename(filename string) string {
	if match := versionRe.FindStringSubmatch(filename); len(match) > 1 {
		return match[1]
	}
	return strings.TrimSuffix(filename, ".sql")
}

var (
	upRe   = regexp.MustCompile(`(?s)-- migrate:up\s*(.*?)(?:-- migrate:down|$)`)
	downRe = regexp.MustCompile(`(?s)-- migrate:down\s*(.*)$`)
)

// ParseMigrationFile extracts the up and down sections of a dbmate file.
func ParseMigrationFile(content string) (upSQL string, downSQL string) {
	if match := upRe.FindStringSubmatch(content); len(match) > 1 {
		upSQL = strings.TrimSpace(match[1])
	}
	if match := downRe.FindStringSubmatch(content); len(match) > 1 {
		downSQL = strings.TrimSpace(match[1])
	}
	return upSQL, downSQL
}

// executeStatements runs the semicolon-separated statements of one
// migration. "already exists" failures are skipped so re-running a
// partially applied migration converges.
func executeStatements(ctx context.Context, db *sql.DB, sqlContent string) error {
	for _, stmt := range strings.Split(sqlContent, ";") {
		var sqlLines []string
		for _, line := range strings.Split(stmt, "\n") {
			trimmed := strings.TrimSpace(line)
			if trimmed == "" || strings.HasPrefix(trimmed, "--") {
				continue
			}
			sqlLines = append(sqlLines, line)
		}
		actualSQL := strings.TrimSpace(strings.Join(sqlLines, "\n"))
		if actualSQL == "" {
			continue
		}

		if _, err := db.ExecContext(ctx, actualSQL); err != nil {
			errMsg := strings.ToLower(err.Error())
			if strings.Contains(errMsg, "already exists") ||
				strings.Contains(errMsg, "duplicate") {
				slog.Debug("object already exists, skipping", "error", err)
				continue
			}
			return fmt.Errorf("failed to execute SQL: %w", err)
		}
	}
	return nil
}

// Apply applies pending migration files for the given database type.
// migrationsFS must contain a subdirectory per database type
// ("sqlite", "postgresql"). Returns the list of applied versions.
func Apply(ctx context.Context, db *sql.DB, dbType string, migrationsFS fs.FS) ([]string, error) {
	if migrationsFS == nil {
		slog.Warn("no migrations filesystem provided, skipping automatic migration")
		return nil, nil
	}

	entries, err := fs.ReadDir(migrationsFS, dbType)
	if err != nil {
		return nil, fmt.Errorf("migrations directory for %q not found: %w", dbType, err)
	}

	if err := ensureSchemaMigrationsTable(ctx, db); err != nil {
		return nil, fmt.Errorf("failed to create schema_migrations table: %w", err)
	}

	applied, err := appliedMigrations(ctx, db)
	if err != nil {
		return nil, fmt.Errorf("failed to get applied migrations: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		files = append(files, entry.Name())
	}
	sort.Strings(files)

	var appliedNow []string
	for _, name := range files {
		version := versionFromFilename(name)
		if applied[version] {
			continue
		}

		content, err := fs.ReadFile(migrationsFS, filepath.Join(dbType, name))
		if err != nil {
			return nil, fmt.Errorf("failed to read migration %s: %w", name, err)
		}

		upSQL, _ := ParseMigrationFile(string(content))
		if err := executeStatements(ctx, db, upSQL); err != nil {
			return nil, fmt.Errorf("migration %s failed: %w", name, err)
		}

		recorded, err := recordMigration(ctx, db, dbType, version)
		if err != nil {
			return nil, fmt.Errorf("failed to record migration %s: %w", name, err)
		}
		if recorded {
			slog.Info("applied migration", "version", version, "db_type", dbType)
			appliedNow = append(appliedNow, version)
		}
	}

	return appliedNow, nil
}
