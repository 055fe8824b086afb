package migration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// SQLExecutor implements the Executor interface for database/sql handles.
// Queries are written with ? placeholders and passed through rebind so the
// same executor serves SQLite and PostgreSQL.
type SQLExecutor struct {
	db     *sql.DB
	rebind func(string) string
	now    func() time.Time
}

// NewSQLExecutor creates a migration executor. A nil rebind leaves queries unchanged.
func NewSQLExecutor(db *sql.DB, rebind func(string) string) *SQLExecutor {
	if rebind == nil {
		rebind = func(query string) string { return query }
	}
	return &SQLExecutor{db: db, rebind: rebind, now: time.Now}
}

// ExecuteMigration runs every statement of migration and records it, all within
// one transaction.
func (e *SQLExecutor) ExecuteMigration(ctx context.Context, migration Migration) (err error) {
	statements := parseSQL(migration.SQL)
	if len(statements) == 0 {
		return NewMigrationError(migration.Version, migration.FilePath, "parse SQL",
			fmt.Errorf("%w: no SQL statements found in migration", ErrInvalidMigrationFile))
	}

	started := e.now()
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return NewDatabaseError(migration.Version, "", "begin transaction", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				err = fmt.Errorf("%w (rollback error: %v)", err, rbErr)
			}
		}
	}()

	for i, stmt := range statements {
		if _, execErr := tx.ExecContext(ctx, stmt); execErr != nil {
			return NewDatabaseError(migration.Version, stmt, fmt.Sprintf("execute statement %d", i+1), execErr)
		}
	}

	insertSQL := e.rebind(`
		INSERT INTO schema_migrations (version, applied_at, checksum, execution_time_ms)
		VALUES (?, ?, ?, ?)
	`)
	elapsed := e.now().Sub(started)
	appliedAt := e.now().UTC().Format(time.RFC3339)
	if _, execErr := tx.ExecContext(ctx, insertSQL, migration.Version, appliedAt, migration.Checksum, elapsed.Milliseconds()); execErr != nil {
		return NewDatabaseError(migration.Version, insertSQL, "record migration", execErr)
	}

	if commitErr := tx.Commit(); commitErr != nil {
		return NewDatabaseError(migration.Version, "", "commit transaction", commitErr)
	}
	return nil
}

// InitializeVersionTable creates the schema_migrations table if it doesn't exist
func (e *SQLExecutor) InitializeVersionTable(ctx context.Context) error {
	createTableSQL := `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TEXT NOT NULL,
			checksum TEXT,
			execution_time_ms INTEGER
		)
	`

	if _, err := e.db.ExecContext(ctx, createTableSQL); err != nil {
		return NewDatabaseError("", createTableSQL, "create schema_migrations table", err)
	}
	return nil
}

// IsVersionApplied checks if a specific migration version has been applied
func (e *SQLExecutor) IsVersionApplied(ctx context.Context, version string) (bool, error) {
	querySQL := e.rebind(`SELECT 1 FROM schema_migrations WHERE version = ? LIMIT 1`)

	var exists int
	err := e.db.QueryRowContext(ctx, querySQL, version).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, NewDatabaseError(version, querySQL, "check version applied", err)
	}
	return true, nil
}

// GetAppliedVersions returns all applied migration versions with timestamps
func (e *SQLExecutor) GetAppliedVersions(ctx context.Context) ([]AppliedMigration, error) {
	querySQL := `
		SELECT version, applied_at, COALESCE(execution_time_ms, 0), COALESCE(checksum, '')
		FROM schema_migrations
		ORDER BY version ASC
	`

	rows, err := e.db.QueryContext(ctx, querySQL)
	if err != nil {
		return nil, NewDatabaseError("", querySQL, "get applied versions", err)
	}
	defer rows.Close()

	applied := make([]AppliedMigration, 0)
	for rows.Next() {
		var version, appliedAtStr, checksum string
		var executionTimeMs int64
		if err := rows.Scan(&version, &appliedAtStr, &executionTimeMs, &checksum); err != nil {
			return nil, NewDatabaseError("", querySQL, "scan applied migration", err)
		}

		appliedAt, parseErr := time.Parse(time.RFC3339, appliedAtStr)
		if parseErr != nil {
			return nil, NewDatabaseError(version, querySQL, "parse applied_at",
				fmt.Errorf("%w: %v", ErrVersionTableCorrupt, parseErr))
		}

		applied = append(applied, AppliedMigration{
			Version:       version,
			AppliedAt:     appliedAt,
			ExecutionTime: time.Duration(executionTimeMs) * time.Millisecond,
			Checksum:      checksum,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, NewDatabaseError("", querySQL, "iterate applied migrations", err)
	}
	return applied, nil
}

// parseSQL splits SQL content into individual statements and drops comment lines.
func parseSQL(content string) []string {
	statements := strings.Split(content, ";")
	valid := make([]string, 0, len(statements))

	for _, stmt := range statements {
		lines := strings.Split(stmt, "\n")
		kept := make([]string, 0, len(lines))
		for _, line := range lines {
			line = strings.TrimSpace(line)
			if line != "" && !strings.HasPrefix(line, "--") {
				kept = append(kept, line)
			}
		}
		if clean := strings.TrimSpace(strings.Join(kept, "\n")); clean != "" {
			valid = append(valid, clean)
		}
	}
	return valid
}
