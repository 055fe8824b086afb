// Package migration applies versioned SQL migrations to a database.
//
// Migration files live in an fs.FS (usually embedded) and are named
// {version}_{description}.sql, e.g. "001_initial_schema.sql". A
// schema_migrations table tracks applied versions and their checksums, so a
// migration runs once and an edited, already-applied file is reported.
//
// Each migration executes in its own transaction together with its
// schema_migrations record.
//
// Example usage:
//
//	manager := migration.NewMigrationManager(migration.NewFileScanner(),
//		migration.NewSQLExecutor(db, nil), migrationsFS, "migrations", logger)
//	if err := manager.RunMigrations(ctx); err != nil {
//		return err
//	}
package migration
