package migration

import (
	"context"
	"io/fs"
	"time"
)

// Migration is one parsed {version}_{description}.sql file.
type Migration struct {
	Version     string
	Description string
	SQL         string
	FilePath    string
	// Checksum is the hex SHA-256 of the file, compared against the recorded
	// value so edited migrations are detected.
	Checksum string
}

type MigrationManager interface {
	// RunMigrations applies pending migrations in version order.
	RunMigrations(ctx context.Context) error
	GetAppliedVersions(ctx context.Context) ([]string, error)
	GetPendingMigrations(ctx context.Context) ([]Migration, error)
	GetMigrationStatus(ctx context.Context) (*MigrationStatus, error)
}

// FileScanner discovers migrations in an fs.FS, normally the embedded one.
type FileScanner interface {
	ScanMigrations(fsys fs.FS, dir string) ([]Migration, error)
	ValidateFileName(filename string) error
	ParseMigrationFile(fsys fs.FS, filePath string) (*Migration, error)
}

// Executor applies migrations and tracks them in schema_migrations.
type Executor interface {
	// ExecuteMigration runs the statements and records the version in one
	// transaction.
	ExecuteMigration(ctx context.Context, migration Migration) error
	InitializeVersionTable(ctx context.Context) error
	IsVersionApplied(ctx context.Context, version string) (bool, error)
	GetAppliedVersions(ctx context.Context) ([]AppliedMigration, error)
}

type MigrationStatus struct {
	CurrentVersion    string
	PendingCount      int
	AppliedMigrations []AppliedMigration
	PendingMigrations []Migration
}

type AppliedMigration struct {
	Version       string
	AppliedAt     time.Time
	ExecutionTime time.Duration
	Checksum      string
}
