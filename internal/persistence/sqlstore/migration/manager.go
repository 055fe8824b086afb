package migration

import (
	"context"
	"fmt"
	"io/fs"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// migrationManagerImpl implements the MigrationManager interface
type migrationManagerImpl struct {
	scanner  FileScanner
	executor Executor
	fsys     fs.FS
	dir      string
	logger   *zap.Logger
}

// NewMigrationManager creates a manager that applies the migrations found in
// dir of fsys.
func NewMigrationManager(scanner FileScanner, executor Executor, fsys fs.FS, dir string, logger *zap.Logger) MigrationManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &migrationManagerImpl{
		scanner:  scanner,
		executor: executor,
		fsys:     fsys,
		dir:      dir,
		logger:   logger.With(zap.String("component", "migration")),
	}
}

// RunMigrations executes all pending migrations in sequential order
func (m *migrationManagerImpl) RunMigrations(ctx context.Context) error {
	startTime := time.Now()

	if err := m.executor.InitializeVersionTable(ctx); err != nil {
		m.logger.Error("failed to initialize schema_migrations table", zap.Error(err))
		return fmt.Errorf("failed to initialize version table: %w", err)
	}

	pending, err := m.GetPendingMigrations(ctx)
	if err != nil {
		m.logger.Error("failed to resolve pending migrations", zap.Error(err))
		return fmt.Errorf("failed to get pending migrations: %w", err)
	}

	if len(pending) == 0 {
		m.logger.Info("database schema is up to date")
		return nil
	}

	for i, migration := range pending {
		migrationStart := time.Now()
		log := m.logger.With(
			zap.String("version", migration.Version),
			zap.String("description", migration.Description),
			zap.String("checksum", migration.Checksum),
		)
		log.Info("executing migration", zap.Int("position", i+1), zap.Int("pending", len(pending)))

		if err := m.executor.ExecuteMigration(ctx, migration); err != nil {
			log.Error("migration failed", zap.Error(err))
			return NewMigrationError(migration.Version, migration.FilePath,
				"execute migration", fmt.Errorf("%w: %v", ErrMigrationFailed, err))
		}

		log.Info("migration applied", zap.Duration("duration", time.Since(migrationStart)))
	}

	m.logger.Info("all migrations applied",
		zap.Int("count", len(pending)),
		zap.Duration("duration", time.Since(startTime)),
	)
	return nil
}

// GetAppliedVersions returns list of migration versions that have been applied
func (m *migrationManagerImpl) GetAppliedVersions(ctx context.Context) ([]string, error) {
	if err := m.executor.InitializeVersionTable(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize version table: %w", err)
	}

	applied, err := m.executor.GetAppliedVersions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get applied versions: %w", err)
	}

	versions := make([]string, len(applied))
	for i, migration := range applied {
		versions[i] = migration.Version
	}
	return versions, nil
}

// GetPendingMigrations returns list of migrations that need to be applied
func (m *migrationManagerImpl) GetPendingMigrations(ctx context.Context) ([]Migration, error) {
	available, err := m.scanner.ScanMigrations(m.fsys, m.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to scan migrations: %w", err)
	}

	if err := m.executor.InitializeVersionTable(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize version table: %w", err)
	}
	applied, err := m.executor.GetAppliedVersions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get applied versions: %w", err)
	}

	if err := validateMigrationSequence(available, applied); err != nil {
		return nil, fmt.Errorf("migration sequence validation failed: %w", err)
	}

	appliedMap := make(map[int]AppliedMigration, len(applied))
	for _, migration := range applied {
		version, _ := strconv.Atoi(migration.Version)
		appliedMap[version] = migration
	}

	pending := make([]Migration, 0)
	for _, migration := range available {
		version, _ := strconv.Atoi(migration.Version)
		record, ok := appliedMap[version]
		if !ok {
			pending = append(pending, migration)
			continue
		}
		if record.Checksum != "" && record.Checksum != migration.Checksum {
			return nil, NewMigrationError(migration.Version, migration.FilePath, "verify checksum",
				fmt.Errorf("%w: recorded %s, file has %s", ErrChecksumMismatch, record.Checksum, migration.Checksum))
		}
	}
	return pending, nil
}

// GetMigrationStatus returns status information about migrations
func (m *migrationManagerImpl) GetMigrationStatus(ctx context.Context) (*MigrationStatus, error) {
	pending, err := m.GetPendingMigrations(ctx)
	if err != nil {
		return nil, err
	}

	applied, err := m.executor.GetAppliedVersions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get applied migrations: %w", err)
	}

	currentVersion := ""
	maxVersion := -1
	for _, migration := range applied {
		if version, err := strconv.Atoi(migration.Version); err == nil && version > maxVersion {
			maxVersion = version
			currentVersion = migration.Version
		}
	}

	return &MigrationStatus{
		CurrentVersion:    currentVersion,
		PendingCount:      len(pending),
		AppliedMigrations: applied,
		PendingMigrations: pending,
	}, nil
}

// validateMigrationSequence ensures there are no gaps in migration version
// numbers and every applied version still has a file.
func validateMigrationSequence(available []Migration, applied []AppliedMigration) error {
	availableSet := make(map[int]bool, len(available))
	minVersion, maxVersion := 0, -1
	for i, migration := range available {
		version, err := strconv.Atoi(migration.Version)
		if err != nil {
			return NewMigrationError(migration.Version, migration.FilePath,
				"validate sequence", fmt.Errorf("%w: version '%s' is not numeric", ErrInvalidVersion, migration.Version))
		}
		availableSet[version] = true
		if i == 0 || version < minVersion {
			minVersion = version
		}
		if version > maxVersion {
			maxVersion = version
		}
	}

	for version := minVersion; version <= maxVersion; version++ {
		if !availableSet[version] {
			return fmt.Errorf("%w: missing migration version %03d in sequence", ErrVersionConflict, version)
		}
	}

	for _, migration := range applied {
		version, err := strconv.Atoi(migration.Version)
		if err != nil {
			return NewDatabaseError(migration.Version, "", "validate sequence",
				fmt.Errorf("%w: applied version '%s' is not numeric", ErrVersionTableCorrupt, migration.Version))
		}
		if !availableSet[version] {
			return fmt.Errorf("%w: applied migration %03d not found in available migrations",
				ErrVersionConflict, version)
		}
	}
	return nil
}
