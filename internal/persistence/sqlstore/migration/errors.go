package migration

import (
	"errors"
	"fmt"
)

var (
	ErrMigrationFailed      = errors.New("migration: execution failed")
	ErrInvalidMigrationFile = errors.New("migration: invalid file")
	// ErrVersionConflict covers gaps and applied versions missing on disk.
	ErrVersionConflict  = errors.New("migration: version conflict")
	ErrInvalidVersion   = errors.New("migration: invalid version")
	ErrDuplicateVersion = errors.New("migration: duplicate version")
	// ErrChecksumMismatch means an applied file was edited afterwards.
	ErrChecksumMismatch    = errors.New("migration: checksum mismatch")
	ErrVersionTableCorrupt = errors.New("migration: schema_migrations is corrupt")
)

// MigrationError ties a failure to one migration file.
type MigrationError struct {
	Version   string
	FilePath  string
	Operation string
	Err       error
}

func NewMigrationError(version, filePath, operation string, err error) *MigrationError {
	return &MigrationError{Version: version, FilePath: filePath, Operation: operation, Err: err}
}

func (e *MigrationError) Error() string {
	if e.Version == "" {
		return fmt.Sprintf("%s %s: %v", e.Operation, e.FilePath, e.Err)
	}
	return fmt.Sprintf("%s %s (version %s): %v", e.Operation, e.FilePath, e.Version, e.Err)
}

func (e *MigrationError) Unwrap() error { return e.Err }

// FileSystemError reports a failure reading the embedded migration files.
type FileSystemError struct {
	Path      string
	Operation string
	Err       error
}

func NewFileSystemError(path, operation string, err error) *FileSystemError {
	return &FileSystemError{Path: path, Operation: operation, Err: err}
}

func (e *FileSystemError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Operation, e.Path, e.Err)
}

func (e *FileSystemError) Unwrap() error { return e.Err }

// DatabaseError reports a failed statement. Query is kept for debugging and
// left out of Error.
type DatabaseError struct {
	Version   string
	Query     string
	Operation string
	Err       error
}

func NewDatabaseError(version, query, operation string, err error) *DatabaseError {
	return &DatabaseError{Version: version, Query: query, Operation: operation, Err: err}
}

func (e *DatabaseError) Error() string {
	if e.Version == "" {
		return fmt.Sprintf("%s: %v", e.Operation, e.Err)
	}
	return fmt.Sprintf("migration %s: %s: %v", e.Version, e.Operation, e.Err)
}

func (e *DatabaseError) Unwrap() error { return e.Err }
