package sqlstore

import (
	"context"
	"database/sql"
	"embed"

	"go.uber.org/zap"

	"github.com/example/cleaning-scheduler/internal/persistence"
	"github.com/example/cleaning-scheduler/internal/persistence/sqlstore/migration"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store bundles the SQL repositories over one connection pool.
type Store struct {
	pool       *ConnectionPool
	retry      *RetryHelper
	objects    *ObjectRepository
	techCards  *TechCardRepository
	tasks      *TaskRepository
	checklists *ChecklistRepository
}

var _ persistence.Transactor = (*Store)(nil)

// NewStore creates a store on pool. Transactions that hit a lock are retried
// with retry.
func NewStore(pool *ConnectionPool, retry RetryConfig) *Store {
	return &Store{
		pool:       pool,
		retry:      NewRetryHelper(retry),
		objects:    NewObjectRepository(pool),
		techCards:  NewTechCardRepository(pool),
		tasks:      NewTaskRepository(pool),
		checklists: NewChecklistRepository(pool),
	}
}

// Migrate applies the embedded schema migrations.
func (s *Store) Migrate(ctx context.Context, logger *zap.Logger) error {
	manager := migration.NewMigrationManager(
		migration.NewFileScanner(),
		migration.NewSQLExecutor(s.pool.DB(), s.pool.Dialect().Rebind),
		migrationsFS,
		"migrations",
		logger,
	)
	return manager.RunMigrations(ctx)
}

func (s *Store) Objects() *ObjectRepository         { return s.objects }
func (s *Store) TechCards() *TechCardRepository     { return s.techCards }
func (s *Store) Tasks() *TaskRepository             { return s.tasks }
func (s *Store) Checklists() *ChecklistRepository   { return s.checklists }
func (s *Store) Ping(ctx context.Context) error     { return s.pool.Ping(ctx) }
func (s *Store) Close() error                       { return s.pool.Close() }

// WithinTx runs fn against repositories bound to one transaction. The whole
// transaction is retried when the database reports a lock.
func (s *Store) WithinTx(ctx context.Context, fn func(tx persistence.Tx) error) error {
	return s.retry.WithRetry(ctx, func() error {
		return s.pool.WithTransaction(ctx, func(sqlTx *sql.Tx) error {
			helper := newQueryHelper(sqlTx, s.pool.Dialect())
			return fn(&txStore{
				tasks:      newTaskRepository(helper),
				checklists: newChecklistRepository(helper),
			})
		})
	})
}

type txStore struct {
	tasks      *TaskRepository
	checklists *ChecklistRepository
}

func (t *txStore) Tasks() persistence.TaskRepository           { return t.tasks }
func (t *txStore) Checklists() persistence.ChecklistRepository { return t.checklists }
