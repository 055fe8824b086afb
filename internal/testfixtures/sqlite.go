package testfixtures

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/example/cleaning-scheduler/internal/application"
	"github.com/example/cleaning-scheduler/internal/persistence"
	"github.com/example/cleaning-scheduler/internal/persistence/sqlstore"
	"github.com/example/cleaning-scheduler/internal/scheduler"
)

// SQLiteHarness provides a migrated SQLite store in a temporary file for
// integration-style service tests.
type SQLiteHarness struct {
	Store *sqlstore.Store
}

// NewSQLiteHarness opens and migrates the store; it is closed through
// tb.Cleanup.
func NewSQLiteHarness(tb testing.TB) *SQLiteHarness {
	tb.Helper()

	ctx := context.Background()
	path := filepath.Join(tb.TempDir(), "scheduler.db")
	pool, err := sqlstore.OpenSQLite(ctx, sqlstore.DefaultSQLiteConfig(path))
	require.NoError(tb, err, "open sqlite")

	store := sqlstore.NewStore(pool, sqlstore.DefaultRetryConfig())
	tb.Cleanup(func() { _ = store.Close() })
	require.NoError(tb, store.Migrate(ctx, zap.NewNop()), "migrate sqlite")

	return &SQLiteHarness{Store: store}
}

// Repositories exposes the store in the shape services expect.
func (h *SQLiteHarness) Repositories() application.Repositories {
	return application.Repositories{
		Objects:    h,
		TechCards:  h.Store.TechCards(),
		Tasks:      h.Store.Tasks(),
		Checklists: h.Store.Checklists(),
		Tx:         h.Store,
	}
}

func (h *SQLiteHarness) SaveObject(ctx context.Context, object scheduler.Object) error {
	return h.Store.Objects().SaveObject(ctx, object)
}

func (h *SQLiteHarness) SaveRoom(ctx context.Context, room scheduler.Room) error {
	return h.Store.Objects().SaveRoom(ctx, room)
}

func (h *SQLiteHarness) SaveTechCard(ctx context.Context, card scheduler.TechCard) error {
	return h.Store.TechCards().SaveTechCard(ctx, card)
}

func (h *SQLiteHarness) GetObject(ctx context.Context, id string) (scheduler.Object, error) {
	return h.Store.Objects().GetObject(ctx, id)
}

func (h *SQLiteHarness) ListObjects(ctx context.Context, filter persistence.ObjectFilter) ([]scheduler.Object, error) {
	return h.Store.Objects().ListObjects(ctx, filter)
}

func (h *SQLiteHarness) ListRooms(ctx context.Context, objectID string) ([]scheduler.Room, error) {
	return h.Store.Objects().ListRooms(ctx, objectID)
}
