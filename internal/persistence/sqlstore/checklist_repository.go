package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/example/cleaning-scheduler/internal/calendar"
	"github.com/example/cleaning-scheduler/internal/persistence"
	"github.com/example/cleaning-scheduler/internal/scheduler"
)

// ChecklistRepository implements persistence.ChecklistRepository
type ChecklistRepository struct {
	helper *QueryHelper
	mapper *ErrorMapper
}

var _ persistence.ChecklistRepository = (*ChecklistRepository)(nil)

// NewChecklistRepository creates a checklist repository on the pool.
func NewChecklistRepository(pool *ConnectionPool) *ChecklistRepository {
	return newChecklistRepository(newQueryHelper(pool.DB(), pool.Dialect()))
}

func newChecklistRepository(helper *QueryHelper) *ChecklistRepository {
	return &ChecklistRepository{helper: helper, mapper: NewErrorMapper()}
}

const checklistColumns = `id, object_id, object_name, room_id, room_name, date, created_at, completed_at`

// CreateChecklist inserts a checklist. A second checklist for the same
// object, room and date fails with persistence.ErrDuplicate.
func (r *ChecklistRepository) CreateChecklist(ctx context.Context, checklist scheduler.Checklist) error {
	if checklist.ID == "" || checklist.ObjectID == "" || checklist.Date.IsZero() {
		return persistence.ErrConstraintViolation
	}
	query := `INSERT INTO checklists (` + checklistColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.helper.Exec(ctx, query,
		checklist.ID,
		checklist.ObjectID,
		checklist.ObjectName,
		checklist.RoomID,
		checklist.RoomName,
		checklist.Date.String(),
		formatTime(checklist.CreatedAt),
		nullTime(checklist.CompletedAt),
	)
	if err != nil {
		return r.mapper.MapError(err)
	}
	return nil
}

func (r *ChecklistRepository) GetChecklist(ctx context.Context, id string) (scheduler.Checklist, error) {
	if id == "" {
		return scheduler.Checklist{}, persistence.ErrNotFound
	}
	checklist, err := scanChecklist(r.helper.QueryRow(ctx, `SELECT `+checklistColumns+` FROM checklists WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return scheduler.Checklist{}, persistence.ErrNotFound
	}
	if err != nil {
		return scheduler.Checklist{}, r.mapper.MapError(err)
	}
	return checklist, nil
}

// ListChecklists returns checklists matching filter ordered by date, object and room.
func (r *ChecklistRepository) ListChecklists(ctx context.Context, filter persistence.ChecklistFilter) ([]scheduler.Checklist, error) {
	query := `SELECT ` + checklistColumns + ` FROM checklists`
	conditions := make([]string, 0, 2)
	args := make([]any, 0, 2)
	if filter.ObjectID != "" {
		conditions = append(conditions, `object_id = ?`)
		args = append(args, filter.ObjectID)
	}
	if !filter.Date.IsZero() {
		conditions = append(conditions, `date = ?`)
		args = append(args, filter.Date.String())
	}
	if len(conditions) > 0 {
		query += ` WHERE ` + strings.Join(conditions, ` AND `)
	}
	query += ` ORDER BY date ASC, object_id ASC, room_id ASC`

	rows, err := r.helper.Query(ctx, query, args...)
	if err != nil {
		return nil, r.mapper.MapError(err)
	}
	defer rows.Close()

	checklists := make([]scheduler.Checklist, 0)
	for rows.Next() {
		checklist, err := scanChecklist(rows)
		if err != nil {
			return nil, r.mapper.MapError(err)
		}
		checklists = append(checklists, checklist)
	}
	if err := rows.Err(); err != nil {
		return nil, r.mapper.MapError(err)
	}
	return checklists, nil
}

// CountChecklists counts checklists dated date.
func (r *ChecklistRepository) CountChecklists(ctx context.Context, date calendar.Date) (int, error) {
	var count int
	if err := r.helper.QueryRow(ctx, `SELECT COUNT(*) FROM checklists WHERE date = ?`, date.String()).Scan(&count); err != nil {
		return 0, r.mapper.MapError(err)
	}
	return count, nil
}

func (r *ChecklistRepository) CountOpenTasks(ctx context.Context, checklistID string) (int, error) {
	query := `
		SELECT COUNT(*) FROM tasks
		WHERE checklist_id = ? AND status NOT IN ('COMPLETED', 'CLOSED_WITH_PHOTO')
	`
	var count int
	if err := r.helper.QueryRow(ctx, query, checklistID).Scan(&count); err != nil {
		return 0, r.mapper.MapError(err)
	}
	return count, nil
}

// MarkCompleted stamps the checklist completion time once. Marking an already
// completed checklist keeps the first timestamp.
func (r *ChecklistRepository) MarkCompleted(ctx context.Context, id string, at time.Time) error {
	result, err := r.helper.Exec(ctx, `UPDATE checklists SET completed_at = ? WHERE id = ? AND completed_at IS NULL`, formatTime(at), id)
	if err != nil {
		return r.mapper.MapError(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return r.mapper.MapError(err)
	}
	if affected > 0 {
		return nil
	}
	_, err = r.GetChecklist(ctx, id)
	return err
}

func scanChecklist(row rowScanner) (scheduler.Checklist, error) {
	var (
		checklist   scheduler.Checklist
		date        string
		createdAt   string
		completedAt sql.NullString
	)
	err := row.Scan(
		&checklist.ID,
		&checklist.ObjectID,
		&checklist.ObjectName,
		&checklist.RoomID,
		&checklist.RoomName,
		&date,
		&createdAt,
		&completedAt,
	)
	if err != nil {
		return scheduler.Checklist{}, err
	}
	if checklist.Date, err = calendar.ParseDate(date); err != nil {
		return scheduler.Checklist{}, err
	}
	if checklist.CreatedAt, err = parseTime(createdAt); err != nil {
		return scheduler.Checklist{}, err
	}
	if checklist.CompletedAt, err = parseNullTime(completedAt); err != nil {
		return scheduler.Checklist{}, err
	}
	return checklist, nil
}
