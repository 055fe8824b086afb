package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/example/cleaning-scheduler/internal/calendar"
	"github.com/example/cleaning-scheduler/internal/persistence"
	"github.com/example/cleaning-scheduler/internal/scheduler"
)

// TaskRepository implements persistence.TaskRepository
type TaskRepository struct {
	helper *QueryHelper
	mapper *ErrorMapper
}

var _ persistence.TaskRepository = (*TaskRepository)(nil)

// NewTaskRepository creates a task repository on the pool.
func NewTaskRepository(pool *ConnectionPool) *TaskRepository {
	return newTaskRepository(newQueryHelper(pool.DB(), pool.Dialect()))
}

func newTaskRepository(helper *QueryHelper) *TaskRepository {
	return &TaskRepository{helper: helper, mapper: NewErrorMapper()}
}

const taskColumns = `id, tech_card_id, COALESCE(checklist_id, ''), description, object_id, object_name,
	room_id, room_name, scheduled_date, scheduled_start, scheduled_end, window_index, window_name,
	status, completed_at, completed_by_id, completion_comment, completion_photos, created_at, updated_at`

// CreateTaskIfAbsent inserts the task unless its id or its card, date and
// window are already taken. Racing materializations of the same occurrence,
// lazy or from a checklist, therefore create exactly one row.
func (r *TaskRepository) CreateTaskIfAbsent(ctx context.Context, task scheduler.Task) (bool, error) {
	if task.ID == "" || task.TechCardID == "" || task.ObjectID == "" {
		return false, persistence.ErrConstraintViolation
	}
	photos := task.CompletionPhotos
	if photos == nil {
		photos = []string{}
	}
	encoded, err := encodeJSON(photos)
	if err != nil {
		return false, fmt.Errorf("encode completion photos: %w", err)
	}

	query := `
		INSERT INTO tasks (id, tech_card_id, checklist_id, description, object_id, object_name,
			room_id, room_name, scheduled_date, scheduled_start, scheduled_end, window_index, window_name,
			status, completed_at, completed_by_id, completion_comment, completion_photos, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`
	result, err := r.helper.Exec(ctx, query,
		task.ID,
		task.TechCardID,
		nullString(task.ChecklistID),
		task.Description,
		task.ObjectID,
		task.ObjectName,
		task.RoomID,
		task.RoomName,
		task.ScheduledDate.String(),
		formatTime(task.ScheduledStart),
		formatTime(task.ScheduledEnd),
		task.WindowIndex,
		task.WindowName,
		string(task.Status.Persistable()),
		nullTime(task.CompletedAt),
		task.CompletedByID,
		task.CompletionComment,
		encoded,
		formatTime(task.CreatedAt),
		formatTime(task.UpdatedAt),
	)
	if err != nil {
		return false, r.mapper.MapError(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, r.mapper.MapError(err)
	}
	return affected > 0, nil
}

// GetTask retrieves a task by ID
func (r *TaskRepository) GetTask(ctx context.Context, id string) (scheduler.Task, error) {
	if id == "" {
		return scheduler.Task{}, persistence.ErrNotFound
	}
	task, err := scanTask(r.helper.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return scheduler.Task{}, persistence.ErrNotFound
	}
	if err != nil {
		return scheduler.Task{}, r.mapper.MapError(err)
	}
	return task, nil
}

func (r *TaskRepository) FindOccurrenceTask(ctx context.Context, techCardID string, date calendar.Date, windowIndex int) (scheduler.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE tech_card_id = ? AND scheduled_date = ? AND window_index = ?`
	task, err := scanTask(r.helper.QueryRow(ctx, query, techCardID, date.String(), windowIndex))
	if errors.Is(err, sql.ErrNoRows) {
		return scheduler.Task{}, persistence.ErrNotFound
	}
	if err != nil {
		return scheduler.Task{}, r.mapper.MapError(err)
	}
	return task, nil
}

// AttachToChecklist only touches rows with no checklist, so a task never
// moves between checklists.
func (r *TaskRepository) AttachToChecklist(ctx context.Context, taskID, checklistID string) error {
	result, err := r.helper.Exec(ctx, `UPDATE tasks SET checklist_id = ? WHERE id = ? AND checklist_id IS NULL`, checklistID, taskID)
	if err != nil {
		return r.mapper.MapError(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return r.mapper.MapError(err)
	}
	if affected == 0 {
		return persistence.ErrNotFound
	}
	return nil
}

// UpdateTask writes the mutable lifecycle fields of an existing task.
func (r *TaskRepository) UpdateTask(ctx context.Context, task scheduler.Task) error {
	photos := task.CompletionPhotos
	if photos == nil {
		photos = []string{}
	}
	encoded, err := encodeJSON(photos)
	if err != nil {
		return fmt.Errorf("encode completion photos: %w", err)
	}

	query := `
		UPDATE tasks SET
			status = ?,
			completed_at = ?,
			completed_by_id = ?,
			completion_comment = ?,
			completion_photos = ?,
			updated_at = ?
		WHERE id = ?
	`
	result, err := r.helper.Exec(ctx, query,
		string(task.Status.Persistable()),
		nullTime(task.CompletedAt),
		task.CompletedByID,
		task.CompletionComment,
		encoded,
		formatTime(task.UpdatedAt),
		task.ID,
	)
	if err != nil {
		return r.mapper.MapError(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return r.mapper.MapError(err)
	}
	if affected == 0 {
		return persistence.ErrNotFound
	}
	return nil
}

// ListTasks returns tasks matching filter ordered by scheduled start and id.
func (r *TaskRepository) ListTasks(ctx context.Context, filter persistence.TaskFilter) ([]scheduler.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks`
	conditions := make([]string, 0, 4)
	args := make([]any, 0, len(filter.ObjectIDs)+3)

	if filter.ObjectIDs != nil {
		if len(filter.ObjectIDs) == 0 {
			return []scheduler.Task{}, nil
		}
		conditions = append(conditions, `object_id IN (`+placeholders(len(filter.ObjectIDs))+`)`)
		args = append(args, stringArgs(filter.ObjectIDs)...)
	}
	if filter.ChecklistID != "" {
		conditions = append(conditions, `checklist_id = ?`)
		args = append(args, filter.ChecklistID)
	}
	if filter.StartFrom != nil {
		conditions = append(conditions, `scheduled_start >= ?`)
		args = append(args, formatTime(*filter.StartFrom))
	}
	if filter.StartTo != nil {
		conditions = append(conditions, `scheduled_start <= ?`)
		args = append(args, formatTime(*filter.StartTo))
	}
	if len(conditions) > 0 {
		query += ` WHERE ` + strings.Join(conditions, ` AND `)
	}
	query += ` ORDER BY scheduled_start ASC, id ASC`

	rows, err := r.helper.Query(ctx, query, args...)
	if err != nil {
		return nil, r.mapper.MapError(err)
	}
	defer rows.Close()

	tasks := make([]scheduler.Task, 0)
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, r.mapper.MapError(err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, r.mapper.MapError(err)
	}
	return tasks, nil
}

// LastCompletions returns the latest completed_at per tech card. Cards that
// were never completed are absent from the map.
func (r *TaskRepository) LastCompletions(ctx context.Context, techCardIDs []string) (map[string]time.Time, error) {
	result := make(map[string]time.Time, len(techCardIDs))
	if len(techCardIDs) == 0 {
		return result, nil
	}

	query := `
		SELECT tech_card_id, MAX(completed_at)
		FROM tasks
		WHERE completed_at IS NOT NULL AND tech_card_id IN (` + placeholders(len(techCardIDs)) + `)
		GROUP BY tech_card_id
	`
	rows, err := r.helper.Query(ctx, query, stringArgs(techCardIDs)...)
	if err != nil {
		return nil, r.mapper.MapError(err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cardID string
			last   sql.NullString
		)
		if err := rows.Scan(&cardID, &last); err != nil {
			return nil, r.mapper.MapError(err)
		}
		at, err := parseNullTime(last)
		if err != nil {
			return nil, err
		}
		if at != nil {
			result[cardID] = *at
		}
	}
	if err := rows.Err(); err != nil {
		return nil, r.mapper.MapError(err)
	}
	return result, nil
}

// AddComment stores a task comment.
func (r *TaskRepository) AddComment(ctx context.Context, comment scheduler.Comment) error {
	if comment.ID == "" || comment.TaskID == "" {
		return persistence.ErrConstraintViolation
	}
	query := `INSERT INTO task_comments (id, task_id, author_id, text, created_at) VALUES (?, ?, ?, ?, ?)`
	_, err := r.helper.Exec(ctx, query, comment.ID, comment.TaskID, comment.AuthorID, comment.Text, formatTime(comment.CreatedAt))
	if err != nil {
		return r.mapper.MapError(err)
	}
	return nil
}

// ListComments returns the comments of a task oldest first.
func (r *TaskRepository) ListComments(ctx context.Context, taskID string) ([]scheduler.Comment, error) {
	rows, err := r.helper.Query(ctx, `
		SELECT id, task_id, author_id, text, created_at
		FROM task_comments
		WHERE task_id = ?
		ORDER BY created_at ASC, id ASC
	`, taskID)
	if err != nil {
		return nil, r.mapper.MapError(err)
	}
	defer rows.Close()

	comments := make([]scheduler.Comment, 0)
	for rows.Next() {
		var (
			comment   scheduler.Comment
			createdAt string
		)
		if err := rows.Scan(&comment.ID, &comment.TaskID, &comment.AuthorID, &comment.Text, &createdAt); err != nil {
			return nil, r.mapper.MapError(err)
		}
		if comment.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		comments = append(comments, comment)
	}
	if err := rows.Err(); err != nil {
		return nil, r.mapper.MapError(err)
	}
	return comments, nil
}

func scanTask(row rowScanner) (scheduler.Task, error) {
	var (
		task                 scheduler.Task
		date, start, end     string
		status, photos       string
		completedAt          sql.NullString
		createdAt, updatedAt string
	)
	err := row.Scan(
		&task.ID,
		&task.TechCardID,
		&task.ChecklistID,
		&task.Description,
		&task.ObjectID,
		&task.ObjectName,
		&task.RoomID,
		&task.RoomName,
		&date,
		&start,
		&end,
		&task.WindowIndex,
		&task.WindowName,
		&status,
		&completedAt,
		&task.CompletedByID,
		&task.CompletionComment,
		&photos,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return scheduler.Task{}, err
	}

	if task.ScheduledDate, err = calendar.ParseDate(date); err != nil {
		return scheduler.Task{}, fmt.Errorf("task %s: %w", task.ID, err)
	}
	if task.ScheduledStart, err = parseTime(start); err != nil {
		return scheduler.Task{}, err
	}
	if task.ScheduledEnd, err = parseTime(end); err != nil {
		return scheduler.Task{}, err
	}
	if task.CompletedAt, err = parseNullTime(completedAt); err != nil {
		return scheduler.Task{}, err
	}
	if task.CompletionPhotos, err = decodeStrings(photos); err != nil {
		return scheduler.Task{}, fmt.Errorf("task %s: %w", task.ID, err)
	}
	if task.CreatedAt, err = parseTime(createdAt); err != nil {
		return scheduler.Task{}, err
	}
	if task.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return scheduler.Task{}, err
	}
	task.Status = scheduler.TaskStatus(status)
	return task, nil
}
