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

// ObjectRepository implements persistence.ObjectRepository. Objects and rooms
// are owned by the CRUD collaborator; SaveObject and SaveRoom exist for
// seeding and tests.
type ObjectRepository struct {
	helper *QueryHelper
	mapper *ErrorMapper
	now    func() time.Time
}

var _ persistence.ObjectRepository = (*ObjectRepository)(nil)

// NewObjectRepository creates a new object repository
func NewObjectRepository(pool *ConnectionPool) *ObjectRepository {
	return &ObjectRepository{
		helper: newQueryHelper(pool.DB(), pool.Dialect()),
		mapper: NewErrorMapper(),
		now:    time.Now,
	}
}

const objectColumns = `id, name, manager_id, manager_name, manager_phone, time_zone, work_start, work_end,
	working_days, auto_checklists, require_photo, min_photos, require_comment`

// SaveObject inserts or replaces an object row.
func (r *ObjectRepository) SaveObject(ctx context.Context, object scheduler.Object) error {
	if object.ID == "" || strings.TrimSpace(object.Name) == "" {
		return persistence.ErrConstraintViolation
	}

	days, err := encodeJSON(object.Calendar.WorkingDays.Names())
	if err != nil {
		return fmt.Errorf("encode working days: %w", err)
	}

	var managerID, managerName, managerPhone string
	if object.Manager != nil {
		managerID, managerName, managerPhone = object.Manager.ID, object.Manager.Name, object.Manager.Phone
	}
	var workStart, workEnd string
	if object.Calendar.WorkingHours.IsSet() {
		workStart = object.Calendar.WorkingHours.Start.String()
		workEnd = object.Calendar.WorkingHours.End.String()
	}
	now := formatTime(r.now())

	query := `
		INSERT INTO objects (` + objectColumns + `, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			manager_id = excluded.manager_id,
			manager_name = excluded.manager_name,
			manager_phone = excluded.manager_phone,
			time_zone = excluded.time_zone,
			work_start = excluded.work_start,
			work_end = excluded.work_end,
			working_days = excluded.working_days,
			auto_checklists = excluded.auto_checklists,
			require_photo = excluded.require_photo,
			min_photos = excluded.min_photos,
			require_comment = excluded.require_comment,
			updated_at = excluded.updated_at
	`
	_, err = r.helper.Exec(ctx, query,
		object.ID,
		object.Name,
		managerID,
		managerName,
		managerPhone,
		object.Calendar.TimeZone,
		workStart,
		workEnd,
		days,
		boolInt(object.AutoChecklists),
		boolInt(object.Requirements.RequirePhoto),
		object.Requirements.MinPhotos,
		boolInt(object.Requirements.RequireComment),
		now,
		now,
	)
	if err != nil {
		return r.mapper.MapError(err)
	}
	return nil
}

// SaveRoom inserts or renames a room.
func (r *ObjectRepository) SaveRoom(ctx context.Context, room scheduler.Room) error {
	if room.ID == "" || room.ObjectID == "" {
		return persistence.ErrConstraintViolation
	}
	query := `
		INSERT INTO rooms (id, object_id, name) VALUES (?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET name = excluded.name
	`
	if _, err := r.helper.Exec(ctx, query, room.ID, room.ObjectID, room.Name); err != nil {
		return r.mapper.MapError(err)
	}
	return nil
}

// GetObject retrieves an object by ID
func (r *ObjectRepository) GetObject(ctx context.Context, id string) (scheduler.Object, error) {
	if id == "" {
		return scheduler.Object{}, persistence.ErrNotFound
	}

	row := r.helper.QueryRow(ctx, `SELECT `+objectColumns+` FROM objects WHERE id = ?`, id)
	object, err := scanObject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return scheduler.Object{}, persistence.ErrNotFound
	}
	if err != nil {
		return scheduler.Object{}, r.mapper.MapError(err)
	}
	return object, nil
}

// ListObjects returns objects matching filter ordered by name.
func (r *ObjectRepository) ListObjects(ctx context.Context, filter persistence.ObjectFilter) ([]scheduler.Object, error) {
	query := `SELECT ` + objectColumns + ` FROM objects`
	conditions := make([]string, 0, 3)
	args := make([]any, 0, len(filter.IDs)+1)

	if filter.IDs != nil {
		if len(filter.IDs) == 0 {
			return []scheduler.Object{}, nil
		}
		conditions = append(conditions, `id IN (`+placeholders(len(filter.IDs))+`)`)
		args = append(args, stringArgs(filter.IDs)...)
	}
	if filter.ManagerID != "" {
		conditions = append(conditions, `manager_id = ?`)
		args = append(args, filter.ManagerID)
	}
	if filter.AutoChecklistsOnly {
		conditions = append(conditions, `auto_checklists = 1`)
	}
	if len(conditions) > 0 {
		query += ` WHERE ` + strings.Join(conditions, ` AND `)
	}
	query += ` ORDER BY name ASC, id ASC`

	rows, err := r.helper.Query(ctx, query, args...)
	if err != nil {
		return nil, r.mapper.MapError(err)
	}
	defer rows.Close()

	objects := make([]scheduler.Object, 0)
	for rows.Next() {
		object, err := scanObject(rows)
		if err != nil {
			return nil, r.mapper.MapError(err)
		}
		objects = append(objects, object)
	}
	if err := rows.Err(); err != nil {
		return nil, r.mapper.MapError(err)
	}
	return objects, nil
}

// ListRooms returns the rooms of an object ordered by name.
func (r *ObjectRepository) ListRooms(ctx context.Context, objectID string) ([]scheduler.Room, error) {
	rows, err := r.helper.Query(ctx, `SELECT id, object_id, name FROM rooms WHERE object_id = ? ORDER BY name ASC, id ASC`, objectID)
	if err != nil {
		return nil, r.mapper.MapError(err)
	}
	defer rows.Close()

	rooms := make([]scheduler.Room, 0)
	for rows.Next() {
		var room scheduler.Room
		if err := rows.Scan(&room.ID, &room.ObjectID, &room.Name); err != nil {
			return nil, r.mapper.MapError(err)
		}
		rooms = append(rooms, room)
	}
	if err := rows.Err(); err != nil {
		return nil, r.mapper.MapError(err)
	}
	return rooms, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanObject decodes one objects row. Malformed working hours or days are
// read as unset so a bad config row never blocks scheduling.
func scanObject(row rowScanner) (scheduler.Object, error) {
	var (
		object                                 scheduler.Object
		managerID, managerName, managerPhone   string
		workStart, workEnd, workingDays        string
		autoChecklists, requirePhoto, comments int
	)
	err := row.Scan(
		&object.ID,
		&object.Name,
		&managerID,
		&managerName,
		&managerPhone,
		&object.Calendar.TimeZone,
		&workStart,
		&workEnd,
		&workingDays,
		&autoChecklists,
		&requirePhoto,
		&object.Requirements.MinPhotos,
		&comments,
	)
	if err != nil {
		return scheduler.Object{}, err
	}

	if managerID != "" {
		object.Manager = &scheduler.Manager{ID: managerID, Name: managerName, Phone: managerPhone}
	}
	if hours, err := calendar.ParseWorkingHours(workStart, workEnd); err == nil {
		object.Calendar.WorkingHours = hours
	}
	if names, err := decodeStrings(workingDays); err == nil {
		if days, err := calendar.ParseWeekdays(names); err == nil {
			object.Calendar.WorkingDays = days
		}
	}
	object.AutoChecklists = autoChecklists != 0
	object.Requirements.RequirePhoto = requirePhoto != 0
	object.Requirements.RequireComment = comments != 0
	return object, nil
}
