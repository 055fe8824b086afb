package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/example/cleaning-scheduler/internal/persistence"
	"github.com/example/cleaning-scheduler/internal/recurrence"
	"github.com/example/cleaning-scheduler/internal/scheduler"
)

// TechCardRepository implements persistence.TechCardRepository
type TechCardRepository struct {
	helper *QueryHelper
	mapper *ErrorMapper
}

var _ persistence.TechCardRepository = (*TechCardRepository)(nil)

// NewTechCardRepository creates a new tech card repository
func NewTechCardRepository(pool *ConnectionPool) *TechCardRepository {
	return &TechCardRepository{
		helper: newQueryHelper(pool.DB(), pool.Dialect()),
		mapper: NewErrorMapper(),
	}
}

const techCardSelect = `
	SELECT c.id, c.object_id, c.room_id, COALESCE(r.name, ''), c.name, c.description, c.work_type,
		c.frequency, c.time_of_day, c.time_windows, c.active, c.created_at
	FROM tech_cards c
	LEFT JOIN rooms r ON r.id = c.room_id
`

// SaveTechCard inserts or replaces a tech card. It exists for seeding and tests.
func (r *TechCardRepository) SaveTechCard(ctx context.Context, card scheduler.TechCard) error {
	if card.ID == "" || card.ObjectID == "" {
		return persistence.ErrConstraintViolation
	}
	windows := card.Windows
	if windows == nil {
		windows = []recurrence.WindowSpec{}
	}
	encoded, err := encodeJSON(windows)
	if err != nil {
		return fmt.Errorf("encode time windows: %w", err)
	}

	query := `
		INSERT INTO tech_cards (id, object_id, room_id, name, description, work_type, frequency,
			time_of_day, time_windows, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			object_id = excluded.object_id,
			room_id = excluded.room_id,
			name = excluded.name,
			description = excluded.description,
			work_type = excluded.work_type,
			frequency = excluded.frequency,
			time_of_day = excluded.time_of_day,
			time_windows = excluded.time_windows,
			active = excluded.active
	`
	_, err = r.helper.Exec(ctx, query,
		card.ID,
		card.ObjectID,
		card.RoomID,
		card.Name,
		card.Description,
		card.WorkType,
		card.Frequency,
		card.TimeOfDay,
		encoded,
		boolInt(card.Active),
		formatTime(card.CreatedAt),
	)
	if err != nil {
		return r.mapper.MapError(err)
	}
	return nil
}

// GetTechCard retrieves a tech card by ID, active or not.
func (r *TechCardRepository) GetTechCard(ctx context.Context, id string) (scheduler.TechCard, error) {
	if id == "" {
		return scheduler.TechCard{}, persistence.ErrNotFound
	}
	card, err := scanTechCard(r.helper.QueryRow(ctx, techCardSelect+` WHERE c.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return scheduler.TechCard{}, persistence.ErrNotFound
	}
	if err != nil {
		return scheduler.TechCard{}, r.mapper.MapError(err)
	}
	return card, nil
}

// ListTechCards returns tech cards matching filter ordered by object, room and id.
func (r *TechCardRepository) ListTechCards(ctx context.Context, filter persistence.TechCardFilter) ([]scheduler.TechCard, error) {
	query := techCardSelect
	conditions := make([]string, 0, 2)
	args := make([]any, 0, len(filter.ObjectIDs))

	if filter.ObjectIDs != nil {
		if len(filter.ObjectIDs) == 0 {
			return []scheduler.TechCard{}, nil
		}
		conditions = append(conditions, `c.object_id IN (`+placeholders(len(filter.ObjectIDs))+`)`)
		args = append(args, stringArgs(filter.ObjectIDs)...)
	}
	if filter.ActiveOnly {
		conditions = append(conditions, `c.active = 1`)
	}
	if len(conditions) > 0 {
		query += ` WHERE ` + strings.Join(conditions, ` AND `)
	}
	query += ` ORDER BY c.object_id ASC, c.room_id ASC, c.id ASC`

	rows, err := r.helper.Query(ctx, query, args...)
	if err != nil {
		return nil, r.mapper.MapError(err)
	}
	defer rows.Close()

	cards := make([]scheduler.TechCard, 0)
	for rows.Next() {
		card, err := scanTechCard(rows)
		if err != nil {
			return nil, r.mapper.MapError(err)
		}
		cards = append(cards, card)
	}
	if err := rows.Err(); err != nil {
		return nil, r.mapper.MapError(err)
	}
	return cards, nil
}

// CountRoomsWithTechCards counts distinct rooms that have at least one active card.
func (r *TechCardRepository) CountRoomsWithTechCards(ctx context.Context) (int, error) {
	var count int
	err := r.helper.QueryRow(ctx, `SELECT COUNT(DISTINCT room_id) FROM tech_cards WHERE active = 1 AND room_id <> ''`).Scan(&count)
	if err != nil {
		return 0, r.mapper.MapError(err)
	}
	return count, nil
}

// scanTechCard decodes one tech card row. Unreadable time windows are dropped
// so the resolver falls back to frequency markers.
func scanTechCard(row rowScanner) (scheduler.TechCard, error) {
	var (
		card      scheduler.TechCard
		windows   string
		active    int
		createdAt string
	)
	err := row.Scan(
		&card.ID,
		&card.ObjectID,
		&card.RoomID,
		&card.RoomName,
		&card.Name,
		&card.Description,
		&card.WorkType,
		&card.Frequency,
		&card.TimeOfDay,
		&windows,
		&active,
		&createdAt,
	)
	if err != nil {
		return scheduler.TechCard{}, err
	}

	if strings.TrimSpace(windows) != "" {
		var specs []recurrence.WindowSpec
		if json.Unmarshal([]byte(windows), &specs) == nil && len(specs) > 0 {
			card.Windows = specs
		}
	}
	card.Active = active != 0
	if card.CreatedAt, err = parseTime(createdAt); err != nil {
		return scheduler.TechCard{}, err
	}
	return card, nil
}
