package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	alarms "github.com/mariatle/DB-Kurs/internal/alarms/domain"
)

const uniqueViolation = "23505"

// Querier is the subset of database/sql shared by *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// AlarmRepository is a Postgres repository for alarms.
type AlarmRepository struct {
	db *sql.DB
}

// NewAlarmRepository constructs a repository.
func NewAlarmRepository(db *sql.DB) *AlarmRepository {
	return &AlarmRepository{db: db}
}

// Create inserts a new alarm within the correlation transaction and fills
// its id. A unique index on (analysis_id, alarm_level) backs the at-most-one
// invariant; violations surface as ErrDuplicateAlarm.
func (r *AlarmRepository) Create(ctx context.Context, q Querier, alarm *alarms.Alarm) error {
	if q == nil {
		return errors.New("alarm repo: nil querier")
	}
	if alarm == nil {
		return errors.New("alarm repo: nil alarm")
	}
	if err := alarm.Validate(time.Now().UTC()); err != nil {
		return err
	}
	err := q.QueryRowContext(ctx, `
INSERT INTO alarms (analysis_id, incident_id, status, alarm_level, alarm_at)
VALUES ($1, $2, $3, $4, $5)
RETURNING id`,
		alarm.AnalysisID,
		alarm.IncidentID,
		alarm.Status,
		alarm.Severity,
		alarm.AlarmAt.UTC(),
	).Scan(&alarm.ID)
	if isUniqueViolation(err) {
		return alarms.ErrDuplicateAlarm
	}
	return err
}

// GetByID fetches an alarm by id.
func (r *AlarmRepository) GetByID(ctx context.Context, id int64) (*alarms.Alarm, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alarm repo: nil db")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT id, analysis_id, incident_id, status, alarm_level, alarm_at
FROM alarms
WHERE id = $1`, id)
	return scanAlarm(row)
}

// LinkToIncident attaches an alarm to an incident within the correlation
// transaction. The write is idempotent: linking an already-linked alarm to
// the same incident changes nothing. Resolved or closed incidents refuse
// new links; that surfaces as ErrNotLinkable.
func (r *AlarmRepository) LinkToIncident(ctx context.Context, q Querier, alarmID, incidentID int64) error {
	if q == nil {
		return errors.New("alarm repo: nil querier")
	}
	result, err := q.ExecContext(ctx, `
UPDATE alarms
SET incident_id = $1
FROM incidents
WHERE alarms.id = $2
	AND incidents.id = $1
	AND incidents.status NOT IN ('resolved', 'closed')
	AND (alarms.incident_id IS NULL OR alarms.incident_id = $1)`, incidentID, alarmID)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return alarms.ErrNotLinkable
	}
	return nil
}

// UpdateStatus sets the alarm status.
func (r *AlarmRepository) UpdateStatus(ctx context.Context, id int64, status string) error {
	if r == nil || r.db == nil {
		return errors.New("alarm repo: nil db")
	}
	_, err := r.db.ExecContext(ctx, `
UPDATE alarms
SET status = $1
WHERE id = $2`, status, id)
	return err
}

// CountActiveByIncident returns the number of active alarms still linked to
// an incident. Runs inside the caller's transaction so the close decision
// sees a consistent view.
func (r *AlarmRepository) CountActiveByIncident(ctx context.Context, q Querier, incidentID int64) (int, error) {
	if q == nil {
		return 0, errors.New("alarm repo: nil querier")
	}
	var count int
	err := q.QueryRowContext(ctx, `
SELECT COUNT(*)
FROM alarms
WHERE incident_id = $1 AND status = $2`, incidentID, alarms.StatusActive).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

// ListByStatus lists alarms filtered by status, newest first.
func (r *AlarmRepository) ListByStatus(ctx context.Context, status string, limit int) ([]alarms.Alarm, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alarm repo: nil db")
	}
	if limit <= 0 {
		limit = 100
	}
	query := `
SELECT id, analysis_id, incident_id, status, alarm_level, alarm_at
FROM alarms`
	args := []any{}
	if status != "" {
		query += " WHERE status = $1"
		args = append(args, status)
	}
	query += " ORDER BY alarm_at DESC, id DESC"
	if status != "" {
		query += " LIMIT $2"
	} else {
		query += " LIMIT $1"
	}
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []alarms.Alarm
	for rows.Next() {
		alarm, err := scanAlarm(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *alarm)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// ListByIncident lists alarms linked to an incident, oldest first.
func (r *AlarmRepository) ListByIncident(ctx context.Context, incidentID int64) ([]alarms.Alarm, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alarm repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT id, analysis_id, incident_id, status, alarm_level, alarm_at
FROM alarms
WHERE incident_id = $1
ORDER BY alarm_at, id`, incidentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []alarms.Alarm
	for rows.Next() {
		alarm, err := scanAlarm(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *alarm)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

type alarmScanner interface {
	Scan(dest ...any) error
}

func scanAlarm(row alarmScanner) (*alarms.Alarm, error) {
	var alarm alarms.Alarm
	var incidentID sql.NullInt64
	if err := row.Scan(
		&alarm.ID,
		&alarm.AnalysisID,
		&incidentID,
		&alarm.Status,
		&alarm.Severity,
		&alarm.AlarmAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	alarm.AlarmAt = alarm.AlarmAt.UTC()
	if incidentID.Valid {
		alarm.IncidentID = &incidentID.Int64
	}
	return &alarm, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
