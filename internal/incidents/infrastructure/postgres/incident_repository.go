package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	incidents "github.com/mariatle/DB-Kurs/internal/incidents/domain"
)

const uniqueViolation = "23505"

// ErrConcurrentCreation indicates two transactions raced to open an
// incident for the same location. Callers retry the lookup-or-create as a
// whole; the second pass finds the winner's incident.
var ErrConcurrentCreation = errors.New("incident repo: concurrent incident creation")

// Querier is the subset of database/sql shared by *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// IncidentRepository is a Postgres repository for incidents and their
// status history.
type IncidentRepository struct {
	db *sql.DB
}

// NewIncidentRepository constructs a repository.
func NewIncidentRepository(db *sql.DB) *IncidentRepository {
	return &IncidentRepository{db: db}
}

// LocationForAlarm resolves the location of an alarm through
// analysis -> reading -> device.
func (r *IncidentRepository) LocationForAlarm(ctx context.Context, q Querier, alarmID int64) (int64, error) {
	if q == nil {
		return 0, errors.New("incident repo: nil querier")
	}
	var locationID int64
	err := q.QueryRowContext(ctx, `
SELECT devices.location_id
FROM alarms
JOIN analyses ON analyses.id = alarms.analysis_id
JOIN readings ON readings.id = analyses.reading_id
JOIN devices ON devices.id = readings.device_id
WHERE alarms.id = $1`, alarmID).Scan(&locationID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, errors.New("incident repo: alarm has no resolvable location")
	}
	if err != nil {
		return 0, err
	}
	return locationID, nil
}

// LockLocation serializes incident lookup-or-create per location for the
// duration of the current transaction.
func (r *IncidentRepository) LockLocation(ctx context.Context, q Querier, locationID int64) error {
	if q == nil {
		return errors.New("incident repo: nil querier")
	}
	_, err := q.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, locationID)
	return err
}

// FindOpenAtLocation returns the open or under-investigation incident at a
// location whose window started within the correlation horizon. Ordering is
// most recent window start first, highest id breaking ties.
func (r *IncidentRepository) FindOpenAtLocation(ctx context.Context, q Querier, locationID int64, windowStartAfter time.Time) (*incidents.Incident, error) {
	if q == nil {
		return nil, errors.New("incident repo: nil querier")
	}
	row := q.QueryRowContext(ctx, `
SELECT id, location_id, time_window_start, time_window_end, status, COALESCE(description, ''), detected_at, resolved_at
FROM incidents
WHERE location_id = $1
	AND status IN ($2, $3)
	AND time_window_start >= $4
ORDER BY time_window_start DESC, id DESC
LIMIT 1`, locationID, incidents.StatusOpen, incidents.StatusInvestigation, windowStartAfter.UTC())
	return scanIncident(row)
}

// Create opens a new incident and synthesizes its initial history record in
// the same transaction. A concurrent open incident for the same location
// surfaces as ErrConcurrentCreation.
func (r *IncidentRepository) Create(ctx context.Context, q Querier, incident *incidents.Incident) error {
	if q == nil {
		return errors.New("incident repo: nil querier")
	}
	if incident == nil {
		return errors.New("incident repo: nil incident")
	}
	if incident.Status == "" {
		incident.Status = incidents.StatusOpen
	}
	err := q.QueryRowContext(ctx, `
INSERT INTO incidents (location_id, time_window_start, time_window_end, status, description, detected_at, resolved_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING id`,
		incident.LocationID,
		incident.TimeWindowStart.UTC(),
		nullableTime(incident.TimeWindowEnd),
		incident.Status,
		incident.Description,
		incident.DetectedAt.UTC(),
		nullableTime(incident.ResolvedAt),
	).Scan(&incident.ID)
	if isUniqueViolation(err) {
		return ErrConcurrentCreation
	}
	if err != nil {
		return err
	}
	initial := incidents.StatusHistory{
		IncidentID: incident.ID,
		NewStatus:  incident.Status,
		ChangedAt:  incident.DetectedAt.UTC(),
		Comment:    "incident created",
	}
	return r.AppendHistory(ctx, q, &initial)
}

// GetByID fetches an incident.
func (r *IncidentRepository) GetByID(ctx context.Context, id int64) (*incidents.Incident, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("incident repo: nil db")
	}
	return r.get(ctx, r.db, id, false)
}

// GetForUpdate fetches an incident with a row lock inside the caller's
// transaction.
func (r *IncidentRepository) GetForUpdate(ctx context.Context, q Querier, id int64) (*incidents.Incident, error) {
	if q == nil {
		return nil, errors.New("incident repo: nil querier")
	}
	return r.get(ctx, q, id, true)
}

func (r *IncidentRepository) get(ctx context.Context, q Querier, id int64, forUpdate bool) (*incidents.Incident, error) {
	query := `
SELECT id, location_id, time_window_start, time_window_end, status, COALESCE(description, ''), detected_at, resolved_at
FROM incidents
WHERE id = $1`
	if forUpdate {
		query += `
FOR UPDATE`
	}
	return scanIncident(q.QueryRowContext(ctx, query, id))
}

// ExtendWindow pushes the incident's rolling window end forward.
func (r *IncidentRepository) ExtendWindow(ctx context.Context, q Querier, id int64, end time.Time) error {
	if q == nil {
		return errors.New("incident repo: nil querier")
	}
	_, err := q.ExecContext(ctx, `
UPDATE incidents
SET time_window_end = $1
WHERE id = $2`, end.UTC(), id)
	return err
}

// UpdateStatus sets status and resolution timestamp.
func (r *IncidentRepository) UpdateStatus(ctx context.Context, q Querier, id int64, status string, resolvedAt *time.Time) error {
	if q == nil {
		return errors.New("incident repo: nil querier")
	}
	_, err := q.ExecContext(ctx, `
UPDATE incidents
SET status = $1, resolved_at = $2
WHERE id = $3`, status, nullableTime(resolvedAt), id)
	return err
}

// AppendHistory adds one status-history record. History is append-only;
// there is deliberately no update or delete.
func (r *IncidentRepository) AppendHistory(ctx context.Context, q Querier, record *incidents.StatusHistory) error {
	if q == nil {
		return errors.New("incident repo: nil querier")
	}
	if record == nil {
		return errors.New("incident repo: nil history record")
	}
	if record.ChangedAt.IsZero() {
		record.ChangedAt = time.Now().UTC()
	}
	return q.QueryRowContext(ctx, `
INSERT INTO incident_status_history (incident_id, old_status, new_status, changed_at, actor, comment)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id`,
		record.IncidentID,
		record.OldStatus,
		record.NewStatus,
		record.ChangedAt.UTC(),
		nullableString(record.Actor),
		nullableString(record.Comment),
	).Scan(&record.ID)
}

// ListHistory returns an incident's status history in change order.
func (r *IncidentRepository) ListHistory(ctx context.Context, incidentID int64) ([]incidents.StatusHistory, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("incident repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT id, incident_id, old_status, new_status, changed_at, COALESCE(actor, ''), COALESCE(comment, '')
FROM incident_status_history
WHERE incident_id = $1
ORDER BY changed_at, id`, incidentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []incidents.StatusHistory
	for rows.Next() {
		var record incidents.StatusHistory
		var oldStatus sql.NullString
		if err := rows.Scan(
			&record.ID,
			&record.IncidentID,
			&oldStatus,
			&record.NewStatus,
			&record.ChangedAt,
			&record.Actor,
			&record.Comment,
		); err != nil {
			return nil, err
		}
		record.ChangedAt = record.ChangedAt.UTC()
		if oldStatus.Valid {
			record.OldStatus = &oldStatus.String
		}
		result = append(result, record)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// List returns incidents newest first, optionally filtered by status.
func (r *IncidentRepository) List(ctx context.Context, status string, limit int) ([]incidents.Incident, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("incident repo: nil db")
	}
	if limit <= 0 {
		limit = 100
	}
	query := `
SELECT id, location_id, time_window_start, time_window_end, status, COALESCE(description, ''), detected_at, resolved_at
FROM incidents`
	args := []any{}
	if status != "" {
		query += " WHERE status = $1"
		args = append(args, status)
		query += " ORDER BY detected_at DESC, id DESC LIMIT $2"
	} else {
		query += " ORDER BY detected_at DESC, id DESC LIMIT $1"
	}
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []incidents.Incident
	for rows.Next() {
		incident, err := scanIncident(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *incident)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

type incidentScanner interface {
	Scan(dest ...any) error
}

func scanIncident(row incidentScanner) (*incidents.Incident, error) {
	var incident incidents.Incident
	var locationID sql.NullInt64
	var windowEnd sql.NullTime
	var resolvedAt sql.NullTime
	if err := row.Scan(
		&incident.ID,
		&locationID,
		&incident.TimeWindowStart,
		&windowEnd,
		&incident.Status,
		&incident.Description,
		&incident.DetectedAt,
		&resolvedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	incident.TimeWindowStart = incident.TimeWindowStart.UTC()
	incident.DetectedAt = incident.DetectedAt.UTC()
	if locationID.Valid {
		incident.LocationID = &locationID.Int64
	}
	if windowEnd.Valid {
		end := windowEnd.Time.UTC()
		incident.TimeWindowEnd = &end
	}
	if resolvedAt.Valid {
		at := resolvedAt.Time.UTC()
		incident.ResolvedAt = &at
	}
	return &incident, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func nullableTime(value *time.Time) sql.NullTime {
	if value == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: value.UTC(), Valid: true}
}

func nullableString(value string) sql.NullString {
	if value == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}
