package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	telemetry "github.com/mariatle/DB-Kurs/internal/telemetry/domain"
)

// Querier is the subset of database/sql shared by *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// ReadingRepository is a Postgres repository for raw readings.
type ReadingRepository struct {
	db *sql.DB
}

// NewReadingRepository constructs a repository.
func NewReadingRepository(db *sql.DB) *ReadingRepository {
	return &ReadingRepository{db: db}
}

// InsertReadings appends raw readings in one transaction.
func (r *ReadingRepository) InsertReadings(ctx context.Context, readings []telemetry.Reading) error {
	if r == nil || r.db == nil {
		return errors.New("reading repo: nil db")
	}
	if len(readings) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO readings (device_id, temperature, humidity, co2_level, recorded_at, processed)
VALUES ($1, $2, $3, $4, $5, FALSE)`)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, reading := range readings {
		if reading.DeviceID == 0 {
			_ = tx.Rollback()
			return errors.New("reading repo: missing device id")
		}
		recordedAt := reading.RecordedAt
		if recordedAt.IsZero() {
			recordedAt = time.Now().UTC()
		}
		if _, err := stmt.ExecContext(ctx,
			reading.DeviceID,
			reading.Temperature,
			reading.Humidity,
			reading.CO2Level,
			recordedAt.UTC(),
		); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// LockUnprocessed selects up to limit unprocessed readings in id order and
// locks them for the batch transaction. SKIP LOCKED keeps concurrent batch
// runs from double-processing the same rows.
func (r *ReadingRepository) LockUnprocessed(ctx context.Context, q Querier, limit int) ([]telemetry.Reading, error) {
	if q == nil {
		return nil, errors.New("reading repo: nil querier")
	}
	if limit <= 0 {
		limit = 1000
	}
	rows, err := q.QueryContext(ctx, `
SELECT id, device_id, temperature, humidity, co2_level, recorded_at, processed
FROM readings
WHERE processed = FALSE
ORDER BY id
LIMIT $1
FOR UPDATE SKIP LOCKED`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []telemetry.Reading
	for rows.Next() {
		reading, err := scanReading(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *reading)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// MarkProcessed flips the processed flag for the given reading ids.
func (r *ReadingRepository) MarkProcessed(ctx context.Context, q Querier, ids []int64) error {
	if q == nil {
		return errors.New("reading repo: nil querier")
	}
	if len(ids) == 0 {
		return nil
	}
	// pgx stdlib binds []int64 as bigint[].
	_, err := q.ExecContext(ctx, `
UPDATE readings
SET processed = TRUE
WHERE id = ANY($1)`, ids)
	return err
}

// GetByID fetches one reading.
func (r *ReadingRepository) GetByID(ctx context.Context, id int64) (*telemetry.Reading, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("reading repo: nil db")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT id, device_id, temperature, humidity, co2_level, recorded_at, processed
FROM readings
WHERE id = $1`, id)
	return scanReading(row)
}

// ListRecent returns the newest readings, most recent first.
func (r *ReadingRepository) ListRecent(ctx context.Context, limit int) ([]telemetry.Reading, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("reading repo: nil db")
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT id, device_id, temperature, humidity, co2_level, recorded_at, processed
FROM readings
ORDER BY recorded_at DESC, id DESC
LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []telemetry.Reading
	for rows.Next() {
		reading, err := scanReading(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *reading)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// PurgeOlderThan deletes processed readings older than cutoff that no
// analysis references. Unscored or referenced rows are never deleted.
func (r *ReadingRepository) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	if r == nil || r.db == nil {
		return 0, errors.New("reading repo: nil db")
	}
	result, err := r.db.ExecContext(ctx, `
DELETE FROM readings
WHERE processed = TRUE
	AND recorded_at < $1
	AND NOT EXISTS (
		SELECT 1 FROM analyses WHERE analyses.reading_id = readings.id
	)`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

type readingScanner interface {
	Scan(dest ...any) error
}

func scanReading(row readingScanner) (*telemetry.Reading, error) {
	var reading telemetry.Reading
	if err := row.Scan(
		&reading.ID,
		&reading.DeviceID,
		&reading.Temperature,
		&reading.Humidity,
		&reading.CO2Level,
		&reading.RecordedAt,
		&reading.Processed,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	reading.RecordedAt = reading.RecordedAt.UTC()
	return &reading, nil
}
