package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	analysis "github.com/mariatle/DB-Kurs/internal/analysis/domain"
)

// Querier is the subset of database/sql shared by *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// AnalysisRepository is a Postgres repository for analyses.
type AnalysisRepository struct {
	db *sql.DB
}

// NewAnalysisRepository constructs a repository.
func NewAnalysisRepository(db *sql.DB) *AnalysisRepository {
	return &AnalysisRepository{db: db}
}

// Create inserts an analysis within the batch transaction and fills its id.
func (r *AnalysisRepository) Create(ctx context.Context, q Querier, record *analysis.Analysis) error {
	if q == nil {
		return errors.New("analysis repo: nil querier")
	}
	if record == nil {
		return errors.New("analysis repo: nil analysis")
	}
	if record.ReadingID == 0 {
		return errors.New("analysis repo: missing reading id")
	}
	if record.AnalyzedAt.IsZero() {
		record.AnalyzedAt = time.Now().UTC()
	}
	return q.QueryRowContext(ctx, `
INSERT INTO analyses (reading_id, fire_hazard, analyzed_at)
VALUES ($1, $2, $3)
RETURNING id`,
		record.ReadingID,
		record.Score,
		record.AnalyzedAt.UTC(),
	).Scan(&record.ID)
}

// GetByID fetches one analysis.
func (r *AnalysisRepository) GetByID(ctx context.Context, id int64) (*analysis.Analysis, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("analysis repo: nil db")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT id, reading_id, fire_hazard, analyzed_at
FROM analyses
WHERE id = $1`, id)
	return scanAnalysis(row)
}

// Count returns the total number of analyses.
func (r *AnalysisRepository) Count(ctx context.Context) (int64, error) {
	if r == nil || r.db == nil {
		return 0, errors.New("analysis repo: nil db")
	}
	var count int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM analyses`).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// ListRecent returns the newest analyses, most recent first.
func (r *AnalysisRepository) ListRecent(ctx context.Context, limit int) ([]analysis.Analysis, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("analysis repo: nil db")
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT id, reading_id, fire_hazard, analyzed_at
FROM analyses
ORDER BY analyzed_at DESC, id DESC
LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []analysis.Analysis
	for rows.Next() {
		record, err := scanAnalysis(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *record)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

type analysisScanner interface {
	Scan(dest ...any) error
}

func scanAnalysis(row analysisScanner) (*analysis.Analysis, error) {
	var record analysis.Analysis
	if err := row.Scan(
		&record.ID,
		&record.ReadingID,
		&record.Score,
		&record.AnalyzedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	record.AnalyzedAt = record.AnalyzedAt.UTC()
	return &record, nil
}
