package application

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"time"

	analysis "github.com/mariatle/DB-Kurs/internal/analysis/domain"
	analysisrepo "github.com/mariatle/DB-Kurs/internal/analysis/infrastructure/postgres"
	"github.com/mariatle/DB-Kurs/internal/observability/metrics"
	telemetryrepo "github.com/mariatle/DB-Kurs/internal/telemetry/infrastructure/postgres"
)

const (
	defaultBatchLimit    = 1000
	defaultRetryAttempts = 3
	defaultRetryDelay    = 5 * time.Second
)

// AnalysisSink consumes newly created analyses. The alarm generator
// implements it; calls happen synchronously in reading-id order right
// after the batch commits, so downstream ordering is deterministic.
type AnalysisSink interface {
	OnAnalysisCreated(ctx context.Context, record analysis.Analysis) error
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

// Processor scores unprocessed readings in atomic batches.
type Processor struct {
	db       *sql.DB
	readings *telemetryrepo.ReadingRepository
	analyses *analysisrepo.AnalysisRepository
	sink     AnalysisSink
	logger   *log.Logger
	clock    Clock

	retryAttempts int
	retryDelay    time.Duration
}

// ProcessorOption customizes the processor.
type ProcessorOption func(*Processor)

// WithRetry overrides the retry policy.
func WithRetry(attempts int, delay time.Duration) ProcessorOption {
	return func(p *Processor) {
		if attempts > 0 {
			p.retryAttempts = attempts
		}
		if delay >= 0 {
			p.retryDelay = delay
		}
	}
}

// WithClock assigns a clock.
func WithClock(clock Clock) ProcessorOption {
	return func(p *Processor) {
		p.clock = clock
	}
}

// NewProcessor constructs a batch processor.
func NewProcessor(db *sql.DB, readings *telemetryrepo.ReadingRepository, analyses *analysisrepo.AnalysisRepository, sink AnalysisSink, logger *log.Logger, opts ...ProcessorOption) (*Processor, error) {
	if db == nil {
		return nil, errors.New("processor: nil db")
	}
	if readings == nil || analyses == nil {
		return nil, errors.New("processor: nil repository")
	}
	if logger == nil {
		logger = log.Default()
	}
	processor := &Processor{
		db:            db,
		readings:      readings,
		analyses:      analyses,
		sink:          sink,
		logger:        logger,
		clock:         systemClock{},
		retryAttempts: defaultRetryAttempts,
		retryDelay:    defaultRetryDelay,
	}
	for _, opt := range opts {
		opt(processor)
	}
	return processor, nil
}

// RunBatch scores up to limit unprocessed readings and returns how many were
// processed. The whole batch commits atomically: analyses are created and
// processed flags flipped together, or not at all. Transient failures are
// retried with a fixed delay before the error surfaces to the scheduler.
func (p *Processor) RunBatch(ctx context.Context, limit int) (int, error) {
	if p == nil {
		return 0, errors.New("processor: nil processor")
	}
	if limit <= 0 {
		limit = defaultBatchLimit
	}

	var lastErr error
	for attempt := 1; attempt <= p.retryAttempts; attempt++ {
		start := p.clock.Now()
		created, err := p.runOnce(ctx, limit)
		if err == nil {
			metrics.ObserveBatch(metrics.ResultSuccess, p.clock.Now().Sub(start).Seconds(), len(created))
			p.dispatch(ctx, created)
			return len(created), nil
		}
		lastErr = err
		metrics.ObserveBatch(metrics.ResultError, p.clock.Now().Sub(start).Seconds(), 0)
		p.logger.Printf("processor: batch attempt %d/%d failed: %v", attempt, p.retryAttempts, err)
		if attempt < p.retryAttempts {
			select {
			case <-time.After(p.retryDelay):
			case <-ctx.Done():
				return 0, ctx.Err()
			}
		}
	}
	return 0, lastErr
}

func (p *Processor) runOnce(ctx context.Context, limit int) ([]analysis.Analysis, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}

	readings, err := p.readings.LockUnprocessed(ctx, tx, limit)
	if err != nil {
		_ = tx.Rollback()
		return nil, err
	}
	if len(readings) == 0 {
		_ = tx.Rollback()
		return nil, nil
	}

	created := make([]analysis.Analysis, 0, len(readings))
	ids := make([]int64, 0, len(readings))
	now := p.clock.Now().UTC()
	for _, reading := range readings {
		score := analysis.CalculateHazard(reading)
		if score == nil {
			metrics.IncCalculationFailure()
			p.logger.Printf("processor: hazard calculation failed for reading %d (missing inputs)", reading.ID)
		}
		record := analysis.Analysis{
			ReadingID:  reading.ID,
			AnalyzedAt: now,
		}
		if score != nil {
			record.Score.Decimal = *score
			record.Score.Valid = true
		}
		if err := p.analyses.Create(ctx, tx, &record); err != nil {
			_ = tx.Rollback()
			return nil, err
		}
		created = append(created, record)
		ids = append(ids, reading.ID)
	}

	if err := p.readings.MarkProcessed(ctx, tx, ids); err != nil {
		_ = tx.Rollback()
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return created, nil
}

// dispatch hands committed analyses to the sink in reading-id order.
// A sink failure is logged, never propagated: the batch is already
// committed and the alarm path has its own dedup protection.
func (p *Processor) dispatch(ctx context.Context, created []analysis.Analysis) {
	if p.sink == nil || len(created) == 0 {
		return
	}
	for _, record := range created {
		if err := p.sink.OnAnalysisCreated(ctx, record); err != nil {
			p.logger.Printf("processor: analysis %d sink error: %v", record.ID, err)
		}
	}
	p.logger.Printf("processor: batch complete, %d readings analyzed", len(created))
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
