package application

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/mariatle/DB-Kurs/internal/observability/metrics"
)

// ReadingPurger deletes expired readings.
type ReadingPurger interface {
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

// PurgeService removes raw readings past the retention period. Only rows
// that are processed and no longer referenced by an analysis are eligible;
// the repository enforces that rule in the delete itself.
type PurgeService struct {
	readings  ReadingPurger
	retention time.Duration
	logger    *log.Logger
	clock     Clock
}

// PurgeOption customizes the purge service.
type PurgeOption func(*PurgeService)

// WithPurgeClock assigns a clock.
func WithPurgeClock(clock Clock) PurgeOption {
	return func(s *PurgeService) {
		s.clock = clock
	}
}

// NewPurgeService constructs a purge service.
func NewPurgeService(readings ReadingPurger, retention time.Duration, logger *log.Logger, opts ...PurgeOption) (*PurgeService, error) {
	if readings == nil {
		return nil, errors.New("purge: nil reading repository")
	}
	if retention <= 0 {
		return nil, errors.New("purge: retention must be positive")
	}
	if logger == nil {
		logger = log.Default()
	}
	service := &PurgeService{
		readings:  readings,
		retention: retention,
		logger:    logger,
		clock:     systemClock{},
	}
	for _, opt := range opts {
		opt(service)
	}
	return service, nil
}

// Run deletes eligible readings and returns the number removed.
func (s *PurgeService) Run(ctx context.Context) (int64, error) {
	if s == nil {
		return 0, errors.New("purge: nil service")
	}
	cutoff := s.clock.Now().UTC().Add(-s.retention)
	deleted, err := s.readings.PurgeOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		s.logger.Printf("purge: removed %d readings older than %s", deleted, cutoff.Format(time.RFC3339))
	}
	metrics.AddPurgedReadings(deleted)
	return deleted, nil
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
