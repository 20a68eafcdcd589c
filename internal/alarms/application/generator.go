package application

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"time"

	"github.com/mariatle/DB-Kurs/internal/alarms/application/events"
	alarms "github.com/mariatle/DB-Kurs/internal/alarms/domain"
	alarmrepo "github.com/mariatle/DB-Kurs/internal/alarms/infrastructure/postgres"
	analysis "github.com/mariatle/DB-Kurs/internal/analysis/domain"
	incidentapp "github.com/mariatle/DB-Kurs/internal/incidents/application"
	incidentevents "github.com/mariatle/DB-Kurs/internal/incidents/application/events"
	incidents "github.com/mariatle/DB-Kurs/internal/incidents/domain"
	incidentrepo "github.com/mariatle/DB-Kurs/internal/incidents/infrastructure/postgres"
	"github.com/mariatle/DB-Kurs/internal/observability/metrics"
)

// Clock provides time.
type Clock interface {
	Now() time.Time
}

// EventPublisher publishes alarm notifications.
type EventPublisher interface {
	Publish(ctx context.Context, event any) error
}

// Generator turns scored analyses into alarms. High and critical alarms are
// correlated into incidents within the same transaction, so a raised alarm
// is never observable without its incident link.
type Generator struct {
	db         *sql.DB
	alarms     *alarmrepo.AlarmRepository
	correlator *incidentapp.Correlator
	publisher  EventPublisher
	logger     *log.Logger
	clock      Clock
}

// GeneratorOption customizes the generator.
type GeneratorOption func(*Generator)

// WithGeneratorPublisher assigns an event publisher.
func WithGeneratorPublisher(publisher EventPublisher) GeneratorOption {
	return func(g *Generator) {
		g.publisher = publisher
	}
}

// WithGeneratorClock assigns a clock.
func WithGeneratorClock(clock Clock) GeneratorOption {
	return func(g *Generator) {
		g.clock = clock
	}
}

// NewGenerator constructs a generator.
func NewGenerator(db *sql.DB, alarmsRepo *alarmrepo.AlarmRepository, correlator *incidentapp.Correlator, logger *log.Logger, opts ...GeneratorOption) (*Generator, error) {
	if db == nil {
		return nil, errors.New("generator: nil db")
	}
	if alarmsRepo == nil {
		return nil, errors.New("generator: nil alarm repository")
	}
	if correlator == nil {
		return nil, errors.New("generator: nil correlator")
	}
	if logger == nil {
		logger = log.Default()
	}
	generator := &Generator{
		db:         db,
		alarms:     alarmsRepo,
		correlator: correlator,
		logger:     logger,
		clock:      systemClock{},
	}
	for _, opt := range opts {
		opt(generator)
	}
	return generator, nil
}

// OnAnalysisCreated evaluates one analysis against the severity thresholds
// and raises an alarm when warranted. Analyses with a null score or a score
// below the medium threshold produce nothing. Re-delivery of the same
// analysis is absorbed by the per-(analysis, severity) uniqueness rule.
func (g *Generator) OnAnalysisCreated(ctx context.Context, record analysis.Analysis) error {
	if g == nil {
		return errors.New("generator: nil generator")
	}
	if !record.Score.Valid {
		return nil
	}
	severity, ok := alarms.SeverityFromScore(record.Score.Decimal)
	if !ok {
		return nil
	}

	alarm, incident, opened, err := g.raise(ctx, record.ID, severity)
	if errors.Is(err, incidentrepo.ErrConcurrentCreation) {
		// Lost the race to open the incident; the second pass finds it.
		alarm, incident, opened, err = g.raise(ctx, record.ID, severity)
	}
	if errors.Is(err, alarms.ErrDuplicateAlarm) {
		g.logger.Printf("generator: alarm for analysis %d level %s already exists", record.ID, severity)
		metrics.IncAlarmEvent(string(severity), "duplicate")
		return nil
	}
	if err != nil {
		return err
	}

	metrics.IncAlarmEvent(string(severity), "raised")
	g.logger.Printf("generator: raised %s alarm %d for analysis %d", severity, alarm.ID, record.ID)
	if g.publisher != nil {
		event := events.AlarmRaised{
			AlarmID:    alarm.ID,
			AnalysisID: alarm.AnalysisID,
			IncidentID: alarm.IncidentID,
			Severity:   string(alarm.Severity),
			OccurredAt: alarm.AlarmAt,
		}
		if err := g.publisher.Publish(ctx, event); err != nil {
			g.logger.Printf("generator: publish alarm raised: %v", err)
		}
		if opened && incident != nil && incident.LocationID != nil {
			openedEvent := incidentevents.IncidentOpened{
				IncidentID: incident.ID,
				LocationID: *incident.LocationID,
				AlarmID:    alarm.ID,
				OccurredAt: incident.DetectedAt,
			}
			if err := g.publisher.Publish(ctx, openedEvent); err != nil {
				g.logger.Printf("generator: publish incident opened: %v", err)
			}
		}
	}
	return nil
}

func (g *Generator) raise(ctx context.Context, analysisID int64, severity alarms.Severity) (*alarms.Alarm, *incidents.Incident, bool, error) {
	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, false, err
	}
	alarm := &alarms.Alarm{
		AnalysisID: analysisID,
		Status:     alarms.StatusActive,
		Severity:   severity,
		AlarmAt:    g.clock.Now().UTC(),
	}
	if err := g.alarms.Create(ctx, tx, alarm); err != nil {
		_ = tx.Rollback()
		return nil, nil, false, err
	}
	var incident *incidents.Incident
	opened := false
	if severity.AtLeast(alarms.SeverityHigh) {
		incident, opened, err = g.correlator.Correlate(ctx, tx, alarm)
		if err != nil {
			_ = tx.Rollback()
			return nil, nil, false, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, false, err
	}
	return alarm, incident, opened, nil
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
