package application

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	alarms "github.com/mariatle/DB-Kurs/internal/alarms/domain"
	alarmrepo "github.com/mariatle/DB-Kurs/internal/alarms/infrastructure/postgres"
	incidents "github.com/mariatle/DB-Kurs/internal/incidents/domain"
	incidentrepo "github.com/mariatle/DB-Kurs/internal/incidents/infrastructure/postgres"
	"github.com/mariatle/DB-Kurs/internal/observability/metrics"
)

const defaultCorrelationWindow = 2 * time.Hour

// Clock provides time.
type Clock interface {
	Now() time.Time
}

// Correlator groups active high and critical alarms into location-scoped,
// time-windowed incidents. It runs inside the alarm creation transaction so
// alarm, incident link and history commit or roll back together.
type Correlator struct {
	incidents *incidentrepo.IncidentRepository
	alarms    *alarmrepo.AlarmRepository
	window    time.Duration
	logger    *log.Logger
	clock     Clock
}

// CorrelatorOption customizes the correlator.
type CorrelatorOption func(*Correlator)

// WithWindow overrides the rolling correlation window.
func WithWindow(window time.Duration) CorrelatorOption {
	return func(c *Correlator) {
		if window > 0 {
			c.window = window
		}
	}
}

// WithCorrelatorClock assigns a clock.
func WithCorrelatorClock(clock Clock) CorrelatorOption {
	return func(c *Correlator) {
		c.clock = clock
	}
}

// NewCorrelator constructs a correlator.
func NewCorrelator(incidentsRepo *incidentrepo.IncidentRepository, alarmsRepo *alarmrepo.AlarmRepository, logger *log.Logger, opts ...CorrelatorOption) (*Correlator, error) {
	if incidentsRepo == nil || alarmsRepo == nil {
		return nil, errors.New("correlator: nil repository")
	}
	if logger == nil {
		logger = log.Default()
	}
	correlator := &Correlator{
		incidents: incidentsRepo,
		alarms:    alarmsRepo,
		window:    defaultCorrelationWindow,
		logger:    logger,
		clock:     systemClock{},
	}
	for _, opt := range opts {
		opt(correlator)
	}
	return correlator, nil
}

// Correlate finds or creates the open incident for the alarm's location and
// links the alarm to it. Only active high or critical alarms correlate; the
// rest pass through untouched. Re-running for an already-linked alarm is a
// no-op returning the linked incident. The boolean reports whether a new
// incident was opened.
func (c *Correlator) Correlate(ctx context.Context, tx *sql.Tx, alarm *alarms.Alarm) (*incidents.Incident, bool, error) {
	if c == nil {
		return nil, false, errors.New("correlator: nil correlator")
	}
	if alarm == nil {
		return nil, false, errors.New("correlator: nil alarm")
	}
	if alarm.Status != alarms.StatusActive || !alarm.Severity.AtLeast(alarms.SeverityHigh) {
		return nil, false, nil
	}
	if alarm.IncidentID != nil {
		incident, err := c.incidents.GetForUpdate(ctx, tx, *alarm.IncidentID)
		return incident, false, err
	}

	locationID, err := c.incidents.LocationForAlarm(ctx, tx, alarm.ID)
	if err != nil {
		return nil, false, err
	}
	// Serializes lookup-or-create per location: two concurrent alarms for
	// the same location cannot both decide "no incident exists".
	if err := c.incidents.LockLocation(ctx, tx, locationID); err != nil {
		return nil, false, err
	}

	now := c.clock.Now().UTC()
	incident, err := c.incidents.FindOpenAtLocation(ctx, tx, locationID, now.Add(-c.window))
	if err != nil {
		return nil, false, err
	}

	created := false
	if incident != nil {
		if err := c.incidents.ExtendWindow(ctx, tx, incident.ID, now); err != nil {
			return nil, false, err
		}
		end := now
		incident.TimeWindowEnd = &end
	} else {
		incident = &incidents.Incident{
			LocationID:      &locationID,
			TimeWindowStart: now,
			Status:          incidents.StatusOpen,
			Description:     fmt.Sprintf("auto-created for alarm %d", alarm.ID),
			DetectedAt:      now,
		}
		if err := c.incidents.Create(ctx, tx, incident); err != nil {
			return nil, false, err
		}
		created = true
		metrics.IncIncidentEvent("opened")
		c.logger.Printf("correlator: opened incident %d at location %d for alarm %d", incident.ID, locationID, alarm.ID)
	}

	if err := c.alarms.LinkToIncident(ctx, tx, alarm.ID, incident.ID); err != nil {
		return nil, false, err
	}
	alarm.IncidentID = &incident.ID
	return incident, created, nil
}

// Window returns the rolling correlation window.
func (c *Correlator) Window() time.Duration {
	return c.window
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
