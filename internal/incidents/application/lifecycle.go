package application

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	alarmrepo "github.com/mariatle/DB-Kurs/internal/alarms/infrastructure/postgres"
	"github.com/mariatle/DB-Kurs/internal/audit"
	"github.com/mariatle/DB-Kurs/internal/incidents/application/events"
	incidents "github.com/mariatle/DB-Kurs/internal/incidents/domain"
	incidentrepo "github.com/mariatle/DB-Kurs/internal/incidents/infrastructure/postgres"
	"github.com/mariatle/DB-Kurs/internal/observability/metrics"
)

// DefaultSystemActor attributes transitions made without a human actor.
const DefaultSystemActor = "system"

// EventPublisher publishes lifecycle notifications.
type EventPublisher interface {
	Publish(ctx context.Context, event any) error
}

// Lifecycle governs incident status transitions and their audit trail.
type Lifecycle struct {
	db        *sql.DB
	incidents *incidentrepo.IncidentRepository
	alarms    *alarmrepo.AlarmRepository
	auditor   audit.Logger
	publisher EventPublisher
	logger    *log.Logger
	clock     Clock

	systemActor string
}

// LifecycleOption customizes the lifecycle service.
type LifecycleOption func(*Lifecycle)

// WithAudit assigns an audit logger.
func WithAudit(auditor audit.Logger) LifecycleOption {
	return func(l *Lifecycle) {
		l.auditor = auditor
	}
}

// WithPublisher assigns an event publisher.
func WithPublisher(publisher EventPublisher) LifecycleOption {
	return func(l *Lifecycle) {
		l.publisher = publisher
	}
}

// WithSystemActor overrides the identity recorded for engine-initiated
// transitions.
func WithSystemActor(actor string) LifecycleOption {
	return func(l *Lifecycle) {
		if actor != "" {
			l.systemActor = actor
		}
	}
}

// WithLifecycleClock assigns a clock.
func WithLifecycleClock(clock Clock) LifecycleOption {
	return func(l *Lifecycle) {
		l.clock = clock
	}
}

// NewLifecycle constructs a lifecycle service.
func NewLifecycle(db *sql.DB, incidentsRepo *incidentrepo.IncidentRepository, alarmsRepo *alarmrepo.AlarmRepository, logger *log.Logger, opts ...LifecycleOption) (*Lifecycle, error) {
	if db == nil {
		return nil, errors.New("lifecycle: nil db")
	}
	if incidentsRepo == nil || alarmsRepo == nil {
		return nil, errors.New("lifecycle: nil repository")
	}
	if logger == nil {
		logger = log.Default()
	}
	lifecycle := &Lifecycle{
		db:          db,
		incidents:   incidentsRepo,
		alarms:      alarmsRepo,
		logger:      logger,
		clock:       systemClock{},
		systemActor: DefaultSystemActor,
	}
	for _, opt := range opts {
		opt(lifecycle)
	}
	return lifecycle, nil
}

// ChangeStatus transitions an incident to newStatus. It returns false when
// the incident is already in that status (a no-op) and ErrInvalidStatus for
// unrecognized values; nothing is persisted in either case. Every applied
// transition appends exactly one status-history record.
func (l *Lifecycle) ChangeStatus(ctx context.Context, incidentID int64, newStatus, actor, comment string) (bool, error) {
	if l == nil {
		return false, errors.New("lifecycle: nil service")
	}
	status, err := incidents.ParseStatus(newStatus)
	if err != nil {
		return false, err
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	incident, err := l.incidents.GetForUpdate(ctx, tx, incidentID)
	if err != nil {
		_ = tx.Rollback()
		return false, err
	}
	if incident == nil {
		_ = tx.Rollback()
		return false, incidents.ErrNotFound
	}
	if incident.Status == status {
		_ = tx.Rollback()
		return false, nil
	}

	old := incident.Status
	if err := l.transition(ctx, tx, incident, status, actor, comment); err != nil {
		_ = tx.Rollback()
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	l.afterTransition(ctx, incident.ID, old, status, actor, comment)
	return true, nil
}

// CloseIncident closes an incident only when it is not already terminal and
// no linked alarm is still active. It returns false, without error, when
// the guard holds the close back; resolving the remaining alarms later
// re-triggers the attempt.
func (l *Lifecycle) CloseIncident(ctx context.Context, incidentID int64, actor, comment string) (bool, error) {
	if l == nil {
		return false, errors.New("lifecycle: nil service")
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	incident, err := l.incidents.GetForUpdate(ctx, tx, incidentID)
	if err != nil {
		_ = tx.Rollback()
		return false, err
	}
	if incident == nil {
		_ = tx.Rollback()
		return false, incidents.ErrNotFound
	}
	if incidents.IsTerminal(incident.Status) {
		_ = tx.Rollback()
		return false, nil
	}
	active, err := l.alarms.CountActiveByIncident(ctx, tx, incident.ID)
	if err != nil {
		_ = tx.Rollback()
		return false, err
	}
	if active > 0 {
		_ = tx.Rollback()
		return false, nil
	}

	old := incident.Status
	if err := l.transition(ctx, tx, incident, incidents.StatusClosed, actor, comment); err != nil {
		_ = tx.Rollback()
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	l.afterTransition(ctx, incident.ID, old, incidents.StatusClosed, actor, comment)
	l.logger.Printf("lifecycle: incident %d closed", incident.ID)
	return true, nil
}

// GetIncident loads an incident for the presentation layer.
func (l *Lifecycle) GetIncident(ctx context.Context, id int64) (*incidents.Incident, error) {
	if l == nil {
		return nil, errors.New("lifecycle: nil service")
	}
	incident, err := l.incidents.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if incident == nil {
		return nil, incidents.ErrNotFound
	}
	return incident, nil
}

// ListIncidents lists incidents, optionally by status.
func (l *Lifecycle) ListIncidents(ctx context.Context, status string, limit int) ([]incidents.Incident, error) {
	if l == nil {
		return nil, errors.New("lifecycle: nil service")
	}
	if status != "" {
		if _, err := incidents.ParseStatus(status); err != nil {
			return nil, err
		}
	}
	return l.incidents.List(ctx, status, limit)
}

// History returns the full status history of an incident.
func (l *Lifecycle) History(ctx context.Context, incidentID int64) ([]incidents.StatusHistory, error) {
	if l == nil {
		return nil, errors.New("lifecycle: nil service")
	}
	return l.incidents.ListHistory(ctx, incidentID)
}

func (l *Lifecycle) transition(ctx context.Context, tx *sql.Tx, incident *incidents.Incident, status, actor, comment string) error {
	now := l.clock.Now().UTC()
	var resolvedAt *time.Time
	if incidents.IsTerminal(status) {
		at := now
		if incident.ResolvedAt != nil {
			at = *incident.ResolvedAt
		}
		resolvedAt = &at
	}
	if err := l.incidents.UpdateStatus(ctx, tx, incident.ID, status, resolvedAt); err != nil {
		return err
	}
	old := incident.Status
	record := incidents.StatusHistory{
		IncidentID: incident.ID,
		OldStatus:  &old,
		NewStatus:  status,
		ChangedAt:  now,
		Actor:      l.actorOrSystem(actor),
		Comment:    comment,
	}
	if err := l.incidents.AppendHistory(ctx, tx, &record); err != nil {
		return err
	}
	incident.Status = status
	incident.ResolvedAt = resolvedAt
	return nil
}

func (l *Lifecycle) afterTransition(ctx context.Context, incidentID int64, old, status, actor, comment string) {
	metrics.IncIncidentEvent(status)
	if l.auditor != nil {
		meta, _ := json.Marshal(map[string]string{"old_status": old, "new_status": status, "comment": comment})
		if err := l.auditor.Log(ctx, audit.Entry{
			Actor:        l.actorOrSystem(actor),
			Action:       "incident.status_change",
			ResourceType: "incident",
			ResourceID:   fmt.Sprintf("%d", incidentID),
			Metadata:     meta,
		}); err != nil {
			l.logger.Printf("lifecycle: audit log error: %v", err)
		}
	}
	if l.publisher != nil {
		event := events.IncidentStatusChanged{
			IncidentID: incidentID,
			OldStatus:  old,
			NewStatus:  status,
			Actor:      l.actorOrSystem(actor),
			OccurredAt: l.clock.Now().UTC(),
		}
		if err := l.publisher.Publish(ctx, event); err != nil {
			l.logger.Printf("lifecycle: publish status change: %v", err)
		}
	}
}

func (l *Lifecycle) actorOrSystem(actor string) string {
	if actor == "" {
		return l.systemActor
	}
	return actor
}
