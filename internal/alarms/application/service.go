package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/mariatle/DB-Kurs/internal/alarms/application/events"
	alarms "github.com/mariatle/DB-Kurs/internal/alarms/domain"
	alarmrepo "github.com/mariatle/DB-Kurs/internal/alarms/infrastructure/postgres"
	"github.com/mariatle/DB-Kurs/internal/audit"
	"github.com/mariatle/DB-Kurs/internal/observability/metrics"
)

// IncidentCloser attempts to close an incident once its alarms quiet down.
type IncidentCloser interface {
	CloseIncident(ctx context.Context, incidentID int64, actor, comment string) (bool, error)
}

// Service exposes operator actions on alarms.
type Service struct {
	alarms    *alarmrepo.AlarmRepository
	incidents IncidentCloser
	auditor   audit.Logger
	publisher EventPublisher
	logger    *log.Logger
	clock     Clock
}

// ServiceOption customizes the service.
type ServiceOption func(*Service)

// WithServiceAudit assigns an audit logger.
func WithServiceAudit(auditor audit.Logger) ServiceOption {
	return func(s *Service) {
		s.auditor = auditor
	}
}

// WithServicePublisher assigns an event publisher.
func WithServicePublisher(publisher EventPublisher) ServiceOption {
	return func(s *Service) {
		s.publisher = publisher
	}
}

// WithServiceClock assigns a clock.
func WithServiceClock(clock Clock) ServiceOption {
	return func(s *Service) {
		s.clock = clock
	}
}

// NewService constructs an alarm service.
func NewService(alarmsRepo *alarmrepo.AlarmRepository, incidents IncidentCloser, logger *log.Logger, opts ...ServiceOption) (*Service, error) {
	if alarmsRepo == nil {
		return nil, errors.New("alarm service: nil repository")
	}
	if logger == nil {
		logger = log.Default()
	}
	service := &Service{
		alarms:    alarmsRepo,
		incidents: incidents,
		logger:    logger,
		clock:     systemClock{},
	}
	for _, opt := range opts {
		opt(service)
	}
	return service, nil
}

// Acknowledge moves an active alarm to acknowledged. It returns false when
// the alarm is not active.
func (s *Service) Acknowledge(ctx context.Context, alarmID int64, actor string) (bool, error) {
	if s == nil {
		return false, errors.New("alarm service: nil service")
	}
	alarm, err := s.alarms.GetByID(ctx, alarmID)
	if err != nil {
		return false, err
	}
	if alarm == nil {
		return false, alarms.ErrNotFound
	}
	if alarm.Status != alarms.StatusActive {
		return false, nil
	}
	if err := s.alarms.UpdateStatus(ctx, alarmID, alarms.StatusAcknowledged); err != nil {
		return false, err
	}
	metrics.IncAlarmEvent(string(alarm.Severity), "acknowledged")
	s.audit(ctx, actor, "alarm.acknowledge", alarmID, alarm.Status, alarms.StatusAcknowledged)
	if s.publisher != nil {
		event := events.AlarmAcknowledged{
			AlarmID:    alarmID,
			Actor:      actor,
			OccurredAt: s.clock.Now().UTC(),
		}
		if err := s.publisher.Publish(ctx, event); err != nil {
			s.logger.Printf("alarm service: publish acknowledge: %v", err)
		}
	}
	return true, nil
}

// Resolve moves an active or acknowledged alarm to resolved. When the alarm
// was the last active one on its incident, the incident is closed as well;
// that close is best effort and never fails the resolve.
func (s *Service) Resolve(ctx context.Context, alarmID int64, actor string) (bool, error) {
	if s == nil {
		return false, errors.New("alarm service: nil service")
	}
	alarm, err := s.alarms.GetByID(ctx, alarmID)
	if err != nil {
		return false, err
	}
	if alarm == nil {
		return false, alarms.ErrNotFound
	}
	if alarm.Status == alarms.StatusResolved {
		return false, nil
	}
	if err := s.alarms.UpdateStatus(ctx, alarmID, alarms.StatusResolved); err != nil {
		return false, err
	}
	metrics.IncAlarmEvent(string(alarm.Severity), "resolved")
	s.audit(ctx, actor, "alarm.resolve", alarmID, alarm.Status, alarms.StatusResolved)
	if s.publisher != nil {
		event := events.AlarmResolved{
			AlarmID:    alarmID,
			IncidentID: alarm.IncidentID,
			Actor:      actor,
			OccurredAt: s.clock.Now().UTC(),
		}
		if err := s.publisher.Publish(ctx, event); err != nil {
			s.logger.Printf("alarm service: publish resolve: %v", err)
		}
	}
	if alarm.IncidentID != nil && s.incidents != nil {
		closed, err := s.incidents.CloseIncident(ctx, *alarm.IncidentID, actor, "all alarms resolved")
		if err != nil {
			s.logger.Printf("alarm service: close incident %d: %v", *alarm.IncidentID, err)
		} else if closed {
			s.logger.Printf("alarm service: incident %d closed after alarm %d resolved", *alarm.IncidentID, alarmID)
		}
	}
	return true, nil
}

// Get fetches one alarm.
func (s *Service) Get(ctx context.Context, alarmID int64) (*alarms.Alarm, error) {
	if s == nil {
		return nil, errors.New("alarm service: nil service")
	}
	alarm, err := s.alarms.GetByID(ctx, alarmID)
	if err != nil {
		return nil, err
	}
	if alarm == nil {
		return nil, alarms.ErrNotFound
	}
	return alarm, nil
}

// List lists alarms, optionally filtered by status.
func (s *Service) List(ctx context.Context, status string, limit int) ([]alarms.Alarm, error) {
	if s == nil {
		return nil, errors.New("alarm service: nil service")
	}
	return s.alarms.ListByStatus(ctx, status, limit)
}

// ListByIncident lists the alarms correlated into one incident.
func (s *Service) ListByIncident(ctx context.Context, incidentID int64) ([]alarms.Alarm, error) {
	if s == nil {
		return nil, errors.New("alarm service: nil service")
	}
	return s.alarms.ListByIncident(ctx, incidentID)
}

func (s *Service) audit(ctx context.Context, actor, action string, alarmID int64, oldStatus, newStatus string) {
	if s.auditor == nil {
		return
	}
	meta, _ := json.Marshal(map[string]string{"old_status": oldStatus, "new_status": newStatus})
	if err := s.auditor.Log(ctx, audit.Entry{
		Actor:        actor,
		Action:       action,
		ResourceType: "alarm",
		ResourceID:   fmt.Sprintf("%d", alarmID),
		Metadata:     meta,
	}); err != nil {
		s.logger.Printf("alarm service: audit log error: %v", err)
	}
}
