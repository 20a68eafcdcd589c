package application

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/mariatle/DB-Kurs/internal/alarms/application/events"
	alarms "github.com/mariatle/DB-Kurs/internal/alarms/domain"
	alarmrepo "github.com/mariatle/DB-Kurs/internal/alarms/infrastructure/postgres"
	"github.com/mariatle/DB-Kurs/internal/audit"
)

type recordingAuditor struct {
	entries []audit.Entry
}

func (a *recordingAuditor) Log(ctx context.Context, entry audit.Entry) error {
	a.entries = append(a.entries, entry)
	return nil
}

type closerCall struct {
	incidentID int64
	actor      string
	comment    string
}

type stubCloser struct {
	calls  []closerCall
	closed bool
}

func (c *stubCloser) CloseIncident(ctx context.Context, incidentID int64, actor, comment string) (bool, error) {
	c.calls = append(c.calls, closerCall{incidentID: incidentID, actor: actor, comment: comment})
	return c.closed, nil
}

var alarmColumns = []string{"id", "analysis_id", "incident_id", "status", "alarm_level", "alarm_at"}

func newMockService(t *testing.T, closer IncidentCloser, now time.Time) (*sql.DB, sqlmock.Sqlmock, *Service, *recordingPublisher, *recordingAuditor) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	publisher := &recordingPublisher{}
	auditor := &recordingAuditor{}
	service, err := NewService(alarmrepo.NewAlarmRepository(db), closer, log.New(log.Writer(), "", 0),
		WithServiceAudit(auditor),
		WithServicePublisher(publisher),
		WithServiceClock(fixedClock{at: now}))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return db, mock, service, publisher, auditor
}

func TestAcknowledgeActiveAlarm(t *testing.T) {
	now := time.Date(2026, time.April, 5, 9, 0, 0, 0, time.UTC)
	db, mock, service, publisher, auditor := newMockService(t, nil, now)
	defer db.Close()

	mock.ExpectQuery(`FROM alarms`).
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows(alarmColumns).
			AddRow(int64(5), int64(77), nil, "active", "high", now.Add(-time.Minute)))
	mock.ExpectExec(`UPDATE alarms`).
		WithArgs("acknowledged", int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	applied, err := service.Acknowledge(context.Background(), 5, "operator")
	if err != nil {
		t.Fatalf("acknowledge: %v", err)
	}
	if !applied {
		t.Fatal("expected acknowledge to apply")
	}

	if len(publisher.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(publisher.events))
	}
	acked, ok := publisher.events[0].(events.AlarmAcknowledged)
	if !ok {
		t.Fatalf("expected AlarmAcknowledged, got %T", publisher.events[0])
	}
	if acked.AlarmID != 5 || acked.Actor != "operator" {
		t.Fatalf("unexpected event: %+v", acked)
	}
	if len(auditor.entries) != 1 || auditor.entries[0].Action != "alarm.acknowledge" {
		t.Fatalf("unexpected audit trail: %+v", auditor.entries)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestAcknowledgeNonActiveAlarm(t *testing.T) {
	now := time.Date(2026, time.April, 5, 9, 0, 0, 0, time.UTC)
	db, mock, service, publisher, _ := newMockService(t, nil, now)
	defer db.Close()

	mock.ExpectQuery(`FROM alarms`).
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows(alarmColumns).
			AddRow(int64(5), int64(77), nil, "resolved", "high", now.Add(-time.Minute)))

	applied, err := service.Acknowledge(context.Background(), 5, "operator")
	if err != nil {
		t.Fatalf("acknowledge: %v", err)
	}
	if applied {
		t.Fatal("expected no-op for non-active alarm")
	}
	if len(publisher.events) != 0 {
		t.Fatalf("expected no events, got %d", len(publisher.events))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestAcknowledgeMissingAlarm(t *testing.T) {
	now := time.Date(2026, time.April, 5, 9, 0, 0, 0, time.UTC)
	db, mock, service, _, _ := newMockService(t, nil, now)
	defer db.Close()

	mock.ExpectQuery(`FROM alarms`).
		WithArgs(int64(404)).
		WillReturnError(sql.ErrNoRows)

	_, err := service.Acknowledge(context.Background(), 404, "operator")
	if !errors.Is(err, alarms.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestResolveTriggersIncidentClose(t *testing.T) {
	now := time.Date(2026, time.April, 5, 9, 0, 0, 0, time.UTC)
	closer := &stubCloser{closed: true}
	db, mock, service, publisher, _ := newMockService(t, closer, now)
	defer db.Close()

	mock.ExpectQuery(`FROM alarms`).
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows(alarmColumns).
			AddRow(int64(5), int64(77), int64(9), "active", "critical", now.Add(-time.Minute)))
	mock.ExpectExec(`UPDATE alarms`).
		WithArgs("resolved", int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	applied, err := service.Resolve(context.Background(), 5, "operator")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !applied {
		t.Fatal("expected resolve to apply")
	}

	if len(closer.calls) != 1 {
		t.Fatalf("expected 1 close attempt, got %d", len(closer.calls))
	}
	call := closer.calls[0]
	if call.incidentID != 9 || call.actor != "operator" || call.comment != "all alarms resolved" {
		t.Fatalf("unexpected close attempt: %+v", call)
	}

	if len(publisher.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(publisher.events))
	}
	resolved, ok := publisher.events[0].(events.AlarmResolved)
	if !ok {
		t.Fatalf("expected AlarmResolved, got %T", publisher.events[0])
	}
	if resolved.IncidentID == nil || *resolved.IncidentID != 9 {
		t.Fatalf("unexpected event: %+v", resolved)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestResolveAlreadyResolved(t *testing.T) {
	now := time.Date(2026, time.April, 5, 9, 0, 0, 0, time.UTC)
	closer := &stubCloser{}
	db, mock, service, publisher, _ := newMockService(t, closer, now)
	defer db.Close()

	mock.ExpectQuery(`FROM alarms`).
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows(alarmColumns).
			AddRow(int64(5), int64(77), int64(9), "resolved", "critical", now.Add(-time.Minute)))

	applied, err := service.Resolve(context.Background(), 5, "operator")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if applied {
		t.Fatal("expected no-op for already resolved alarm")
	}
	if len(closer.calls) != 0 {
		t.Fatalf("expected no close attempt, got %d", len(closer.calls))
	}
	if len(publisher.events) != 0 {
		t.Fatalf("expected no events, got %d", len(publisher.events))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}
