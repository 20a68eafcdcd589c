package application

import (
	"context"
	"database/sql"
	"log"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/mariatle/DB-Kurs/internal/alarms/application/events"
	alarmrepo "github.com/mariatle/DB-Kurs/internal/alarms/infrastructure/postgres"
	analysis "github.com/mariatle/DB-Kurs/internal/analysis/domain"
	incidentapp "github.com/mariatle/DB-Kurs/internal/incidents/application"
	incidentevents "github.com/mariatle/DB-Kurs/internal/incidents/application/events"
	incidentrepo "github.com/mariatle/DB-Kurs/internal/incidents/infrastructure/postgres"
)

type fixedClock struct {
	at time.Time
}

func (c fixedClock) Now() time.Time { return c.at }

type recordingPublisher struct {
	events []any
}

func (p *recordingPublisher) Publish(ctx context.Context, event any) error {
	p.events = append(p.events, event)
	return nil
}

var incidentColumns = []string{"id", "location_id", "time_window_start", "time_window_end", "status", "description", "detected_at", "resolved_at"}

func newMockGenerator(t *testing.T, now time.Time) (*sql.DB, sqlmock.Sqlmock, *Generator, *recordingPublisher) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	logger := log.New(log.Writer(), "", 0)
	alarmRepo := alarmrepo.NewAlarmRepository(db)
	incidentRepo := incidentrepo.NewIncidentRepository(db)
	correlator, err := incidentapp.NewCorrelator(incidentRepo, alarmRepo, logger,
		incidentapp.WithCorrelatorClock(fixedClock{at: now}))
	if err != nil {
		t.Fatalf("new correlator: %v", err)
	}
	publisher := &recordingPublisher{}
	generator, err := NewGenerator(db, alarmRepo, correlator, logger,
		WithGeneratorPublisher(publisher),
		WithGeneratorClock(fixedClock{at: now}))
	if err != nil {
		t.Fatalf("new generator: %v", err)
	}
	return db, mock, generator, publisher
}

func scoredAnalysis(id int64, score int64) analysis.Analysis {
	record := analysis.Analysis{ID: id, ReadingID: id * 10}
	record.Score.Decimal = decimal.NewFromInt(score)
	record.Score.Valid = true
	return record
}

func TestGeneratorIgnoresLowScore(t *testing.T) {
	now := time.Date(2026, time.April, 3, 9, 0, 0, 0, time.UTC)
	db, mock, generator, publisher := newMockGenerator(t, now)
	defer db.Close()

	if err := generator.OnAnalysisCreated(context.Background(), scoredAnalysis(77, 40)); err != nil {
		t.Fatalf("expected no-op, got %v", err)
	}
	if len(publisher.events) != 0 {
		t.Fatalf("expected no events, got %d", len(publisher.events))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestGeneratorSkipsNullScore(t *testing.T) {
	now := time.Date(2026, time.April, 3, 9, 0, 0, 0, time.UTC)
	db, mock, generator, publisher := newMockGenerator(t, now)
	defer db.Close()

	record := analysis.Analysis{ID: 77, ReadingID: 770}
	if err := generator.OnAnalysisCreated(context.Background(), record); err != nil {
		t.Fatalf("expected no-op, got %v", err)
	}
	if len(publisher.events) != 0 {
		t.Fatalf("expected no events, got %d", len(publisher.events))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestGeneratorRaisesMediumAlarmWithoutIncident(t *testing.T) {
	now := time.Date(2026, time.April, 3, 9, 0, 0, 0, time.UTC)
	db, mock, generator, publisher := newMockGenerator(t, now)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO alarms`).
		WithArgs(int64(77), nil, "active", "medium", now).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(11)))
	mock.ExpectCommit()

	if err := generator.OnAnalysisCreated(context.Background(), scoredAnalysis(77, 55)); err != nil {
		t.Fatalf("raise: %v", err)
	}
	if len(publisher.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(publisher.events))
	}
	raised, ok := publisher.events[0].(events.AlarmRaised)
	if !ok {
		t.Fatalf("expected AlarmRaised, got %T", publisher.events[0])
	}
	if raised.AlarmID != 11 || raised.Severity != "medium" || raised.IncidentID != nil {
		t.Fatalf("unexpected event: %+v", raised)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestGeneratorAbsorbsDuplicateAlarm(t *testing.T) {
	now := time.Date(2026, time.April, 3, 9, 0, 0, 0, time.UTC)
	db, mock, generator, publisher := newMockGenerator(t, now)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO alarms`).
		WillReturnError(&pgconn.PgError{Code: "23505"})
	mock.ExpectRollback()

	if err := generator.OnAnalysisCreated(context.Background(), scoredAnalysis(77, 55)); err != nil {
		t.Fatalf("expected duplicate to be absorbed, got %v", err)
	}
	if len(publisher.events) != 0 {
		t.Fatalf("expected no events on duplicate, got %d", len(publisher.events))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestGeneratorOpensIncidentForCritical(t *testing.T) {
	now := time.Date(2026, time.April, 3, 9, 0, 0, 0, time.UTC)
	db, mock, generator, publisher := newMockGenerator(t, now)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO alarms`).
		WithArgs(int64(77), nil, "active", "critical", now).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(11)))
	mock.ExpectQuery(`SELECT devices.location_id`).
		WithArgs(int64(11)).
		WillReturnRows(sqlmock.NewRows([]string{"location_id"}).AddRow(int64(3)))
	mock.ExpectExec(`pg_advisory_xact_lock`).
		WithArgs(int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`FROM incidents`).
		WithArgs(int64(3), "open", "investigation", now.Add(-2*time.Hour)).
		WillReturnRows(sqlmock.NewRows(incidentColumns))
	mock.ExpectQuery(`INSERT INTO incidents`).
		WithArgs(int64(3), now, nil, "open", "auto-created for alarm 11", now, nil).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(21)))
	mock.ExpectQuery(`INSERT INTO incident_status_history`).
		WithArgs(int64(21), nil, "open", now, nil, "incident created").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(31)))
	mock.ExpectExec(`UPDATE alarms`).
		WithArgs(int64(21), int64(11)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := generator.OnAnalysisCreated(context.Background(), scoredAnalysis(77, 95)); err != nil {
		t.Fatalf("raise: %v", err)
	}
	if len(publisher.events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(publisher.events))
	}
	raised, ok := publisher.events[0].(events.AlarmRaised)
	if !ok {
		t.Fatalf("expected AlarmRaised first, got %T", publisher.events[0])
	}
	if raised.IncidentID == nil || *raised.IncidentID != 21 {
		t.Fatalf("expected alarm linked to incident 21, got %+v", raised)
	}
	opened, ok := publisher.events[1].(incidentevents.IncidentOpened)
	if !ok {
		t.Fatalf("expected IncidentOpened second, got %T", publisher.events[1])
	}
	if opened.IncidentID != 21 || opened.LocationID != 3 || opened.AlarmID != 11 {
		t.Fatalf("unexpected event: %+v", opened)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestGeneratorJoinsExistingIncident(t *testing.T) {
	now := time.Date(2026, time.April, 3, 9, 0, 0, 0, time.UTC)
	db, mock, generator, publisher := newMockGenerator(t, now)
	defer db.Close()

	windowStart := now.Add(-30 * time.Minute)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO alarms`).
		WithArgs(int64(77), nil, "active", "high", now).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(12)))
	mock.ExpectQuery(`SELECT devices.location_id`).
		WithArgs(int64(12)).
		WillReturnRows(sqlmock.NewRows([]string{"location_id"}).AddRow(int64(3)))
	mock.ExpectExec(`pg_advisory_xact_lock`).
		WithArgs(int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`FROM incidents`).
		WithArgs(int64(3), "open", "investigation", now.Add(-2*time.Hour)).
		WillReturnRows(sqlmock.NewRows(incidentColumns).
			AddRow(int64(21), int64(3), windowStart, nil, "open", "auto-created for alarm 11", windowStart, nil))
	mock.ExpectExec(`UPDATE incidents`).
		WithArgs(now, int64(21)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE alarms`).
		WithArgs(int64(21), int64(12)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := generator.OnAnalysisCreated(context.Background(), scoredAnalysis(77, 75)); err != nil {
		t.Fatalf("raise: %v", err)
	}
	if len(publisher.events) != 1 {
		t.Fatalf("expected only AlarmRaised for an existing incident, got %d events", len(publisher.events))
	}
	raised, ok := publisher.events[0].(events.AlarmRaised)
	if !ok {
		t.Fatalf("expected AlarmRaised, got %T", publisher.events[0])
	}
	if raised.IncidentID == nil || *raised.IncidentID != 21 {
		t.Fatalf("expected alarm joined to incident 21, got %+v", raised)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestGeneratorRetriesConcurrentIncidentCreation(t *testing.T) {
	now := time.Date(2026, time.April, 3, 9, 0, 0, 0, time.UTC)
	db, mock, generator, publisher := newMockGenerator(t, now)
	defer db.Close()

	// First attempt loses the race on incident creation.
	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO alarms`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(11)))
	mock.ExpectQuery(`SELECT devices.location_id`).
		WillReturnRows(sqlmock.NewRows([]string{"location_id"}).AddRow(int64(3)))
	mock.ExpectExec(`pg_advisory_xact_lock`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`FROM incidents`).
		WillReturnRows(sqlmock.NewRows(incidentColumns))
	mock.ExpectQuery(`INSERT INTO incidents`).
		WillReturnError(&pgconn.PgError{Code: "23505"})
	mock.ExpectRollback()

	// Second attempt finds the winner's incident.
	windowStart := now.Add(-time.Minute)
	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO alarms`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(12)))
	mock.ExpectQuery(`SELECT devices.location_id`).
		WillReturnRows(sqlmock.NewRows([]string{"location_id"}).AddRow(int64(3)))
	mock.ExpectExec(`pg_advisory_xact_lock`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`FROM incidents`).
		WillReturnRows(sqlmock.NewRows(incidentColumns).
			AddRow(int64(21), int64(3), windowStart, nil, "open", "auto-created for alarm 10", windowStart, nil))
	mock.ExpectExec(`UPDATE incidents`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE alarms`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := generator.OnAnalysisCreated(context.Background(), scoredAnalysis(77, 95)); err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if len(publisher.events) != 1 {
		t.Fatalf("expected only AlarmRaised after joining, got %d events", len(publisher.events))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}
