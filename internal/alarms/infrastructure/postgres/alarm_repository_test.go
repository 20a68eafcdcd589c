package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	alarms "github.com/mariatle/DB-Kurs/internal/alarms/domain"
)

func newMockRepository(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *AlarmRepository) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	return db, mock, NewAlarmRepository(db)
}

func TestAlarmRepositoryCreate(t *testing.T) {
	db, mock, repo := newMockRepository(t)
	defer db.Close()

	alarmAt := time.Date(2026, time.April, 2, 9, 30, 0, 0, time.UTC)
	alarm := &alarms.Alarm{
		AnalysisID: 7,
		Status:     alarms.StatusActive,
		Severity:   alarms.SeverityHigh,
		AlarmAt:    alarmAt,
	}

	mock.ExpectQuery(`INSERT INTO alarms`).
		WithArgs(int64(7), nil, "active", "high", alarmAt).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(42)))

	if err := repo.Create(context.Background(), db, alarm); err != nil {
		t.Fatalf("create: %v", err)
	}
	if alarm.ID != 42 {
		t.Fatalf("expected id 42, got %d", alarm.ID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestAlarmRepositoryCreateDuplicate(t *testing.T) {
	db, mock, repo := newMockRepository(t)
	defer db.Close()

	alarm := &alarms.Alarm{
		AnalysisID: 7,
		Status:     alarms.StatusActive,
		Severity:   alarms.SeverityCritical,
		AlarmAt:    time.Date(2026, time.April, 2, 9, 30, 0, 0, time.UTC),
	}

	mock.ExpectQuery(`INSERT INTO alarms`).
		WillReturnError(&pgconn.PgError{Code: uniqueViolation})

	err := repo.Create(context.Background(), db, alarm)
	if !errors.Is(err, alarms.ErrDuplicateAlarm) {
		t.Fatalf("expected ErrDuplicateAlarm, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestAlarmRepositoryCreateRejectsInvalid(t *testing.T) {
	db, mock, repo := newMockRepository(t)
	defer db.Close()

	alarm := &alarms.Alarm{
		AnalysisID: 7,
		Status:     alarms.StatusActive,
		Severity:   alarms.SeverityHigh,
		AlarmAt:    time.Now().UTC().Add(time.Hour),
	}
	if err := repo.Create(context.Background(), db, alarm); err == nil {
		t.Fatal("expected validation error for future activation time")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestAlarmRepositoryLinkToIncident(t *testing.T) {
	db, mock, repo := newMockRepository(t)
	defer db.Close()

	mock.ExpectExec(`UPDATE alarms`).
		WithArgs(int64(3), int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.LinkToIncident(context.Background(), db, 5, 3); err != nil {
		t.Fatalf("link: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestAlarmRepositoryLinkToClosedIncident(t *testing.T) {
	db, mock, repo := newMockRepository(t)
	defer db.Close()

	mock.ExpectExec(`UPDATE alarms`).
		WithArgs(int64(3), int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.LinkToIncident(context.Background(), db, 5, 3)
	if !errors.Is(err, alarms.ErrNotLinkable) {
		t.Fatalf("expected ErrNotLinkable, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestAlarmRepositoryCountActiveByIncident(t *testing.T) {
	db, mock, repo := newMockRepository(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT COUNT`).
		WithArgs(int64(9), "active").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	count, err := repo.CountActiveByIncident(context.Background(), db, 9)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 active alarms, got %d", count)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestAlarmRepositoryGetByIDMissing(t *testing.T) {
	db, mock, repo := newMockRepository(t)
	defer db.Close()

	mock.ExpectQuery(`FROM alarms`).
		WithArgs(int64(404)).
		WillReturnError(sql.ErrNoRows)

	alarm, err := repo.GetByID(context.Background(), 404)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if alarm != nil {
		t.Fatalf("expected nil alarm, got %+v", alarm)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestAlarmRepositoryListByIncident(t *testing.T) {
	db, mock, repo := newMockRepository(t)
	defer db.Close()

	alarmAt := time.Date(2026, time.April, 2, 10, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"id", "analysis_id", "incident_id", "status", "alarm_level", "alarm_at"}).
		AddRow(int64(1), int64(7), int64(9), "active", "high", alarmAt).
		AddRow(int64(2), int64(8), nil, "resolved", "critical", alarmAt.Add(time.Minute))

	mock.ExpectQuery(`FROM alarms`).
		WithArgs(int64(9)).
		WillReturnRows(rows)

	result, err := repo.ListByIncident(context.Background(), 9)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(result) != 2 {
		t.Fatalf("expected 2 alarms, got %d", len(result))
	}
	if result[0].IncidentID == nil || *result[0].IncidentID != 9 {
		t.Fatalf("expected first alarm linked to incident 9, got %v", result[0].IncidentID)
	}
	if result[1].IncidentID != nil {
		t.Fatalf("expected second alarm unlinked, got %v", result[1].IncidentID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}
