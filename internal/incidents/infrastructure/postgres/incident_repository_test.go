package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	incidents "github.com/mariatle/DB-Kurs/internal/incidents/domain"
)

func newMockRepository(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *IncidentRepository) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	return db, mock, NewIncidentRepository(db)
}

func TestIncidentRepositoryCreate(t *testing.T) {
	db, mock, repo := newMockRepository(t)
	defer db.Close()

	detectedAt := time.Date(2026, time.April, 2, 9, 30, 0, 0, time.UTC)
	locationID := int64(3)
	incident := &incidents.Incident{
		LocationID:      &locationID,
		TimeWindowStart: detectedAt,
		Status:          incidents.StatusOpen,
		Description:     "auto-created for alarm 11",
		DetectedAt:      detectedAt,
	}

	mock.ExpectQuery(`INSERT INTO incidents`).
		WithArgs(int64(3), detectedAt, nil, "open", "auto-created for alarm 11", detectedAt, nil).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(21)))
	mock.ExpectQuery(`INSERT INTO incident_status_history`).
		WithArgs(int64(21), nil, "open", detectedAt, nil, "incident created").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))

	if err := repo.Create(context.Background(), db, incident); err != nil {
		t.Fatalf("create: %v", err)
	}
	if incident.ID != 21 {
		t.Fatalf("expected id 21, got %d", incident.ID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestIncidentRepositoryCreateConcurrent(t *testing.T) {
	db, mock, repo := newMockRepository(t)
	defer db.Close()

	locationID := int64(3)
	incident := &incidents.Incident{
		LocationID:      &locationID,
		TimeWindowStart: time.Date(2026, time.April, 2, 9, 30, 0, 0, time.UTC),
		Status:          incidents.StatusOpen,
		DetectedAt:      time.Date(2026, time.April, 2, 9, 30, 0, 0, time.UTC),
	}

	mock.ExpectQuery(`INSERT INTO incidents`).
		WillReturnError(&pgconn.PgError{Code: uniqueViolation})

	err := repo.Create(context.Background(), db, incident)
	if !errors.Is(err, ErrConcurrentCreation) {
		t.Fatalf("expected ErrConcurrentCreation, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestIncidentRepositoryFindOpenAtLocationMissing(t *testing.T) {
	db, mock, repo := newMockRepository(t)
	defer db.Close()

	horizon := time.Date(2026, time.April, 2, 7, 30, 0, 0, time.UTC)
	mock.ExpectQuery(`FROM incidents`).
		WithArgs(int64(3), "open", "investigation", horizon).
		WillReturnError(sql.ErrNoRows)

	incident, err := repo.FindOpenAtLocation(context.Background(), db, 3, horizon)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if incident != nil {
		t.Fatalf("expected no incident, got %+v", incident)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}
