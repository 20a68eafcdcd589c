package application

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"log"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	analysis "github.com/mariatle/DB-Kurs/internal/analysis/domain"
	analysisrepo "github.com/mariatle/DB-Kurs/internal/analysis/infrastructure/postgres"
	telemetryrepo "github.com/mariatle/DB-Kurs/internal/telemetry/infrastructure/postgres"
)

// batchArgConverter passes bigint arrays through; pgx binds []int64
// natively but sqlmock's default converter rejects slices.
type batchArgConverter struct{}

func (batchArgConverter) ConvertValue(v any) (driver.Value, error) {
	if ids, ok := v.([]int64); ok {
		return ids, nil
	}
	return driver.DefaultParameterConverter.ConvertValue(v)
}

type fixedClock struct {
	at time.Time
}

func (c fixedClock) Now() time.Time { return c.at }

type collectSink struct {
	records []analysis.Analysis
}

func (s *collectSink) OnAnalysisCreated(ctx context.Context, record analysis.Analysis) error {
	s.records = append(s.records, record)
	return nil
}

func newMockProcessor(t *testing.T, sink AnalysisSink, opts ...ProcessorOption) (*sql.DB, sqlmock.Sqlmock, *Processor) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.ValueConverterOption(batchArgConverter{}))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	processor, err := NewProcessor(db, telemetryrepo.NewReadingRepository(db), analysisrepo.NewAnalysisRepository(db), sink, log.New(log.Writer(), "", 0), opts...)
	if err != nil {
		t.Fatalf("new processor: %v", err)
	}
	return db, mock, processor
}

var readingColumns = []string{"id", "device_id", "temperature", "humidity", "co2_level", "recorded_at", "processed"}

func TestRunBatchEmpty(t *testing.T) {
	sink := &collectSink{}
	db, mock, processor := newMockProcessor(t, sink, WithRetry(1, 0))
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM readings`).
		WithArgs(10).
		WillReturnRows(sqlmock.NewRows(readingColumns))
	mock.ExpectRollback()

	processed, err := processor.RunBatch(context.Background(), 10)
	if err != nil {
		t.Fatalf("run batch: %v", err)
	}
	if processed != 0 {
		t.Fatalf("expected 0 processed, got %d", processed)
	}
	if len(sink.records) != 0 {
		t.Fatalf("expected no sink dispatch, got %d", len(sink.records))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestRunBatchScoresAndMarks(t *testing.T) {
	now := time.Date(2026, time.April, 3, 8, 0, 0, 0, time.UTC)
	recordedAt := now.Add(-time.Minute)

	sink := &collectSink{}
	db, mock, processor := newMockProcessor(t, sink, WithRetry(1, 0), WithClock(fixedClock{at: now}))
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM readings`).
		WithArgs(10).
		WillReturnRows(sqlmock.NewRows(readingColumns).
			AddRow(int64(1), int64(10), "40", "30", "1000", recordedAt, false).
			AddRow(int64(2), int64(10), nil, "50", "800", recordedAt, false))
	// temp 40, humidity 30, co2 1000 scores exactly 65.
	mock.ExpectQuery(`INSERT INTO analyses`).
		WithArgs(int64(1), "65", now).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(100)))
	// Missing temperature: the analysis row is still created, score null.
	mock.ExpectQuery(`INSERT INTO analyses`).
		WithArgs(int64(2), nil, now).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(101)))
	mock.ExpectExec(`UPDATE readings`).
		WithArgs([]int64{1, 2}).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	processed, err := processor.RunBatch(context.Background(), 10)
	if err != nil {
		t.Fatalf("run batch: %v", err)
	}
	if processed != 2 {
		t.Fatalf("expected 2 processed, got %d", processed)
	}
	if len(sink.records) != 2 {
		t.Fatalf("expected 2 sink records, got %d", len(sink.records))
	}
	if sink.records[0].ReadingID != 1 || sink.records[1].ReadingID != 2 {
		t.Fatalf("sink records out of reading order: %+v", sink.records)
	}
	if !sink.records[0].Score.Valid || sink.records[0].Score.Decimal.String() != "65" {
		t.Fatalf("expected score 65, got %+v", sink.records[0].Score)
	}
	if sink.records[1].Score.Valid {
		t.Fatalf("expected null score for incomplete reading, got %+v", sink.records[1].Score)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestRunBatchRetriesTransientFailure(t *testing.T) {
	sink := &collectSink{}
	db, mock, processor := newMockProcessor(t, sink, WithRetry(2, 0))
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM readings`).
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM readings`).
		WithArgs(5).
		WillReturnRows(sqlmock.NewRows(readingColumns))
	mock.ExpectRollback()

	processed, err := processor.RunBatch(context.Background(), 5)
	if err != nil {
		t.Fatalf("expected retry to recover, got %v", err)
	}
	if processed != 0 {
		t.Fatalf("expected 0 processed, got %d", processed)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestRunBatchExhaustsRetries(t *testing.T) {
	sink := &collectSink{}
	db, mock, processor := newMockProcessor(t, sink, WithRetry(2, 0))
	defer db.Close()

	for i := 0; i < 2; i++ {
		mock.ExpectBegin()
		mock.ExpectQuery(`FROM readings`).
			WillReturnError(errors.New("connection reset"))
		mock.ExpectRollback()
	}

	if _, err := processor.RunBatch(context.Background(), 5); err == nil {
		t.Fatal("expected error after exhausted retries")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}
