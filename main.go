package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	alarmapp "github.com/mariatle/DB-Kurs/internal/alarms/application"
	alarmevents "github.com/mariatle/DB-Kurs/internal/alarms/application/events"
	alarmrepo "github.com/mariatle/DB-Kurs/internal/alarms/infrastructure/postgres"
	alarmhttp "github.com/mariatle/DB-Kurs/internal/alarms/interfaces/http"
	analysisapp "github.com/mariatle/DB-Kurs/internal/analysis/application"
	analysisevents "github.com/mariatle/DB-Kurs/internal/analysis/application/events"
	analysis "github.com/mariatle/DB-Kurs/internal/analysis/domain"
	analysisrepo "github.com/mariatle/DB-Kurs/internal/analysis/infrastructure/postgres"
	"github.com/mariatle/DB-Kurs/internal/audit"
	"github.com/mariatle/DB-Kurs/internal/eventing"
	"github.com/mariatle/DB-Kurs/internal/eventing/eventbus"
	eventingrepo "github.com/mariatle/DB-Kurs/internal/eventing/infrastructure/postgres"
	incidentapp "github.com/mariatle/DB-Kurs/internal/incidents/application"
	incidentevents "github.com/mariatle/DB-Kurs/internal/incidents/application/events"
	incidentrepo "github.com/mariatle/DB-Kurs/internal/incidents/infrastructure/postgres"
	incidenthttp "github.com/mariatle/DB-Kurs/internal/incidents/interfaces/http"
	"github.com/mariatle/DB-Kurs/internal/observability/metrics"
	telemetryapp "github.com/mariatle/DB-Kurs/internal/telemetry/application"
	telemetryrepo "github.com/mariatle/DB-Kurs/internal/telemetry/infrastructure/postgres"
	telemetryhttp "github.com/mariatle/DB-Kurs/internal/telemetry/interfaces/http"
)

func main() {
	cfg := loadConfig()
	logger := log.New(os.Stdout, "", log.LstdFlags)

	engineCfg, err := analysisapp.LoadConfig()
	if err != nil {
		logger.Fatalf("engine config error: %v", err)
	}

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("db open error: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		logger.Fatalf("db ping error: %v", err)
	}

	metrics.Init(db, logger)
	auditRepo := audit.NewRepository(db)

	readingRepo := telemetryrepo.NewReadingRepository(db)
	deviceRepo := telemetryrepo.NewDeviceRepository(db)
	locationRepo := telemetryrepo.NewLocationRepository(db)
	analysisRepo := analysisrepo.NewAnalysisRepository(db)
	alarmRepo := alarmrepo.NewAlarmRepository(db)
	incidentRepo := incidentrepo.NewIncidentRepository(db)

	baseBus := eventbus.NewInMemoryBus()
	registry := eventing.NewRegistry()
	registry.Register(analysisevents.AnalysisCreated{})
	registry.Register(alarmevents.AlarmRaised{})
	registry.Register(alarmevents.AlarmAcknowledged{})
	registry.Register(alarmevents.AlarmResolved{})
	registry.Register(incidentevents.IncidentOpened{})
	registry.Register(incidentevents.IncidentStatusChanged{})

	outboxStore := eventingrepo.NewOutboxStore(db)
	processedStore := eventingrepo.NewProcessedStore(db)
	dlqStore := eventingrepo.NewDLQStore(db)
	dispatcher := eventing.NewDispatcher(baseBus, outboxStore, registry, dlqStore)
	publisher := eventing.NewPublisher(outboxStore, dispatcher, "hazard-engine", baseBus)

	correlator, err := incidentapp.NewCorrelator(incidentRepo, alarmRepo, logger,
		incidentapp.WithWindow(engineCfg.CorrelationWindow))
	if err != nil {
		logger.Fatalf("correlator error: %v", err)
	}
	lifecycle, err := incidentapp.NewLifecycle(db, incidentRepo, alarmRepo, logger,
		incidentapp.WithAudit(auditRepo),
		incidentapp.WithPublisher(publisher))
	if err != nil {
		logger.Fatalf("lifecycle error: %v", err)
	}
	generator, err := alarmapp.NewGenerator(db, alarmRepo, correlator, logger,
		alarmapp.WithGeneratorPublisher(publisher))
	if err != nil {
		logger.Fatalf("generator error: %v", err)
	}
	alarmService, err := alarmapp.NewService(alarmRepo, lifecycle, logger,
		alarmapp.WithServiceAudit(auditRepo),
		alarmapp.WithServicePublisher(publisher))
	if err != nil {
		logger.Fatalf("alarm service error: %v", err)
	}

	sink := &publishingSink{generator: generator, publisher: publisher, logger: logger}
	processor, err := analysisapp.NewProcessor(db, readingRepo, analysisRepo, sink, logger,
		analysisapp.WithRetry(engineCfg.RetryAttempts, engineCfg.RetryDelay))
	if err != nil {
		logger.Fatalf("processor error: %v", err)
	}
	purge, err := telemetryapp.NewPurgeService(readingRepo, time.Duration(engineCfg.RetentionDays)*24*time.Hour, logger)
	if err != nil {
		logger.Fatalf("purge service error: %v", err)
	}

	broker := alarmhttp.NewSSEBroker()
	eventing.Subscribe(baseBus, eventbus.EventTypeOf[alarmevents.AlarmRaised](), "sse.stream", broker.Notify, nil)
	eventing.Subscribe(baseBus, eventbus.EventTypeOf[alarmevents.AlarmResolved](), "sse.stream", broker.Notify, nil)
	eventing.Subscribe(baseBus, eventbus.EventTypeOf[incidentevents.IncidentStatusChanged](), "sse.stream", broker.Notify, nil)
	eventing.Subscribe(baseBus, eventbus.EventTypeOf[incidentevents.IncidentOpened](), "incidents.log", func(ctx context.Context, event any) error {
		evt, ok := event.(incidentevents.IncidentOpened)
		if !ok {
			return eventbus.ErrInvalidEventType
		}
		logger.Printf("incident %d opened at location %d (alarm %d)", evt.IncidentID, evt.LocationID, evt.AlarmID)
		return nil
	}, processedStore)

	ingestHandler, err := telemetryhttp.NewIngestHandler(readingRepo, logger)
	if err != nil {
		logger.Fatalf("ingest handler error: %v", err)
	}
	exportHandler, err := telemetryhttp.NewExportHandler(readingRepo, analysisRepo, logger)
	if err != nil {
		logger.Fatalf("export handler error: %v", err)
	}
	masterdataHandler, err := telemetryhttp.NewMasterdataHandler(locationRepo, deviceRepo, logger)
	if err != nil {
		logger.Fatalf("masterdata handler error: %v", err)
	}
	alarmHandler, err := alarmhttp.NewHandler(alarmService)
	if err != nil {
		logger.Fatalf("alarm handler error: %v", err)
	}
	incidentHandler, err := incidenthttp.NewHandler(lifecycle, alarmService)
	if err != nil {
		logger.Fatalf("incident handler error: %v", err)
	}

	go runBatchLoop(processor, engineCfg, logger)
	go runPurgeLoop(purge, engineCfg.PurgeInterval, logger)
	go runDispatchLoop(dispatcher, logger)

	mux := http.NewServeMux()
	mux.Handle("/ingest/readings", ingestHandler)
	mux.Handle("/api/v1/telemetry/export", exportHandler)
	mux.Handle("/api/v1/locations", masterdataHandler)
	mux.Handle("/api/v1/devices", masterdataHandler)
	mux.Handle("/api/v1/alarms", alarmHandler)
	mux.Handle("/api/v1/alarms/", alarmHandler)
	mux.Handle("/api/v1/alarms/stream", alarmhttp.NewStreamHandler(broker))
	mux.Handle("/api/v1/incidents", incidentHandler)
	mux.Handle("/api/v1/incidents/", incidentHandler)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{Addr: cfg.HTTPAddr, Handler: loggingMiddleware(mux, logger)}
	logger.Printf("http listening on %s", cfg.HTTPAddr)
	logger.Fatal(server.ListenAndServe())
}

func runBatchLoop(processor *analysisapp.Processor, cfg analysisapp.Config, logger *log.Logger) {
	ticker := time.NewTicker(cfg.BatchInterval)
	defer ticker.Stop()
	for range ticker.C {
		processed, err := processor.RunBatch(context.Background(), cfg.BatchLimit)
		if err != nil {
			logger.Printf("batch run error: %v", err)
			continue
		}
		if processed > 0 {
			logger.Printf("batch run processed %d readings", processed)
		}
	}
}

func runPurgeLoop(purge *telemetryapp.PurgeService, interval time.Duration, logger *log.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		if _, err := purge.Run(context.Background()); err != nil {
			logger.Printf("purge run error: %v", err)
		}
	}
}

// runDispatchLoop drains outbox records that a synchronous dispatch missed,
// e.g. after a crash between insert and delivery.
func runDispatchLoop(dispatcher *eventing.Dispatcher, logger *log.Logger) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		if err := dispatcher.Dispatch(context.Background(), 100); err != nil {
			logger.Printf("outbox dispatch error: %v", err)
		}
	}
}

// publishingSink forwards committed analyses to the alarm generator and
// mirrors them onto the event bus for downstream consumers.
type publishingSink struct {
	generator *alarmapp.Generator
	publisher *eventing.Publisher
	logger    *log.Logger
}

func (s *publishingSink) OnAnalysisCreated(ctx context.Context, record analysis.Analysis) error {
	if s.publisher != nil {
		event := analysisevents.AnalysisCreated{
			AnalysisID: record.ID,
			ReadingID:  record.ReadingID,
			Score:      record.Score,
			OccurredAt: record.AnalyzedAt,
		}
		if err := s.publisher.Publish(ctx, event); err != nil {
			s.logger.Printf("analysis event publish error: %v", err)
		}
	}
	return s.generator.OnAnalysisCreated(ctx, record)
}

type config struct {
	DatabaseURL string
	HTTPAddr    string
}

func loadConfig() config {
	cfg := config{
		DatabaseURL: getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")),
		HTTPAddr:    getenvDefault("HTTP_ADDR", ":8080"),
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL or PG_DSN is required")
	}
	return cfg
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func loggingMiddleware(next http.Handler, logger *log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.Printf("http %s %s %d %s", r.Method, r.URL.Path, resp.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
