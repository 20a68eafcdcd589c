package http

import (
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	analysisrepo "github.com/mariatle/DB-Kurs/internal/analysis/infrastructure/postgres"
	"github.com/mariatle/DB-Kurs/internal/observability/metrics"
	"github.com/mariatle/DB-Kurs/internal/reports"
	telemetryrepo "github.com/mariatle/DB-Kurs/internal/telemetry/infrastructure/postgres"
)

const defaultExportLimit = 1000

// ExportHandler serves recent readings and analyses as an XLSX workbook.
type ExportHandler struct {
	readings *telemetryrepo.ReadingRepository
	analyses *analysisrepo.AnalysisRepository
	logger   *log.Logger
}

// NewExportHandler constructs an export handler.
func NewExportHandler(readings *telemetryrepo.ReadingRepository, analyses *analysisrepo.AnalysisRepository, logger *log.Logger) (*ExportHandler, error) {
	if readings == nil || analyses == nil {
		return nil, errors.New("telemetry export: nil repository")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &ExportHandler{readings: readings, analyses: analyses, logger: logger}, nil
}

// ServeHTTP handles GET /api/v1/telemetry/export.
func (h *ExportHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	limit := defaultExportLimit
	if value := r.URL.Query().Get("limit"); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil || parsed <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	started := time.Now()
	readings, err := h.readings.ListRecent(r.Context(), limit)
	if err != nil {
		h.logger.Printf("telemetry export: list readings: %v", err)
		http.Error(w, "export failed", http.StatusInternalServerError)
		return
	}
	analyses, err := h.analyses.ListRecent(r.Context(), limit)
	if err != nil {
		h.logger.Printf("telemetry export: list analyses: %v", err)
		http.Error(w, "export failed", http.StatusInternalServerError)
		return
	}

	data, err := reports.BuildTelemetryXLSX(readings, analyses)
	if err != nil {
		metrics.ObserveReportExport("xlsx", metrics.ResultError, time.Since(started).Seconds())
		h.logger.Printf("telemetry export: build workbook: %v", err)
		http.Error(w, "export failed", http.StatusInternalServerError)
		return
	}
	metrics.ObserveReportExport("xlsx", metrics.ResultSuccess, time.Since(started).Seconds())

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", "attachment; filename=telemetry.xlsx")
	_, _ = w.Write(data)
}
