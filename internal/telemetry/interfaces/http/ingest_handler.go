package http

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mariatle/DB-Kurs/internal/observability/metrics"
	telemetry "github.com/mariatle/DB-Kurs/internal/telemetry/domain"
)

// IngestHandler accepts raw readings from external collectors.
type IngestHandler struct {
	repo   telemetry.ReadingRepository
	logger *log.Logger
}

// NewIngestHandler constructs an ingest handler.
func NewIngestHandler(repo telemetry.ReadingRepository, logger *log.Logger) (*IngestHandler, error) {
	if repo == nil {
		return nil, errors.New("telemetry ingest: nil repository")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &IngestHandler{repo: repo, logger: logger}, nil
}

// ServeHTTP ingests a batch of readings.
func (h *IngestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.Printf("telemetry ingest: read body error: %v", err)
		http.Error(w, "read body error", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	var req ingestRequest
	if err := json.Unmarshal(body, &req); err != nil {
		h.logger.Printf("telemetry ingest: decode error: %v", err)
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	readings, err := req.toReadings()
	if err != nil {
		h.logger.Printf("telemetry ingest: invalid payload: %v", err)
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	if err := h.repo.InsertReadings(r.Context(), readings); err != nil {
		metrics.IncIngest("error")
		h.logger.Printf("telemetry ingest: insert error: %v", err)
		http.Error(w, "insert error", http.StatusInternalServerError)
		return
	}
	metrics.IncIngest("success")
	metrics.AddReadingsIngested(len(readings))

	resp := map[string]any{"inserted": len(readings)}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

type ingestRequest struct {
	Readings []ingestReading `json:"readings"`
}

type ingestReading struct {
	DeviceID    int64    `json:"device_id"`
	Temperature *float64 `json:"temperature"`
	Humidity    *float64 `json:"humidity"`
	CO2Level    *float64 `json:"co2_level"`
	RecordedAt  string   `json:"recorded_at"`
}

func (r ingestRequest) toReadings() ([]telemetry.Reading, error) {
	if len(r.Readings) == 0 {
		return nil, errors.New("no readings")
	}
	readings := make([]telemetry.Reading, 0, len(r.Readings))
	for _, item := range r.Readings {
		if item.DeviceID == 0 {
			return nil, errors.New("missing device_id")
		}
		recordedAt := time.Now().UTC()
		if item.RecordedAt != "" {
			parsed, err := time.Parse(time.RFC3339, item.RecordedAt)
			if err != nil {
				return nil, errors.New("invalid recorded_at")
			}
			recordedAt = parsed.UTC()
		}
		readings = append(readings, telemetry.Reading{
			DeviceID:    item.DeviceID,
			Temperature: nullDecimal(item.Temperature),
			Humidity:    nullDecimal(item.Humidity),
			CO2Level:    nullDecimal(item.CO2Level),
			RecordedAt:  recordedAt,
		})
	}
	return readings, nil
}

func nullDecimal(value *float64) decimal.NullDecimal {
	if value == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: decimal.NewFromFloat(*value), Valid: true}
}
