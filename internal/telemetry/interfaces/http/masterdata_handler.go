package http

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	telemetry "github.com/mariatle/DB-Kurs/internal/telemetry/domain"
)

// MasterdataHandler serves the location and device registry.
type MasterdataHandler struct {
	locations telemetry.LocationRepository
	devices   telemetry.DeviceRepository
	logger    *log.Logger
}

// NewMasterdataHandler constructs a masterdata handler.
func NewMasterdataHandler(locations telemetry.LocationRepository, devices telemetry.DeviceRepository, logger *log.Logger) (*MasterdataHandler, error) {
	if locations == nil || devices == nil {
		return nil, errors.New("telemetry masterdata: nil repository")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &MasterdataHandler{locations: locations, devices: devices, logger: logger}, nil
}

// ServeHTTP routes GET /api/v1/locations and GET /api/v1/devices.
func (h *MasterdataHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	switch r.URL.Path {
	case "/api/v1/locations":
		locations, err := h.locations.List(r.Context())
		if err != nil {
			h.logger.Printf("telemetry masterdata: list locations: %v", err)
			http.Error(w, "list error", http.StatusInternalServerError)
			return
		}
		respondJSON(w, locations)
	case "/api/v1/devices":
		devices, err := h.devices.List(r.Context())
		if err != nil {
			h.logger.Printf("telemetry masterdata: list devices: %v", err)
			http.Error(w, "list error", http.StatusInternalServerError)
			return
		}
		respondJSON(w, devices)
	default:
		http.NotFound(w, r)
	}
}

func respondJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}
