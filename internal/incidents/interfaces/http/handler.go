package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	alarmapp "github.com/mariatle/DB-Kurs/internal/alarms/application"
	incidentapp "github.com/mariatle/DB-Kurs/internal/incidents/application"
	incidents "github.com/mariatle/DB-Kurs/internal/incidents/domain"
	"github.com/mariatle/DB-Kurs/internal/observability/metrics"
	"github.com/mariatle/DB-Kurs/internal/reports"
)

// Handler provides incident HTTP endpoints.
type Handler struct {
	lifecycle *incidentapp.Lifecycle
	alarms    *alarmapp.Service
}

// NewHandler constructs a handler.
func NewHandler(lifecycle *incidentapp.Lifecycle, alarmService *alarmapp.Service) (*Handler, error) {
	if lifecycle == nil {
		return nil, errors.New("incidents handler: nil lifecycle")
	}
	if alarmService == nil {
		return nil, errors.New("incidents handler: nil alarm service")
	}
	return &Handler{lifecycle: lifecycle, alarms: alarmService}, nil
}

// ServeHTTP handles /api/v1/incidents and subroutes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/api/v1/incidents":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleList(w, r)
		return
	case strings.HasPrefix(r.URL.Path, "/api/v1/incidents/"):
		h.handleItem(w, r)
		return
	default:
		w.WriteHeader(http.StatusNotFound)
		return
	}
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	limit := parseLimit(r)

	list, err := h.lifecycle.ListIncidents(r.Context(), status, limit)
	if err != nil {
		if errors.Is(err, incidents.ErrInvalidStatus) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if list == nil {
		list = []incidents.Incident{}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(list)
}

func (h *Handler) handleItem(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/incidents/")
	parts := strings.Split(path, "/")

	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		http.Error(w, "invalid incident id", http.StatusBadRequest)
		return
	}

	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.respondIncident(w, r, id)
		return
	}
	if len(parts) != 2 {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	switch parts[1] {
	case "history":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleHistory(w, r, id)
	case "alarms":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleAlarms(w, r, id)
	case "report":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleReport(w, r, id)
	case "status":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleStatusChange(w, r, id)
	case "close":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleClose(w, r, id)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) respondIncident(w http.ResponseWriter, r *http.Request, id int64) {
	incident, err := h.lifecycle.GetIncident(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(incident)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request, id int64) {
	history, err := h.lifecycle.History(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	if history == nil {
		history = []incidents.StatusHistory{}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(history)
}

func (h *Handler) handleAlarms(w http.ResponseWriter, r *http.Request, id int64) {
	list, err := h.alarms.ListByIncident(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(list)
}

func (h *Handler) handleReport(w http.ResponseWriter, r *http.Request, id int64) {
	started := time.Now()
	incident, err := h.lifecycle.GetIncident(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	linked, err := h.alarms.ListByIncident(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	history, err := h.lifecycle.History(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	data, err := reports.BuildIncidentPDF(incident, linked, history)
	if err != nil {
		metrics.ObserveReportExport("pdf", metrics.ResultError, time.Since(started).Seconds())
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	metrics.ObserveReportExport("pdf", metrics.ResultSuccess, time.Since(started).Seconds())
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=incident-%d.pdf", id))
	_, _ = w.Write(data)
}

type statusChangeRequest struct {
	Status  string `json:"status"`
	Actor   string `json:"actor"`
	Comment string `json:"comment"`
}

func (h *Handler) handleStatusChange(w http.ResponseWriter, r *http.Request, id int64) {
	var req statusChangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	applied, err := h.lifecycle.ChangeStatus(r.Context(), id, req.Status, req.Actor, req.Comment)
	if err != nil {
		if errors.Is(err, incidents.ErrInvalidStatus) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		respondError(w, err)
		return
	}
	if !applied {
		http.Error(w, "incident already in requested status", http.StatusConflict)
		return
	}
	h.respondIncident(w, r, id)
}

type closeRequest struct {
	Actor   string `json:"actor"`
	Comment string `json:"comment"`
}

func (h *Handler) handleClose(w http.ResponseWriter, r *http.Request, id int64) {
	var req closeRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
		r.Body.Close()
	}

	closed, err := h.lifecycle.CloseIncident(r.Context(), id, req.Actor, req.Comment)
	if err != nil {
		respondError(w, err)
		return
	}
	if !closed {
		http.Error(w, "incident has active alarms or is already terminal", http.StatusConflict)
		return
	}
	h.respondIncident(w, r, id)
}

func respondError(w http.ResponseWriter, err error) {
	if errors.Is(err, incidents.ErrNotFound) {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

func parseLimit(r *http.Request) int {
	value := r.URL.Query().Get("limit")
	if value == "" {
		return 0
	}
	limit, err := strconv.Atoi(value)
	if err != nil || limit < 0 {
		return 0
	}
	return limit
}
