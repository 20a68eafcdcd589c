package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	alarmapp "github.com/mariatle/DB-Kurs/internal/alarms/application"
	alarms "github.com/mariatle/DB-Kurs/internal/alarms/domain"
)

// Handler provides alarm HTTP endpoints.
type Handler struct {
	service *alarmapp.Service
}

// NewHandler constructs a handler.
func NewHandler(service *alarmapp.Service) (*Handler, error) {
	if service == nil {
		return nil, errors.New("alarms handler: nil service")
	}
	return &Handler{service: service}, nil
}

// ServeHTTP handles /api/v1/alarms and subroutes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/api/v1/alarms":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleList(w, r)
		return
	case strings.HasPrefix(r.URL.Path, "/api/v1/alarms/"):
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

	list, err := h.service.List(r.Context(), status, limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if list == nil {
		list = []alarms.Alarm{}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(list)
}

func (h *Handler) handleItem(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/alarms/")
	parts := strings.Split(path, "/")

	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		http.Error(w, "invalid alarm id", http.StatusBadRequest)
		return
	}

	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.respondAlarm(w, r, id)
		return
	}
	if len(parts) != 2 {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	actor := actorFromRequest(r)
	var applied bool
	switch parts[1] {
	case "ack":
		applied, err = h.service.Acknowledge(r.Context(), id, actor)
	case "resolve":
		applied, err = h.service.Resolve(r.Context(), id, actor)
	default:
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if err != nil {
		if errors.Is(err, alarms.ErrNotFound) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !applied {
		http.Error(w, "alarm state does not allow this action", http.StatusConflict)
		return
	}
	h.respondAlarm(w, r, id)
}

func (h *Handler) respondAlarm(w http.ResponseWriter, r *http.Request, id int64) {
	alarm, err := h.service.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, alarms.ErrNotFound) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(alarm)
}

type actionRequest struct {
	Actor string `json:"actor"`
}

// actorFromRequest reads the acting identity from the JSON body, falling
// back to the X-Actor header.
func actorFromRequest(r *http.Request) string {
	var req actionRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
		r.Body.Close()
	}
	if req.Actor != "" {
		return req.Actor
	}
	return r.Header.Get("X-Actor")
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
