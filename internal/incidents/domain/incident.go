package incidents

import (
	"errors"
	"fmt"
	"time"
)

const (
	StatusOpen          = "open"
	StatusInvestigation = "investigation"
	StatusResolved      = "resolved"
	StatusClosed        = "closed"
)

// ErrNotFound indicates a missing incident record.
var ErrNotFound = errors.New("incidents: not found")

// ErrInvalidStatus indicates an unrecognized target status for a lifecycle
// transition. Nothing is persisted when it is returned.
var ErrInvalidStatus = errors.New("incidents: invalid status")

var knownStatuses = map[string]struct{}{
	StatusOpen:          {},
	StatusInvestigation: {},
	StatusResolved:      {},
	StatusClosed:        {},
}

// ParseStatus validates a lifecycle status value.
func ParseStatus(value string) (string, error) {
	if _, ok := knownStatuses[value]; !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, value)
	}
	return value, nil
}

// IsTerminal reports whether a status ends the incident lifecycle.
func IsTerminal(status string) bool {
	return status == StatusResolved || status == StatusClosed
}

// Incident is a time-windowed aggregation of correlated high-severity
// alarms at one location.
type Incident struct {
	ID              int64      `json:"id"`
	LocationID      *int64     `json:"location_id,omitempty"`
	TimeWindowStart time.Time  `json:"time_window_start"`
	TimeWindowEnd   *time.Time `json:"time_window_end,omitempty"`
	Status          string     `json:"status"`
	Description     string     `json:"description,omitempty"`
	DetectedAt      time.Time  `json:"detected_at"`
	ResolvedAt      *time.Time `json:"resolved_at,omitempty"`
}

// Validate checks incident invariants: resolved_at is present exactly for
// terminal statuses and never precedes detection.
func (i *Incident) Validate() error {
	if i == nil {
		return errors.New("incidents: nil incident")
	}
	if _, err := ParseStatus(i.Status); err != nil {
		return err
	}
	if IsTerminal(i.Status) != (i.ResolvedAt != nil) {
		return errors.New("incidents: resolved_at must be set exactly for resolved or closed incidents")
	}
	if i.ResolvedAt != nil && i.ResolvedAt.Before(i.DetectedAt) {
		return errors.New("incidents: resolution cannot precede detection")
	}
	return nil
}

// StatusHistory is one append-only audit record of a status transition.
// OldStatus is nil only for the synthesized creation record.
type StatusHistory struct {
	ID         int64     `json:"id"`
	IncidentID int64     `json:"incident_id"`
	OldStatus  *string   `json:"old_status,omitempty"`
	NewStatus  string    `json:"new_status"`
	ChangedAt  time.Time `json:"changed_at"`
	Actor      string    `json:"actor,omitempty"`
	Comment    string    `json:"comment,omitempty"`
}
