package events

import "time"

// IncidentOpened is emitted when correlation opens a new incident.
type IncidentOpened struct {
	IncidentID int64
	LocationID int64
	AlarmID    int64
	OccurredAt time.Time
}

// IncidentStatusChanged is emitted for every applied lifecycle transition.
type IncidentStatusChanged struct {
	IncidentID int64
	OldStatus  string
	NewStatus  string
	Actor      string
	OccurredAt time.Time
}
