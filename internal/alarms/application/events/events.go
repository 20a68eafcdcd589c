package events

import "time"

// AlarmRaised is emitted once per newly persisted alarm. IncidentID is set
// when the alarm was correlated into an incident in the same transaction.
type AlarmRaised struct {
	AlarmID    int64
	AnalysisID int64
	IncidentID *int64
	Severity   string
	OccurredAt time.Time
}

// AlarmAcknowledged is emitted when an operator acknowledges an alarm.
type AlarmAcknowledged struct {
	AlarmID    int64
	Actor      string
	OccurredAt time.Time
}

// AlarmResolved is emitted when an alarm is resolved.
type AlarmResolved struct {
	AlarmID    int64
	IncidentID *int64
	Actor      string
	OccurredAt time.Time
}
