package alarms

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const (
	StatusActive       = "active"
	StatusAcknowledged = "acknowledged"
	StatusResolved     = "resolved"
)

// Severity is an ordered alarm level.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// AtLeast reports whether s ranks at or above other.
func (s Severity) AtLeast(other Severity) bool {
	return severityRank[s] >= severityRank[other]
}

// Valid reports whether s is a recognized severity.
func (s Severity) Valid() bool {
	_, ok := severityRank[s]
	return ok
}

var (
	scoreCritical = decimal.NewFromInt(90)
	scoreHigh     = decimal.NewFromInt(70)
	scoreMedium   = decimal.NewFromInt(50)
)

// SeverityFromScore maps a hazard score to an alarm severity. Scores below
// the medium threshold are not alarm-worthy and yield ok=false.
func SeverityFromScore(score decimal.Decimal) (Severity, bool) {
	switch {
	case score.GreaterThanOrEqual(scoreCritical):
		return SeverityCritical, true
	case score.GreaterThanOrEqual(scoreHigh):
		return SeverityHigh, true
	case score.GreaterThanOrEqual(scoreMedium):
		return SeverityMedium, true
	default:
		return "", false
	}
}

// Alarm is a triggered severity event tied to exactly one analysis.
// At most one alarm may exist per (analysis, severity) pair.
type Alarm struct {
	ID         int64     `json:"id"`
	AnalysisID int64     `json:"analysis_id"`
	IncidentID *int64    `json:"incident_id,omitempty"`
	Status     string    `json:"status"`
	Severity   Severity  `json:"alarm_level"`
	AlarmAt    time.Time `json:"alarm_at"`
}

// Validate checks alarm invariants before persistence.
func (a *Alarm) Validate(now time.Time) error {
	if a == nil {
		return errors.New("alarms: nil alarm")
	}
	if a.AnalysisID == 0 {
		return errors.New("alarms: missing analysis reference")
	}
	if !a.Severity.Valid() {
		return fmt.Errorf("alarms: unknown severity %q", a.Severity)
	}
	if a.AlarmAt.After(now) {
		return errors.New("alarms: activation time is in the future")
	}
	return nil
}
