package events

import (
	"time"

	"github.com/shopspring/decimal"
)

// AnalysisCreated is raised after a reading has been scored. Score is null
// when the reading was missing one of its inputs.
type AnalysisCreated struct {
	AnalysisID int64
	ReadingID  int64
	Score      decimal.NullDecimal
	OccurredAt time.Time
}
