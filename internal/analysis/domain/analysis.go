package analysis

import (
	"time"

	"github.com/shopspring/decimal"
)

// Analysis is the scored evaluation of exactly one reading. A null score
// means the calculation failed for that reading; the row is still created
// so the reading is never re-picked by the batch processor.
type Analysis struct {
	ID         int64               `json:"id"`
	ReadingID  int64               `json:"reading_id"`
	Score      decimal.NullDecimal `json:"fire_hazard"`
	AnalyzedAt time.Time           `json:"analyzed_at"`
}
