package analysis

import (
	"github.com/shopspring/decimal"

	telemetry "github.com/mariatle/DB-Kurs/internal/telemetry/domain"
)

var (
	tempOffset  = decimal.NewFromInt(15)
	tempRange   = decimal.NewFromInt(25)
	humidityCap = decimal.NewFromInt(30)
	co2Cap      = decimal.NewFromInt(2000)

	weightTemperature = decimal.RequireFromString("0.6")
	weightHumidity    = decimal.RequireFromString("0.3")
	weightCO2         = decimal.RequireFromString("0.1")

	hundred = decimal.NewFromInt(100)
	one     = decimal.NewFromInt(1)
)

// CalculateHazard derives the fire-hazard score for a reading.
//
// The score is a weighted sum of three factors, each clamped to [0, 1]
// before weighting, scaled to [0, 100] and rounded to two decimal places.
// All arithmetic is fixed-point decimal so identical inputs always produce
// identical scores. A reading with any missing input yields nil; the
// condition is the caller's to log, never an error.
func CalculateHazard(reading telemetry.Reading) *decimal.Decimal {
	if !reading.Temperature.Valid || !reading.Humidity.Valid || !reading.CO2Level.Valid {
		return nil
	}

	tempFactor := clampUnit(reading.Temperature.Decimal.Sub(tempOffset).Div(tempRange))
	humidityFactor := clampUnit(humidityCap.Sub(reading.Humidity.Decimal).Div(humidityCap))
	co2Factor := clampUnit(reading.CO2Level.Decimal.Div(co2Cap))

	hazard := tempFactor.Mul(weightTemperature).
		Add(humidityFactor.Mul(weightHumidity)).
		Add(co2Factor.Mul(weightCO2))

	score := clampUnit(hazard).Mul(hundred).Round(2)
	return &score
}

func clampUnit(value decimal.Decimal) decimal.Decimal {
	if value.IsNegative() {
		return decimal.Zero
	}
	if value.GreaterThan(one) {
		return one
	}
	return value
}
