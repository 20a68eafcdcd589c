package telemetry

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Location groups devices installed at the same site.
type Location struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Device is a fixed sensor unit reporting environmental readings.
type Device struct {
	ID                 int64               `json:"id"`
	LocationID         int64               `json:"location_id"`
	InventoryNumber    string              `json:"inventory_number"`
	Type               string              `json:"type,omitempty"`
	DateOfInstallation *time.Time          `json:"date_of_installation,omitempty"`
	Latitude           decimal.NullDecimal `json:"latitude,omitempty"`
	Longitude          decimal.NullDecimal `json:"longitude,omitempty"`
}

// Reading is one raw telemetry sample from a device.
//
// Readings are append-only: ingestion creates them with Processed=false and
// the batch processor is the only writer that flips the flag. Rows may only
// be purged once processed and no longer referenced by an analysis.
type Reading struct {
	ID          int64               `json:"id"`
	DeviceID    int64               `json:"device_id"`
	Temperature decimal.NullDecimal `json:"temperature"`
	Humidity    decimal.NullDecimal `json:"humidity"`
	CO2Level    decimal.NullDecimal `json:"co2_level"`
	RecordedAt  time.Time           `json:"recorded_at"`
	Processed   bool                `json:"processed"`
}

// ReadingRepository persists raw telemetry readings.
type ReadingRepository interface {
	InsertReadings(ctx context.Context, readings []Reading) error
}

// LocationRepository loads locations.
type LocationRepository interface {
	GetByID(ctx context.Context, id int64) (*Location, error)
	List(ctx context.Context) ([]Location, error)
}

// DeviceRepository loads devices.
type DeviceRepository interface {
	GetByID(ctx context.Context, id int64) (*Device, error)
	List(ctx context.Context) ([]Device, error)
}
