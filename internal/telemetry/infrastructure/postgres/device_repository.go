package postgres

import (
	"context"
	"database/sql"
	"errors"

	telemetry "github.com/mariatle/DB-Kurs/internal/telemetry/domain"
)

// DeviceRepository is a Postgres repository for devices.
type DeviceRepository struct {
	db *sql.DB
}

// NewDeviceRepository constructs a repository.
func NewDeviceRepository(db *sql.DB) *DeviceRepository {
	return &DeviceRepository{db: db}
}

// GetByID fetches a device.
func (r *DeviceRepository) GetByID(ctx context.Context, id int64) (*telemetry.Device, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("device repo: nil db")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT id, location_id, inventory_number, type, date_of_installation, latitude, longitude
FROM devices
WHERE id = $1`, id)
	return scanDevice(row)
}

// List returns all devices in id order.
func (r *DeviceRepository) List(ctx context.Context) ([]telemetry.Device, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("device repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT id, location_id, inventory_number, type, date_of_installation, latitude, longitude
FROM devices
ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []telemetry.Device
	for rows.Next() {
		device, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *device)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func scanDevice(row readingScanner) (*telemetry.Device, error) {
	var device telemetry.Device
	var deviceType sql.NullString
	var installedAt sql.NullTime
	if err := row.Scan(
		&device.ID,
		&device.LocationID,
		&device.InventoryNumber,
		&deviceType,
		&installedAt,
		&device.Latitude,
		&device.Longitude,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if deviceType.Valid {
		device.Type = deviceType.String
	}
	if installedAt.Valid {
		at := installedAt.Time.UTC()
		device.DateOfInstallation = &at
	}
	return &device, nil
}

// LocationRepository is a Postgres repository for locations.
type LocationRepository struct {
	db *sql.DB
}

// NewLocationRepository constructs a repository.
func NewLocationRepository(db *sql.DB) *LocationRepository {
	return &LocationRepository{db: db}
}

// GetByID fetches a location.
func (r *LocationRepository) GetByID(ctx context.Context, id int64) (*telemetry.Location, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("location repo: nil db")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT id, location_name, COALESCE(description, '')
FROM locations
WHERE id = $1`, id)
	var location telemetry.Location
	if err := row.Scan(&location.ID, &location.Name, &location.Description); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &location, nil
}

// List returns all locations in name order.
func (r *LocationRepository) List(ctx context.Context) ([]telemetry.Location, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("location repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT id, location_name, COALESCE(description, '')
FROM locations
ORDER BY location_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []telemetry.Location
	for rows.Next() {
		var location telemetry.Location
		if err := rows.Scan(&location.ID, &location.Name, &location.Description); err != nil {
			return nil, err
		}
		result = append(result, location)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
