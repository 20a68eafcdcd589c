package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

type config struct {
	dsn           string
	locationCount int
	devicesPerLoc int
	readings      int
	spanMinutes   int
	seed          int64
}

func main() {
	cfg := parseConfig()
	if cfg.dsn == "" {
		log.Fatal("PG_DSN or DATABASE_URL is required")
	}
	if cfg.locationCount <= 0 || cfg.devicesPerLoc <= 0 {
		log.Fatal("location-count and devices-per-location must be > 0")
	}
	if cfg.readings <= 0 {
		log.Fatal("readings must be > 0")
	}

	db, err := sql.Open("pgx", cfg.dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	rng := rand.New(rand.NewSource(cfg.seed))

	deviceIDs, err := seedTopology(ctx, db, cfg.locationCount, cfg.devicesPerLoc)
	if err != nil {
		log.Fatalf("seed topology: %v", err)
	}
	log.Printf("seeded %d locations with %d devices", cfg.locationCount, len(deviceIDs))

	if err := seedReadings(ctx, db, rng, deviceIDs, cfg.readings, cfg.spanMinutes); err != nil {
		log.Fatalf("seed readings: %v", err)
	}
	log.Printf("seeded %d readings per device over %d minutes", cfg.readings, cfg.spanMinutes)
	log.Printf("seed completed")
}

func parseConfig() config {
	cfg := config{}
	flag.StringVar(&cfg.dsn, "pg-dsn", envOrDefault("PG_DSN", envOrDefault("DATABASE_URL", "")), "Postgres DSN")
	flag.IntVar(&cfg.locationCount, "location-count", envOrInt("LOCATION_COUNT", 3), "number of locations to seed")
	flag.IntVar(&cfg.devicesPerLoc, "devices-per-location", envOrInt("DEVICES_PER_LOCATION", 4), "sensors per location")
	flag.IntVar(&cfg.readings, "readings", envOrInt("READINGS", 100), "readings per device")
	flag.IntVar(&cfg.spanMinutes, "span-minutes", envOrInt("SPAN_MINUTES", 120), "time span covered by seeded readings")
	flag.Int64Var(&cfg.seed, "seed", int64(envOrInt("SEED", 1)), "random seed")
	flag.Parse()
	return cfg
}

func seedTopology(ctx context.Context, db *sql.DB, locations, devicesPerLoc int) ([]int64, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}

	deviceIDs := make([]int64, 0, locations*devicesPerLoc)
	for i := 1; i <= locations; i++ {
		var locationID int64
		err := tx.QueryRowContext(ctx, `
INSERT INTO locations (name, description)
VALUES ($1, $2)
RETURNING id`,
			fmt.Sprintf("seed-location-%03d", i),
			"generated by seed tool",
		).Scan(&locationID)
		if err != nil {
			_ = tx.Rollback()
			return nil, err
		}

		for j := 1; j <= devicesPerLoc; j++ {
			var deviceID int64
			err := tx.QueryRowContext(ctx, `
INSERT INTO devices (location_id, inventory_number, type)
VALUES ($1, $2, $3)
RETURNING id`,
				locationID,
				fmt.Sprintf("SEED-%03d-%03d", i, j),
				"environmental",
			).Scan(&deviceID)
			if err != nil {
				_ = tx.Rollback()
				return nil, err
			}
			deviceIDs = append(deviceIDs, deviceID)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return deviceIDs, nil
}

func seedReadings(ctx context.Context, db *sql.DB, rng *rand.Rand, deviceIDs []int64, perDevice, spanMinutes int) error {
	const insertSQL = `
INSERT INTO readings (device_id, temperature, humidity, co2_level, recorded_at, processed)
VALUES ($1, $2, $3, $4, $5, FALSE)`

	start := time.Now().UTC().Add(-time.Duration(spanMinutes) * time.Minute)
	step := time.Duration(spanMinutes) * time.Minute / time.Duration(perDevice)
	if step <= 0 {
		step = time.Second
	}

	for idx, deviceID := range deviceIDs {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		stmt, err := tx.PrepareContext(ctx, insertSQL)
		if err != nil {
			_ = tx.Rollback()
			return err
		}
		for n := 0; n < perDevice; n++ {
			temperature := 20 + rng.Float64()*30 // 20..50 C
			humidity := 10 + rng.Float64()*80    // 10..90 %
			co2 := 300 + rng.Float64()*1700      // 300..2000 ppm
			recordedAt := start.Add(time.Duration(n) * step)
			if _, err := stmt.ExecContext(
				ctx,
				deviceID,
				round2(temperature),
				round2(humidity),
				round2(co2),
				recordedAt,
			); err != nil {
				_ = stmt.Close()
				_ = tx.Rollback()
				return err
			}
		}
		if err := stmt.Close(); err != nil {
			_ = tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		log.Printf("seeded readings for device %d (%d/%d)", deviceID, idx+1, len(deviceIDs))
	}
	return nil
}

func round2(value float64) float64 {
	return float64(int64(value*100+0.5)) / 100
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}
