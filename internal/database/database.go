package database

import (
	"fmt"
	"log"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

func Connect(dbURL string) (*sqlx.DB, error) {
	log.Println("🔌 Connecting to Postgres...")

	db, err := sqlx.Connect("postgres", dbURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Println("✅ Database connection established")
	return db, nil
}

func Migrate(db *sqlx.DB) error {
	migrations := []string{
		// Create users table
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			email TEXT NOT NULL UNIQUE,
			password TEXT NOT NULL,
			name TEXT NOT NULL,
			role TEXT NOT NULL CHECK(role IN ('driver', 'broker', 'admin')),
			created_at BIGINT NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW())::BIGINT,
			updated_at BIGINT NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW())::BIGINT
		)`,

		// Create loads table
		`CREATE TABLE IF NOT EXISTS loads (
			id TEXT PRIMARY KEY,
			broker_id TEXT NOT NULL,
			vehicle_id TEXT,
			reference_number TEXT NOT NULL,
			status TEXT NOT NULL CHECK(status IN ('PENDING', 'DISPATCHED', 'IN_TRANSIT', 'AT_PICKUP', 'AT_DELIVERY', 'DELIVERED', 'CANCELLED')),
			delivery_eta BIGINT,
			tracking_token TEXT NOT NULL UNIQUE,
			created_at BIGINT NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW())::BIGINT,
			updated_at BIGINT NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW())::BIGINT,
			FOREIGN KEY (broker_id) REFERENCES users(id) ON DELETE CASCADE,
			FOREIGN KEY (vehicle_id) REFERENCES users(id) ON DELETE SET NULL
		)`,

		// Create stops table
		// Stops are created together with their load; only arrival/departure
		// timestamps and coordinate backfill are ever updated afterwards
		`CREATE TABLE IF NOT EXISTS stops (
			id TEXT PRIMARY KEY,
			load_id TEXT NOT NULL,
			sequence_order INT NOT NULL,
			stop_type TEXT NOT NULL CHECK(stop_type IN ('pickup', 'delivery', 'other')),
			address TEXT NOT NULL,
			latitude DOUBLE PRECISION,
			longitude DOUBLE PRECISION,
			geofence_radius_m DOUBLE PRECISION NOT NULL DEFAULT 300,
			window_start BIGINT,
			window_end BIGINT,
			arrived_at BIGINT,
			departed_at BIGINT,
			created_at BIGINT NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW())::BIGINT,
			updated_at BIGINT NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW())::BIGINT,
			FOREIGN KEY (load_id) REFERENCES loads(id) ON DELETE CASCADE,
			CHECK (departed_at IS NULL OR (arrived_at IS NOT NULL AND departed_at >= arrived_at))
		)`,

		// Create location_pings table (append-only)
		`CREATE TABLE IF NOT EXISTS location_pings (
			id BIGSERIAL PRIMARY KEY,
			vehicle_id TEXT NOT NULL,
			load_id TEXT NOT NULL,
			latitude DOUBLE PRECISION NOT NULL,
			longitude DOUBLE PRECISION NOT NULL,
			accuracy DOUBLE PRECISION,
			source TEXT NOT NULL DEFAULT 'driver_app',
			timestamp BIGINT NOT NULL,
			created_at BIGINT NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW())::BIGINT,
			FOREIGN KEY (load_id) REFERENCES loads(id) ON DELETE CASCADE
		)`,

		// Create geofence_states table (one row per stop/vehicle pair)
		`CREATE TABLE IF NOT EXISTS geofence_states (
			id BIGSERIAL PRIMARY KEY,
			stop_id TEXT NOT NULL,
			vehicle_id TEXT NOT NULL,
			containment TEXT NOT NULL DEFAULT 'unknown' CHECK(containment IN ('unknown', 'inside', 'outside')),
			consecutive_inside INT NOT NULL DEFAULT 0,
			consecutive_outside INT NOT NULL DEFAULT 0,
			last_arrival_attempt BIGINT,
			last_departure_attempt BIGINT,
			updated_at BIGINT NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW())::BIGINT,
			FOREIGN KEY (stop_id) REFERENCES stops(id) ON DELETE CASCADE,
			UNIQUE (stop_id, vehicle_id)
		)`,

		// Create exception_events table
		`CREATE TABLE IF NOT EXISTS exception_events (
			id TEXT PRIMARY KEY,
			load_id TEXT NOT NULL,
			type TEXT NOT NULL CHECK(type IN ('LATE', 'NO_SIGNAL', 'LONG_DWELL')),
			detected_at BIGINT NOT NULL,
			details JSONB,
			resolved BOOLEAN NOT NULL DEFAULT FALSE,
			resolved_at BIGINT,
			resolved_reason TEXT,
			created_at BIGINT NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW())::BIGINT,
			FOREIGN KEY (load_id) REFERENCES loads(id) ON DELETE CASCADE
		)`,

		// At most one unresolved event per (load, type)
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_exception_events_open
			ON exception_events(load_id, type) WHERE resolved = FALSE`,

		// Create FCM tokens table
		`CREATE TABLE IF NOT EXISTS fcm_tokens (
			id SERIAL PRIMARY KEY,
			user_id TEXT NOT NULL,
			token TEXT NOT NULL UNIQUE,
			device_type TEXT NOT NULL CHECK(device_type IN ('ios', 'android')),
			created_at BIGINT NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW())::BIGINT,
			updated_at BIGINT NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW())::BIGINT,
			FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
		)`,

		// Create indexes
		`CREATE INDEX IF NOT EXISTS idx_users_email ON users(email)`,
		`CREATE INDEX IF NOT EXISTS idx_loads_broker_id ON loads(broker_id)`,
		`CREATE INDEX IF NOT EXISTS idx_loads_status ON loads(status)`,
		`CREATE INDEX IF NOT EXISTS idx_loads_vehicle_id ON loads(vehicle_id)`,
		`CREATE INDEX IF NOT EXISTS idx_stops_load_id ON stops(load_id)`,
		`CREATE INDEX IF NOT EXISTS idx_stops_load_seq ON stops(load_id, sequence_order)`,
		`CREATE INDEX IF NOT EXISTS idx_location_pings_load_id ON location_pings(load_id, timestamp DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_location_pings_vehicle_id ON location_pings(vehicle_id, timestamp DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_geofence_states_stop_vehicle ON geofence_states(stop_id, vehicle_id)`,
		`CREATE INDEX IF NOT EXISTS idx_exception_events_load_id ON exception_events(load_id)`,
		`CREATE INDEX IF NOT EXISTS idx_fcm_tokens_user_id ON fcm_tokens(user_id)`,
	}

	for i, migration := range migrations {
		if _, err := db.Exec(migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	log.Printf("✅ Ran %d migrations", len(migrations))
	return nil
}
