package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"loadtrace-backend/internal/models"
)

// InsertPing appends a location ping. Pings are never updated or deleted.
func (s *Store) InsertPing(p *models.LocationPing) error {
	if p.Source == "" {
		p.Source = "driver_app"
	}
	if p.Timestamp == 0 {
		p.Timestamp = time.Now().Unix()
	}
	p.CreatedAt = time.Now().Unix()

	row := s.DB.QueryRow(`
		INSERT INTO location_pings (vehicle_id, load_id, latitude, longitude, accuracy, source, timestamp, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`,
		p.VehicleID, p.LoadID, p.Latitude, p.Longitude, p.Accuracy, p.Source, p.Timestamp, p.CreatedAt)

	if err := row.Scan(&p.ID); err != nil {
		return fmt.Errorf("failed to insert ping: %w", err)
	}
	return nil
}

// LatestPingForLoad returns the most recent ping for a load, or nil when the
// load has never reported
func (s *Store) LatestPingForLoad(loadID string) (*models.LocationPing, error) {
	var ping models.LocationPing
	err := s.DB.Get(&ping, `
		SELECT * FROM location_pings
		WHERE load_id = $1
		ORDER BY timestamp DESC, id DESC
		LIMIT 1`, loadID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get latest ping: %w", err)
	}
	return &ping, nil
}
