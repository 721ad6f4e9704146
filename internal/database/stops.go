package database

import (
	"fmt"
	"time"

	"loadtrace-backend/internal/models"
)

// StopsByLoad returns all stops of a load ordered by sequence
func (s *Store) StopsByLoad(loadID string) ([]models.Stop, error) {
	var stops []models.Stop
	query := `SELECT * FROM stops
	          WHERE load_id = $1
	          ORDER BY sequence_order ASC`

	if err := s.DB.Select(&stops, query, loadID); err != nil {
		return nil, fmt.Errorf("failed to get stops for load: %w", err)
	}
	return stops, nil
}

// OpenStopsByLoad returns the not-yet-departed stops of a load ordered by sequence
func (s *Store) OpenStopsByLoad(loadID string) ([]models.Stop, error) {
	var stops []models.Stop
	query := `SELECT * FROM stops
	          WHERE load_id = $1 AND departed_at IS NULL
	          ORDER BY sequence_order ASC`

	if err := s.DB.Select(&stops, query, loadID); err != nil {
		return nil, fmt.Errorf("failed to get open stops for load: %w", err)
	}
	return stops, nil
}

// SetStopCoordinates backfills resolved coordinates onto a stop so future
// evaluations skip geocoding entirely
func (s *Store) SetStopCoordinates(stopID string, lat, lng float64) error {
	_, err := s.DB.Exec(`
		UPDATE stops SET latitude = $1, longitude = $2, updated_at = $3
		WHERE id = $4 AND latitude IS NULL`,
		lat, lng, time.Now().Unix(), stopID)
	if err != nil {
		return fmt.Errorf("failed to set stop coordinates: %w", err)
	}
	return nil
}

// MarkStopArrived records an arrival. The arrived_at null-check makes the
// write idempotent: re-running the same evaluation after a crash cannot
// double-trigger. Returns whether a row was actually written.
func (s *Store) MarkStopArrived(stopID string, at int64) (bool, error) {
	res, err := s.DB.Exec(`
		UPDATE stops SET arrived_at = $1, updated_at = $2
		WHERE id = $3 AND arrived_at IS NULL`,
		at, time.Now().Unix(), stopID)
	if err != nil {
		return false, fmt.Errorf("failed to mark stop arrived: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return rows > 0, nil
}

// MarkStopDeparted records a departure. The guards enforce that a departure
// requires a prior arrival and never precedes it.
func (s *Store) MarkStopDeparted(stopID string, at int64) (bool, error) {
	res, err := s.DB.Exec(`
		UPDATE stops SET departed_at = $1, updated_at = $2
		WHERE id = $3 AND arrived_at IS NOT NULL AND departed_at IS NULL AND arrived_at <= $1`,
		at, time.Now().Unix(), stopID)
	if err != nil {
		return false, fmt.Errorf("failed to mark stop departed: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return rows > 0, nil
}
