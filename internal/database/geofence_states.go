package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"loadtrace-backend/internal/models"
)

// RecordInsideSample atomically bumps the inside streak for a (stop, vehicle)
// pair and resets the outside streak, creating the row on first contact. The
// ping path and the monitor can evaluate the same pair concurrently; doing
// the increment inside the upsert takes the row lock, so both samples count
// instead of one overwriting the other.
func (s *Store) RecordInsideSample(stopID, vehicleID string) (*models.GeofenceState, error) {
	var state models.GeofenceState
	err := s.DB.QueryRowx(`
		INSERT INTO geofence_states (stop_id, vehicle_id, containment, consecutive_inside, consecutive_outside, updated_at)
		VALUES ($1, $2, 'inside', 1, 0, $3)
		ON CONFLICT (stop_id, vehicle_id)
		DO UPDATE SET containment = 'inside',
			consecutive_inside = geofence_states.consecutive_inside + 1,
			consecutive_outside = 0,
			updated_at = $3
		RETURNING *`,
		stopID, vehicleID, time.Now().Unix()).StructScan(&state)
	if err != nil {
		return nil, fmt.Errorf("failed to record inside sample: %w", err)
	}
	return &state, nil
}

// RecordOutsideSample is the confirmed-outside counterpart of RecordInsideSample
func (s *Store) RecordOutsideSample(stopID, vehicleID string) (*models.GeofenceState, error) {
	var state models.GeofenceState
	err := s.DB.QueryRowx(`
		INSERT INTO geofence_states (stop_id, vehicle_id, containment, consecutive_inside, consecutive_outside, updated_at)
		VALUES ($1, $2, 'outside', 0, 1, $3)
		ON CONFLICT (stop_id, vehicle_id)
		DO UPDATE SET containment = 'outside',
			consecutive_inside = 0,
			consecutive_outside = geofence_states.consecutive_outside + 1,
			updated_at = $3
		RETURNING *`,
		stopID, vehicleID, time.Now().Unix()).StructScan(&state)
	if err != nil {
		return nil, fmt.Errorf("failed to record outside sample: %w", err)
	}
	return &state, nil
}

// SetArrivalAttempt stamps the cooldown clock after an arrival fires
func (s *Store) SetArrivalAttempt(stateID int64, at int64) error {
	_, err := s.DB.Exec(`
		UPDATE geofence_states SET last_arrival_attempt = $1, updated_at = $2 WHERE id = $3`,
		at, time.Now().Unix(), stateID)
	if err != nil {
		return fmt.Errorf("failed to set arrival attempt: %w", err)
	}
	return nil
}

// SetDepartureAttempt stamps the hold clock after a departure fires
func (s *Store) SetDepartureAttempt(stateID int64, at int64) error {
	_, err := s.DB.Exec(`
		UPDATE geofence_states SET last_departure_attempt = $1, updated_at = $2 WHERE id = $3`,
		at, time.Now().Unix(), stateID)
	if err != nil {
		return fmt.Errorf("failed to set departure attempt: %w", err)
	}
	return nil
}

// GetGeofenceState reads the streak record for a (stop, vehicle) pair, or nil
// when the pair has never been evaluated. Read-only: diagnostics must not
// create state as a side effect.
func (s *Store) GetGeofenceState(stopID, vehicleID string) (*models.GeofenceState, error) {
	var state models.GeofenceState
	err := s.DB.Get(&state, `
		SELECT * FROM geofence_states
		WHERE stop_id = $1 AND vehicle_id = $2`, stopID, vehicleID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get geofence state: %w", err)
	}
	return &state, nil
}
