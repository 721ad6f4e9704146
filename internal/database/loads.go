package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"loadtrace-backend/internal/models"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// ActiveLoadsWithVehicle returns loads the geofence monitor should evaluate:
// active status and an assigned vehicle
func (s *Store) ActiveLoadsWithVehicle() ([]models.Load, error) {
	query, args, err := sqlx.In(`
		SELECT * FROM loads
		WHERE status IN (?) AND vehicle_id IS NOT NULL
		ORDER BY created_at ASC`, models.ActiveLoadStatuses)
	if err != nil {
		return nil, fmt.Errorf("failed to build active loads query: %w", err)
	}

	var loads []models.Load
	if err := s.DB.Select(&loads, s.DB.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to get active loads: %w", err)
	}
	return loads, nil
}

// ActiveLoadsForBroker returns a broker's loads in an active status
func (s *Store) ActiveLoadsForBroker(brokerID string) ([]models.Load, error) {
	query, args, err := sqlx.In(`
		SELECT * FROM loads
		WHERE broker_id = ? AND status IN (?)
		ORDER BY created_at ASC`, brokerID, models.ActiveLoadStatuses)
	if err != nil {
		return nil, fmt.Errorf("failed to build broker loads query: %w", err)
	}

	var loads []models.Load
	if err := s.DB.Select(&loads, s.DB.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to get broker loads: %w", err)
	}
	return loads, nil
}

// BrokerIDs returns the ids of all broker users
func (s *Store) BrokerIDs() ([]string, error) {
	var ids []string
	if err := s.DB.Select(&ids, `SELECT id FROM users WHERE role = 'broker' ORDER BY created_at ASC`); err != nil {
		return nil, fmt.Errorf("failed to get broker ids: %w", err)
	}
	return ids, nil
}

// GetLoad fetches a single load by id
func (s *Store) GetLoad(id string) (*models.Load, error) {
	var load models.Load
	if err := s.DB.Get(&load, `SELECT * FROM loads WHERE id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get load %s: %w", id, err)
	}
	return &load, nil
}

// GetLoadByToken fetches a load by its public tracking token
func (s *Store) GetLoadByToken(token string) (*models.Load, error) {
	var load models.Load
	if err := s.DB.Get(&load, `SELECT * FROM loads WHERE tracking_token = $1`, token); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get load by token: %w", err)
	}
	return &load, nil
}

// LoadsByBroker returns all loads for a broker, newest first
func (s *Store) LoadsByBroker(brokerID string) ([]models.Load, error) {
	var loads []models.Load
	err := s.DB.Select(&loads, `SELECT * FROM loads WHERE broker_id = $1 ORDER BY created_at DESC`, brokerID)
	if err != nil {
		return nil, fmt.Errorf("failed to get loads for broker: %w", err)
	}
	return loads, nil
}

// CreateLoadWithStops inserts a load and its stops in one transaction.
// Stops are append-only afterwards.
func (s *Store) CreateLoadWithStops(load *models.Load, stops []models.Stop) error {
	tx, err := s.DB.Beginx()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().Unix()
	if load.ID == "" {
		load.ID = uuid.New().String()
	}
	if load.TrackingToken == "" {
		load.TrackingToken = uuid.New().String()
	}
	load.CreatedAt = now
	load.UpdatedAt = now

	_, err = tx.Exec(`
		INSERT INTO loads (id, broker_id, vehicle_id, reference_number, status, delivery_eta, tracking_token, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		load.ID, load.BrokerID, load.VehicleID, load.ReferenceNumber, load.Status,
		load.DeliveryETA, load.TrackingToken, load.CreatedAt, load.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create load: %w", err)
	}

	for i := range stops {
		stop := &stops[i]
		if stop.ID == "" {
			stop.ID = uuid.New().String()
		}
		stop.LoadID = load.ID
		stop.SequenceOrder = i + 1
		if stop.GeofenceRadiusM <= 0 {
			stop.GeofenceRadiusM = models.DefaultGeofenceRadiusM
		}
		stop.CreatedAt = now
		stop.UpdatedAt = now

		_, err = tx.Exec(`
			INSERT INTO stops (id, load_id, sequence_order, stop_type, address, latitude, longitude,
				geofence_radius_m, window_start, window_end, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			stop.ID, stop.LoadID, stop.SequenceOrder, stop.StopType, stop.Address,
			stop.Latitude, stop.Longitude, stop.GeofenceRadiusM,
			stop.WindowStart, stop.WindowEnd, stop.CreatedAt, stop.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to create stop %d: %w", i+1, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit load creation: %w", err)
	}
	return nil
}

// UpdateLoadStatus sets a load's status
func (s *Store) UpdateLoadStatus(id string, status models.LoadStatus) error {
	res, err := s.DB.Exec(`UPDATE loads SET status = $1, updated_at = $2 WHERE id = $3`,
		status, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to update load status: %w", err)
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("load %s not found", id)
	}
	return nil
}

// TerminalLoadsWithOpenExceptions finds delivered/cancelled loads that still
// carry unresolved exceptions, for the detector's cleanup pass
func (s *Store) TerminalLoadsWithOpenExceptions() ([]models.Load, error) {
	var loads []models.Load
	err := s.DB.Select(&loads, `
		SELECT DISTINCT l.* FROM loads l
		INNER JOIN exception_events e ON e.load_id = l.id AND e.resolved = FALSE
		WHERE l.status IN ('DELIVERED', 'CANCELLED')`)
	if err != nil {
		return nil, fmt.Errorf("failed to get terminal loads with open exceptions: %w", err)
	}
	return loads, nil
}
