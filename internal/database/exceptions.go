package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"loadtrace-backend/internal/models"

	"github.com/google/uuid"
)

// UnresolvedException returns the open event of a given type on a load, or
// nil when none exists. The detector checks this before creating.
func (s *Store) UnresolvedException(loadID string, t models.ExceptionType) (*models.ExceptionEvent, error) {
	var ev models.ExceptionEvent
	err := s.DB.Get(&ev, `
		SELECT * FROM exception_events
		WHERE load_id = $1 AND type = $2 AND resolved = FALSE`, loadID, t)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get unresolved exception: %w", err)
	}
	return &ev, nil
}

// CreateException opens a new exception event
func (s *Store) CreateException(ev *models.ExceptionEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.DetectedAt == 0 {
		ev.DetectedAt = time.Now().Unix()
	}
	ev.CreatedAt = time.Now().Unix()

	_, err := s.DB.Exec(`
		INSERT INTO exception_events (id, load_id, type, detected_at, details, resolved, created_at)
		VALUES ($1, $2, $3, $4, $5, FALSE, $6)`,
		ev.ID, ev.LoadID, ev.Type, ev.DetectedAt, ev.Details, ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create exception: %w", err)
	}
	return nil
}

// ResolveException closes a single event
func (s *Store) ResolveException(id string, at int64, reason string) error {
	_, err := s.DB.Exec(`
		UPDATE exception_events
		SET resolved = TRUE, resolved_at = $1, resolved_reason = $2
		WHERE id = $3 AND resolved = FALSE`, at, reason, id)
	if err != nil {
		return fmt.Errorf("failed to resolve exception: %w", err)
	}
	return nil
}

// ResolveAllForLoad force-closes every open event on a load, regardless of
// type. Used when a load reaches a terminal status.
func (s *Store) ResolveAllForLoad(loadID string, at int64, reason string) error {
	_, err := s.DB.Exec(`
		UPDATE exception_events
		SET resolved = TRUE, resolved_at = $1, resolved_reason = $2
		WHERE load_id = $3 AND resolved = FALSE`, at, reason, loadID)
	if err != nil {
		return fmt.Errorf("failed to resolve exceptions for load: %w", err)
	}
	return nil
}

// ExceptionsByLoad returns all events for a load, newest first
func (s *Store) ExceptionsByLoad(loadID string) ([]models.ExceptionEvent, error) {
	var events []models.ExceptionEvent
	err := s.DB.Select(&events, `
		SELECT * FROM exception_events
		WHERE load_id = $1
		ORDER BY detected_at DESC`, loadID)
	if err != nil {
		return nil, fmt.Errorf("failed to get exceptions for load: %w", err)
	}
	return events, nil
}

// OpenExceptionsByLoad returns the unresolved events for a load
func (s *Store) OpenExceptionsByLoad(loadID string) ([]models.ExceptionEvent, error) {
	var events []models.ExceptionEvent
	err := s.DB.Select(&events, `
		SELECT * FROM exception_events
		WHERE load_id = $1 AND resolved = FALSE
		ORDER BY detected_at DESC`, loadID)
	if err != nil {
		return nil, fmt.Errorf("failed to get open exceptions for load: %w", err)
	}
	return events, nil
}
