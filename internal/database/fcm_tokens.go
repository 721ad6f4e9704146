package database

import (
	"fmt"
	"time"

	"loadtrace-backend/internal/models"
)

// UpsertFCMToken registers or refreshes a push token for a user. A token
// string is unique across users: re-registering moves it to the new owner.
func (s *Store) UpsertFCMToken(userID, token, deviceType string) error {
	now := time.Now().Unix()
	_, err := s.DB.Exec(`
		INSERT INTO fcm_tokens (user_id, token, device_type, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (token)
		DO UPDATE SET user_id = EXCLUDED.user_id, device_type = EXCLUDED.device_type, updated_at = EXCLUDED.updated_at`,
		userID, token, deviceType, now)
	if err != nil {
		return fmt.Errorf("failed to upsert FCM token: %w", err)
	}
	return nil
}

// FCMTokensForUser returns all push tokens registered by a user
func (s *Store) FCMTokensForUser(userID string) ([]models.FCMToken, error) {
	var tokens []models.FCMToken
	err := s.DB.Select(&tokens, `
		SELECT * FROM fcm_tokens WHERE user_id = $1 ORDER BY updated_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get FCM tokens for user: %w", err)
	}
	return tokens, nil
}

// DeleteFCMToken removes a token, typically after the provider reports it dead
func (s *Store) DeleteFCMToken(token string) error {
	if _, err := s.DB.Exec(`DELETE FROM fcm_tokens WHERE token = $1`, token); err != nil {
		return fmt.Errorf("failed to delete FCM token: %w", err)
	}
	return nil
}
