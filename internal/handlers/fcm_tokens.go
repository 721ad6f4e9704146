package handlers

import (
	"encoding/json"
	"log"
	"net/http"

	"loadtrace-backend/internal/database"
	"loadtrace-backend/internal/middleware"
	"loadtrace-backend/pkg/utils"
)

type RegisterFCMTokenRequest struct {
	Token      string `json:"token"`
	DeviceType string `json:"device_type"` // "ios" or "android"
}

// RegisterFCMToken stores a push token for the authenticated user so exception
// alerts can reach their device
func RegisterFCMToken(store *database.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.GetUserFromContext(r)
		if !ok {
			utils.Error(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		var req RegisterFCMTokenRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			utils.Error(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		if req.Token == "" {
			utils.Error(w, http.StatusBadRequest, "token is required")
			return
		}
		if req.DeviceType != "ios" && req.DeviceType != "android" {
			utils.Error(w, http.StatusBadRequest, "device_type must be 'ios' or 'android'")
			return
		}

		if err := store.UpsertFCMToken(claims.UserID, req.Token, req.DeviceType); err != nil {
			log.Printf("❌ Failed to register FCM token: %v", err)
			utils.Error(w, http.StatusInternalServerError, "Failed to register token")
			return
		}

		log.Printf("📱 FCM token registered for %s (%s)", claims.Email, req.DeviceType)
		utils.Success(w, map[string]bool{"ok": true})
	}
}
