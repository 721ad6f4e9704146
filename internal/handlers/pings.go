package handlers

import (
	"encoding/json"
	"log"
	"net/http"

	"loadtrace-backend/internal/database"
	"loadtrace-backend/internal/middleware"
	"loadtrace-backend/internal/models"
	"loadtrace-backend/internal/services"
	"loadtrace-backend/internal/websocket"
	"loadtrace-backend/pkg/utils"
)

// SubmitPing records a driver's GPS sample, runs it through the stop
// transition engine immediately, and streams the position to the load's
// broker. A ping that fails evaluation is still persisted.
func SubmitPing(store *database.Store, engine *services.StopTransitionEngine, hub *websocket.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.GetUserFromContext(r)
		if !ok {
			utils.Error(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		var req models.SubmitPingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			utils.Error(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		if req.LoadID == "" {
			utils.Error(w, http.StatusBadRequest, "load_id is required")
			return
		}

		load, err := store.GetLoad(req.LoadID)
		if err != nil {
			utils.Error(w, http.StatusInternalServerError, "Database error")
			return
		}
		if load == nil {
			utils.Error(w, http.StatusNotFound, "Load not found")
			return
		}
		if load.VehicleID == nil || *load.VehicleID != claims.UserID {
			utils.Error(w, http.StatusForbidden, "Not the assigned vehicle for this load")
			return
		}
		if load.Status.IsTerminal() {
			utils.Error(w, http.StatusConflict, "Load is no longer being tracked")
			return
		}

		ping := models.LocationPing{
			VehicleID: claims.UserID,
			LoadID:    req.LoadID,
			Latitude:  req.Latitude,
			Longitude: req.Longitude,
			Accuracy:  req.Accuracy,
		}
		if req.Timestamp != nil {
			ping.Timestamp = *req.Timestamp
		}

		if !ping.HasFiniteCoordinates() {
			utils.Error(w, http.StatusBadRequest, "Coordinates must be finite numbers")
			return
		}

		if err := store.InsertPing(&ping); err != nil {
			log.Printf("❌ Failed to persist ping: %v", err)
			utils.Error(w, http.StatusInternalServerError, "Failed to save ping")
			return
		}

		// Evaluate inline so arrivals fire on the ping that crossed the fence,
		// not a minute later on the next monitor cycle
		if err := engine.Evaluate(claims.UserID, req.LoadID, ping.Latitude, ping.Longitude, ping.Accuracy); err != nil {
			log.Printf("⚠️  Geofence evaluation failed for ping %d: %v", ping.ID, err)
		}

		hub.BroadcastToUser(load.BrokerID, map[string]interface{}{
			"type": "load_position",
			"data": map[string]interface{}{
				"load_id":   ping.LoadID,
				"latitude":  ping.Latitude,
				"longitude": ping.Longitude,
				"accuracy":  ping.Accuracy,
				"timestamp": ping.Timestamp,
			},
		})

		utils.JSON(w, http.StatusCreated, ping)
	}
}
