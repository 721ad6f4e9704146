package handlers

import (
	"log"
	"net/http"

	"loadtrace-backend/internal/database"
	"loadtrace-backend/internal/middleware"
	"loadtrace-backend/internal/services"
	"loadtrace-backend/pkg/utils"

	"github.com/go-chi/chi/v5"
)

// GeofenceStatus reports the monitor's health counters for ops tooling
func GeofenceStatus(monitor *services.GeofenceMonitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		utils.Success(w, monitor.Status())
	}
}

// GeofenceDebug explains where a load's vehicle stands relative to its
// current target stop: distance, radius, classification, streak state
func GeofenceDebug(store *database.Store, engine *services.StopTransitionEngine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if id == "" {
			utils.Error(w, http.StatusBadRequest, "Bad Request")
			return
		}

		load, err := store.GetLoad(id)
		if err != nil {
			utils.Error(w, http.StatusInternalServerError, "Database error")
			return
		}
		if load == nil {
			utils.Error(w, http.StatusNotFound, "Load not found")
			return
		}

		claims, _ := middleware.GetUserFromContext(r)
		if claims.Role == "broker" && load.BrokerID != claims.UserID {
			utils.Error(w, http.StatusForbidden, "Forbidden")
			return
		}

		info, err := engine.DebugInfo(id)
		if err != nil {
			log.Printf("❌ Geofence debug failed for load %s: %v", id, err)
			utils.Error(w, http.StatusInternalServerError, "Failed to build debug info")
			return
		}
		utils.Success(w, info)
	}
}
