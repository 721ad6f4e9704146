package handlers

import (
	"encoding/json"
	"log"
	"net/http"

	"loadtrace-backend/internal/database"
	"loadtrace-backend/internal/middleware"
	"loadtrace-backend/internal/models"
	"loadtrace-backend/pkg/utils"

	"github.com/go-chi/chi/v5"
)

// CreateLoad creates a load together with its ordered stops in a single
// transaction. Brokers only.
func CreateLoad(store *database.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.GetUserFromContext(r)
		if !ok {
			utils.Error(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		var req models.CreateLoadRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			utils.Error(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		if req.ReferenceNumber == "" {
			utils.Error(w, http.StatusBadRequest, "reference_number is required")
			return
		}
		if len(req.Stops) == 0 {
			utils.Error(w, http.StatusBadRequest, "at least one stop is required")
			return
		}
		for i, s := range req.Stops {
			if s.Address == "" {
				utils.Error(w, http.StatusBadRequest, "every stop needs an address")
				return
			}
			switch s.StopType {
			case models.StopTypePickup, models.StopTypeDelivery, models.StopTypeOther:
			default:
				log.Printf("❌ Invalid stop_type %q on stop %d", s.StopType, i+1)
				utils.Error(w, http.StatusBadRequest, "stop_type must be 'pickup', 'delivery' or 'other'")
				return
			}
		}

		status := models.LoadStatusPending
		if req.VehicleID != nil {
			status = models.LoadStatusDispatched
		}

		load := models.Load{
			BrokerID:        claims.UserID,
			VehicleID:       req.VehicleID,
			ReferenceNumber: req.ReferenceNumber,
			Status:          status,
			DeliveryETA:     req.DeliveryETA,
		}

		stops := make([]models.Stop, len(req.Stops))
		for i, s := range req.Stops {
			stops[i] = models.Stop{
				StopType:    s.StopType,
				Address:     s.Address,
				Latitude:    s.Latitude,
				Longitude:   s.Longitude,
				WindowStart: s.WindowStart,
				WindowEnd:   s.WindowEnd,
			}
			if s.GeofenceRadiusM != nil {
				stops[i].GeofenceRadiusM = *s.GeofenceRadiusM
			}
		}

		if err := store.CreateLoadWithStops(&load, stops); err != nil {
			log.Printf("❌ Failed to create load: %v", err)
			utils.Error(w, http.StatusInternalServerError, "Failed to create load")
			return
		}

		log.Printf("📦 Load created: %s (%s) with %d stops", load.ID, load.ReferenceNumber, len(stops))
		utils.JSON(w, http.StatusCreated, models.LoadWithStops{Load: load, Stops: stops})
	}
}

// GetLoads lists the authenticated broker's loads, newest first
func GetLoads(store *database.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.GetUserFromContext(r)
		if !ok {
			utils.Error(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		loads, err := store.LoadsByBroker(claims.UserID)
		if err != nil {
			log.Printf("❌ Failed to list loads: %v", err)
			utils.Error(w, http.StatusInternalServerError, "Failed to fetch loads")
			return
		}
		if loads == nil {
			loads = []models.Load{}
		}
		utils.Success(w, loads)
	}
}

// GetLoad returns one load with its stops. Brokers can only see their own.
func GetLoad(store *database.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if id == "" {
			utils.Error(w, http.StatusBadRequest, "Bad Request")
			return
		}

		load, err := store.GetLoad(id)
		if err != nil {
			log.Printf("❌ Failed to fetch load %s: %v", id, err)
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

		stops, err := store.StopsByLoad(load.ID)
		if err != nil {
			log.Printf("❌ Failed to fetch stops for load %s: %v", id, err)
			utils.Error(w, http.StatusInternalServerError, "Database error")
			return
		}

		utils.Success(w, models.LoadWithStops{Load: *load, Stops: stops})
	}
}

// UpdateLoadStatus patches a load's lifecycle status
func UpdateLoadStatus(store *database.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if id == "" {
			utils.Error(w, http.StatusBadRequest, "Bad Request")
			return
		}

		var req models.UpdateLoadStatusRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			utils.Error(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		if !req.Status.IsActive() && !req.Status.IsTerminal() && req.Status != models.LoadStatusPending {
			utils.Error(w, http.StatusBadRequest, "Invalid status")
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

		// Terminal statuses are final
		if load.Status.IsTerminal() {
			utils.Error(w, http.StatusConflict, "Load already in a terminal status")
			return
		}

		if err := store.UpdateLoadStatus(id, req.Status); err != nil {
			log.Printf("❌ Failed to update load %s status: %v", id, err)
			utils.Error(w, http.StatusInternalServerError, "Failed to update status")
			return
		}

		log.Printf("📦 Load %s status: %s → %s", id, load.Status, req.Status)
		load.Status = req.Status
		utils.Success(w, load)
	}
}
