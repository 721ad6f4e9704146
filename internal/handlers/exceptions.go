package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"loadtrace-backend/internal/database"
	"loadtrace-backend/internal/middleware"
	"loadtrace-backend/internal/models"
	"loadtrace-backend/internal/services"
	"loadtrace-backend/pkg/utils"

	"github.com/go-chi/chi/v5"
)

// GetLoadExceptions lists a load's exception events, newest first.
// ?open=true restricts to unresolved events.
func GetLoadExceptions(store *database.Store) http.HandlerFunc {
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

		var events []models.ExceptionEvent
		if r.URL.Query().Get("open") == "true" {
			events, err = store.OpenExceptionsByLoad(id)
		} else {
			events, err = store.ExceptionsByLoad(id)
		}
		if err != nil {
			log.Printf("❌ Failed to fetch exceptions for load %s: %v", id, err)
			utils.Error(w, http.StatusInternalServerError, "Failed to fetch exceptions")
			return
		}
		if events == nil {
			events = []models.ExceptionEvent{}
		}
		utils.Success(w, events)
	}
}

type resolveExceptionRequest struct {
	Reason string `json:"reason"`
}

// ResolveException manually closes an open exception event
func ResolveException(store *database.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		loadID := chi.URLParam(r, "id")
		eventID := chi.URLParam(r, "eventID")
		if loadID == "" || eventID == "" {
			utils.Error(w, http.StatusBadRequest, "Bad Request")
			return
		}

		var req resolveExceptionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			utils.Error(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		if req.Reason == "" {
			req.Reason = "manually resolved"
		}

		load, err := store.GetLoad(loadID)
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

		if err := store.ResolveException(eventID, time.Now().Unix(), req.Reason); err != nil {
			log.Printf("❌ Failed to resolve exception %s: %v", eventID, err)
			utils.Error(w, http.StatusInternalServerError, "Failed to resolve exception")
			return
		}

		log.Printf("✅ Exception %s on load %s resolved by %s", eventID, loadID, claims.Email)
		utils.Success(w, map[string]bool{"ok": true})
	}
}

// TriggerExceptionScan kicks off a detector scan outside the timer. Admin only.
func TriggerExceptionScan(detector *services.ExceptionDetector) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		go detector.ScanNow()
		utils.JSON(w, http.StatusAccepted, map[string]string{"status": "scan started"})
	}
}
