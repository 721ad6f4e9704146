package handlers

import (
	"net/http"

	"loadtrace-backend/internal/database"
	"loadtrace-backend/internal/models"
	"loadtrace-backend/pkg/utils"

	"github.com/go-chi/chi/v5"
)

// trackedStop is the public view of a stop: no exact coordinates, just the
// address and arrival progress
type trackedStop struct {
	SequenceOrder int             `json:"sequence_order"`
	StopType      models.StopType `json:"stop_type"`
	Address       string          `json:"address"`
	Phase         string          `json:"phase"`
	ArrivedAt     *int64          `json:"arrived_at,omitempty"`
	DepartedAt    *int64          `json:"departed_at,omitempty"`
}

type trackingResponse struct {
	ReferenceNumber string            `json:"reference_number"`
	Status          models.LoadStatus `json:"status"`
	DeliveryETA     *int64            `json:"delivery_eta,omitempty"`
	Stops           []trackedStop     `json:"stops"`
	LastPosition    *trackedPosition  `json:"last_position,omitempty"`
}

type trackedPosition struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Timestamp int64   `json:"timestamp"`
}

// TrackLoad serves the public tracking page data by token. No auth: the
// unguessable token is the credential.
func TrackLoad(store *database.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := chi.URLParam(r, "token")
		if token == "" {
			utils.Error(w, http.StatusBadRequest, "Bad Request")
			return
		}

		load, err := store.GetLoadByToken(token)
		if err != nil {
			utils.Error(w, http.StatusInternalServerError, "Database error")
			return
		}
		if load == nil {
			utils.Error(w, http.StatusNotFound, "Not found")
			return
		}

		stops, err := store.StopsByLoad(load.ID)
		if err != nil {
			utils.Error(w, http.StatusInternalServerError, "Database error")
			return
		}

		resp := trackingResponse{
			ReferenceNumber: load.ReferenceNumber,
			Status:          load.Status,
			DeliveryETA:     load.DeliveryETA,
			Stops:           make([]trackedStop, len(stops)),
		}
		for i, s := range stops {
			resp.Stops[i] = trackedStop{
				SequenceOrder: s.SequenceOrder,
				StopType:      s.StopType,
				Address:       s.Address,
				Phase:         s.ArrivalState().Phase.String(),
				ArrivedAt:     s.ArrivedAt,
				DepartedAt:    s.DepartedAt,
			}
		}

		// Terminal loads keep their page but stop exposing live position
		if !load.Status.IsTerminal() {
			ping, err := store.LatestPingForLoad(load.ID)
			if err == nil && ping != nil {
				resp.LastPosition = &trackedPosition{
					Latitude:  ping.Latitude,
					Longitude: ping.Longitude,
					Timestamp: ping.Timestamp,
				}
			}
		}

		utils.Success(w, resp)
	}
}
