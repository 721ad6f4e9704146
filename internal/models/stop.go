package models

import "fmt"

// StopType represents the kind of stop on a load
type StopType string

const (
	StopTypePickup   StopType = "pickup"
	StopTypeDelivery StopType = "delivery"
	StopTypeOther    StopType = "other"
)

// DefaultGeofenceRadiusM is the geofence radius applied when a stop doesn't
// configure its own
const DefaultGeofenceRadiusM = 300.0

// Stop represents a pickup/delivery/waypoint location on a load.
// Stops are created together with their load and are append-only except for
// the arrival/departure timestamps and coordinate backfill.
type Stop struct {
	ID              string   `json:"id" db:"id"`
	LoadID          string   `json:"load_id" db:"load_id"`
	SequenceOrder   int      `json:"sequence_order" db:"sequence_order"`
	StopType        StopType `json:"stop_type" db:"stop_type"`
	Address         string   `json:"address" db:"address"`
	Latitude        *float64 `json:"latitude,omitempty" db:"latitude"`
	Longitude       *float64 `json:"longitude,omitempty" db:"longitude"`
	GeofenceRadiusM float64  `json:"geofence_radius_m" db:"geofence_radius_m"`
	WindowStart     *int64   `json:"window_start,omitempty" db:"window_start"` // Unix timestamp
	WindowEnd       *int64   `json:"window_end,omitempty" db:"window_end"`     // Unix timestamp
	ArrivedAt       *int64   `json:"arrived_at,omitempty" db:"arrived_at"`     // Unix timestamp
	DepartedAt      *int64   `json:"departed_at,omitempty" db:"departed_at"`   // Unix timestamp
	CreatedAt       int64    `json:"created_at" db:"created_at"`
	UpdatedAt       int64    `json:"updated_at" db:"updated_at"`
}

// CreateStopRequest is the per-stop payload inside CreateLoadRequest
type CreateStopRequest struct {
	StopType        StopType `json:"stop_type"`
	Address         string   `json:"address"`
	Latitude        *float64 `json:"latitude,omitempty"`
	Longitude       *float64 `json:"longitude,omitempty"`
	GeofenceRadiusM *float64 `json:"geofence_radius_m,omitempty"`
	WindowStart     *int64   `json:"window_start,omitempty"`
	WindowEnd       *int64   `json:"window_end,omitempty"`
}

// HasCoordinates reports whether the stop's address has been resolved
func (s *Stop) HasCoordinates() bool {
	return s.Latitude != nil && s.Longitude != nil
}

// Radius returns the effective geofence radius in meters
func (s *Stop) Radius() float64 {
	if s.GeofenceRadiusM > 0 {
		return s.GeofenceRadiusM
	}
	return DefaultGeofenceRadiusM
}

// ArrivalPhase is the progress of a vehicle through a stop
type ArrivalPhase int

const (
	StopPending ArrivalPhase = iota
	StopArrived
	StopDeparted
)

func (p ArrivalPhase) String() string {
	switch p {
	case StopArrived:
		return "arrived"
	case StopDeparted:
		return "departed"
	default:
		return "pending"
	}
}

// ArrivalState is the stop's arrival progress as an explicit state variant.
// Transitions go through Arrive/Depart so a departure can never be recorded
// without (or before) an arrival.
type ArrivalState struct {
	Phase      ArrivalPhase
	ArrivedAt  int64 // Set when Phase >= StopArrived
	DepartedAt int64 // Set when Phase == StopDeparted
}

// ArrivalState derives the state variant from the persisted timestamps
func (s *Stop) ArrivalState() ArrivalState {
	switch {
	case s.DepartedAt != nil && s.ArrivedAt != nil:
		return ArrivalState{Phase: StopDeparted, ArrivedAt: *s.ArrivedAt, DepartedAt: *s.DepartedAt}
	case s.ArrivedAt != nil:
		return ArrivalState{Phase: StopArrived, ArrivedAt: *s.ArrivedAt}
	default:
		return ArrivalState{Phase: StopPending}
	}
}

// Arrive transitions pending -> arrived
func (st ArrivalState) Arrive(at int64) (ArrivalState, error) {
	if st.Phase != StopPending {
		return st, fmt.Errorf("stop already %s", st.Phase)
	}
	return ArrivalState{Phase: StopArrived, ArrivedAt: at}, nil
}

// Depart transitions arrived -> departed and enforces departed >= arrived
func (st ArrivalState) Depart(at int64) (ArrivalState, error) {
	if st.Phase != StopArrived {
		return st, fmt.Errorf("cannot depart a stop that is %s", st.Phase)
	}
	if at < st.ArrivedAt {
		return st, fmt.Errorf("departure %d precedes arrival %d", at, st.ArrivedAt)
	}
	return ArrivalState{Phase: StopDeparted, ArrivedAt: st.ArrivedAt, DepartedAt: at}, nil
}
