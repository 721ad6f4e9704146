package models

import "math"

// LocationPing represents a GPS sample from a vehicle. Pings are append-only;
// nothing in the tracking core mutates or deletes them.
type LocationPing struct {
	ID        int64    `json:"id" db:"id"`
	VehicleID string   `json:"vehicle_id" db:"vehicle_id"`
	LoadID    string   `json:"load_id" db:"load_id"`
	Latitude  float64  `json:"latitude" db:"latitude"`
	Longitude float64  `json:"longitude" db:"longitude"`
	Accuracy  *float64 `json:"accuracy,omitempty" db:"accuracy"` // GPS accuracy in meters
	Source    string   `json:"source" db:"source"`               // "driver_app", "eld", "manual"
	Timestamp int64    `json:"timestamp" db:"timestamp"`         // Client-side timestamp
	CreatedAt int64    `json:"created_at" db:"created_at"`       // Server-side timestamp
}

// HasFiniteCoordinates rejects NaN/Inf coordinates that would poison distance math
func (p *LocationPing) HasFiniteCoordinates() bool {
	return !math.IsNaN(p.Latitude) && !math.IsInf(p.Latitude, 0) &&
		!math.IsNaN(p.Longitude) && !math.IsInf(p.Longitude, 0)
}

// SubmitPingRequest is the request body for POST /api/driver/ping
type SubmitPingRequest struct {
	LoadID    string   `json:"load_id"`
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Accuracy  *float64 `json:"accuracy,omitempty"`
	Timestamp *int64   `json:"timestamp,omitempty"`
}
