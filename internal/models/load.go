package models

// LoadStatus represents the lifecycle status of a freight load
type LoadStatus string

const (
	LoadStatusPending    LoadStatus = "PENDING"     // Created, no vehicle assigned yet
	LoadStatusDispatched LoadStatus = "DISPATCHED"  // Vehicle assigned, not yet moving
	LoadStatusInTransit  LoadStatus = "IN_TRANSIT"  // Vehicle en route
	LoadStatusAtPickup   LoadStatus = "AT_PICKUP"   // Vehicle inside the pickup geofence
	LoadStatusAtDelivery LoadStatus = "AT_DELIVERY" // Vehicle inside the delivery geofence
	LoadStatusDelivered  LoadStatus = "DELIVERED"
	LoadStatusCancelled  LoadStatus = "CANCELLED"
)

// ActiveLoadStatuses are the statuses the geofence monitor and exception
// detector scan. Terminal loads are excluded.
var ActiveLoadStatuses = []string{
	string(LoadStatusDispatched),
	string(LoadStatusInTransit),
	string(LoadStatusAtPickup),
	string(LoadStatusAtDelivery),
}

// IsTerminal reports whether the load has reached a final status
func (s LoadStatus) IsTerminal() bool {
	return s == LoadStatusDelivered || s == LoadStatusCancelled
}

// IsActive reports whether the load should be tracked
func (s LoadStatus) IsActive() bool {
	switch s {
	case LoadStatusDispatched, LoadStatusInTransit, LoadStatusAtPickup, LoadStatusAtDelivery:
		return true
	}
	return false
}

// Load represents a freight load being tracked for a broker
type Load struct {
	ID              string     `json:"id" db:"id"`
	BrokerID        string     `json:"broker_id" db:"broker_id"`
	VehicleID       *string    `json:"vehicle_id,omitempty" db:"vehicle_id"` // Assigned vehicle (driver)
	ReferenceNumber string     `json:"reference_number" db:"reference_number"`
	Status          LoadStatus `json:"status" db:"status"`
	DeliveryETA     *int64     `json:"delivery_eta,omitempty" db:"delivery_eta"` // Unix timestamp
	TrackingToken   string     `json:"tracking_token" db:"tracking_token"`       // Public tracking link token
	CreatedAt       int64      `json:"created_at" db:"created_at"`
	UpdatedAt       int64      `json:"updated_at" db:"updated_at"`
}

// CreateLoadRequest is the request body for POST /api/loads
type CreateLoadRequest struct {
	ReferenceNumber string              `json:"reference_number"`
	VehicleID       *string             `json:"vehicle_id,omitempty"`
	DeliveryETA     *int64              `json:"delivery_eta,omitempty"`
	Stops           []CreateStopRequest `json:"stops"`
}

// UpdateLoadStatusRequest is the request body for PATCH /api/loads/:id/status
type UpdateLoadStatusRequest struct {
	Status LoadStatus `json:"status"`
}

// LoadWithStops bundles a load with its ordered stops
type LoadWithStops struct {
	Load  Load   `json:"load"`
	Stops []Stop `json:"stops"`
}
