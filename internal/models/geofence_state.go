package models

// ContainmentStatus is the last observed relationship between a vehicle and a
// stop's geofence
type ContainmentStatus string

const (
	ContainmentUnknown ContainmentStatus = "unknown"
	ContainmentInside  ContainmentStatus = "inside"
	ContainmentOutside ContainmentStatus = "outside"
)

// GeofenceState tracks consecutive-sample streaks for one (stop, vehicle)
// pair. Exactly one row exists per pair; it is created lazily on first
// evaluation and kept while the stop is open.
type GeofenceState struct {
	ID                   int64             `json:"id" db:"id"`
	StopID               string            `json:"stop_id" db:"stop_id"`
	VehicleID            string            `json:"vehicle_id" db:"vehicle_id"`
	Containment          ContainmentStatus `json:"containment" db:"containment"`
	ConsecutiveInside    int               `json:"consecutive_inside" db:"consecutive_inside"`
	ConsecutiveOutside   int               `json:"consecutive_outside" db:"consecutive_outside"`
	LastArrivalAttempt   *int64            `json:"last_arrival_attempt,omitempty" db:"last_arrival_attempt"`     // Unix timestamp
	LastDepartureAttempt *int64            `json:"last_departure_attempt,omitempty" db:"last_departure_attempt"` // Unix timestamp
	UpdatedAt            int64             `json:"updated_at" db:"updated_at"`
}

// ObserveInside records an inside sample; the outside streak resets
func (g *GeofenceState) ObserveInside() {
	g.Containment = ContainmentInside
	g.ConsecutiveInside++
	g.ConsecutiveOutside = 0
}

// ObserveOutside records a confirmed-outside sample; the inside streak resets
func (g *GeofenceState) ObserveOutside() {
	g.Containment = ContainmentOutside
	g.ConsecutiveOutside++
	g.ConsecutiveInside = 0
}
