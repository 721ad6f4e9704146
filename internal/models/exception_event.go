package models

import "encoding/json"

// ExceptionType classifies an operational anomaly on a load
type ExceptionType string

const (
	ExceptionLate      ExceptionType = "LATE"
	ExceptionNoSignal  ExceptionType = "NO_SIGNAL"
	ExceptionLongDwell ExceptionType = "LONG_DWELL"
)

// AllExceptionTypes lists every condition the detector evaluates
var AllExceptionTypes = []ExceptionType{ExceptionLate, ExceptionNoSignal, ExceptionLongDwell}

// ExceptionEvent is a detected anomaly on a load. At most one unresolved
// event exists per (load, type); the detector checks before creating.
type ExceptionEvent struct {
	ID             string          `json:"id" db:"id"`
	LoadID         string          `json:"load_id" db:"load_id"`
	Type           ExceptionType   `json:"type" db:"type"`
	DetectedAt     int64           `json:"detected_at" db:"detected_at"` // Unix timestamp
	Details        json.RawMessage `json:"details,omitempty" db:"details"`
	Resolved       bool            `json:"resolved" db:"resolved"`
	ResolvedAt     *int64          `json:"resolved_at,omitempty" db:"resolved_at"`
	ResolvedReason *string         `json:"resolved_reason,omitempty" db:"resolved_reason"`
	CreatedAt      int64           `json:"created_at" db:"created_at"`
}

// LateDetails is the structured payload stored on a LATE event
type LateDetails struct {
	ExpectedBy   int64  `json:"expected_by"` // ETA or window end, grace included
	MinutesLate  int64  `json:"minutes_late"`
	DeliveryStop string `json:"delivery_stop_id,omitempty"`
}

// NoSignalDetails is the structured payload stored on a NO_SIGNAL event
type NoSignalDetails struct {
	LastPingAt    *int64 `json:"last_ping_at,omitempty"` // Nil when the load never pinged
	MinutesSilent int64  `json:"minutes_silent"`
	VehicleID     string `json:"vehicle_id"`
	NeverReported bool   `json:"never_reported"`
}

// LongDwellDetails is the structured payload stored on a LONG_DWELL event
type LongDwellDetails struct {
	StopID       string `json:"stop_id"`
	ArrivedAt    int64  `json:"arrived_at"`
	DwellMinutes int64  `json:"dwell_minutes"`
}
