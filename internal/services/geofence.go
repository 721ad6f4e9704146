package services

import (
	"fmt"
	"log"
	"math"
	"time"

	"loadtrace-backend/internal/geo"
	"loadtrace-backend/internal/models"
)

const (
	// A single imprecise sample must not corrupt the streaks of every stop
	// on the load, so the whole evaluation is rejected above this accuracy
	accuracyRejectM = 150.0

	// A fix at least this precise triggers ARRIVE without waiting for a
	// second agreeing sample
	immediateArriveAccuracyM = 50.0

	// Consecutive qualifying samples required on the streak paths
	arriveStreak = 2
	departStreak = 2

	// Minimum spacing between arrival attempts, and minimum dwell before a
	// departure can fire
	arrivalCooldownSec  = 60
	departureMinHoldSec = 60
)

// GeofenceStopStore is the stop read/write contract the engine consumes
type GeofenceStopStore interface {
	OpenStopsByLoad(loadID string) ([]models.Stop, error)
	MarkStopArrived(stopID string, at int64) (bool, error)
	MarkStopDeparted(stopID string, at int64) (bool, error)
}

// GeofenceStateStore persists per-(stop, vehicle) streak state. The Record
// methods must apply the increment-and-reset atomically: the ping path and
// the monitor can evaluate the same pair at the same time, and both samples
// have to count.
type GeofenceStateStore interface {
	RecordInsideSample(stopID, vehicleID string) (*models.GeofenceState, error)
	RecordOutsideSample(stopID, vehicleID string) (*models.GeofenceState, error)
	SetArrivalAttempt(stateID int64, at int64) error
	SetDepartureAttempt(stateID int64, at int64) error
	GetGeofenceState(stopID, vehicleID string) (*models.GeofenceState, error)
}

// StopResolver resolves a stop's address to coordinates, backfilling the stop
type StopResolver interface {
	ResolveStop(stop *models.Stop) (Coordinates, bool)
}

// PingLookup reads the most recent ping for a load
type PingLookup interface {
	LatestPingForLoad(loadID string) (*models.LocationPing, error)
}

// StopTransition describes an ARRIVE or DEPART that actually fired
type StopTransition struct {
	LoadID    string `json:"load_id"`
	StopID    string `json:"stop_id"`
	VehicleID string `json:"vehicle_id"`
	Kind      string `json:"kind"` // "ARRIVE" or "DEPART"
	At        int64  `json:"at"`
}

// StopTransitionEngine decides stop arrivals and departures from location
// samples. One evaluation covers every open stop on the load; per-stop
// failures are isolated so a bad stop never blocks its siblings.
type StopTransitionEngine struct {
	stops    GeofenceStopStore
	states   GeofenceStateStore
	resolver StopResolver
	pings    PingLookup

	// OnTransition, when set, is invoked after a transition persists
	OnTransition func(StopTransition)

	now func() time.Time
}

func NewStopTransitionEngine(stops GeofenceStopStore, states GeofenceStateStore, resolver StopResolver, pings PingLookup) *StopTransitionEngine {
	return &StopTransitionEngine{
		stops:    stops,
		states:   states,
		resolver: resolver,
		pings:    pings,
		now:      time.Now,
	}
}

// Evaluate runs one location sample through every open stop of a load
func (e *StopTransitionEngine) Evaluate(vehicleID, loadID string, lat, lng float64, accuracy *float64) error {
	if math.IsNaN(lat) || math.IsInf(lat, 0) || math.IsNaN(lng) || math.IsInf(lng, 0) {
		log.Printf("📍 [GEOFENCE] Skipping evaluation for load %s: non-finite coordinates", loadID)
		return nil
	}

	if accuracy != nil && *accuracy > accuracyRejectM {
		log.Printf("📍 [GEOFENCE] Skipping evaluation for load %s: accuracy %.0fm exceeds %.0fm threshold",
			loadID, *accuracy, accuracyRejectM)
		return nil
	}

	stops, err := e.stops.OpenStopsByLoad(loadID)
	if err != nil {
		return fmt.Errorf("failed to load open stops: %w", err)
	}
	if len(stops) == 0 {
		return nil
	}

	// The first not-yet-arrived stop is the implicit current target; all
	// open stops still get evaluated geometrically
	for _, stop := range stops {
		if stop.ArrivedAt == nil {
			log.Printf("📍 [GEOFENCE] Load %s target stop %d (%s)", loadID, stop.SequenceOrder, stop.Address)
			break
		}
	}

	for i := range stops {
		if err := e.evaluateStop(&stops[i], vehicleID, lat, lng, accuracy); err != nil {
			// Per-stop isolation: log and keep going
			log.Printf("❌ [GEOFENCE] Stop %s evaluation failed: %v", stops[i].ID, err)
		}
	}
	return nil
}

func (e *StopTransitionEngine) evaluateStop(stop *models.Stop, vehicleID string, lat, lng float64, accuracy *float64) error {
	coords, ok := e.resolver.ResolveStop(stop)
	if !ok {
		// Unresolvable this cycle; don't touch the streaks
		log.Printf("📍 [GEOFENCE] Stop %s skipped: address not resolvable", stop.ID)
		return nil
	}

	distance := geo.HaversineMeters(lat, lng, coords.Lat, coords.Lng)
	radius := stop.Radius()

	switch {
	case geo.IsInside(distance, radius):
		return e.observeInside(stop, vehicleID, distance, accuracy)
	case geo.IsOutsideWithHysteresis(distance, radius):
		return e.observeOutside(stop, vehicleID, distance)
	default:
		// Hysteresis dead zone: neither confirmed inside nor outside, state untouched
		return nil
	}
}

func (e *StopTransitionEngine) observeInside(stop *models.Stop, vehicleID string, distance float64, accuracy *float64) error {
	state, err := e.states.RecordInsideSample(stop.ID, vehicleID)
	if err != nil {
		return err
	}

	arrival := stop.ArrivalState()
	if arrival.Phase == models.StopPending {
		preciseFix := accuracy != nil && *accuracy <= immediateArriveAccuracyM
		if preciseFix || state.ConsecutiveInside >= arriveStreak {
			now := e.now().Unix()
			if state.LastArrivalAttempt == nil || now-*state.LastArrivalAttempt >= arrivalCooldownSec {
				if _, err := arrival.Arrive(now); err != nil {
					return fmt.Errorf("arrival transition rejected: %w", err)
				}
				written, err := e.stops.MarkStopArrived(stop.ID, now)
				if err != nil {
					return err
				}
				if err := e.states.SetArrivalAttempt(state.ID, now); err != nil {
					return err
				}
				if written {
					stop.ArrivedAt = &now
					log.Printf("✅ [GEOFENCE] ARRIVE stop %s (load %s) at %.0fm, precise=%v streak=%d",
						stop.ID, stop.LoadID, distance, preciseFix, state.ConsecutiveInside)
					e.emit(StopTransition{LoadID: stop.LoadID, StopID: stop.ID, VehicleID: vehicleID, Kind: "ARRIVE", At: now})
				}
			}
		}
	}

	return nil
}

func (e *StopTransitionEngine) observeOutside(stop *models.Stop, vehicleID string, distance float64) error {
	state, err := e.states.RecordOutsideSample(stop.ID, vehicleID)
	if err != nil {
		return err
	}

	arrival := stop.ArrivalState()
	if arrival.Phase == models.StopArrived && state.ConsecutiveOutside >= departStreak {
		now := e.now().Unix()
		dwellOK := now-arrival.ArrivedAt >= departureMinHoldSec
		attemptOK := state.LastDepartureAttempt == nil || now-*state.LastDepartureAttempt >= departureMinHoldSec
		if dwellOK && attemptOK {
			if _, err := arrival.Depart(now); err != nil {
				return fmt.Errorf("departure transition rejected: %w", err)
			}
			written, err := e.stops.MarkStopDeparted(stop.ID, now)
			if err != nil {
				return err
			}
			if err := e.states.SetDepartureAttempt(state.ID, now); err != nil {
				return err
			}
			if written {
				stop.DepartedAt = &now
				log.Printf("✅ [GEOFENCE] DEPART stop %s (load %s) at %.0fm, streak=%d",
					stop.ID, stop.LoadID, distance, state.ConsecutiveOutside)
				e.emit(StopTransition{LoadID: stop.LoadID, StopID: stop.ID, VehicleID: vehicleID, Kind: "DEPART", At: now})
			}
		}
	}

	return nil
}

func (e *StopTransitionEngine) emit(t StopTransition) {
	if e.OnTransition != nil {
		e.OnTransition(t)
	}
}

// GeofenceDebugInfo is a read-only diagnostic snapshot for support tooling
type GeofenceDebugInfo struct {
	LoadID         string                `json:"load_id"`
	TargetStopID   *string               `json:"target_stop_id,omitempty"`
	TargetAddress  string                `json:"target_address,omitempty"`
	DistanceMeters *float64              `json:"distance_meters,omitempty"`
	RadiusMeters   float64               `json:"radius_meters,omitempty"`
	Classification string                `json:"classification"` // inside/outside/ambiguous/unknown
	ArriveImminent bool                  `json:"arrive_imminent"`
	LastPing       *models.LocationPing  `json:"last_ping,omitempty"`
	State          *models.GeofenceState `json:"state,omitempty"`
}

// DebugInfo reports where the vehicle stands relative to the current target
// stop. It never geocodes: stops without coordinates show as unknown.
func (e *StopTransitionEngine) DebugInfo(loadID string) (*GeofenceDebugInfo, error) {
	info := &GeofenceDebugInfo{LoadID: loadID, Classification: "unknown"}

	stops, err := e.stops.OpenStopsByLoad(loadID)
	if err != nil {
		return nil, fmt.Errorf("failed to load open stops: %w", err)
	}

	var target *models.Stop
	for i := range stops {
		if stops[i].ArrivedAt == nil {
			target = &stops[i]
			break
		}
	}
	if target == nil && len(stops) > 0 {
		// Everything arrived; the departure candidate is the first open stop
		target = &stops[0]
	}
	if target == nil {
		return info, nil
	}

	info.TargetStopID = &target.ID
	info.TargetAddress = target.Address
	info.RadiusMeters = target.Radius()

	ping, err := e.pings.LatestPingForLoad(loadID)
	if err != nil {
		return nil, fmt.Errorf("failed to load latest ping: %w", err)
	}
	if ping == nil || !target.HasCoordinates() {
		return info, nil
	}
	info.LastPing = ping

	distance := geo.HaversineMeters(ping.Latitude, ping.Longitude, *target.Latitude, *target.Longitude)
	info.DistanceMeters = &distance

	switch {
	case geo.IsInside(distance, info.RadiusMeters):
		info.Classification = "inside"
	case geo.IsOutsideWithHysteresis(distance, info.RadiusMeters):
		info.Classification = "outside"
	default:
		info.Classification = "ambiguous"
	}

	if target.ArrivedAt == nil && info.Classification == "inside" {
		// Read-only: a diagnostic call must not create streak rows
		state, err := e.states.GetGeofenceState(target.ID, ping.VehicleID)
		if err == nil && state != nil {
			info.State = state
			info.ArriveImminent = state.ConsecutiveInside+1 >= arriveStreak
		}
	}

	return info, nil
}
