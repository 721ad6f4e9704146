package services

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"loadtrace-backend/internal/models"
)

// fakeStopStore keeps canonical stops in memory and mimics the idempotent
// null-check semantics of the SQL layer
type fakeStopStore struct {
	mu      sync.Mutex
	stops   []*models.Stop
	arrives int
	departs int
}

func (f *fakeStopStore) OpenStopsByLoad(loadID string) ([]models.Stop, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Stop
	for _, s := range f.stops {
		if s.LoadID == loadID && s.DepartedAt == nil {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (f *fakeStopStore) MarkStopArrived(stopID string, at int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.stops {
		if s.ID == stopID {
			if s.ArrivedAt != nil {
				return false, nil
			}
			ts := at
			s.ArrivedAt = &ts
			f.arrives++
			return true, nil
		}
	}
	return false, fmt.Errorf("stop %s not found", stopID)
}

func (f *fakeStopStore) MarkStopDeparted(stopID string, at int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.stops {
		if s.ID == stopID {
			if s.ArrivedAt == nil || s.DepartedAt != nil || *s.ArrivedAt > at {
				return false, nil
			}
			ts := at
			s.DepartedAt = &ts
			f.departs++
			return true, nil
		}
	}
	return false, fmt.Errorf("stop %s not found", stopID)
}

func (f *fakeStopStore) arriveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.arrives
}

// fakeStateStore mirrors the SQL layer's atomic upsert-and-increment: each
// Record call mutates the canonical row under the lock, so concurrent
// samples against the same (stop, vehicle) pair all count
type fakeStateStore struct {
	mu      sync.Mutex
	states  map[string]*models.GeofenceState
	nextID  int64
	records int
}

func newFakeStateStore() *fakeStateStore {
	return &fakeStateStore{states: make(map[string]*models.GeofenceState)}
}

func (f *fakeStateStore) record(stopID, vehicleID string, inside bool) (*models.GeofenceState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := stopID + "/" + vehicleID
	st, ok := f.states[key]
	if !ok {
		f.nextID++
		st = &models.GeofenceState{ID: f.nextID, StopID: stopID, VehicleID: vehicleID, Containment: models.ContainmentUnknown}
		f.states[key] = st
	}
	if inside {
		st.ObserveInside()
	} else {
		st.ObserveOutside()
	}
	f.records++
	copied := *st
	return &copied, nil
}

func (f *fakeStateStore) RecordInsideSample(stopID, vehicleID string) (*models.GeofenceState, error) {
	return f.record(stopID, vehicleID, true)
}

func (f *fakeStateStore) RecordOutsideSample(stopID, vehicleID string) (*models.GeofenceState, error) {
	return f.record(stopID, vehicleID, false)
}

func (f *fakeStateStore) SetArrivalAttempt(stateID int64, at int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, st := range f.states {
		if st.ID == stateID {
			ts := at
			st.LastArrivalAttempt = &ts
			return nil
		}
	}
	return fmt.Errorf("state %d not found", stateID)
}

func (f *fakeStateStore) SetDepartureAttempt(stateID int64, at int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, st := range f.states {
		if st.ID == stateID {
			ts := at
			st.LastDepartureAttempt = &ts
			return nil
		}
	}
	return fmt.Errorf("state %d not found", stateID)
}

func (f *fakeStateStore) GetGeofenceState(stopID, vehicleID string) (*models.GeofenceState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if st, ok := f.states[stopID+"/"+vehicleID]; ok {
		copied := *st
		return &copied, nil
	}
	return nil, nil
}

func (f *fakeStateStore) streak(stopID, vehicleID string) (inside, outside int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if st, ok := f.states[stopID+"/"+vehicleID]; ok {
		return st.ConsecutiveInside, st.ConsecutiveOutside
	}
	return 0, 0
}

func (f *fakeStateStore) recordCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.records
}

func (f *fakeStateStore) stateCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.states)
}

// passthroughResolver returns the stop's own coordinates and never geocodes
type passthroughResolver struct{}

func (passthroughResolver) ResolveStop(stop *models.Stop) (Coordinates, bool) {
	if !stop.HasCoordinates() {
		return Coordinates{}, false
	}
	return Coordinates{Lat: *stop.Latitude, Lng: *stop.Longitude}, true
}

type noPings struct{}

func (noPings) LatestPingForLoad(loadID string) (*models.LocationPing, error) { return nil, nil }

func ptrF(v float64) *float64 { return &v }

func testStop(id, loadID string, lat, lng float64) *models.Stop {
	return &models.Stop{
		ID:              id,
		LoadID:          loadID,
		SequenceOrder:   1,
		StopType:        models.StopTypePickup,
		Address:         "100 Warehouse Rd, Chicago IL",
		Latitude:        &lat,
		Longitude:       &lng,
		GeofenceRadiusM: 300,
	}
}

func newTestEngine(stops *fakeStopStore, states *fakeStateStore, clock *int64) *StopTransitionEngine {
	e := NewStopTransitionEngine(stops, states, passthroughResolver{}, noPings{})
	e.now = func() time.Time { return time.Unix(*clock, 0) }
	return e
}

func TestArriveRequiresTwoConsecutiveInsideSamples(t *testing.T) {
	stops := &fakeStopStore{stops: []*models.Stop{testStop("s1", "l1", 41.8781, -87.6298)}}
	states := newFakeStateStore()
	clock := int64(1000)
	e := newTestEngine(stops, states, &clock)

	// Imprecise fix: no immediate arrive
	acc := ptrF(120.0)

	if err := e.Evaluate("v1", "l1", 41.8781, -87.6298, acc); err != nil {
		t.Fatal(err)
	}
	if stops.arrives != 0 {
		t.Fatalf("arrival fired on a single sample, arrives=%d", stops.arrives)
	}

	clock += 10
	if err := e.Evaluate("v1", "l1", 41.8781, -87.6298, acc); err != nil {
		t.Fatal(err)
	}
	if stops.arrives != 1 {
		t.Fatalf("expected exactly one arrival after two samples, got %d", stops.arrives)
	}
	if stops.stops[0].ArrivedAt == nil || *stops.stops[0].ArrivedAt != clock {
		t.Fatalf("arrival timestamp not recorded")
	}

	// A third inside sample must not re-arrive
	clock += 10
	if err := e.Evaluate("v1", "l1", 41.8781, -87.6298, acc); err != nil {
		t.Fatal(err)
	}
	if stops.arrives != 1 {
		t.Fatalf("arrival fired again, arrives=%d", stops.arrives)
	}
}

func TestPreciseFixArrivesImmediately(t *testing.T) {
	stops := &fakeStopStore{stops: []*models.Stop{testStop("s1", "l1", 41.8781, -87.6298)}}
	states := newFakeStateStore()
	clock := int64(1000)
	e := newTestEngine(stops, states, &clock)

	if err := e.Evaluate("v1", "l1", 41.8781, -87.6298, ptrF(30.0)); err != nil {
		t.Fatal(err)
	}
	if stops.arrives != 1 {
		t.Fatalf("precise fix should arrive on the first sample, arrives=%d", stops.arrives)
	}
}

func TestDepartRequiresStreakAndMinimumDwell(t *testing.T) {
	stop := testStop("s1", "l1", 41.8781, -87.6298)
	arrivedAt := int64(1000)
	stop.ArrivedAt = &arrivedAt
	stops := &fakeStopStore{stops: []*models.Stop{stop}}
	states := newFakeStateStore()

	// Point ~1.3km north: well past radius + margin
	farLat, farLng := 41.89, -87.6298

	// Inside the 60s hold window: even a full streak must not depart
	clock := arrivedAt + 30
	e := newTestEngine(stops, states, &clock)
	e.Evaluate("v1", "l1", farLat, farLng, nil)
	clock += 10
	e.Evaluate("v1", "l1", farLat, farLng, nil)
	if stops.departs != 0 {
		t.Fatalf("departure fired before the minimum dwell elapsed")
	}

	// After the hold, two confirmed-outside samples fire exactly one departure
	clock = arrivedAt + 120
	e.Evaluate("v1", "l1", farLat, farLng, nil)
	if stops.departs != 1 {
		t.Fatalf("expected one departure, got %d", stops.departs)
	}
	if stop.DepartedAt == nil || *stop.DepartedAt < *stop.ArrivedAt {
		t.Fatal("departure timestamp missing or precedes arrival")
	}
}

func TestRejectsImpreciseSampleEntirely(t *testing.T) {
	stops := &fakeStopStore{stops: []*models.Stop{testStop("s1", "l1", 41.8781, -87.6298)}}
	states := newFakeStateStore()
	clock := int64(1000)
	e := newTestEngine(stops, states, &clock)

	if err := e.Evaluate("v1", "l1", 41.8781, -87.6298, ptrF(200.0)); err != nil {
		t.Fatal(err)
	}
	if states.recordCount() != 0 {
		t.Fatalf("rejected sample still touched geofence state")
	}
	if stops.arrives != 0 {
		t.Fatal("rejected sample fired an arrival")
	}
}

func TestAmbiguousSampleLeavesStreakIntact(t *testing.T) {
	stops := &fakeStopStore{stops: []*models.Stop{testStop("s1", "l1", 41.8781, -87.6298)}}
	states := newFakeStateStore()
	clock := int64(1000)
	e := newTestEngine(stops, states, &clock)

	acc := ptrF(120.0)

	// First sample inside
	e.Evaluate("v1", "l1", 41.8781, -87.6298, acc)

	// Second sample in the dead zone (~350m out: past 300m radius, within
	// the 100m margin). Must not reset the inside streak.
	clock += 10
	e.Evaluate("v1", "l1", 41.88125, -87.6298, acc)

	// Third sample inside completes the streak
	clock += 10
	e.Evaluate("v1", "l1", 41.8781, -87.6298, acc)
	if stops.arrives != 1 {
		t.Fatalf("dead-zone sample broke the arrival streak, arrives=%d", stops.arrives)
	}
}

func TestConcurrentInsideSamplesAllCount(t *testing.T) {
	stops := &fakeStopStore{stops: []*models.Stop{testStop("s1", "l1", 41.8781, -87.6298)}}
	states := newFakeStateStore()
	clock := int64(1000)
	e := newTestEngine(stops, states, &clock)

	// The driver ping path and the monitor can evaluate the same
	// (stop, vehicle) pair simultaneously. Each sample must land as its own
	// increment: with two samples the streak reads 2, not 1.
	acc := ptrF(120.0)
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if err := e.Evaluate("v1", "l1", 41.8781, -87.6298, acc); err != nil {
				t.Error(err)
			}
		}()
	}
	close(start)
	wg.Wait()

	inside, _ := states.streak("s1", "v1")
	if inside != 2 {
		t.Fatalf("two inside samples must yield a streak of 2, got %d", inside)
	}
	if stops.arriveCount() != 1 {
		t.Fatalf("expected exactly one arrival, got %d", stops.arriveCount())
	}
}

func TestUnresolvableStopNeverTransitions(t *testing.T) {
	stop := testStop("s1", "l1", 0, 0)
	stop.Latitude = nil
	stop.Longitude = nil
	stops := &fakeStopStore{stops: []*models.Stop{stop}}
	states := newFakeStateStore()
	clock := int64(1000)
	e := newTestEngine(stops, states, &clock)

	for i := 0; i < 5; i++ {
		clock += 10
		if err := e.Evaluate("v1", "l1", 41.8781, -87.6298, ptrF(20.0)); err != nil {
			t.Fatal(err)
		}
	}
	if stops.arrives != 0 || states.recordCount() != 0 {
		t.Fatal("unresolvable stop produced transitions or state writes")
	}
}

type fixedPing struct{ ping *models.LocationPing }

func (f fixedPing) LatestPingForLoad(loadID string) (*models.LocationPing, error) {
	return f.ping, nil
}

func TestDebugInfoClassifiesWithoutGeocoding(t *testing.T) {
	stops := &fakeStopStore{stops: []*models.Stop{testStop("s1", "l1", 41.8781, -87.6298)}}
	states := newFakeStateStore()
	clock := int64(1000)

	ping := &models.LocationPing{LoadID: "l1", VehicleID: "v1", Latitude: 41.8781, Longitude: -87.6298, Timestamp: 990}
	e := NewStopTransitionEngine(stops, states, passthroughResolver{}, fixedPing{ping})
	e.now = func() time.Time { return time.Unix(clock, 0) }

	// One imprecise inside sample builds a streak of 1
	e.Evaluate("v1", "l1", 41.8781, -87.6298, ptrF(120.0))

	info, err := e.DebugInfo("l1")
	if err != nil {
		t.Fatal(err)
	}
	if info.Classification != "inside" {
		t.Fatalf("expected inside, got %s", info.Classification)
	}
	if info.DistanceMeters == nil || *info.DistanceMeters != 0 {
		t.Fatalf("expected zero distance, got %v", info.DistanceMeters)
	}
	if !info.ArriveImminent {
		t.Fatal("one more inside sample completes the streak; arrival should be imminent")
	}
}

func TestDebugInfoNeverCreatesState(t *testing.T) {
	stops := &fakeStopStore{stops: []*models.Stop{testStop("s1", "l1", 41.8781, -87.6298)}}
	states := newFakeStateStore()

	// Vehicle is inside the fence but no sample has been evaluated yet: the
	// diagnostic must report that without inventing a streak row
	ping := &models.LocationPing{LoadID: "l1", VehicleID: "v1", Latitude: 41.8781, Longitude: -87.6298, Timestamp: 990}
	e := NewStopTransitionEngine(stops, states, passthroughResolver{}, fixedPing{ping})

	info, err := e.DebugInfo("l1")
	if err != nil {
		t.Fatal(err)
	}
	if info.Classification != "inside" {
		t.Fatalf("expected inside, got %s", info.Classification)
	}
	if info.State != nil || info.ArriveImminent {
		t.Fatalf("diagnostic reported state that does not exist: %+v", info)
	}
	if states.stateCount() != 0 || states.recordCount() != 0 {
		t.Fatalf("diagnostic call wrote geofence state: %d rows, %d records",
			states.stateCount(), states.recordCount())
	}
}

func TestDebugInfoUnknownWithoutCoordinates(t *testing.T) {
	stop := testStop("s1", "l1", 0, 0)
	stop.Latitude = nil
	stop.Longitude = nil
	stops := &fakeStopStore{stops: []*models.Stop{stop}}
	e := NewStopTransitionEngine(stops, newFakeStateStore(), passthroughResolver{}, fixedPing{nil})

	info, err := e.DebugInfo("l1")
	if err != nil {
		t.Fatal(err)
	}
	if info.Classification != "unknown" {
		t.Fatalf("unresolved stop should classify as unknown, got %s", info.Classification)
	}
	if info.TargetStopID == nil || *info.TargetStopID != "s1" {
		t.Fatal("target stop should still be reported")
	}
}

func TestTransitionHookFires(t *testing.T) {
	stops := &fakeStopStore{stops: []*models.Stop{testStop("s1", "l1", 41.8781, -87.6298)}}
	states := newFakeStateStore()
	clock := int64(1000)
	e := newTestEngine(stops, states, &clock)

	var got []StopTransition
	e.OnTransition = func(t StopTransition) { got = append(got, t) }

	e.Evaluate("v1", "l1", 41.8781, -87.6298, ptrF(25.0))
	if len(got) != 1 {
		t.Fatalf("expected 1 transition event, got %d", len(got))
	}
	if got[0].Kind != "ARRIVE" || got[0].StopID != "s1" || got[0].VehicleID != "v1" {
		t.Fatalf("unexpected transition payload: %+v", got[0])
	}
}
