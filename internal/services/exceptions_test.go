package services

import (
	"testing"
	"time"

	"loadtrace-backend/internal/models"

	"github.com/google/uuid"
)

type fakeDetectorStore struct {
	brokers     []string
	loads       map[string][]models.Load
	stops       map[string][]models.Stop
	pings       map[string]*models.LocationPing
	open        map[string]*models.ExceptionEvent // loadID + "/" + type
	created     []models.ExceptionEvent
	resolved    []string
	terminal    []models.Load
	resolvedAll []string
}

func newFakeDetectorStore() *fakeDetectorStore {
	return &fakeDetectorStore{
		loads: make(map[string][]models.Load),
		stops: make(map[string][]models.Stop),
		pings: make(map[string]*models.LocationPing),
		open:  make(map[string]*models.ExceptionEvent),
	}
}

func (f *fakeDetectorStore) BrokerIDs() ([]string, error) { return f.brokers, nil }

func (f *fakeDetectorStore) ActiveLoadsForBroker(brokerID string) ([]models.Load, error) {
	return f.loads[brokerID], nil
}

func (f *fakeDetectorStore) StopsByLoad(loadID string) ([]models.Stop, error) {
	return f.stops[loadID], nil
}

func (f *fakeDetectorStore) LatestPingForLoad(loadID string) (*models.LocationPing, error) {
	return f.pings[loadID], nil
}

func (f *fakeDetectorStore) UnresolvedException(loadID string, t models.ExceptionType) (*models.ExceptionEvent, error) {
	if ev, ok := f.open[loadID+"/"+string(t)]; ok {
		return ev, nil
	}
	return nil, nil
}

func (f *fakeDetectorStore) CreateException(ev *models.ExceptionEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	f.open[ev.LoadID+"/"+string(ev.Type)] = ev
	f.created = append(f.created, *ev)
	return nil
}

func (f *fakeDetectorStore) ResolveException(id string, at int64, reason string) error {
	for key, ev := range f.open {
		if ev.ID == id {
			delete(f.open, key)
			f.resolved = append(f.resolved, id)
			return nil
		}
	}
	return nil
}

func (f *fakeDetectorStore) ResolveAllForLoad(loadID string, at int64, reason string) error {
	for key, ev := range f.open {
		if ev.LoadID == loadID {
			delete(f.open, key)
			f.resolvedAll = append(f.resolvedAll, loadID)
			_ = ev
		}
	}
	return nil
}

func (f *fakeDetectorStore) TerminalLoadsWithOpenExceptions() ([]models.Load, error) {
	return f.terminal, nil
}

func newTestDetector(store *fakeDetectorStore, now int64) *ExceptionDetector {
	d := NewExceptionDetector(store, time.Minute, 0)
	d.now = func() time.Time { return time.Unix(now, 0) }
	return d
}

func ptrI(v int64) *int64 { return &v }

func brokerLoad(id string, eta *int64) models.Load {
	v := "v-" + id
	return models.Load{
		ID:              id,
		BrokerID:        "b1",
		VehicleID:       &v,
		ReferenceNumber: "REF-" + id,
		Status:          models.LoadStatusInTransit,
		DeliveryETA:     eta,
	}
}

// freshPing keeps NO_SIGNAL quiet so LATE/LONG_DWELL tests stay focused
func (f *fakeDetectorStore) givePing(loadID string, at int64) {
	f.pings[loadID] = &models.LocationPing{LoadID: loadID, VehicleID: "v-" + loadID, Latitude: 41.8, Longitude: -87.6, Timestamp: at}
}

func TestLateOpensAfterEtaPlusGrace(t *testing.T) {
	now := int64(100000)
	store := newFakeDetectorStore()
	store.brokers = []string{"b1"}
	load := brokerLoad("l1", ptrI(now-16*60)) // ETA 16 minutes ago: past the 15 min grace
	store.loads["b1"] = []models.Load{load}
	store.stops["l1"] = []models.Stop{{ID: "s1", LoadID: "l1", StopType: models.StopTypeDelivery}}
	store.givePing("l1", now-30)

	d := newTestDetector(store, now)
	d.ScanNow()

	if _, ok := store.open["l1/LATE"]; !ok {
		t.Fatal("expected a LATE event")
	}

	// A second scan must not duplicate the open event
	d.ScanNow()
	if len(store.created) != 1 {
		t.Fatalf("expected 1 created event, got %d", len(store.created))
	}
}

func TestLateUsesWindowEndWhenNoEta(t *testing.T) {
	now := int64(100000)
	store := newFakeDetectorStore()
	store.brokers = []string{"b1"}
	store.loads["b1"] = []models.Load{brokerLoad("l1", nil)}
	store.stops["l1"] = []models.Stop{
		{ID: "s1", LoadID: "l1", StopType: models.StopTypeDelivery, WindowEnd: ptrI(now - 20*60)},
	}
	store.givePing("l1", now-30)

	d := newTestDetector(store, now)
	d.ScanNow()

	if _, ok := store.open["l1/LATE"]; !ok {
		t.Fatal("expected a LATE event from the delivery window end")
	}
}

func TestDeliveredStopNeverLate(t *testing.T) {
	now := int64(100000)
	store := newFakeDetectorStore()
	store.brokers = []string{"b1"}
	store.loads["b1"] = []models.Load{brokerLoad("l1", ptrI(now - 2*3600))}
	arrived, departed := now-3*3600, now-2500
	store.stops["l1"] = []models.Stop{
		{ID: "s1", LoadID: "l1", StopType: models.StopTypeDelivery, ArrivedAt: &arrived, DepartedAt: &departed},
	}
	store.givePing("l1", now-30)

	d := newTestDetector(store, now)
	d.ScanNow()

	if _, ok := store.open["l1/LATE"]; ok {
		t.Fatal("a departed delivery stop must never be flagged LATE")
	}
}

func TestLateResolvesWhenDeliveryDeparts(t *testing.T) {
	now := int64(100000)
	store := newFakeDetectorStore()
	store.brokers = []string{"b1"}
	store.loads["b1"] = []models.Load{brokerLoad("l1", ptrI(now - 3600))}
	store.stops["l1"] = []models.Stop{{ID: "s1", LoadID: "l1", StopType: models.StopTypeDelivery}}
	store.givePing("l1", now-30)

	d := newTestDetector(store, now)
	d.ScanNow()
	if _, ok := store.open["l1/LATE"]; !ok {
		t.Fatal("expected LATE to open")
	}

	// Delivery departs; next scan resolves the event
	arrived, departed := now, now+600
	store.stops["l1"] = []models.Stop{
		{ID: "s1", LoadID: "l1", StopType: models.StopTypeDelivery, ArrivedAt: &arrived, DepartedAt: &departed},
	}
	d.now = func() time.Time { return time.Unix(now+900, 0) }
	d.ScanNow()

	if _, ok := store.open["l1/LATE"]; ok {
		t.Fatal("LATE should auto-resolve after the delivery departs")
	}
	if len(store.resolved) != 1 {
		t.Fatalf("expected 1 resolution, got %d", len(store.resolved))
	}
}

func TestNoSignalFlagsNeverReportedImmediately(t *testing.T) {
	now := int64(100000)
	store := newFakeDetectorStore()
	store.brokers = []string{"b1"}
	store.loads["b1"] = []models.Load{brokerLoad("l1", nil)}
	// Assigned vehicle, zero pings ever

	d := newTestDetector(store, now)
	d.ScanNow()

	ev, ok := store.open["l1/NO_SIGNAL"]
	if !ok {
		t.Fatal("expected NO_SIGNAL for a load that never reported")
	}
	if ev.Type != models.ExceptionNoSignal {
		t.Fatalf("unexpected type %s", ev.Type)
	}
}

func TestNoSignalResolvesOnFreshPing(t *testing.T) {
	now := int64(100000)
	store := newFakeDetectorStore()
	store.brokers = []string{"b1"}
	store.loads["b1"] = []models.Load{brokerLoad("l1", nil)}
	store.givePing("l1", now-25*60) // 25 minutes silent

	d := newTestDetector(store, now)
	d.ScanNow()
	if _, ok := store.open["l1/NO_SIGNAL"]; !ok {
		t.Fatal("expected NO_SIGNAL after 25 minutes of silence")
	}

	store.givePing("l1", now+60)
	d.now = func() time.Time { return time.Unix(now+120, 0) }
	d.ScanNow()
	if _, ok := store.open["l1/NO_SIGNAL"]; ok {
		t.Fatal("NO_SIGNAL should resolve once a fresh ping arrives")
	}
}

func TestNoSignalIgnoresUnassignedLoads(t *testing.T) {
	now := int64(100000)
	store := newFakeDetectorStore()
	store.brokers = []string{"b1"}
	load := brokerLoad("l1", nil)
	load.VehicleID = nil
	store.loads["b1"] = []models.Load{load}

	d := newTestDetector(store, now)
	d.ScanNow()

	if len(store.created) != 0 {
		t.Fatalf("unassigned load produced events: %v", store.created)
	}
}

func TestLongDwellOpensAndResolves(t *testing.T) {
	now := int64(100000)
	store := newFakeDetectorStore()
	store.brokers = []string{"b1"}
	store.loads["b1"] = []models.Load{brokerLoad("l1", nil)}
	arrived := now - 90*60 // Sitting for 90 minutes
	store.stops["l1"] = []models.Stop{
		{ID: "s1", LoadID: "l1", StopType: models.StopTypePickup, ArrivedAt: &arrived},
	}
	store.givePing("l1", now-30)

	d := newTestDetector(store, now)
	d.ScanNow()
	if _, ok := store.open["l1/LONG_DWELL"]; !ok {
		t.Fatal("expected LONG_DWELL after 90 minutes at a stop")
	}

	departed := now + 60
	store.stops["l1"] = []models.Stop{
		{ID: "s1", LoadID: "l1", StopType: models.StopTypePickup, ArrivedAt: &arrived, DepartedAt: &departed},
	}
	store.givePing("l1", now+90)
	d.now = func() time.Time { return time.Unix(now+120, 0) }
	d.ScanNow()
	if _, ok := store.open["l1/LONG_DWELL"]; ok {
		t.Fatal("LONG_DWELL should resolve after the stop departs")
	}
}

func TestLongDwellUnderThresholdStaysQuiet(t *testing.T) {
	now := int64(100000)
	store := newFakeDetectorStore()
	store.brokers = []string{"b1"}
	store.loads["b1"] = []models.Load{brokerLoad("l1", nil)}
	arrived := now - 30*60 // Only 30 minutes
	store.stops["l1"] = []models.Stop{
		{ID: "s1", LoadID: "l1", StopType: models.StopTypePickup, ArrivedAt: &arrived},
	}
	store.givePing("l1", now-30)

	d := newTestDetector(store, now)
	d.ScanNow()
	if _, ok := store.open["l1/LONG_DWELL"]; ok {
		t.Fatal("30 minute dwell should not flag")
	}
}

func TestTerminalCleanupResolvesEverything(t *testing.T) {
	now := int64(100000)
	store := newFakeDetectorStore()
	terminal := brokerLoad("l9", nil)
	terminal.Status = models.LoadStatusDelivered
	store.terminal = []models.Load{terminal}
	store.open["l9/LATE"] = &models.ExceptionEvent{ID: "e1", LoadID: "l9", Type: models.ExceptionLate}
	store.open["l9/NO_SIGNAL"] = &models.ExceptionEvent{ID: "e2", LoadID: "l9", Type: models.ExceptionNoSignal}

	d := newTestDetector(store, now)
	d.ScanNow()

	if len(store.open) != 0 {
		t.Fatalf("terminal load still has open events: %v", store.open)
	}
}

func TestDetectorNotifiesOnOpen(t *testing.T) {
	now := int64(100000)
	store := newFakeDetectorStore()
	store.brokers = []string{"b1"}
	store.loads["b1"] = []models.Load{brokerLoad("l1", nil)}

	d := newTestDetector(store, now)
	var opened []models.ExceptionEvent
	d.OnOpened = func(load models.Load, ev models.ExceptionEvent) { opened = append(opened, ev) }

	d.ScanNow()
	if len(opened) != 1 || opened[0].Type != models.ExceptionNoSignal {
		t.Fatalf("expected one NO_SIGNAL notification, got %v", opened)
	}
}
