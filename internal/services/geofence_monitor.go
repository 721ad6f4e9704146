package services

import (
	"context"
	"log"
	"sync"
	"time"

	"loadtrace-backend/internal/models"
)

const (
	defaultMonitorInterval = 60 * time.Second

	// Pings older than this are a stale feed; evaluating against ancient
	// coordinates would fire transitions the vehicle left behind long ago
	defaultPingStaleAfter = 30 * time.Minute
)

// MonitorLoadStore is the read contract the monitor consumes
type MonitorLoadStore interface {
	ActiveLoadsWithVehicle() ([]models.Load, error)
	LatestPingForLoad(loadID string) (*models.LocationPing, error)
}

// Evaluator is the slice of the transition engine the monitor drives
type Evaluator interface {
	Evaluate(vehicleID, loadID string, lat, lng float64, accuracy *float64) error
}

// MonitorStatus is the observable state of the monitor for ops tooling
type MonitorStatus struct {
	Running             bool   `json:"running"`
	CycleInFlight       bool   `json:"cycle_in_flight"`
	LastCycleAt         *int64 `json:"last_cycle_at,omitempty"` // Unix timestamp
	LastCycleDurationMs int64  `json:"last_cycle_duration_ms"`
	LastLoadsConsidered int    `json:"last_loads_considered"`
	CyclesCompleted     int64  `json:"cycles_completed"`
	CyclesSkipped       int64  `json:"cycles_skipped"`
}

// GeofenceMonitor periodically re-evaluates every active load against its
// most recent known location, so stop transitions still resolve when the
// driver app goes quiet between pings. Cycles never overlap: if the timer
// fires while a cycle is executing, that tick is skipped outright.
type GeofenceMonitor struct {
	loads    MonitorLoadStore
	engine   Evaluator
	interval time.Duration
	staleCap time.Duration

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	status  MonitorStatus

	now func() time.Time
}

func NewGeofenceMonitor(loads MonitorLoadStore, engine Evaluator, interval time.Duration) *GeofenceMonitor {
	if interval <= 0 {
		interval = defaultMonitorInterval
	}
	return &GeofenceMonitor{
		loads:    loads,
		engine:   engine,
		interval: interval,
		staleCap: defaultPingStaleAfter,
		now:      time.Now,
	}
}

// Start launches the periodic loop. Calling Start on a running monitor is a no-op.
func (m *GeofenceMonitor) Start() {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.started = true
	m.cancel = cancel
	m.status.Running = true
	m.mu.Unlock()

	log.Printf("🛰️  [MONITOR] Geofence monitor started (interval %s)", m.interval)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.RunCycle()
			}
		}
	}()
}

// Stop cancels the timer and waits for the loop to exit. An in-flight cycle
// is allowed to finish; only the next one is prevented. Safe to call twice.
func (m *GeofenceMonitor) Stop() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	m.started = false
	m.status.Running = false
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
	log.Println("🛰️  [MONITOR] Geofence monitor stopped")
}

// Status returns a snapshot of the monitor's observable state
func (m *GeofenceMonitor) Status() MonitorStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// RunCycle executes one evaluation pass. It returns false without touching
// any state when a previous cycle is still executing.
func (m *GeofenceMonitor) RunCycle() bool {
	m.mu.Lock()
	if m.status.CycleInFlight {
		m.status.CyclesSkipped++
		m.mu.Unlock()
		log.Println("🛰️  [MONITOR] Cycle skipped: previous cycle still running")
		return false
	}
	m.status.CycleInFlight = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.status.CycleInFlight = false
		m.mu.Unlock()
	}()

	start := m.now()
	log.Println("🛰️  [MONITOR] Starting geofence cycle")

	considered := 0
	loads, err := m.loads.ActiveLoadsWithVehicle()
	if err != nil {
		log.Printf("❌ [MONITOR] Failed to list active loads: %v", err)
	} else {
		considered = len(loads)
		for i := range loads {
			// Per-load isolation: one bad load must not abort the cycle
			if err := m.evaluateLoad(&loads[i]); err != nil {
				log.Printf("❌ [MONITOR] Load %s evaluation failed: %v", loads[i].ID, err)
			}
		}
	}

	elapsed := m.now().Sub(start)
	completedAt := m.now().Unix()

	m.mu.Lock()
	m.status.LastCycleAt = &completedAt
	m.status.LastCycleDurationMs = elapsed.Milliseconds()
	m.status.LastLoadsConsidered = considered
	m.status.CyclesCompleted++
	m.mu.Unlock()

	log.Printf("🛰️  [MONITOR] Cycle complete: %d loads in %s", considered, elapsed)
	return true
}

func (m *GeofenceMonitor) evaluateLoad(load *models.Load) error {
	if load.VehicleID == nil {
		return nil
	}

	ping, err := m.loads.LatestPingForLoad(load.ID)
	if err != nil {
		return err
	}
	if ping == nil {
		log.Printf("🛰️  [MONITOR] Load %s skipped: no pings", load.ID)
		return nil
	}
	if m.now().Unix()-ping.Timestamp > int64(m.staleCap.Seconds()) {
		log.Printf("🛰️  [MONITOR] Load %s skipped: latest ping is stale", load.ID)
		return nil
	}
	if !ping.HasFiniteCoordinates() {
		log.Printf("🛰️  [MONITOR] Load %s skipped: non-finite coordinates on ping %d", load.ID, ping.ID)
		return nil
	}

	return m.engine.Evaluate(*load.VehicleID, load.ID, ping.Latitude, ping.Longitude, ping.Accuracy)
}
