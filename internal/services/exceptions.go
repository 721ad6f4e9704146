package services

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"loadtrace-backend/internal/models"
)

const (
	defaultScanInterval     = 5 * time.Minute
	defaultScanInitialDelay = 30 * time.Second // Let the system settle after boot

	lateGrace      = 15 * time.Minute
	noSignalAfter  = 20 * time.Minute
	longDwellAfter = 60 * time.Minute
)

// DetectorStore is the persistence contract the exception detector consumes
type DetectorStore interface {
	BrokerIDs() ([]string, error)
	ActiveLoadsForBroker(brokerID string) ([]models.Load, error)
	StopsByLoad(loadID string) ([]models.Stop, error)
	LatestPingForLoad(loadID string) (*models.LocationPing, error)
	UnresolvedException(loadID string, t models.ExceptionType) (*models.ExceptionEvent, error)
	CreateException(ev *models.ExceptionEvent) error
	ResolveException(id string, at int64, reason string) error
	ResolveAllForLoad(loadID string, at int64, reason string) error
	TerminalLoadsWithOpenExceptions() ([]models.Load, error)
}

// ExceptionDetector periodically scans every broker's active loads for three
// independent anomaly conditions (LATE, NO_SIGNAL, LONG_DWELL), opening an
// event when a condition newly holds and resolving it when it clears. A
// cleanup pass force-resolves everything on loads that reached a terminal
// status.
type ExceptionDetector struct {
	store        DetectorStore
	interval     time.Duration
	initialDelay time.Duration

	// Optional fan-out hooks, invoked after the event persists
	OnOpened   func(load models.Load, ev models.ExceptionEvent)
	OnResolved func(loadID string, t models.ExceptionType)

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	// Scans serialize: a manual trigger can't interleave with a timed one
	scanMu sync.Mutex

	now func() time.Time
}

func NewExceptionDetector(store DetectorStore, interval, initialDelay time.Duration) *ExceptionDetector {
	if interval <= 0 {
		interval = defaultScanInterval
	}
	if initialDelay < 0 {
		initialDelay = defaultScanInitialDelay
	}
	return &ExceptionDetector{
		store:        store,
		interval:     interval,
		initialDelay: initialDelay,
		now:          time.Now,
	}
}

// Start launches the periodic scan loop after the initial delay. Idempotent.
func (d *ExceptionDetector) Start() {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	d.started = true
	d.cancel = cancel
	d.mu.Unlock()

	log.Printf("🚨 [EXCEPTIONS] Detector started (interval %s, initial delay %s)", d.interval, d.initialDelay)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		select {
		case <-ctx.Done():
			return
		case <-time.After(d.initialDelay):
		}
		d.ScanNow()

		ticker := time.NewTicker(d.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				d.ScanNow()
			}
		}
	}()
}

// Stop cancels the loop; an in-flight scan finishes. Safe to call twice.
func (d *ExceptionDetector) Stop() {
	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return
	}
	d.started = false
	cancel := d.cancel
	d.cancel = nil
	d.mu.Unlock()

	cancel()
	d.wg.Wait()
	log.Println("🚨 [EXCEPTIONS] Detector stopped")
}

// ScanNow runs one full scan. Also exposed as the manual operator trigger.
func (d *ExceptionDetector) ScanNow() {
	d.scanMu.Lock()
	defer d.scanMu.Unlock()

	start := d.now()
	scanned := 0

	brokers, err := d.store.BrokerIDs()
	if err != nil {
		log.Printf("❌ [EXCEPTIONS] Failed to list brokers: %v", err)
		return
	}

	for _, brokerID := range brokers {
		loads, err := d.store.ActiveLoadsForBroker(brokerID)
		if err != nil {
			log.Printf("❌ [EXCEPTIONS] Failed to list loads for broker %s: %v", brokerID, err)
			continue
		}
		for i := range loads {
			d.scanLoad(&loads[i])
			scanned++
		}
	}

	d.cleanupTerminalLoads()

	log.Printf("🚨 [EXCEPTIONS] Scan complete: %d loads in %s", scanned, d.now().Sub(start))
}

// scanLoad evaluates the three conditions independently; a failure in one
// must not prevent the others from running
func (d *ExceptionDetector) scanLoad(load *models.Load) {
	stops, err := d.store.StopsByLoad(load.ID)
	if err != nil {
		log.Printf("❌ [EXCEPTIONS] Failed to load stops for %s: %v", load.ID, err)
		stops = nil
	}

	if err := d.checkLate(load, stops); err != nil {
		log.Printf("❌ [EXCEPTIONS] LATE check failed for load %s: %v", load.ID, err)
	}
	if err := d.checkNoSignal(load); err != nil {
		log.Printf("❌ [EXCEPTIONS] NO_SIGNAL check failed for load %s: %v", load.ID, err)
	}
	if err := d.checkLongDwell(load, stops); err != nil {
		log.Printf("❌ [EXCEPTIONS] LONG_DWELL check failed for load %s: %v", load.ID, err)
	}
}

// checkLate flags loads past their delivery commitment plus grace. The
// reference time is the load's delivery ETA when set, otherwise the delivery
// stop's window end. A departed delivery stop clears the condition: a load
// that made its delivery is never late retroactively.
func (d *ExceptionDetector) checkLate(load *models.Load, stops []models.Stop) error {
	var delivery *models.Stop
	for i := range stops {
		if stops[i].StopType == models.StopTypeDelivery {
			delivery = &stops[i]
		}
	}

	var expectedBy *int64
	if load.DeliveryETA != nil {
		expectedBy = load.DeliveryETA
	} else if delivery != nil && delivery.WindowEnd != nil {
		expectedBy = delivery.WindowEnd
	}

	now := d.now().Unix()
	deadline := int64(0)
	if expectedBy != nil {
		deadline = *expectedBy + int64(lateGrace.Seconds())
	}

	delivered := delivery != nil && delivery.DepartedAt != nil
	late := expectedBy != nil && !delivered && now > deadline

	if !late {
		return d.resolveIfOpen(load.ID, models.ExceptionLate, "delivery made or deadline no longer exceeded")
	}

	details := models.LateDetails{
		ExpectedBy:  *expectedBy,
		MinutesLate: (now - deadline) / 60,
	}
	if delivery != nil {
		details.DeliveryStop = delivery.ID
	}
	return d.openIfNew(load, models.ExceptionLate, details)
}

// checkNoSignal flags loads whose vehicle has gone quiet. A load with an
// assigned vehicle and zero pings ever is flagged immediately.
func (d *ExceptionDetector) checkNoSignal(load *models.Load) error {
	if load.VehicleID == nil {
		return nil
	}

	ping, err := d.store.LatestPingForLoad(load.ID)
	if err != nil {
		return err
	}

	now := d.now().Unix()

	if ping == nil {
		details := models.NoSignalDetails{
			VehicleID:     *load.VehicleID,
			NeverReported: true,
		}
		return d.openIfNew(load, models.ExceptionNoSignal, details)
	}

	silent := now - ping.Timestamp
	if silent <= int64(noSignalAfter.Seconds()) {
		return d.resolveIfOpen(load.ID, models.ExceptionNoSignal, "fresh ping received")
	}

	details := models.NoSignalDetails{
		LastPingAt:    &ping.Timestamp,
		MinutesSilent: silent / 60,
		VehicleID:     *load.VehicleID,
	}
	return d.openIfNew(load, models.ExceptionNoSignal, details)
}

// checkLongDwell flags any stop that has been occupied past the dwell cap
func (d *ExceptionDetector) checkLongDwell(load *models.Load, stops []models.Stop) error {
	now := d.now().Unix()

	var worst *models.Stop
	var worstDwell int64
	for i := range stops {
		s := &stops[i]
		if s.ArrivedAt == nil || s.DepartedAt != nil {
			continue
		}
		dwell := now - *s.ArrivedAt
		if dwell > int64(longDwellAfter.Seconds()) && dwell > worstDwell {
			worst = s
			worstDwell = dwell
		}
	}

	if worst == nil {
		return d.resolveIfOpen(load.ID, models.ExceptionLongDwell, "stop departed or dwell back under limit")
	}

	details := models.LongDwellDetails{
		StopID:       worst.ID,
		ArrivedAt:    *worst.ArrivedAt,
		DwellMinutes: worstDwell / 60,
	}
	return d.openIfNew(load, models.ExceptionLongDwell, details)
}

// cleanupTerminalLoads force-resolves every open exception on loads that
// reached a terminal status, independent of the individual trigger conditions
func (d *ExceptionDetector) cleanupTerminalLoads() {
	loads, err := d.store.TerminalLoadsWithOpenExceptions()
	if err != nil {
		log.Printf("❌ [EXCEPTIONS] Cleanup pass failed: %v", err)
		return
	}

	now := d.now().Unix()
	for _, load := range loads {
		if err := d.store.ResolveAllForLoad(load.ID, now, "load reached terminal status"); err != nil {
			log.Printf("❌ [EXCEPTIONS] Failed to clean up load %s: %v", load.ID, err)
			continue
		}
		log.Printf("🧹 [EXCEPTIONS] Resolved all open exceptions on terminal load %s (%s)", load.ID, load.Status)
	}
}

// openIfNew creates an event unless an unresolved one of the same type
// already exists on the load (at most one open event per load and type)
func (d *ExceptionDetector) openIfNew(load *models.Load, t models.ExceptionType, details interface{}) error {
	existing, err := d.store.UnresolvedException(load.ID, t)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}

	payload, err := json.Marshal(details)
	if err != nil {
		return err
	}

	ev := models.ExceptionEvent{
		LoadID:     load.ID,
		Type:       t,
		DetectedAt: d.now().Unix(),
		Details:    payload,
	}
	if err := d.store.CreateException(&ev); err != nil {
		return err
	}

	log.Printf("🚨 [EXCEPTIONS] Opened %s on load %s (%s)", t, load.ID, load.ReferenceNumber)
	if d.OnOpened != nil {
		d.OnOpened(*load, ev)
	}
	return nil
}

// resolveIfOpen closes the open event of the given type, if any
func (d *ExceptionDetector) resolveIfOpen(loadID string, t models.ExceptionType, reason string) error {
	existing, err := d.store.UnresolvedException(loadID, t)
	if err != nil {
		return err
	}
	if existing == nil {
		return nil
	}

	if err := d.store.ResolveException(existing.ID, d.now().Unix(), reason); err != nil {
		return err
	}

	log.Printf("✅ [EXCEPTIONS] Resolved %s on load %s: %s", t, loadID, reason)
	if d.OnResolved != nil {
		d.OnResolved(loadID, t)
	}
	return nil
}
