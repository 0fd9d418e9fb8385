package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"beverage_dispenser/internal/logger"
	"beverage_dispenser/internal/metrics"
	"beverage_dispenser/internal/models"
)

const (
	runJoinTimeout   = 2 * time.Second
	telemetryTimeout = 2 * time.Second
)

// StatsStore persists the station counters.
type StatsStore interface {
	Save(ctx context.Context, s models.Stats) error
	Load(ctx context.Context) (models.Stats, error)
}

// Telemetry receives station events.
type Telemetry interface {
	Record(ctx context.Context, e models.Event) error
}

// ControllerConfig tunes the MainController.
type ControllerConfig struct {
	MonitorInterval time.Duration `mapstructure:"monitor_interval"`
}

// Components are the units the MainController orchestrates.
type Components struct {
	Flow     *FlowController
	Cups     *CupDispenser
	Delivery *CupDelivery
	Monitor  *SystemMonitor
	Errors   *ErrorHandler
	Sequence *SequenceManager
}

// MainController owns the station state machine and the operator counters.
// A dispense runs on its own goroutine; every run carries an id and only the
// current run may change the state.
type MainController struct {
	c         Components
	profiles  ProfileRegistry
	telemetry Telemetry
	store     StatsStore
	cfg       ControllerConfig
	log       *logger.Logger

	stateMu   sync.Mutex // guards state, runID, cancelRun and runDone
	state     models.SystemState
	runID     uint64
	cancelRun context.CancelFunc
	runDone   chan struct{}

	statsMu sync.Mutex // guards stats
	stats   models.Stats
}

// NewMainController builds the controller in Idle. telemetry and store may
// be nil.
func NewMainController(c Components, profiles ProfileRegistry, telemetry Telemetry, store StatsStore, cfg ControllerConfig, log *logger.Logger) *MainController {
	if cfg.MonitorInterval <= 0 {
		cfg.MonitorInterval = DefaultMonitorInterval
	}
	return &MainController{
		c:         c,
		profiles:  profiles,
		telemetry: telemetry,
		store:     store,
		cfg:       cfg,
		log:       log.Component("main_controller"),
		state:     models.StateIdle,
	}
}

// InitializeSystem restores persisted counters, initializes every hardware
// unit and starts sensor monitoring.
func (m *MainController) InitializeSystem(ctx context.Context) error {
	if m.store != nil {
		stats, err := m.store.Load(ctx)
		if err != nil {
			m.log.Warnw("stats_restore_failed", "err", err)
		} else {
			m.statsMu.Lock()
			m.stats = stats
			m.statsMu.Unlock()
		}
	}

	if err := m.c.Cups.Init(); err != nil {
		return err
	}
	if err := m.c.Flow.Init(); err != nil {
		return err
	}
	if err := m.c.Delivery.Init(); err != nil {
		return err
	}
	if err := m.c.Monitor.StartMonitoring(m.cfg.MonitorInterval); err != nil {
		return err
	}

	metrics.SetState("", string(models.StateIdle))
	m.log.Infow("system_initialized", "beverage", m.c.Flow.CurrentBeverage())
	return nil
}

// Dispense starts a dispense sequence in the background. It fails with
// ErrConflict unless the station is Idle with no run still draining.
func (m *MainController) Dispense(volumeMl float64, beverageKey string) error {
	if volumeMl < 0 {
		return fmt.Errorf("volume %.0f ml: %w", volumeMl, ErrInvalidRequest)
	}
	prof := m.profiles.Lookup(beverageKey)
	volume := volumeMl
	if volume == 0 {
		volume = prof.DefaultVolumeMl
	}
	if volume <= prof.FoamHeadspaceMl {
		return fmt.Errorf("volume %.0f ml does not exceed %s foam headspace %.0f ml: %w",
			volume, prof.Key, prof.FoamHeadspaceMl, ErrInvalidRequest)
	}

	m.stateMu.Lock()
	if m.state != models.StateIdle || m.runDone != nil {
		state := m.state
		m.stateMu.Unlock()
		m.log.Warnw("dispense_rejected", "state", state)
		return fmt.Errorf("cannot dispense while %s: %w", state, ErrConflict)
	}
	m.runID++
	id := m.runID
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	m.cancelRun = cancel
	m.runDone = done
	m.stateMu.Unlock()

	m.log.Infow("dispense_accepted", "beverage", prof.Key, "volume_ml", volume, "run_id", id)
	go m.runSequence(ctx, id, done, volume, prof.Key)
	return nil
}

func (m *MainController) runSequence(ctx context.Context, id uint64, done chan struct{}, volume float64, beverage string) {
	defer close(done)

	res, err := m.c.Sequence.ExecuteFullSequence(ctx, volume, beverage, &runObserver{m: m, id: id})
	failed := err != nil && !errors.Is(err, ErrCancelled)

	m.stateMu.Lock()
	current := m.runID == id
	prev := m.state
	next := prev
	if current {
		next = models.StateIdle
		if failed {
			next = models.StateError
		}
		m.state = next
	}
	m.cancelRun()
	m.cancelRun = nil
	m.runDone = nil
	m.stateMu.Unlock()

	if next != prev {
		m.logTransition(prev, next)
	}

	m.statsMu.Lock()
	m.stats.LastOperationSec = res.Duration.Seconds()
	if failed {
		m.stats.Errors++
	}
	m.statsMu.Unlock()

	result := metrics.ResultSuccess
	switch {
	case failed:
		result = metrics.ResultFailure
	case err != nil:
		result = metrics.ResultCancelled
	}
	metrics.ObserveSequence(result, res.Duration)

	desc := fmt.Sprintf("dispensed %.0f ml of %s", res.DispensedMl, res.BeverageKey)
	if !res.Success {
		desc = fmt.Sprintf("dispense of %s failed: %s", res.BeverageKey, res.Error)
	}
	m.record(models.EventDispense, desc, res)
}

// advance moves the state for run id. It is a no-op once the run has been
// invalidated by a stop.
func (m *MainController) advance(id uint64, next models.SystemState) bool {
	m.stateMu.Lock()
	if m.runID != id {
		m.stateMu.Unlock()
		return false
	}
	prev := m.state
	m.state = next
	m.stateMu.Unlock()

	if prev != next {
		m.logTransition(prev, next)
	}
	return true
}

// StopOperation forces the station to Idle, cancels the running sequence,
// closes the valve and stops the conveyor and feeder. It waits briefly for
// the sequence goroutine to drain.
func (m *MainController) StopOperation() error {
	m.stateMu.Lock()
	prev := m.state
	m.state = models.StateIdle
	m.runID++
	cancel := m.cancelRun
	done := m.runDone
	m.stateMu.Unlock()

	if cancel != nil {
		cancel()
	}
	var errs []error
	if err := m.c.Flow.StopPour(); err != nil {
		errs = append(errs, err)
	}
	if err := m.c.Delivery.StopConveyor(); err != nil {
		errs = append(errs, err)
	}
	if err := m.c.Cups.Stop(); err != nil {
		errs = append(errs, err)
	}

	if done != nil {
		select {
		case <-done:
		case <-time.After(runJoinTimeout):
			m.log.Warnw("sequence_drain_timeout", "timeout", runJoinTimeout)
		}
	}

	if prev != models.StateIdle {
		m.logTransition(prev, models.StateIdle)
	}
	m.log.Warnw("operation_stopped", "from_state", prev)
	m.record(models.EventStop, fmt.Sprintf("operation stopped in state %s", prev), nil)

	if len(errs) > 0 {
		return fmt.Errorf("stop operation: %w: %w", ErrOperation, errors.Join(errs...))
	}
	return nil
}

// EnterMaintenanceMode is allowed from Idle or Error with no run draining.
func (m *MainController) EnterMaintenanceMode() error {
	m.stateMu.Lock()
	prev := m.state
	if (prev != models.StateIdle && prev != models.StateError) || m.runDone != nil {
		m.stateMu.Unlock()
		return fmt.Errorf("cannot enter maintenance while %s: %w", prev, ErrConflict)
	}
	m.state = models.StateMaintenance
	m.stateMu.Unlock()

	m.logTransition(prev, models.StateMaintenance)
	m.record(models.EventMaintenance, "entered maintenance mode", nil)
	return nil
}

// ExitMaintenanceMode returns to Idle from Maintenance.
func (m *MainController) ExitMaintenanceMode() error {
	m.stateMu.Lock()
	prev := m.state
	if prev != models.StateMaintenance {
		m.stateMu.Unlock()
		return fmt.Errorf("not in maintenance (state %s): %w", prev, ErrConflict)
	}
	m.state = models.StateIdle
	m.stateMu.Unlock()

	m.logTransition(prev, models.StateIdle)
	m.record(models.EventMaintenance, "exited maintenance mode", nil)
	return nil
}

// MoveConveyor runs the conveyor manually. Only allowed in Maintenance.
func (m *MainController) MoveConveyor(ctx context.Context, speed float64, d time.Duration) error {
	m.stateMu.Lock()
	state := m.state
	m.stateMu.Unlock()
	if state != models.StateMaintenance {
		return fmt.Errorf("manual conveyor move requires maintenance (state %s): %w", state, ErrConflict)
	}
	return m.c.Delivery.MoveConveyor(ctx, speed, d)
}

// ResetSystem clears the error counter and leaves Error for Idle. The error
// history is kept.
func (m *MainController) ResetSystem() error {
	m.statsMu.Lock()
	m.stats.Errors = 0
	m.statsMu.Unlock()

	m.stateMu.Lock()
	prev := m.state
	if prev == models.StateError {
		m.state = models.StateIdle
	}
	m.stateMu.Unlock()

	if prev == models.StateError {
		m.logTransition(prev, models.StateIdle)
	}
	m.log.Infow("system_reset")
	m.record(models.EventReset, "system reset", nil)
	return nil
}

// ResetStats zeroes every counter and persists the result.
func (m *MainController) ResetStats() error {
	m.statsMu.Lock()
	m.stats = models.Stats{}
	m.statsMu.Unlock()

	m.log.Infow("stats_reset")
	m.record(models.EventReset, "statistics reset", nil)
	return m.CheckpointStats(context.Background())
}

// CheckpointStats persists the current counters.
func (m *MainController) CheckpointStats(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	if err := m.store.Save(ctx, m.Stats()); err != nil {
		return fmt.Errorf("save stats: %w", err)
	}
	return nil
}

// Stats returns a copy of the counters.
func (m *MainController) Stats() models.Stats {
	m.statsMu.Lock()
	defer m.statsMu.Unlock()
	return m.stats
}

// State returns the current state.
func (m *MainController) State() models.SystemState {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	return m.state
}

// GetSystemState returns a point-in-time view of the station.
func (m *MainController) GetSystemState() models.SystemStatus {
	st := models.SystemStatus{
		State:           m.State(),
		Stats:           m.Stats(),
		Sensors:         m.c.Monitor.GetSensorData(),
		TemperatureC:    m.c.Flow.Temperature(),
		CurrentBeverage: m.c.Flow.CurrentBeverage(),
	}
	if st.State == models.StatePouringBeverage {
		st.Pour = m.c.Flow.Session()
	}
	return st
}

func (m *MainController) GetErrorHistory() []models.ErrorRecord {
	return m.c.Errors.GetErrorHistory()
}

func (m *MainController) Beverages() []models.BeverageProfile {
	return m.profiles.List()
}

// Shutdown stops any run, halts monitoring, releases the hardware, persists
// the counters and stops the error worker.
func (m *MainController) Shutdown(ctx context.Context) error {
	m.log.Infow("system_shutdown_started")
	var errs []error
	if err := m.StopOperation(); err != nil {
		errs = append(errs, err)
	}
	if err := m.c.Monitor.StopMonitoring(); err != nil {
		errs = append(errs, err)
	}
	for _, d := range []interface{ Close() error }{m.c.Cups, m.c.Flow, m.c.Delivery} {
		if err := d.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := m.CheckpointStats(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := m.c.Errors.Stop(); err != nil {
		errs = append(errs, err)
	}
	m.log.Infow("system_shutdown_completed")
	return errors.Join(errs...)
}

func (m *MainController) logTransition(prev, next models.SystemState) {
	m.log.Infow("state_changed", "from", prev, "to", next)
	metrics.SetState(string(prev), string(next))
}

func (m *MainController) record(typ, desc string, meta any) {
	if m.telemetry == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), telemetryTimeout)
	defer cancel()
	if err := m.telemetry.Record(ctx, models.Event{Type: typ, Description: desc, Metadata: meta}); err != nil {
		m.log.Warnw("telemetry_write_failed", "type", typ, "err", err)
	}
}

// runObserver ties sequence progress to one run.
type runObserver struct {
	m  *MainController
	id uint64
}

func (o *runObserver) StepStarted(step Step) {
	switch step {
	case StepDispenseCup:
		o.m.advance(o.id, models.StateDispensingCup)
	case StepPour:
		o.m.advance(o.id, models.StatePouringBeverage)
	case StepDeliver:
		o.m.advance(o.id, models.StateDeliveringCup)
	}
}

func (o *runObserver) StepCompleted(step Step, pour *PourResult) {
	o.m.statsMu.Lock()
	defer o.m.statsMu.Unlock()
	switch step {
	case StepDispenseCup:
		o.m.stats.CupsDispensed++
	case StepPour:
		o.m.stats.BeveragesPoured++
		if pour != nil {
			o.m.stats.TotalVolumeMl += pour.DispensedMl
			metrics.AddPouredVolume(pour.BeverageKey, pour.DispensedMl)
		}
	}
}
