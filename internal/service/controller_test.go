package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"beverage_dispenser/internal/hardware"
	"beverage_dispenser/internal/models"
)

type station struct {
	rig       *hardware.Rig
	ctrl      *MainController
	telemetry *fakeTelemetry
	store     *fakeStatsStore
}

// newStation builds a controller over a fast simulated rig. The station is
// not initialized.
func newStation(t *testing.T, faults ...hardware.Fault) *station {
	t.Helper()
	rig := hardware.NewRig(hardware.RigConfig{
		LineFlowRate:   4000,
		FeedTravel:     5 * time.Millisecond,
		DeliveryTravel: 10 * time.Millisecond,
		PickupDelay:    20 * time.Millisecond,
	})
	for _, f := range faults {
		rig.SetFault(f, true)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go rig.Run(ctx, time.Millisecond)

	log := nopLog()
	profiles := DefaultProfiles()
	errs := NewErrorHandler(DefaultMaxErrors, nil, log)
	flow := NewFlowController(rig.FlowHardware(), profiles, FlowConfig{PollInterval: time.Millisecond, SettleDelay: time.Millisecond}, log)
	cups := NewCupDispenser(rig.FeederHardware(), CupDispenserConfig{
		ReleaseHold:      time.Millisecond,
		DropDelay:        time.Millisecond,
		DetectionTimeout: 30 * time.Millisecond,
		PollInterval:     time.Millisecond,
	}, log)
	delivery := NewCupDelivery(rig.ConveyorHardware(), DeliveryConfig{Timeout: 200 * time.Millisecond, PollInterval: time.Millisecond}, log)

	s := &station{rig: rig, telemetry: &fakeTelemetry{}, store: &fakeStatsStore{}}
	s.ctrl = NewMainController(Components{
		Flow:     flow,
		Cups:     cups,
		Delivery: delivery,
		Monitor:  NewSystemMonitor(rig.MonitorHardware(), log),
		Errors:   errs,
		Sequence: NewSequenceManager(cups, flow, delivery, errs, SequenceConfig{MaxRetries: 3, RetryDelay: 5 * time.Millisecond}, log),
	}, profiles, s.telemetry, s.store, ControllerConfig{MonitorInterval: 5 * time.Millisecond}, log)

	t.Cleanup(func() {
		_ = s.ctrl.Shutdown(context.Background())
		cancel()
	})
	return s
}

func (s *station) init(t *testing.T) *station {
	t.Helper()
	if err := s.ctrl.InitializeSystem(context.Background()); err != nil {
		t.Fatalf("InitializeSystem() error = %v", err)
	}
	return s
}

func (s *station) waitState(t *testing.T, want models.SystemState) {
	t.Helper()
	waitFor(t, 5*time.Second, "state "+string(want), func() bool { return s.ctrl.State() == want })
}

func TestMainController_Dispense_FullSequence(t *testing.T) {
	s := newStation(t).init(t)

	if err := s.ctrl.Dispense(0, "beer"); err != nil {
		t.Fatalf("Dispense() error = %v", err)
	}
	waitFor(t, 5*time.Second, "dispense event", func() bool { return len(s.telemetry.ofType(models.EventDispense)) == 1 })
	s.waitState(t, models.StateIdle)

	st := s.ctrl.GetSystemState()
	if st.Stats.CupsDispensed != 1 || st.Stats.BeveragesPoured != 1 || st.Stats.Errors != 0 {
		t.Fatalf("stats = %+v, want one cup and one beverage", st.Stats)
	}
	if st.Stats.TotalVolumeMl < 450 || st.Stats.TotalVolumeMl > 460 {
		t.Fatalf("total volume = %.2f, want about 450", st.Stats.TotalVolumeMl)
	}
	if st.Stats.LastOperationSec <= 0 {
		t.Fatalf("last operation time not recorded")
	}
	if st.CurrentBeverage != "beer" || st.TemperatureC < 2 || st.TemperatureC > 8 {
		t.Fatalf("beverage=%q temperature=%.1f", st.CurrentBeverage, st.TemperatureC)
	}
	if st.Pour != nil {
		t.Fatalf("pour session reported while idle")
	}

	ev := s.telemetry.ofType(models.EventDispense)[0]
	res, ok := ev.Metadata.(models.DispenseResult)
	if !ok || !res.Success || res.BeverageKey != "beer" {
		t.Fatalf("dispense event metadata = %#v", ev.Metadata)
	}
	if rs := s.rig.State(); rs.Valve != 0 || rs.Conveyor != 0 || rs.Feed != 0 {
		t.Fatalf("outputs left on after sequence: %+v", rs)
	}
}

func TestMainController_Dispense_RejectedWhileBusy(t *testing.T) {
	s := newStation(t, hardware.FaultFlowBlocked).init(t)

	if err := s.ctrl.Dispense(500, "beer"); err != nil {
		t.Fatalf("Dispense() error = %v", err)
	}
	if err := s.ctrl.Dispense(500, "beer"); !errors.Is(err, ErrConflict) {
		t.Fatalf("second Dispense() err = %v, want ErrConflict", err)
	}
	s.waitState(t, models.StatePouringBeverage)
	if err := s.ctrl.Dispense(500, "kofola"); !errors.Is(err, ErrConflict) {
		t.Fatalf("Dispense() while pouring err = %v, want ErrConflict", err)
	}
	if got := s.ctrl.State(); got != models.StatePouringBeverage {
		t.Fatalf("state = %s after rejected dispense, want pouring_beverage", got)
	}
}

func TestMainController_Dispense_InvalidVolume(t *testing.T) {
	s := newStation(t).init(t)

	for _, v := range []float64{-1, 30} {
		if err := s.ctrl.Dispense(v, "beer"); !errors.Is(err, ErrInvalidRequest) {
			t.Fatalf("Dispense(%.0f) err = %v, want ErrInvalidRequest", v, err)
		}
	}
	if got := s.ctrl.State(); got != models.StateIdle {
		t.Fatalf("state = %s, want idle", got)
	}
}

func TestMainController_CupJamEndsInError(t *testing.T) {
	s := newStation(t, hardware.FaultCupJam).init(t)

	if err := s.ctrl.Dispense(0, "beer"); err != nil {
		t.Fatalf("Dispense() error = %v", err)
	}
	s.waitState(t, models.StateError)

	hist := s.ctrl.GetErrorHistory()
	if len(hist) != 1 || !strings.Contains(hist[0].Message, "retries exhausted") || hist[0].Code != "CUP_DISPENSE_FAILED" {
		t.Fatalf("error history = %+v, want one exhausted cup dispense record", hist)
	}
	st := s.ctrl.GetSystemState()
	if st.Stats.Errors != 1 || st.Stats.CupsDispensed != 0 || st.Stats.BeveragesPoured != 0 {
		t.Fatalf("stats = %+v", st.Stats)
	}
	if s.rig.State().Feed != 0 {
		t.Fatalf("feed motor left on")
	}

	if err := s.ctrl.Dispense(0, "beer"); !errors.Is(err, ErrConflict) {
		t.Fatalf("Dispense() in error state err = %v, want ErrConflict", err)
	}
	if got := s.ctrl.State(); got != models.StateError {
		t.Fatalf("state = %s, want error", got)
	}

	if err := s.ctrl.ResetSystem(); err != nil {
		t.Fatalf("ResetSystem() error = %v", err)
	}
	if got := s.ctrl.State(); got != models.StateIdle {
		t.Fatalf("state after reset = %s, want idle", got)
	}
	if got := s.ctrl.Stats().Errors; got != 0 {
		t.Fatalf("errors after reset = %d, want 0", got)
	}
	if n := len(s.ctrl.GetErrorHistory()); n != 1 {
		t.Fatalf("reset must keep error history, got %d records", n)
	}
}

func TestMainController_StopOperation_MidPour(t *testing.T) {
	s := newStation(t, hardware.FaultFlowBlocked).init(t)

	if err := s.ctrl.Dispense(0, "beer"); err != nil {
		t.Fatalf("Dispense() error = %v", err)
	}
	waitFor(t, 5*time.Second, "pour session", func() bool { return s.ctrl.GetSystemState().Pour != nil })
	if s.rig.State().Valve == 0 {
		t.Fatalf("valve should be open while pouring")
	}

	if err := s.ctrl.StopOperation(); err != nil {
		t.Fatalf("StopOperation() error = %v", err)
	}
	if got := s.ctrl.State(); got != models.StateIdle {
		t.Fatalf("state = %s, want idle", got)
	}
	if v := s.rig.State().Valve; v != 0 {
		t.Fatalf("valve at %.2f after stop", v)
	}

	time.Sleep(30 * time.Millisecond)
	if got := s.ctrl.State(); got != models.StateIdle {
		t.Fatalf("stopped run moved state to %s", got)
	}
	if got := s.ctrl.Stats().Errors; got != 0 {
		t.Fatalf("stop counted as error: %d", got)
	}
	if len(s.telemetry.ofType(models.EventStop)) != 1 {
		t.Fatalf("expected one STOP event")
	}
	if err := s.ctrl.Dispense(0, "beer"); err != nil {
		t.Fatalf("Dispense() after stop error = %v", err)
	}
}

func TestMainController_Maintenance(t *testing.T) {
	s := newStation(t).init(t)
	ctx := context.Background()

	if err := s.ctrl.MoveConveyor(ctx, 0.5, 5*time.Millisecond); !errors.Is(err, ErrConflict) {
		t.Fatalf("MoveConveyor() outside maintenance err = %v, want ErrConflict", err)
	}
	if err := s.ctrl.ExitMaintenanceMode(); !errors.Is(err, ErrConflict) {
		t.Fatalf("ExitMaintenanceMode() from idle err = %v, want ErrConflict", err)
	}

	if err := s.ctrl.EnterMaintenanceMode(); err != nil {
		t.Fatalf("EnterMaintenanceMode() error = %v", err)
	}
	if err := s.ctrl.Dispense(0, "beer"); !errors.Is(err, ErrConflict) {
		t.Fatalf("Dispense() in maintenance err = %v, want ErrConflict", err)
	}
	if got := s.ctrl.State(); got != models.StateMaintenance {
		t.Fatalf("state = %s, want maintenance", got)
	}
	if err := s.ctrl.MoveConveyor(ctx, 0.5, 5*time.Millisecond); err != nil {
		t.Fatalf("MoveConveyor() error = %v", err)
	}
	if s.rig.State().Conveyor != 0 {
		t.Fatalf("conveyor left on after manual move")
	}
	if err := s.ctrl.ExitMaintenanceMode(); err != nil {
		t.Fatalf("ExitMaintenanceMode() error = %v", err)
	}
	if got := s.ctrl.State(); got != models.StateIdle {
		t.Fatalf("state = %s, want idle", got)
	}
	if n := len(s.telemetry.ofType(models.EventMaintenance)); n != 2 {
		t.Fatalf("maintenance events = %d, want 2", n)
	}
}

func TestMainController_EnterMaintenanceRejectedWhileRunning(t *testing.T) {
	s := newStation(t, hardware.FaultFlowBlocked).init(t)

	if err := s.ctrl.Dispense(0, "beer"); err != nil {
		t.Fatalf("Dispense() error = %v", err)
	}
	if err := s.ctrl.EnterMaintenanceMode(); !errors.Is(err, ErrConflict) {
		t.Fatalf("EnterMaintenanceMode() err = %v, want ErrConflict", err)
	}
}

func TestMainController_StatsPersistence(t *testing.T) {
	s := newStation(t)
	s.store.loaded = models.Stats{CupsDispensed: 40, BeveragesPoured: 39, TotalVolumeMl: 17550, Errors: 1}
	s.init(t)

	if got := s.ctrl.Stats(); got != s.store.loaded {
		t.Fatalf("restored stats = %+v, want %+v", got, s.store.loaded)
	}
	if err := s.ctrl.CheckpointStats(context.Background()); err != nil {
		t.Fatalf("CheckpointStats() error = %v", err)
	}
	if got := s.store.last(t); got != s.store.loaded {
		t.Fatalf("checkpoint saved %+v", got)
	}

	if err := s.ctrl.ResetStats(); err != nil {
		t.Fatalf("ResetStats() error = %v", err)
	}
	if got := s.store.last(t); got != (models.Stats{}) {
		t.Fatalf("reset stats persisted %+v, want zero", got)
	}
	if len(s.telemetry.ofType(models.EventReset)) != 1 {
		t.Fatalf("expected one RESET event")
	}
}

func TestMainController_InitializeSystem_HardwareFailure(t *testing.T) {
	s := newStation(t, hardware.FaultInit)

	if err := s.ctrl.InitializeSystem(context.Background()); !errors.Is(err, ErrInitialization) {
		t.Fatalf("InitializeSystem() err = %v, want ErrInitialization", err)
	}
}

func TestMainController_MonitorFeedsSensors(t *testing.T) {
	s := newStation(t).init(t)
	s.rig.PlaceCup()

	waitFor(t, time.Second, "cup on platform", func() bool {
		sn := s.ctrl.GetSystemState().Sensors
		return sn.CupPresent && sn.WeightG == hardware.DefaultCupTareG
	})
}

func TestMainController_Shutdown(t *testing.T) {
	s := newStation(t).init(t)
	s.rig.PlaceCup()

	if err := s.ctrl.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	s.store.last(t)
	if s.ctrl.c.Monitor.IsMonitoring() {
		t.Fatalf("monitor still running after shutdown")
	}
}
