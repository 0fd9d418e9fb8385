package service

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"beverage_dispenser/internal/hardware"
	"beverage_dispenser/internal/logger"
	"beverage_dispenser/internal/metrics"
	"beverage_dispenser/internal/models"
)

const (
	// DefaultMlPerPulse is the flow meter calibration constant.
	DefaultMlPerPulse = 2.25
	// DefaultTimeoutFactor bounds a pour to volume / (flowRate × factor)
	// seconds. It is a heuristic, not a physical limit.
	DefaultTimeoutFactor = 0.5
	// DefaultSettleDelay lets the foam settle after the valve closes.
	DefaultSettleDelay = 1 * time.Second
)

// StopReason tells why the valve loop ended.
type StopReason string

const (
	ReasonTargetReached StopReason = "target_reached"
	ReasonLevelSensor   StopReason = "level_sensor"
	ReasonTimeout       StopReason = "timeout"
	ReasonCancelled     StopReason = "cancelled"
	ReasonFault         StopReason = "fault"
)

// FlowConfig tunes the valve loop.
type FlowConfig struct {
	MlPerPulse    float64       `mapstructure:"ml_per_pulse"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	TimeoutFactor float64       `mapstructure:"timeout_factor"`
	SettleDelay   time.Duration `mapstructure:"settle_delay"`
}

func (c FlowConfig) withDefaults() FlowConfig {
	if c.MlPerPulse <= 0 {
		c.MlPerPulse = DefaultMlPerPulse
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.TimeoutFactor <= 0 {
		c.TimeoutFactor = DefaultTimeoutFactor
	}
	if c.SettleDelay < 0 {
		c.SettleDelay = 0
	}
	return c
}

// PourResult describes a finished pour.
type PourResult struct {
	BeverageKey string        `json:"beverage"`
	VolumeMl    float64       `json:"volume_ml"`
	TargetMl    float64       `json:"target_ml"`
	DispensedMl float64       `json:"dispensed_ml"`
	Pulses      int64         `json:"pulses"`
	SlowPour    bool          `json:"slow_pour"`
	Reason      StopReason    `json:"reason"`
	Duration    time.Duration `json:"duration"`
}

// FlowController opens the beverage valve, integrates flow meter pulses and
// closes the valve on target, full cup, timeout or stop.
type FlowController struct {
	hw       hardware.FlowHardware
	profiles ProfileRegistry
	cfg      FlowConfig
	log      *logger.Logger

	pouring atomic.Bool
	abort   atomic.Bool

	mu      sync.Mutex // guards session and current
	session *models.PourSession
	current string
}

// NewFlowController builds a FlowController over the beverage line.
func NewFlowController(hw hardware.FlowHardware, profiles ProfileRegistry, cfg FlowConfig, log *logger.Logger) *FlowController {
	return &FlowController{
		hw:       hw,
		profiles: profiles,
		cfg:      cfg.withDefaults(),
		log:      log.Component("flow_controller"),
		current:  profiles.Lookup("").Key,
	}
}

// Init prepares the beverage line and makes sure the valve is closed.
func (f *FlowController) Init() error {
	if f.hw.Device != nil {
		if err := f.hw.Device.Init(); err != nil {
			return fmt.Errorf("flow controller: %w: %w", ErrInitialization, err)
		}
	}
	if err := hardware.Off(f.hw.Valve); err != nil {
		return fmt.Errorf("flow controller: close valve: %w: %w", ErrInitialization, err)
	}
	f.log.Infow("flow_controller_initialized")
	return nil
}

// Close stops any pour and releases the beverage line.
func (f *FlowController) Close() error {
	_ = f.StopPour()
	if f.hw.Device == nil {
		return nil
	}
	return f.hw.Device.Close()
}

// Pour dispenses volumeMl of the given beverage; volumeMl <= 0 selects the
// profile default. The valve is closed on every return path.
func (f *FlowController) Pour(ctx context.Context, beverageKey string, volumeMl float64) (PourResult, error) {
	if !f.pouring.CompareAndSwap(false, true) {
		return PourResult{}, fmt.Errorf("flow controller: pour already in progress: %w", ErrConflict)
	}
	defer f.pouring.Store(false)

	prof := f.profiles.Lookup(beverageKey)
	volume := volumeMl
	if volume <= 0 {
		volume = prof.DefaultVolumeMl
	}
	target := volume - prof.FoamHeadspaceMl
	res := PourResult{BeverageKey: prof.Key, VolumeMl: volume, TargetMl: target}
	if target <= 0 {
		return res, fmt.Errorf("flow controller: volume %.0f ml does not exceed foam headspace %.0f ml: %w",
			volume, prof.FoamHeadspaceMl, ErrInvalidRequest)
	}

	f.mu.Lock()
	f.current = prof.Key
	f.mu.Unlock()
	f.abort.Store(false)

	if err := f.hw.Meter.Reset(); err != nil {
		res.Reason = ReasonFault
		return res, fmt.Errorf("flow controller: reset flow meter: %w: %w", ErrOperation, err)
	}

	start := time.Now()
	sess := models.PourSession{BeverageKey: prof.Key, TargetMl: target, StartedAt: start}
	f.publish(&sess)
	defer f.publish(nil)

	defer stopActuator(f.hw.Valve, f.log, "valve")
	if err := f.hw.Valve.Drive(1); err != nil {
		res.Reason = ReasonFault
		return res, fmt.Errorf("flow controller: open valve: %w: %w", ErrOperation, err)
	}
	f.log.Infow("pour_started", "beverage", prof.Key, "volume_ml", volume, "target_ml", target)

	reason, err := f.runValveLoop(ctx, prof, volume, &sess)

	res.Pulses = sess.Pulses
	res.DispensedMl = sess.VolumeMl
	res.SlowPour = sess.SlowPour
	res.Reason = reason
	res.Duration = time.Since(start)
	if err != nil {
		f.log.Warnw("pour_aborted", "beverage", prof.Key, "reason", reason, "dispensed_ml", res.DispensedMl, "err", err)
		return res, err
	}

	stopActuator(f.hw.Valve, f.log, "valve")
	f.log.Infow("pour_completed", "beverage", prof.Key, "reason", reason,
		"dispensed_ml", res.DispensedMl, "duration", res.Duration)
	// the pour is done even if the settle wait is interrupted
	_ = sleepCtx(ctx, f.cfg.SettleDelay)
	return res, nil
}

// runValveLoop polls the flow meter until a stop condition holds.
func (f *FlowController) runValveLoop(ctx context.Context, prof models.BeverageProfile, volume float64, sess *models.PourSession) (StopReason, error) {
	targetPulses := sess.TargetMl / f.cfg.MlPerPulse
	slowPulses := targetPulses * prof.SlowPourThreshold
	timeout := PourTimeout(prof, volume, f.cfg.TimeoutFactor)

	ticker := time.NewTicker(f.cfg.PollInterval)
	defer ticker.Stop()
	for {
		if n, err := f.hw.Meter.Count(); err != nil {
			f.log.Warnw("flow_meter_read_failed", "err", err)
		} else {
			sess.Pulses = n
			sess.VolumeMl = float64(n) * f.cfg.MlPerPulse
		}

		if f.abort.Load() {
			return ReasonCancelled, fmt.Errorf("flow controller: pour stopped: %w", ErrCancelled)
		}
		if !sess.SlowPour && float64(sess.Pulses) >= slowPulses {
			if err := f.hw.Valve.Drive(prof.SlowPourRate); err != nil {
				return ReasonFault, fmt.Errorf("flow controller: enter slow pour: %w: %w", ErrOperation, err)
			}
			sess.SlowPour = true
			metrics.IncSlowPour()
			f.log.Debugw("slow_pour_started", "pulses", sess.Pulses, "volume_ml", sess.VolumeMl)
		}
		f.publish(sess)

		if sess.VolumeMl >= sess.TargetMl {
			return ReasonTargetReached, nil
		}
		if full, err := f.hw.Level.Active(); err != nil {
			f.log.Warnw("level_sensor_read_failed", "err", err)
		} else if full {
			f.log.Infow("level_sensor_triggered", "volume_ml", sess.VolumeMl)
			return ReasonLevelSensor, nil
		}
		if elapsed := time.Since(sess.StartedAt); elapsed > timeout {
			return ReasonTimeout, fmt.Errorf("flow controller: %.1f of %.1f ml after %s, flow might be impeded: %w",
				sess.VolumeMl, sess.TargetMl, elapsed.Round(time.Millisecond), ErrTimeout)
		}

		select {
		case <-ctx.Done():
			return ReasonCancelled, fmt.Errorf("flow controller: %w", ErrCancelled)
		case <-ticker.C:
		}
	}
}

// StopPour closes the valve and makes the active loop return on its next
// iteration.
func (f *FlowController) StopPour() error {
	f.abort.Store(true)
	if err := hardware.Off(f.hw.Valve); err != nil {
		return fmt.Errorf("flow controller: close valve: %w: %w", ErrOperation, err)
	}
	if f.pouring.Load() {
		f.log.Infow("pour_stopped_manually")
	}
	return nil
}

// Session returns a copy of the active pour session, or nil.
func (f *FlowController) Session() *models.PourSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.session == nil {
		return nil
	}
	s := *f.session
	return &s
}

// CurrentBeverage returns the key of the last selected beverage.
func (f *FlowController) CurrentBeverage() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

// Temperature returns a sample within the current beverage's serving range.
// It never reads hardware.
func (f *FlowController) Temperature() float64 {
	prof := f.profiles.Lookup(f.CurrentBeverage())
	lo, hi := prof.TemperatureMinC, prof.TemperatureMaxC
	t := math.Round((lo+rand.Float64()*(hi-lo))*10) / 10
	return math.Min(math.Max(t, lo), hi)
}

func (f *FlowController) publish(s *models.PourSession) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s == nil {
		f.session = nil
		return
	}
	cp := *s
	f.session = &cp
}

// PourTimeout is the wall-clock bound of a pour of volume ml.
func PourTimeout(prof models.BeverageProfile, volume, factor float64) time.Duration {
	if factor <= 0 {
		factor = DefaultTimeoutFactor
	}
	secs := volume / (prof.FlowRateMlPerSec * factor)
	return time.Duration(secs * float64(time.Second))
}

// NominalDuration is the expected pour time at the profile flow rate: the
// normal phase up to the slow-pour threshold plus the slow phase.
func NominalDuration(prof models.BeverageProfile, volume float64) time.Duration {
	if volume <= 0 {
		volume = prof.DefaultVolumeMl
	}
	target := volume - prof.FoamHeadspaceMl
	if target <= 0 || prof.FlowRateMlPerSec <= 0 {
		return 0
	}
	slowAt := target * prof.SlowPourThreshold
	normal := slowAt / prof.FlowRateMlPerSec
	slow := (target - slowAt) / (prof.FlowRateMlPerSec * prof.SlowPourRate)
	return time.Duration((normal + slow) * float64(time.Second))
}
