package service

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"beverage_dispenser/internal/hardware"
	"beverage_dispenser/internal/logger"
)

const (
	DefaultReleaseHold      = 500 * time.Millisecond
	DefaultDropDelay        = 2 * time.Second
	DefaultDetectionTimeout = 5 * time.Second
)

// CupDispenserConfig tunes the cup feed.
type CupDispenserConfig struct {
	ReleaseHold      time.Duration `mapstructure:"release_hold"`
	DropDelay        time.Duration `mapstructure:"drop_delay"`
	DetectionTimeout time.Duration `mapstructure:"detection_timeout"`
	PollInterval     time.Duration `mapstructure:"poll_interval"`
}

func (c CupDispenserConfig) withDefaults() CupDispenserConfig {
	if c.ReleaseHold <= 0 {
		c.ReleaseHold = DefaultReleaseHold
	}
	if c.DropDelay < 0 {
		c.DropDelay = 0
	}
	if c.DetectionTimeout <= 0 {
		c.DetectionTimeout = DefaultDetectionTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	return c
}

// CupDispenser releases one cup from the stack and feeds it to the fill
// position.
type CupDispenser struct {
	hw    hardware.FeederHardware
	cfg   CupDispenserConfig
	log   *logger.Logger
	abort atomic.Bool
}

func NewCupDispenser(hw hardware.FeederHardware, cfg CupDispenserConfig, log *logger.Logger) *CupDispenser {
	return &CupDispenser{hw: hw, cfg: cfg.withDefaults(), log: log.Component("cup_dispenser")}
}

// Init prepares the feeder and stops its outputs.
func (d *CupDispenser) Init() error {
	if d.hw.Device != nil {
		if err := d.hw.Device.Init(); err != nil {
			return fmt.Errorf("cup dispenser: %w: %w", ErrInitialization, err)
		}
	}
	if err := hardware.Off(d.hw.Release); err != nil {
		return fmt.Errorf("cup dispenser: %w: %w", ErrInitialization, err)
	}
	if err := hardware.Off(d.hw.Motor); err != nil {
		return fmt.Errorf("cup dispenser: %w: %w", ErrInitialization, err)
	}
	d.log.Infow("cup_dispenser_initialized")
	return nil
}

// Close stops the feeder and releases it.
func (d *CupDispenser) Close() error {
	_ = d.Stop()
	if d.hw.Device == nil {
		return nil
	}
	return d.hw.Device.Close()
}

// Dispense pulses the release gate, waits for the cup to drop, then runs the
// feed motor until the position sensor sees the cup.
func (d *CupDispenser) Dispense(ctx context.Context) error {
	d.abort.Store(false)
	d.log.Infow("cup_dispense_started")

	defer stopActuator(d.hw.Release, d.log, "release_gate")
	if err := d.hw.Release.Drive(1); err != nil {
		return fmt.Errorf("cup dispenser: open release gate: %w: %w", ErrOperation, err)
	}
	if err := sleepCtx(ctx, d.cfg.ReleaseHold); err != nil {
		return fmt.Errorf("cup dispenser: release: %w", err)
	}
	if err := hardware.Off(d.hw.Release); err != nil {
		return fmt.Errorf("cup dispenser: close release gate: %w: %w", ErrOperation, err)
	}
	if err := sleepCtx(ctx, d.cfg.DropDelay); err != nil {
		return fmt.Errorf("cup dispenser: drop: %w", err)
	}

	defer stopActuator(d.hw.Motor, d.log, "feed_motor")
	if err := d.hw.Motor.Drive(1); err != nil {
		return fmt.Errorf("cup dispenser: start feed motor: %w: %w", ErrOperation, err)
	}
	if err := waitForSensor(ctx, d.hw.Position, d.cfg.DetectionTimeout, d.cfg.PollInterval, &d.abort, d.log, "cup position sensor"); err != nil {
		d.log.Warnw("cup_not_detected", "err", err)
		return fmt.Errorf("cup dispenser: %w", err)
	}
	d.log.Infow("cup_dispensed")
	return nil
}

// Stop halts the feed motor and closes the release gate.
func (d *CupDispenser) Stop() error {
	d.abort.Store(true)
	if err := hardware.Off(d.hw.Motor); err != nil {
		return fmt.Errorf("cup dispenser: stop feed motor: %w: %w", ErrOperation, err)
	}
	if err := hardware.Off(d.hw.Release); err != nil {
		return fmt.Errorf("cup dispenser: close release gate: %w: %w", ErrOperation, err)
	}
	return nil
}
