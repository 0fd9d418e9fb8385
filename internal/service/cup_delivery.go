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
	DefaultConveyorSpeed   = 0.5
	DefaultDeliveryTimeout = 10 * time.Second
	// MaxManualMove bounds a maintenance conveyor move.
	MaxManualMove = time.Minute
)

// DeliveryConfig tunes the conveyor.
type DeliveryConfig struct {
	Speed        float64       `mapstructure:"speed"`
	Timeout      time.Duration `mapstructure:"timeout"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

func (c DeliveryConfig) withDefaults() DeliveryConfig {
	if c.Speed <= 0 || c.Speed > 1 {
		c.Speed = DefaultConveyorSpeed
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultDeliveryTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	return c
}

// CupDelivery carries a filled cup to the pickup position.
type CupDelivery struct {
	hw    hardware.ConveyorHardware
	cfg   DeliveryConfig
	log   *logger.Logger
	abort atomic.Bool
}

func NewCupDelivery(hw hardware.ConveyorHardware, cfg DeliveryConfig, log *logger.Logger) *CupDelivery {
	return &CupDelivery{hw: hw, cfg: cfg.withDefaults(), log: log.Component("cup_delivery")}
}

// Init prepares the conveyor and stops its motor.
func (c *CupDelivery) Init() error {
	if c.hw.Device != nil {
		if err := c.hw.Device.Init(); err != nil {
			return fmt.Errorf("cup delivery: %w: %w", ErrInitialization, err)
		}
	}
	if err := hardware.Off(c.hw.Motor); err != nil {
		return fmt.Errorf("cup delivery: %w: %w", ErrInitialization, err)
	}
	c.log.Infow("cup_delivery_initialized")
	return nil
}

// Close stops the conveyor and releases it.
func (c *CupDelivery) Close() error {
	_ = c.StopConveyor()
	if c.hw.Device == nil {
		return nil
	}
	return c.hw.Device.Close()
}

// Deliver runs the conveyor until the pickup sensor fires or the delivery
// timeout elapses. The motor is stopped on every return path.
func (c *CupDelivery) Deliver(ctx context.Context) error {
	c.abort.Store(false)
	c.log.Infow("cup_delivery_started", "speed", c.cfg.Speed)

	defer stopActuator(c.hw.Motor, c.log, "conveyor")
	if err := c.hw.Motor.Drive(c.cfg.Speed); err != nil {
		return fmt.Errorf("cup delivery: start conveyor: %w: %w", ErrOperation, err)
	}
	if err := waitForSensor(ctx, c.hw.Position, c.cfg.Timeout, c.cfg.PollInterval, &c.abort, c.log, "pickup position sensor"); err != nil {
		c.log.Warnw("cup_not_delivered", "err", err)
		return fmt.Errorf("cup delivery: %w", err)
	}
	c.log.Infow("cup_delivered")
	return nil
}

// MoveConveyor runs the belt at speed for d. A zero speed uses the
// configured delivery speed.
func (c *CupDelivery) MoveConveyor(ctx context.Context, speed float64, d time.Duration) error {
	if speed == 0 {
		speed = c.cfg.Speed
	}
	if speed < 0 || speed > 1 {
		return fmt.Errorf("cup delivery: speed %.2f outside [0,1]: %w", speed, ErrInvalidRequest)
	}
	if d <= 0 || d > MaxManualMove {
		return fmt.Errorf("cup delivery: duration %s outside (0,%s]: %w", d, MaxManualMove, ErrInvalidRequest)
	}
	c.abort.Store(false)
	c.log.Infow("conveyor_manual_move", "speed", speed, "duration", d)

	defer stopActuator(c.hw.Motor, c.log, "conveyor")
	if err := c.hw.Motor.Drive(speed); err != nil {
		return fmt.Errorf("cup delivery: start conveyor: %w: %w", ErrOperation, err)
	}

	deadline := time.NewTimer(d)
	defer deadline.Stop()
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-deadline.C:
			return nil
		case <-ctx.Done():
			return fmt.Errorf("cup delivery: manual move: %w", ErrCancelled)
		case <-ticker.C:
			if c.abort.Load() {
				return fmt.Errorf("cup delivery: manual move: %w", ErrCancelled)
			}
		}
	}
}

// StopConveyor stops the belt and aborts any wait in progress.
func (c *CupDelivery) StopConveyor() error {
	c.abort.Store(true)
	if err := hardware.Off(c.hw.Motor); err != nil {
		return fmt.Errorf("cup delivery: stop conveyor: %w: %w", ErrOperation, err)
	}
	return nil
}
