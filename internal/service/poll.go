package service

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"beverage_dispenser/internal/hardware"
	"beverage_dispenser/internal/logger"
)

// DefaultPollInterval is the sensor polling period of every wait loop.
const DefaultPollInterval = 100 * time.Millisecond

// waitForSensor polls s every interval until it reports active, the timeout
// elapses, the abort flag is raised or ctx is done. Read errors are logged
// and treated as "not yet".
func waitForSensor(ctx context.Context, s hardware.Sensor, timeout, interval time.Duration, abort *atomic.Bool, log *logger.Logger, name string) error {
	start := time.Now()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		active, err := s.Active()
		if err != nil {
			log.Warnw("sensor_read_failed", "sensor", name, "err", err)
		} else if active {
			return nil
		}
		if time.Since(start) >= timeout {
			return fmt.Errorf("%s not triggered within %s: %w", name, timeout, ErrTimeout)
		}
		if abort != nil && abort.Load() {
			return fmt.Errorf("waiting for %s: %w", name, ErrCancelled)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for %s: %w", name, ErrCancelled)
		case <-ticker.C:
		}
	}
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ErrCancelled
	case <-t.C:
		return nil
	}
}

// stopActuator drives a to zero, logging rather than returning the error.
// Used from deferred calls on every exit path.
func stopActuator(a hardware.Actuator, log *logger.Logger, name string) {
	if err := hardware.Off(a); err != nil {
		log.Errorw("actuator_stop_failed", "actuator", name, "err", err)
	}
}
