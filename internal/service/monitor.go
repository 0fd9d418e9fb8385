package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"beverage_dispenser/internal/hardware"
	"beverage_dispenser/internal/logger"
	"beverage_dispenser/internal/metrics"
	"beverage_dispenser/internal/models"
)

const (
	DefaultMonitorInterval = time.Second
	monitorJoinTimeout     = 2 * time.Second
)

// SystemMonitor samples the platform scale and the cup presence sensor in
// the background.
type SystemMonitor struct {
	hw  hardware.MonitorHardware
	log *logger.Logger

	mu   sync.Mutex // guards snap
	snap models.SensorSnapshot

	runMu  sync.Mutex // guards cancel and done
	cancel context.CancelFunc
	done   chan struct{}
}

func NewSystemMonitor(hw hardware.MonitorHardware, log *logger.Logger) *SystemMonitor {
	return &SystemMonitor{hw: hw, log: log.Component("system_monitor")}
}

// StartMonitoring initializes the sensors and starts sampling every
// interval. It is a no-op when monitoring is already active.
func (m *SystemMonitor) StartMonitoring(interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultMonitorInterval
	}
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.cancel != nil {
		return nil
	}
	if m.hw.Device != nil {
		if err := m.hw.Device.Init(); err != nil {
			return fmt.Errorf("system monitor: %w: %w", ErrInitialization, err)
		}
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.run(ctx, interval, m.done)
	m.log.Infow("monitoring_started", "interval", interval)
	return nil
}

// StopMonitoring stops the sampling loop and releases the sensors.
func (m *SystemMonitor) StopMonitoring() error {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.cancel == nil {
		return nil
	}
	m.cancel()
	m.cancel = nil

	var err error
	select {
	case <-m.done:
	case <-time.After(monitorJoinTimeout):
		err = fmt.Errorf("system monitor: loop did not stop within %s", monitorJoinTimeout)
	}
	if m.hw.Device != nil {
		if cerr := m.hw.Device.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	m.log.Infow("monitoring_stopped")
	return err
}

// IsMonitoring reports whether the sampling loop is running.
func (m *SystemMonitor) IsMonitoring() bool {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	return m.cancel != nil
}

// GetSensorData returns the latest snapshot.
func (m *SystemMonitor) GetSensorData() models.SensorSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap
}

func (m *SystemMonitor) run(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.sample()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sample()
		}
	}
}

// sample reads both sensors. A failed read keeps the previous value of that
// field; LastUpdate always moves forward.
func (m *SystemMonitor) sample() {
	m.mu.Lock()
	next := m.snap
	m.mu.Unlock()

	if w, err := m.hw.Scale.Weight(); err != nil {
		m.log.Warnw("scale_read_failed", "err", err)
	} else {
		next.WeightG = w
		metrics.SetWeight(w)
	}
	if present, err := m.hw.Presence.Active(); err != nil {
		m.log.Warnw("presence_read_failed", "err", err)
	} else {
		next.CupPresent = present
	}

	now := time.Now()
	if !now.After(next.LastUpdate) {
		now = next.LastUpdate.Add(time.Nanosecond)
	}
	next.LastUpdate = now

	m.mu.Lock()
	m.snap = next
	m.mu.Unlock()
}
