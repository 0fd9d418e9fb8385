package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"beverage_dispenser/internal/logger"
	"beverage_dispenser/internal/models"
)

// fakeActuator records every level it is driven to.
type fakeActuator struct {
	mu      sync.Mutex
	levels  []float64
	onErr   error // returned for non-zero levels
	offErr  error // returned for zero
	current float64
}

func (a *fakeActuator) Drive(level float64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if level > 0 && a.onErr != nil {
		return a.onErr
	}
	if level == 0 && a.offErr != nil {
		return a.offErr
	}
	a.current = level
	a.levels = append(a.levels, level)
	return nil
}

func (a *fakeActuator) Level() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}

func (a *fakeActuator) Levels() []float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]float64, len(a.levels))
	copy(out, a.levels)
	return out
}

// fakeSensor becomes active on read number activateAt (1-based); zero means
// never unless active is set.
type fakeSensor struct {
	mu         sync.Mutex
	active     bool
	activateAt int
	err        error
	reads      int
}

func (s *fakeSensor) Active() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	if s.err != nil {
		return false, s.err
	}
	if s.activateAt > 0 && s.reads >= s.activateAt {
		return true, nil
	}
	return s.active, nil
}

func (s *fakeSensor) set(active bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active, s.err = active, err
}

func (s *fakeSensor) Reads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads
}

// fakeMeter adds step pulses on every Count.
type fakeMeter struct {
	mu     sync.Mutex
	step   int64
	pulses int64
	resets int
	err    error
}

func (m *fakeMeter) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resets++
	m.pulses = 0
	return nil
}

func (m *fakeMeter) Count() (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	m.pulses += m.step
	return m.pulses, nil
}

type fakeScale struct {
	mu  sync.Mutex
	w   float64
	err error
}

func (s *fakeScale) Weight() (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w, s.err
}

func (s *fakeScale) set(w float64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.w, s.err = w, err
}

type fakeDevice struct {
	mu       sync.Mutex
	initErr  error
	closeErr error
	inits    int
	closes   int
}

func (d *fakeDevice) Init() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.inits++
	return d.initErr
}

func (d *fakeDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closes++
	return d.closeErr
}

// fakeTelemetry collects recorded events.
type fakeTelemetry struct {
	mu     sync.Mutex
	events []models.Event
}

func (f *fakeTelemetry) Record(ctx context.Context, e models.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
	return nil
}

func (f *fakeTelemetry) ofType(typ string) []models.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Event
	for _, e := range f.events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

type fakeStatsStore struct {
	mu      sync.Mutex
	loaded  models.Stats
	loadErr error
	saved   []models.Stats
}

func (f *fakeStatsStore) Save(ctx context.Context, s models.Stats) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, s)
	return nil
}

func (f *fakeStatsStore) Load(ctx context.Context) (models.Stats, error) {
	return f.loaded, f.loadErr
}

func (f *fakeStatsStore) last(t *testing.T) models.Stats {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.saved) == 0 {
		t.Fatalf("expected at least one Save call")
	}
	return f.saved[len(f.saved)-1]
}

func nopLog() *logger.Logger { return logger.NewNop() }

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out after %s waiting for %s", timeout, what)
}
