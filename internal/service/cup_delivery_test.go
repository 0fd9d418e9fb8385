package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"beverage_dispenser/internal/hardware"
)

func newTestDelivery(motor *fakeActuator, position *fakeSensor, timeout time.Duration) *CupDelivery {
	return NewCupDelivery(hardware.ConveyorHardware{
		Device:   &fakeDevice{},
		Motor:    motor,
		Position: position,
	}, DeliveryConfig{Timeout: timeout, PollInterval: time.Millisecond}, nopLog())
}

func TestCupDelivery_Deliver(t *testing.T) {
	tests := []struct {
		name       string
		activateAt int
		timeout    time.Duration
		wantErr    error
	}{
		{name: "cup reaches pickup", activateAt: 4, timeout: time.Second},
		{name: "pickup sensor never fires", timeout: 15 * time.Millisecond, wantErr: ErrTimeout},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			motor := &fakeActuator{}
			c := newTestDelivery(motor, &fakeSensor{activateAt: tc.activateAt}, tc.timeout)

			err := c.Deliver(context.Background())
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("Deliver() err = %v, want %v", err, tc.wantErr)
			}
			lv := motor.Levels()
			if len(lv) < 2 || lv[0] != DefaultConveyorSpeed || lv[len(lv)-1] != 0 {
				t.Fatalf("conveyor levels = %v, want [%.1f ... 0]", lv, DefaultConveyorSpeed)
			}
		})
	}
}

func TestCupDelivery_StopConveyor_AbortsDeliver(t *testing.T) {
	motor := &fakeActuator{}
	c := newTestDelivery(motor, &fakeSensor{}, 5*time.Second)

	errc := make(chan error, 1)
	go func() { errc <- c.Deliver(context.Background()) }()
	waitFor(t, time.Second, "conveyor start", func() bool { return motor.Level() > 0 })

	if err := c.StopConveyor(); err != nil {
		t.Fatalf("StopConveyor() error = %v", err)
	}
	select {
	case err := <-errc:
		if !errors.Is(err, ErrCancelled) {
			t.Fatalf("Deliver() err = %v, want ErrCancelled", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("delivery did not stop")
	}
	if motor.Level() != 0 {
		t.Fatalf("conveyor left on")
	}
}

func TestCupDelivery_MoveConveyor(t *testing.T) {
	tests := []struct {
		name      string
		speed     float64
		duration  time.Duration
		wantErr   error
		wantLevel float64
	}{
		{name: "explicit speed", speed: 0.8, duration: 5 * time.Millisecond, wantLevel: 0.8},
		{name: "default speed", speed: 0, duration: 5 * time.Millisecond, wantLevel: DefaultConveyorSpeed},
		{name: "speed above range", speed: 1.5, duration: 5 * time.Millisecond, wantErr: ErrInvalidRequest},
		{name: "negative speed", speed: -0.1, duration: 5 * time.Millisecond, wantErr: ErrInvalidRequest},
		{name: "zero duration", speed: 0.5, duration: 0, wantErr: ErrInvalidRequest},
		{name: "duration too long", speed: 0.5, duration: 2 * MaxManualMove, wantErr: ErrInvalidRequest},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			motor := &fakeActuator{}
			c := newTestDelivery(motor, &fakeSensor{}, time.Second)

			start := time.Now()
			err := c.MoveConveyor(context.Background(), tc.speed, tc.duration)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("MoveConveyor() err = %v, want %v", err, tc.wantErr)
			}
			if tc.wantErr != nil {
				if len(motor.Levels()) != 0 {
					t.Fatalf("conveyor driven on invalid request: %v", motor.Levels())
				}
				return
			}
			if time.Since(start) < tc.duration {
				t.Fatalf("returned before %s", tc.duration)
			}
			lv := motor.Levels()
			if len(lv) != 2 || lv[0] != tc.wantLevel || lv[1] != 0 {
				t.Fatalf("conveyor levels = %v, want [%.2f 0]", lv, tc.wantLevel)
			}
		})
	}
}

func TestCupDelivery_MoveConveyor_Stop(t *testing.T) {
	motor := &fakeActuator{}
	c := newTestDelivery(motor, &fakeSensor{}, time.Second)

	errc := make(chan error, 1)
	go func() { errc <- c.MoveConveyor(context.Background(), 0.5, 10*time.Second) }()
	waitFor(t, time.Second, "conveyor start", func() bool { return motor.Level() > 0 })

	_ = c.StopConveyor()
	select {
	case err := <-errc:
		if !errors.Is(err, ErrCancelled) {
			t.Fatalf("MoveConveyor() err = %v, want ErrCancelled", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("manual move did not stop")
	}
}
