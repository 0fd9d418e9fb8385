// Package hardware defines the physical I/O primitives the dispensing core
// drives, plus a simulated rig that implements them.
package hardware

import "errors"

// ErrNotInitialized is returned when an output is driven before Init.
var ErrNotInitialized = errors.New("device not initialized")

// Actuator drives an output such as a valve solenoid, a motor or a release
// gate. Level is a duty cycle in [0,1]; 0 stops the output.
type Actuator interface {
	Drive(level float64) error
}

// Sensor is a digital input that reports whether it is triggered.
type Sensor interface {
	Active() (bool, error)
}

// PulseCounter counts flow-meter ticks since the last Reset.
type PulseCounter interface {
	Reset() error
	Count() (int64, error)
}

// Scale reports the weight on the cup platform in grams.
type Scale interface {
	Weight() (float64, error)
}

// Device is the setup/teardown contract of a hardware unit.
type Device interface {
	Init() error
	Close() error
}

// FlowHardware is the beverage line: valve, flow meter and cup level sensor.
type FlowHardware struct {
	Device Device
	Valve  Actuator
	Meter  PulseCounter
	Level  Sensor
}

// FeederHardware is the cup stack: release gate, feed motor, position sensor.
type FeederHardware struct {
	Device   Device
	Release  Actuator
	Motor    Actuator
	Position Sensor
}

// ConveyorHardware is the delivery belt and its pickup sensor.
type ConveyorHardware struct {
	Device   Device
	Motor    Actuator
	Position Sensor
}

// MonitorHardware is the platform scale and the cup presence sensor.
type MonitorHardware struct {
	Device   Device
	Scale    Scale
	Presence Sensor
}

// Off drives a to zero. It is the stop primitive used on every exit path.
func Off(a Actuator) error {
	return a.Drive(0)
}
