package hardware

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"
)

// Simulation defaults; tuned to the reference beer tower.
const (
	DefaultLineFlowRate   = 40.0 // ml per second at full valve duty
	DefaultMlPerPulse     = 2.25 // flow meter calibration
	DefaultFeedTravel     = 1 * time.Second
	DefaultDeliveryTravel = 3 * time.Second // at full conveyor speed
	DefaultPickupDelay    = 5 * time.Second
	DefaultCupCapacityMl  = 568.0
	DefaultCupTareG       = 12.0
	liquidDensityGPerMl   = 1.0
)

// Fault is an injectable failure of the simulated rig.
type Fault string

const (
	FaultCupJam      Fault = "cup_jam"      // cup never reaches the tap
	FaultConveyorJam Fault = "conveyor_jam" // cup never reaches pickup
	FaultFlowBlocked Fault = "flow_blocked" // valve opens but nothing flows
	FaultScale       Fault = "scale"        // weight reads fail
	FaultInit        Fault = "init"         // unit setup fails
)

// RigConfig holds the physical parameters of the simulated station.
type RigConfig struct {
	LineFlowRate   float64       `mapstructure:"line_flow_rate"`
	MlPerPulse     float64       `mapstructure:"ml_per_pulse"`
	FeedTravel     time.Duration `mapstructure:"feed_travel"`
	DeliveryTravel time.Duration `mapstructure:"delivery_travel"`
	PickupDelay    time.Duration `mapstructure:"pickup_delay"`
	CupCapacityMl  float64       `mapstructure:"cup_capacity_ml"`
	CupTareG       float64       `mapstructure:"cup_tare_g"`
}

// DefaultRigConfig returns the reference station parameters.
func DefaultRigConfig() RigConfig {
	return RigConfig{
		LineFlowRate:   DefaultLineFlowRate,
		MlPerPulse:     DefaultMlPerPulse,
		FeedTravel:     DefaultFeedTravel,
		DeliveryTravel: DefaultDeliveryTravel,
		PickupDelay:    DefaultPickupDelay,
		CupCapacityMl:  DefaultCupCapacityMl,
		CupTareG:       DefaultCupTareG,
	}
}

// RigState is a copy of the simulated physical state.
type RigState struct {
	Valve       float64
	Release     float64
	Feed        float64
	Conveyor    float64
	CupAtTap    bool
	CupAtPickup bool
	CupVolumeMl float64
	Pulses      int64
}

// Rig simulates the whole station: outputs set by the controllers, physics
// advanced by Run or Advance, sensors derived from the physics.
type Rig struct {
	mu  sync.Mutex
	cfg RigConfig

	faults map[Fault]bool
	ready  map[string]bool

	valve    float64
	release  float64
	feed     float64
	conveyor float64

	cupReleased      bool
	feedProgress     time.Duration
	cupAtTap         bool
	cupVolumeMl      float64
	deliveryProgress float64 // seconds at full speed
	cupAtPickup      bool
	pickupElapsed    time.Duration

	pulses         int64
	pulseRemainder float64
}

// NewRig returns a rig with the given parameters; zero fields take defaults.
func NewRig(cfg RigConfig) *Rig {
	def := DefaultRigConfig()
	if cfg.LineFlowRate <= 0 {
		cfg.LineFlowRate = def.LineFlowRate
	}
	if cfg.MlPerPulse <= 0 {
		cfg.MlPerPulse = def.MlPerPulse
	}
	if cfg.FeedTravel <= 0 {
		cfg.FeedTravel = def.FeedTravel
	}
	if cfg.DeliveryTravel <= 0 {
		cfg.DeliveryTravel = def.DeliveryTravel
	}
	if cfg.PickupDelay <= 0 {
		cfg.PickupDelay = def.PickupDelay
	}
	if cfg.CupCapacityMl <= 0 {
		cfg.CupCapacityMl = def.CupCapacityMl
	}
	if cfg.CupTareG <= 0 {
		cfg.CupTareG = def.CupTareG
	}
	return &Rig{
		cfg:    cfg,
		faults: make(map[Fault]bool),
		ready:  make(map[string]bool),
	}
}

// Run advances the physics at the given interval until ctx is canceled.
func (r *Rig) Run(ctx context.Context, tick time.Duration) {
	t := time.NewTicker(tick)
	defer t.Stop()
	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			r.Advance(now.Sub(last))
			last = now
		}
	}
}

// Advance moves the simulation forward by dt.
func (r *Rig) Advance(dt time.Duration) {
	if dt <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.advancePickup(dt)
	r.advanceFeed(dt)
	r.advanceFlow(dt)
	r.advanceDelivery(dt)
}

// advanceFeed moves a released cup toward the tap while the feed motor runs.
func (r *Rig) advanceFeed(dt time.Duration) {
	if r.feed <= 0 || !r.cupReleased || r.cupAtTap || r.faults[FaultCupJam] {
		return
	}
	r.feedProgress += time.Duration(float64(dt) * r.feed)
	if r.feedProgress >= r.cfg.FeedTravel {
		r.cupReleased = false
		r.feedProgress = 0
		r.cupAtTap = true
		r.cupVolumeMl = 0
	}
}

// advanceFlow fills the cup and ticks the flow meter while the valve is open.
func (r *Rig) advanceFlow(dt time.Duration) {
	if r.valve <= 0 || r.faults[FaultFlowBlocked] {
		return
	}
	ml := r.cfg.LineFlowRate * r.valve * dt.Seconds()
	if r.cupAtTap {
		r.cupVolumeMl = math.Min(r.cupVolumeMl+ml, r.cfg.CupCapacityMl)
	}
	r.pulseRemainder += ml / r.cfg.MlPerPulse
	whole := math.Floor(r.pulseRemainder)
	r.pulses += int64(whole)
	r.pulseRemainder -= whole
}

// advanceDelivery carries the cup from the tap to pickup while the belt runs.
func (r *Rig) advanceDelivery(dt time.Duration) {
	if r.conveyor <= 0 || !r.cupAtTap || r.faults[FaultConveyorJam] {
		return
	}
	r.deliveryProgress += dt.Seconds() * r.conveyor
	if r.deliveryProgress >= r.cfg.DeliveryTravel.Seconds() {
		r.deliveryProgress = 0
		r.cupAtTap = false
		r.cupVolumeMl = 0
		r.cupAtPickup = true
		r.pickupElapsed = 0
	}
}

// advancePickup lets the customer take a delivered cup after PickupDelay.
func (r *Rig) advancePickup(dt time.Duration) {
	if !r.cupAtPickup {
		return
	}
	r.pickupElapsed += dt
	if r.pickupElapsed >= r.cfg.PickupDelay {
		r.cupAtPickup = false
		r.pickupElapsed = 0
	}
}

// SetFault enables or disables an injected failure.
func (r *Rig) SetFault(f Fault, on bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.faults[f] = on
}

// PlaceCup puts an empty cup under the tap, bypassing the feeder.
func (r *Rig) PlaceCup() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cupAtTap = true
	r.cupVolumeMl = 0
}

// State returns a copy of the simulated physical state.
func (r *Rig) State() RigState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return RigState{
		Valve:       r.valve,
		Release:     r.release,
		Feed:        r.feed,
		Conveyor:    r.conveyor,
		CupAtTap:    r.cupAtTap,
		CupAtPickup: r.cupAtPickup,
		CupVolumeMl: r.cupVolumeMl,
		Pulses:      r.pulses,
	}
}

// FlowHardware returns the simulated beverage line.
func (r *Rig) FlowHardware() FlowHardware {
	return FlowHardware{
		Device: &rigUnit{rig: r, name: "flow", outputs: []*float64{&r.valve}},
		Valve:  &rigOutput{rig: r, unit: "flow", level: &r.valve},
		Meter:  &rigMeter{rig: r},
		Level: rigSensor(func(r *Rig) (bool, error) {
			return r.cupAtTap && r.cupVolumeMl >= r.cfg.CupCapacityMl, nil
		}).bind(r),
	}
}

// FeederHardware returns the simulated cup stack.
func (r *Rig) FeederHardware() FeederHardware {
	return FeederHardware{
		Device:  &rigUnit{rig: r, name: "feeder", outputs: []*float64{&r.release, &r.feed}},
		Release: &rigOutput{rig: r, unit: "feeder", level: &r.release, onRise: r.dropCup},
		Motor:   &rigOutput{rig: r, unit: "feeder", level: &r.feed},
		Position: rigSensor(func(r *Rig) (bool, error) {
			return r.cupAtTap, nil
		}).bind(r),
	}
}

// ConveyorHardware returns the simulated delivery belt.
func (r *Rig) ConveyorHardware() ConveyorHardware {
	return ConveyorHardware{
		Device: &rigUnit{rig: r, name: "conveyor", outputs: []*float64{&r.conveyor}},
		Motor:  &rigOutput{rig: r, unit: "conveyor", level: &r.conveyor},
		Position: rigSensor(func(r *Rig) (bool, error) {
			return r.cupAtPickup, nil
		}).bind(r),
	}
}

// MonitorHardware returns the simulated scale and presence sensor.
func (r *Rig) MonitorHardware() MonitorHardware {
	return MonitorHardware{
		Device: &rigUnit{rig: r, name: "monitor"},
		Scale:  &rigScale{rig: r},
		Presence: rigSensor(func(r *Rig) (bool, error) {
			return r.cupAtTap, nil
		}).bind(r),
	}
}

// dropCup releases one cup from the stack; called with r.mu held.
func (r *Rig) dropCup() {
	if !r.cupAtTap {
		r.cupReleased = true
	}
}

// rigUnit implements Device for one hardware unit of the rig.
type rigUnit struct {
	rig     *Rig
	name    string
	outputs []*float64
}

func (u *rigUnit) Init() error {
	u.rig.mu.Lock()
	defer u.rig.mu.Unlock()
	if u.rig.faults[FaultInit] {
		return fmt.Errorf("%s: simulated setup failure", u.name)
	}
	for _, o := range u.outputs {
		*o = 0
	}
	u.rig.ready[u.name] = true
	return nil
}

func (u *rigUnit) Close() error {
	u.rig.mu.Lock()
	defer u.rig.mu.Unlock()
	for _, o := range u.outputs {
		*o = 0
	}
	u.rig.ready[u.name] = false
	return nil
}

// rigOutput implements Actuator over one field of the rig.
type rigOutput struct {
	rig    *Rig
	unit   string
	level  *float64
	onRise func()
}

func (o *rigOutput) Drive(level float64) error {
	if level < 0 || level > 1 || math.IsNaN(level) {
		return fmt.Errorf("drive level %.3f out of range [0,1]", level)
	}
	o.rig.mu.Lock()
	defer o.rig.mu.Unlock()
	if !o.rig.ready[o.unit] {
		// stopping an uninitialized output is always allowed
		if level == 0 {
			*o.level = 0
			return nil
		}
		return fmt.Errorf("%s: %w", o.unit, ErrNotInitialized)
	}
	if *o.level == 0 && level > 0 && o.onRise != nil {
		o.onRise()
	}
	*o.level = level
	return nil
}

// rigSensor adapts a predicate over the rig state into a Sensor.
type rigSensor func(r *Rig) (bool, error)

func (f rigSensor) bind(r *Rig) Sensor {
	return &boundSensor{rig: r, read: f}
}

type boundSensor struct {
	rig  *Rig
	read rigSensor
}

func (s *boundSensor) Active() (bool, error) {
	s.rig.mu.Lock()
	defer s.rig.mu.Unlock()
	return s.read(s.rig)
}

// rigMeter implements PulseCounter over the rig's flow meter.
type rigMeter struct {
	rig *Rig
}

func (m *rigMeter) Reset() error {
	m.rig.mu.Lock()
	defer m.rig.mu.Unlock()
	m.rig.pulses = 0
	m.rig.pulseRemainder = 0
	return nil
}

func (m *rigMeter) Count() (int64, error) {
	m.rig.mu.Lock()
	defer m.rig.mu.Unlock()
	return m.rig.pulses, nil
}

// rigScale implements Scale over the cup platform.
type rigScale struct {
	rig *Rig
}

func (s *rigScale) Weight() (float64, error) {
	s.rig.mu.Lock()
	defer s.rig.mu.Unlock()
	if s.rig.faults[FaultScale] {
		return 0, fmt.Errorf("scale: simulated read failure")
	}
	if !s.rig.cupAtTap {
		return 0, nil
	}
	return s.rig.cfg.CupTareG + s.rig.cupVolumeMl*liquidDensityGPerMl, nil
}
