package models

import "time"

// BeverageProfile is the pour configuration of one beverage type.
type BeverageProfile struct {
	Key               string  `json:"key" yaml:"key"`
	Name              string  `json:"name" yaml:"name"`
	DefaultVolumeMl   float64 `json:"default_volume_ml" yaml:"default_volume_ml"`
	FlowRateMlPerSec  float64 `json:"flow_rate_ml_per_sec" yaml:"flow_rate_ml_per_sec"`
	FoamHeadspaceMl   float64 `json:"foam_headspace_ml" yaml:"foam_headspace_ml"`
	SlowPourThreshold float64 `json:"slow_pour_threshold" yaml:"slow_pour_threshold"` // fraction of target, 0..1
	SlowPourRate      float64 `json:"slow_pour_rate" yaml:"slow_pour_rate"`           // fraction of normal flow
	TemperatureMinC   float64 `json:"temperature_min_c" yaml:"temperature_min_c"`
	TemperatureMaxC   float64 `json:"temperature_max_c" yaml:"temperature_max_c"`
}

// PourSession tracks a single pour. It lives only while the valve loop runs.
type PourSession struct {
	BeverageKey string    `json:"beverage"`
	TargetMl    float64   `json:"target_ml"`
	Pulses      int64     `json:"pulses"`
	VolumeMl    float64   `json:"volume_ml"`
	SlowPour    bool      `json:"slow_pour"`
	StartedAt   time.Time `json:"started_at"`
}

// DispenseResult summarises one full sequence run.
type DispenseResult struct {
	BeverageKey string        `json:"beverage"`
	RequestedMl float64       `json:"requested_ml"`
	DispensedMl float64       `json:"dispensed_ml"`
	Success     bool          `json:"success"`
	Duration    time.Duration `json:"duration"`
	Error       string        `json:"error,omitempty"`
}
