package models

import "time"

// SystemState is the top-level state of the dispensing station.
type SystemState string

const (
	StateIdle            SystemState = "idle"
	StateDispensingCup   SystemState = "dispensing_cup"
	StatePouringBeverage SystemState = "pouring_beverage"
	StateDeliveringCup   SystemState = "delivering_cup"
	StateError           SystemState = "error"
	StateMaintenance     SystemState = "maintenance"
)

// Stats are the operator-visible counters of the station.
type Stats struct {
	CupsDispensed    int64   `json:"cups_dispensed"`
	BeveragesPoured  int64   `json:"beverages_poured"`
	TotalVolumeMl    float64 `json:"total_volume_ml"`
	Errors           int64   `json:"errors"`
	LastOperationSec float64 `json:"last_operation_time"`
}

// SensorSnapshot is the latest reading of the station sensors.
type SensorSnapshot struct {
	WeightG    float64   `json:"weight"`
	CupPresent bool      `json:"cup_present"`
	LastUpdate time.Time `json:"last_update"`
}

// SystemStatus is the point-in-time view returned to callers.
type SystemStatus struct {
	State           SystemState    `json:"state"`
	Stats           Stats          `json:"stats"`
	Sensors         SensorSnapshot `json:"sensors"`
	TemperatureC    float64        `json:"beverage_temp_c"`
	CurrentBeverage string         `json:"current_beverage"`
	Pour            *PourSession   `json:"pour,omitempty"` // only while pouring
}
