package service

import "time"

// DispenseParams is a dispense request.
type DispenseParams struct {
	Beverage string  // "" selects the default beverage
	VolumeMl float64 // 0 selects the profile default volume
}

// LogFilter supports history filtering by time range and type.
type LogFilter struct {
	From time.Time // inclusive; zero means no lower bound
	To   time.Time // inclusive; zero means no upper bound
	Type string    // "", "DISPENSE", "ERROR", "STOP", "RESET", "MAINTENANCE"
}
