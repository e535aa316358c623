package entities

import "time"

// KPISnapshot is computed on demand from the reading and audit stores.
type KPISnapshot struct {
	WindowStart              time.Time `json:"window_start"`
	WindowEnd                time.Time `json:"window_end"`
	AverageSoilMoisture      float64   `json:"avg_soil"`
	EstimatedIrrigationHours float64   `json:"irrigation_hours"`
}
