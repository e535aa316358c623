package entities

import "time"

// Reading is a single numeric observation taken from the device /sensors payload.
type Reading struct {
	ID         int64     `json:"id"`
	SensorName string    `json:"sensor_name"`
	Value      float64   `json:"value"`
	RawPayload string    `json:"raw"` // JSON del valore così come ricevuto dal device
	Timestamp  time.Time `json:"ts"`
}
