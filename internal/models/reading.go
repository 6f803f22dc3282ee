package models

import (
	"fmt"
	"time"
)

// Reading is one set of field values: soil moisture (%), air temperature (°C)
// and relative humidity (%).
type Reading struct {
	SensorID     string    `json:"sensorId,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
	SoilMoisture float64   `json:"soilMoisture"`
	Temperature  float64   `json:"temperature"`
	Humidity     float64   `json:"humidity"`
}

// IsValid checks if the reading values are within acceptable ranges for
// readings arriving from field nodes.
func (r *Reading) IsValid() bool {
	const (
		minTemp    = -20.0
		maxTemp    = 60.0
		minPercent = 0.0
		maxPercent = 100.0
	)

	if r.SensorID == "" {
		return false
	}

	if r.Timestamp.IsZero() {
		return false
	}

	if r.Temperature < minTemp || r.Temperature > maxTemp {
		return false
	}

	if r.Humidity < minPercent || r.Humidity > maxPercent {
		return false
	}

	if r.SoilMoisture < minPercent || r.SoilMoisture > maxPercent {
		return false
	}

	return true
}

func (r *Reading) String() string {
	return fmt.Sprintf("SensorID: %s, Timestamp: %s, SoilMoisture: %.1f%%, Humidity: %.1f%%, Temperature: %.1f°C",
		r.SensorID,
		r.Timestamp.Format(time.RFC3339),
		r.SoilMoisture,
		r.Humidity,
		r.Temperature)
}

// NewReading creates a new Reading with the current timestamp
func NewReading(sensorID string, soilMoisture, temperature, humidity float64) *Reading {
	return &Reading{
		SensorID:     sensorID,
		Timestamp:    time.Now().UTC(),
		SoilMoisture: soilMoisture,
		Temperature:  temperature,
		Humidity:     humidity,
	}
}

// Copy returns a deep copy of the Reading
func (r *Reading) Copy() *Reading {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}
