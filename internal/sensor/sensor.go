// Package sensor produces field readings for a simulated node.
package sensor

import (
	"errors"
	"fmt"
	"sync"

	"github.com/afroash/krishi-monitor/internal/models"
	"github.com/afroash/krishi-monitor/internal/recommend"
)

// ErrClosed is returned by Read after Close
var ErrClosed = errors.New("sensor closed")

// FieldSensor defines the interface for taking one field reading
type FieldSensor interface {
	// Read returns soil moisture (%), temperature (°C) and humidity (%).
	// SensorID is left for the caller to fill in.
	Read() (models.Reading, error)

	// Close releases the sensor
	Close() error
}

// SimulatedSensor draws readings from the Reading Resolver. Values set in
// fixed are returned as-is; the rest are simulated on every read.
type SimulatedSensor struct {
	resolver *recommend.Resolver
	fixed    recommend.ReadingInput

	mu     sync.Mutex
	closed bool
}

// NewSimulatedSensor creates a sensor backed by resolver
func NewSimulatedSensor(resolver *recommend.Resolver, fixed recommend.ReadingInput) *SimulatedSensor {
	return &SimulatedSensor{resolver: resolver, fixed: fixed}
}

// Read returns one resolved reading
func (s *SimulatedSensor) Read() (models.Reading, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return models.Reading{}, ErrClosed
	}

	reading := s.resolver.Resolve(s.fixed)
	if err := validateReading(reading); err != nil {
		return models.Reading{}, fmt.Errorf("invalid reading: %w", err)
	}
	return reading, nil
}

// Close marks the sensor closed
func (s *SimulatedSensor) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// validateReading applies the same bounds the server uses for ingest.
func validateReading(r models.Reading) error {
	const (
		minTemp    = -20.0
		maxTemp    = 60.0
		minPercent = 0.0
		maxPercent = 100.0
	)
	if r.Temperature < minTemp || r.Temperature > maxTemp {
		return fmt.Errorf("temperature %.1f°C outside [%.0f, %.0f]", r.Temperature, minTemp, maxTemp)
	}
	if r.Humidity < minPercent || r.Humidity > maxPercent {
		return fmt.Errorf("humidity %.1f%% outside [0, 100]", r.Humidity)
	}
	if r.SoilMoisture < minPercent || r.SoilMoisture > maxPercent {
		return fmt.Errorf("soil moisture %.1f%% outside [0, 100]", r.SoilMoisture)
	}
	return nil
}
