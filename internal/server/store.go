package server

import (
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/afroash/krishi-monitor/internal/models"
)

// SimulatedSensorID is the history key for readings drawn by /api/sensor-data.
const SimulatedSensorID = "simulated"

// MemoryStore is an in-memory ring buffer of readings per sensor
type MemoryStore struct {
	capacity      int
	data          map[string][]*models.Reading
	mutex         sync.RWMutex
	totalReadings int64
}

// NewMemoryStore creates a new in-memory store keeping capacity readings per sensor
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity < 1 {
		capacity = 1
	}
	return &MemoryStore{
		capacity: capacity,
		data:     make(map[string][]*models.Reading),
	}
}

// Add adds a copy of reading to the store, evicting the oldest when full
func (ms *MemoryStore) Add(reading *models.Reading) {
	ms.mutex.Lock()
	defer ms.mutex.Unlock()

	readings := ms.data[reading.SensorID]
	if len(readings) >= ms.capacity {
		readings = readings[len(readings)-ms.capacity+1:]
	}
	readings = append(readings, reading.Copy())
	ms.data[reading.SensorID] = readings
	ms.totalReadings++
}

// GetLatest returns the n most recent readings for a sensor, newest first
func (ms *MemoryStore) GetLatest(sensorID string, n int) []*models.Reading {
	ms.mutex.RLock()
	defer ms.mutex.RUnlock()

	readings := ms.data[sensorID]
	if len(readings) == 0 || n <= 0 {
		return []*models.Reading{}
	}

	start := max(len(readings)-n, 0)

	result := make([]*models.Reading, len(readings)-start)
	for i, j := len(readings)-1, 0; i >= start; i, j = i-1, j+1 {
		result[j] = readings[i].Copy()
	}
	return result
}

// GetCurrentReading returns the most recent reading for a sensor
func (ms *MemoryStore) GetCurrentReading(sensorID string) *models.Reading {
	ms.mutex.RLock()
	defer ms.mutex.RUnlock()

	readings := ms.data[sensorID]
	if len(readings) == 0 {
		return nil
	}
	return readings[len(readings)-1].Copy()
}

// GetSensorIDs returns the sorted IDs of all sensors that have sent data
func (ms *MemoryStore) GetSensorIDs() []string {
	ms.mutex.RLock()
	defer ms.mutex.RUnlock()

	return slices.Sorted(maps.Keys(ms.data))
}

// Stats returns statistics about the store
func (ms *MemoryStore) Stats() StoreStats {
	ms.mutex.RLock()
	defer ms.mutex.RUnlock()

	stats := StoreStats{
		TotalReadings: ms.totalReadings,
		UniqueSensors: len(ms.data),
		Capacity:      ms.capacity,
	}
	for _, readings := range ms.data {
		stats.CurrentReadings += len(readings)
		for _, r := range readings {
			if stats.OldestReading.IsZero() || r.Timestamp.Before(stats.OldestReading) {
				stats.OldestReading = r.Timestamp
			}
			if r.Timestamp.After(stats.NewestReading) {
				stats.NewestReading = r.Timestamp
			}
		}
	}
	return stats
}

// StoreStats contains statistics about the memory store
type StoreStats struct {
	TotalReadings   int64     `json:"totalReadings"`
	UniqueSensors   int       `json:"uniqueSensors"`
	CurrentReadings int       `json:"currentReadings"` // In memory now
	Capacity        int       `json:"capacity"`        // Per sensor
	OldestReading   time.Time `json:"oldestReading,omitzero"`
	NewestReading   time.Time `json:"newestReading,omitzero"`
}
