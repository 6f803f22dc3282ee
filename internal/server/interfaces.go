package server

import (
	"context"
	"time"

	"github.com/afroash/krishi-monitor/internal/models"
	"github.com/afroash/krishi-monitor/internal/storage"
	"github.com/afroash/krishi-monitor/internal/weather"
)

// ReadingStore defines the interface for recent reading history
// MemoryStore implements this interface
type ReadingStore interface {
	// Add adds a reading to the store
	Add(reading *models.Reading)

	// GetLatest returns the n most recent readings for a sensor (newest first)
	GetLatest(sensorID string, n int) []*models.Reading

	// GetCurrentReading returns the most recent reading for a sensor
	GetCurrentReading(sensorID string) *models.Reading

	// GetSensorIDs returns the sorted IDs of all sensors that have sent data
	GetSensorIDs() []string

	// Stats returns statistics about the store
	Stats() StoreStats
}

// AuditLog records issued recommendations
// storage.DBWriter implements this interface
type AuditLog interface {
	Record(city, crop string, rec models.Recommendation, issuedAt time.Time) (*models.RecommendationRecord, bool)
}

// RecommendationHistory reads back the audit log
// storage.SQLiteStore implements this interface
type RecommendationHistory interface {
	GetLastIrrigation() (*models.RecommendationRecord, error)
	GetRecentRecommendations(limit int) ([]*models.RecommendationRecord, error)
}

// WeatherService fetches weather for the dashboard
// weather.Client implements this interface
type WeatherService interface {
	Current(ctx context.Context, loc weather.Location) (models.WeatherData, error)
	Forecast(ctx context.Context, loc weather.Location) (models.WeatherForecast, error)
	ReverseGeocode(ctx context.Context, lat, lon float64) (string, error)
	BreakerState() string
}

// StorageStatsProvider reports database statistics
// storage.SQLiteStore implements this interface
type StorageStatsProvider interface {
	GetStorageStats() (*storage.StorageStats, error)
}
