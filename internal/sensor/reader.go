package sensor

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/afroash/krishi-monitor/internal/models"
)

const readingsQueue = 10

// Reader takes a reading from its sensor on every tick
type Reader struct {
	sensor   FieldSensor
	nodeInfo *models.NodeInfo
	interval time.Duration
	logger   zerolog.Logger
	readings chan *models.Reading
}

// NewReader creates a new sensor reader
func NewReader(sensor FieldSensor, info *models.NodeInfo, interval time.Duration, logger zerolog.Logger) *Reader {
	return &Reader{
		sensor:   sensor,
		nodeInfo: info,
		interval: interval,
		logger:   logger,
		readings: make(chan *models.Reading, readingsQueue),
	}
}

// Start reads periodically until ctx is cancelled, then closes Readings
func (r *Reader) Start(ctx context.Context) error {
	defer close(r.readings)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.readAndPublish()
		}
	}
}

// ReadOnce performs a single reading stamped with the node ID
func (r *Reader) ReadOnce() (*models.Reading, error) {
	reading, err := r.sensor.Read()
	if err != nil {
		return nil, err
	}
	reading.SensorID = r.nodeInfo.ID
	if reading.Timestamp.IsZero() {
		reading.Timestamp = time.Now().UTC()
	}
	return &reading, nil
}

// readAndPublish drops the reading when the consumer falls behind
func (r *Reader) readAndPublish() {
	reading, err := r.ReadOnce()
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to read from sensor")
		return
	}

	select {
	case r.readings <- reading:
		r.logger.Debug().Str("reading", reading.String()).Msg("Read from sensor")
	default:
		r.logger.Warn().Str("sensor_id", reading.SensorID).Msg("Reading queue full, dropping reading")
	}
}

// Readings returns the channel where readings are published
func (r *Reader) Readings() <-chan *models.Reading {
	return r.readings
}

// Close closes the underlying sensor
func (r *Reader) Close() error {
	return r.sensor.Close()
}
