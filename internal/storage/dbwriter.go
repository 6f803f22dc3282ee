package storage

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/afroash/krishi-monitor/internal/models"
)

// batchInserter is the part of the store the writer needs
type batchInserter interface {
	InsertBatch(recs []*models.RecommendationRecord) error
}

// DBWriter handles async batched writes of recommendation audit records
type DBWriter struct {
	store       batchInserter
	logger      zerolog.Logger
	writeChan   chan *models.RecommendationRecord
	batchSize   int
	flushPeriod time.Duration
	stopChan    chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup

	// Stats
	mu            sync.RWMutex
	totalWritten  int64
	totalBatches  int64
	totalErrors   int64
	totalDropped  int64
	lastWriteTime time.Time
}

// DBWriterConfig holds configuration for the async writer
type DBWriterConfig struct {
	BatchSize   int           // Number of records to batch before writing (default: 50)
	FlushPeriod time.Duration // Max time between flushes (default: 5s)
	ChannelSize int           // Size of the write channel buffer (default: 500)
}

// DefaultDBWriterConfig returns sensible defaults
func DefaultDBWriterConfig() DBWriterConfig {
	return DBWriterConfig{
		BatchSize:   50,
		FlushPeriod: 5 * time.Second,
		ChannelSize: 500,
	}
}

// DBWriterStats contains statistics about the writer
type DBWriterStats struct {
	TotalWritten  int64     `json:"total_written"`
	TotalBatches  int64     `json:"total_batches"`
	TotalErrors   int64     `json:"total_errors"`
	TotalDropped  int64     `json:"total_dropped"`
	LastWriteTime time.Time `json:"last_write_time,omitempty"`
	QueueLength   int       `json:"queue_length"`
}

// NewDBWriter creates a new async database writer. Zero config fields take
// their defaults.
func NewDBWriter(store batchInserter, config DBWriterConfig, logger zerolog.Logger) *DBWriter {
	defaults := DefaultDBWriterConfig()
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.FlushPeriod <= 0 {
		config.FlushPeriod = defaults.FlushPeriod
	}
	if config.ChannelSize <= 0 {
		config.ChannelSize = defaults.ChannelSize
	}

	w := &DBWriter{
		store:       store,
		logger:      logger,
		writeChan:   make(chan *models.RecommendationRecord, config.ChannelSize),
		batchSize:   config.BatchSize,
		flushPeriod: config.FlushPeriod,
		stopChan:    make(chan struct{}),
	}

	w.wg.Add(1)
	go w.writerLoop()

	logger.Info().
		Int("batch_size", config.BatchSize).
		Dur("flush_period", config.FlushPeriod).
		Int("channel_size", config.ChannelSize).
		Msg("DBWriter started")

	return w
}

// Record wraps an issued recommendation in an audit record with a fresh ID and
// queues it. The record is returned even when it was dropped.
func (w *DBWriter) Record(city, crop string, rec models.Recommendation, issuedAt time.Time) (*models.RecommendationRecord, bool) {
	record := &models.RecommendationRecord{
		ID:             uuid.NewString(),
		City:           city,
		Crop:           crop,
		IssuedAt:       issuedAt.UTC(),
		Recommendation: rec,
	}
	return record, w.Write(record)
}

// Write queues a record for async writing to the database.
// Returns true if queued, false if dropped (channel full or writer stopped)
func (w *DBWriter) Write(rec *models.RecommendationRecord) bool {
	select {
	case <-w.stopChan:
		w.dropped(rec, "DBWriter stopped, dropping record")
		return false
	default:
	}

	select {
	case w.writeChan <- rec:
		return true
	default:
		w.dropped(rec, "DBWriter channel full, dropping record")
		return false
	}
}

func (w *DBWriter) dropped(rec *models.RecommendationRecord, msg string) {
	w.mu.Lock()
	w.totalDropped++
	w.mu.Unlock()
	w.logger.Warn().Str("id", rec.ID).Msg(msg)
}

// writerLoop is the background goroutine that batches and writes records
func (w *DBWriter) writerLoop() {
	defer w.wg.Done()

	batch := make([]*models.RecommendationRecord, 0, w.batchSize)
	ticker := time.NewTicker(w.flushPeriod)
	defer ticker.Stop()

	for {
		select {
		case rec := <-w.writeChan:
			batch = append(batch, rec)
			if len(batch) >= w.batchSize {
				w.flush(batch)
				batch = make([]*models.RecommendationRecord, 0, w.batchSize)
			}

		case <-ticker.C:
			if len(batch) > 0 {
				w.flush(batch)
				batch = make([]*models.RecommendationRecord, 0, w.batchSize)
			}

		case <-w.stopChan:
			draining := true
			for draining {
				select {
				case rec := <-w.writeChan:
					batch = append(batch, rec)
				default:
					draining = false
				}
			}
			if len(batch) > 0 {
				w.flush(batch)
			}
			w.logger.Info().Msg("DBWriter stopped")
			return
		}
	}
}

// flush writes a batch to the database
func (w *DBWriter) flush(batch []*models.RecommendationRecord) {
	if len(batch) == 0 {
		return
	}

	err := w.store.InsertBatch(batch)

	w.mu.Lock()
	if err != nil {
		w.totalErrors++
		w.logger.Error().Err(err).Int("batch_size", len(batch)).Msg("Failed to write batch")
	} else {
		w.totalWritten += int64(len(batch))
		w.totalBatches++
		w.lastWriteTime = time.Now()
		w.logger.Debug().Int("count", len(batch)).Msg("Flushed batch")
	}
	w.mu.Unlock()
}

// Stop stops the writer after flushing everything already queued
func (w *DBWriter) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopChan)
		w.wg.Wait()
	})
}

// Stats returns current writer statistics
func (w *DBWriter) Stats() DBWriterStats {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return DBWriterStats{
		TotalWritten:  w.totalWritten,
		TotalBatches:  w.totalBatches,
		TotalErrors:   w.totalErrors,
		TotalDropped:  w.totalDropped,
		LastWriteTime: w.lastWriteTime,
		QueueLength:   len(w.writeChan),
	}
}
