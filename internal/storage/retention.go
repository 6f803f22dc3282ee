package storage

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const defaultCleanupPeriod = time.Hour

// retentionStore is the part of the store the cleaner needs
type retentionStore interface {
	DeleteOlderThan(days int) (int64, error)
	DeleteExpiredCache() (int64, error)
}

// RetentionCleanerConfig holds configuration for the cleaner
type RetentionCleanerConfig struct {
	RetentionDays int           // audit records older than this are purged
	CleanupPeriod time.Duration // time between sweeps (default: 1 hour)
}

// DefaultRetentionCleanerConfig returns sensible defaults
func DefaultRetentionCleanerConfig() RetentionCleanerConfig {
	return RetentionCleanerConfig{
		RetentionDays: 30,
		CleanupPeriod: defaultCleanupPeriod,
	}
}

// SweepResult reports what one sweep removed
type SweepResult struct {
	CacheExpired   int64
	RecordsDeleted int64
	Err            error
}

// RetentionCleanerStats contains statistics about the cleaner
type RetentionCleanerStats struct {
	Sweeps           int64     `json:"sweeps"`
	RecordsDeleted   int64     `json:"records_deleted"`
	CacheExpired     int64     `json:"cache_expired"`
	LastSweep        time.Time `json:"last_sweep,omitzero"`
	LastSweepDeleted int64     `json:"last_sweep_deleted"`
	RetentionDays    int       `json:"retention_days"`
}

// RetentionCleaner periodically sweeps expired weather cache entries and
// audit records past the retention window
type RetentionCleaner struct {
	store         retentionStore
	logger        zerolog.Logger
	retentionDays int
	cleanupPeriod time.Duration
	stopChan      chan struct{}
	stopOnce      sync.Once
	wg            sync.WaitGroup

	mu    sync.RWMutex
	stats RetentionCleanerStats
}

// NewRetentionCleaner creates the cleaner and starts its sweep loop. The
// first sweep runs immediately.
func NewRetentionCleaner(store retentionStore, config RetentionCleanerConfig, logger zerolog.Logger) *RetentionCleaner {
	period := config.CleanupPeriod
	if period <= 0 {
		logger.Warn().
			Dur("provided_period", period).
			Dur("default_period", defaultCleanupPeriod).
			Msg("Invalid cleanup period, using default")
		period = defaultCleanupPeriod
	}

	c := &RetentionCleaner{
		store:         store,
		logger:        logger,
		retentionDays: config.RetentionDays,
		cleanupPeriod: period,
		stopChan:      make(chan struct{}),
		stats:         RetentionCleanerStats{RetentionDays: config.RetentionDays},
	}

	c.wg.Add(1)
	go c.loop()

	logger.Info().
		Int("retention_days", config.RetentionDays).
		Dur("cleanup_period", period).
		Msg("RetentionCleaner started")

	return c
}

func (c *RetentionCleaner) loop() {
	defer c.wg.Done()

	c.sweep()

	ticker := time.NewTicker(c.cleanupPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.stopChan:
			return
		}
	}
}

// sweep purges the cache first so a failing audit delete still frees
// cache rows
func (c *RetentionCleaner) sweep() SweepResult {
	var res SweepResult
	var cacheErr, auditErr error

	res.CacheExpired, cacheErr = c.store.DeleteExpiredCache()
	if cacheErr != nil {
		res.CacheExpired = 0
		c.logger.Error().Err(cacheErr).Msg("Weather cache purge failed")
	}
	res.RecordsDeleted, auditErr = c.store.DeleteOlderThan(c.retentionDays)
	if auditErr != nil {
		res.RecordsDeleted = 0
		c.logger.Error().Err(auditErr).Int("retention_days", c.retentionDays).Msg("Audit retention failed")
	}
	res.Err = errors.Join(cacheErr, auditErr)

	c.mu.Lock()
	c.stats.Sweeps++
	c.stats.LastSweep = time.Now()
	c.stats.CacheExpired += res.CacheExpired
	c.stats.RecordsDeleted += res.RecordsDeleted
	c.stats.LastSweepDeleted = res.RecordsDeleted
	c.mu.Unlock()

	event := c.logger.Debug()
	if res.RecordsDeleted > 0 || res.CacheExpired > 0 {
		event = c.logger.Info()
	}
	event.
		Int64("records_deleted", res.RecordsDeleted).
		Int64("cache_expired", res.CacheExpired).
		Msg("Retention sweep completed")

	return res
}

// Stop ends the sweep loop and waits for it to exit. Safe to call twice.
func (c *RetentionCleaner) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopChan)
		c.wg.Wait()
		c.logger.Info().Msg("RetentionCleaner stopped")
	})
}

// Stats returns a snapshot of the sweep counters
func (c *RetentionCleaner) Stats() RetentionCleanerStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}

// RunNow sweeps immediately on the caller's goroutine
func (c *RetentionCleaner) RunNow() SweepResult {
	return c.sweep()
}
