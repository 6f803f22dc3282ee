package client

import (
	"fmt"
	"sync"
	"time"

	"github.com/afroash/krishi-monitor/internal/models"
)

// ReadingBuffer holds readings taken while the node is offline.
// It is safe for concurrent use.
type ReadingBuffer struct {
	readings   []*models.Reading
	capacity   int
	dropOldest bool
	mutex      sync.RWMutex
	stats      BufferStats
}

// BufferStats tracks buffer usage statistics
type BufferStats struct {
	TotalPushed   int64
	TotalDropped  int64
	TotalRequeued int64
	HighWaterMark int
	LastPushTime  time.Time
	LastDropTime  time.Time
}

// NewReadingBuffer creates a buffer holding up to capacity readings. When full,
// dropOldest evicts the oldest reading; otherwise the new one is dropped.
func NewReadingBuffer(capacity int, dropOldest bool) *ReadingBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &ReadingBuffer{
		readings:   make([]*models.Reading, 0, capacity),
		capacity:   capacity,
		dropOldest: dropOldest,
	}
}

// Push adds a reading to the buffer.
// Returns false if the reading itself was dropped.
func (rb *ReadingBuffer) Push(reading *models.Reading) bool {
	rb.mutex.Lock()
	defer rb.mutex.Unlock()

	if len(rb.readings) >= rb.capacity {
		rb.stats.TotalDropped++
		rb.stats.LastDropTime = time.Now()
		if !rb.dropOldest {
			return false
		}
		rb.readings = rb.readings[1:]
	}
	rb.readings = append(rb.readings, reading)
	rb.stats.TotalPushed++
	rb.stats.LastPushTime = time.Now()
	rb.stats.HighWaterMark = max(rb.stats.HighWaterMark, len(rb.readings))

	return true
}

// PopBatch removes and returns up to n readings, oldest first.
func (rb *ReadingBuffer) PopBatch(n int) []*models.Reading {
	rb.mutex.Lock()
	defer rb.mutex.Unlock()

	count := min(n, len(rb.readings))
	if count <= 0 {
		return nil
	}
	result := make([]*models.Reading, count)
	copy(result, rb.readings[:count])
	rb.readings = rb.readings[count:]
	return result
}

// Requeue puts readings whose send failed back at the front, keeping their
// order. Readings that no longer fit are dropped, oldest first.
func (rb *ReadingBuffer) Requeue(readings []*models.Reading) {
	if len(readings) == 0 {
		return
	}

	rb.mutex.Lock()
	defer rb.mutex.Unlock()

	merged := make([]*models.Reading, 0, len(readings)+len(rb.readings))
	merged = append(merged, readings...)
	merged = append(merged, rb.readings...)

	if over := len(merged) - rb.capacity; over > 0 {
		merged = merged[over:]
		rb.stats.TotalDropped += int64(over)
		rb.stats.LastDropTime = time.Now()
	}
	rb.readings = merged
	rb.stats.TotalRequeued += int64(len(readings))
	rb.stats.HighWaterMark = max(rb.stats.HighWaterMark, len(rb.readings))
}

// Peek returns up to n readings without removing them
func (rb *ReadingBuffer) Peek(n int) []*models.Reading {
	rb.mutex.RLock()
	defer rb.mutex.RUnlock()

	count := min(n, len(rb.readings))
	if count <= 0 {
		return nil
	}
	result := make([]*models.Reading, count)
	copy(result, rb.readings[:count])
	return result
}

// Size returns the current number of readings in the buffer
func (rb *ReadingBuffer) Size() int {
	rb.mutex.RLock()
	defer rb.mutex.RUnlock()
	return len(rb.readings)
}

// IsFull returns true if buffer is at capacity
func (rb *ReadingBuffer) IsFull() bool {
	rb.mutex.RLock()
	defer rb.mutex.RUnlock()
	return len(rb.readings) >= rb.capacity
}

// IsEmpty returns true if buffer has no readings
func (rb *ReadingBuffer) IsEmpty() bool {
	rb.mutex.RLock()
	defer rb.mutex.RUnlock()
	return len(rb.readings) == 0
}

// Clear removes all readings and resets the statistics
func (rb *ReadingBuffer) Clear() {
	rb.mutex.Lock()
	defer rb.mutex.Unlock()
	rb.readings = make([]*models.Reading, 0, rb.capacity)
	rb.stats = BufferStats{}
}

// Capacity returns the maximum capacity of the buffer
func (rb *ReadingBuffer) Capacity() int {
	return rb.capacity
}

// Stats returns a copy of current buffer statistics
func (rb *ReadingBuffer) Stats() BufferStats {
	rb.mutex.RLock()
	defer rb.mutex.RUnlock()
	return rb.stats
}

// String returns something like "Buffer[12/1000, dropped: 5, mode: drop-oldest]"
func (rb *ReadingBuffer) String() string {
	rb.mutex.RLock()
	defer rb.mutex.RUnlock()

	mode := "drop-newest"
	if rb.dropOldest {
		mode = "drop-oldest"
	}

	return fmt.Sprintf("Buffer[%d/%d, dropped: %d, mode: %s]",
		len(rb.readings),
		rb.capacity,
		rb.stats.TotalDropped,
		mode,
	)
}
