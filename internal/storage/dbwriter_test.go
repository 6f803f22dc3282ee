package storage

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/afroash/krishi-monitor/internal/models"
)

// setupTestDBWriter creates a test store and writer
func setupTestDBWriter(t *testing.T, config DBWriterConfig) (*SQLiteStore, *DBWriter) {
	t.Helper()

	store := setupTestDB(t)
	writer := NewDBWriter(store, config, zerolog.Nop())
	t.Cleanup(writer.Stop)
	return store, writer
}

// failingInserter rejects every batch
type failingInserter struct {
	mu    sync.Mutex
	calls int
}

func (f *failingInserter) InsertBatch([]*models.RecommendationRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return errors.New("disk full")
}

// blockingInserter holds every batch until release is closed
type blockingInserter struct {
	release chan struct{}
}

func (b *blockingInserter) InsertBatch([]*models.RecommendationRecord) error {
	<-b.release
	return nil
}

func TestDBWriter_Write(t *testing.T) {
	_, writer := setupTestDBWriter(t, DBWriterConfig{BatchSize: 100, FlushPeriod: time.Hour, ChannelSize: 10})

	if !writer.Write(createTestRecord("r1", 30, time.Now())) {
		t.Error("Write should return true when channel has space")
	}
}

func TestDBWriter_ZeroConfigUsesDefaults(t *testing.T) {
	_, writer := setupTestDBWriter(t, DBWriterConfig{})

	if writer.batchSize != 50 || writer.flushPeriod != 5*time.Second || cap(writer.writeChan) != 500 {
		t.Errorf("defaults not applied: batch=%d flush=%v chan=%d", writer.batchSize, writer.flushPeriod, cap(writer.writeChan))
	}
}

func TestDBWriter_Record(t *testing.T) {
	store, writer := setupTestDBWriter(t, DBWriterConfig{BatchSize: 1, FlushPeriod: time.Hour, ChannelSize: 10})

	issued := time.Now()
	rec, ok := writer.Record("Pune", "rice", models.Recommendation{
		ShouldIrrigate:   true,
		Reason:           "dry",
		IrrigationStatus: models.IrrigationOn,
		Confidence:       90,
	}, issued)
	if !ok {
		t.Fatal("Record should queue")
	}
	if _, err := uuid.Parse(rec.ID); err != nil {
		t.Errorf("ID %q is not a UUID: %v", rec.ID, err)
	}
	if rec.IssuedAt.Location() != time.UTC {
		t.Errorf("IssuedAt not UTC: %v", rec.IssuedAt)
	}

	writer.Stop()

	last, err := store.GetLastIrrigation()
	if err != nil || last == nil {
		t.Fatalf("GetLastIrrigation: %v, %v", last, err)
	}
	if last.ID != rec.ID || last.City != "Pune" || last.Crop != "rice" {
		t.Errorf("stored = %+v, want %+v", last, rec)
	}
}

func TestDBWriter_BatchFlush(t *testing.T) {
	store, writer := setupTestDBWriter(t, DBWriterConfig{
		BatchSize:   10,
		FlushPeriod: time.Hour,
		ChannelSize: 100,
	})

	for i := 0; i < 10; i++ {
		writer.Write(createTestRecord(fmt.Sprintf("r%d", i), 50, time.Now()))
	}

	time.Sleep(100 * time.Millisecond)

	stats, err := store.GetStorageStats()
	if err != nil {
		t.Fatalf("GetStorageStats failed: %v", err)
	}
	if stats.TotalRecommendations != 10 {
		t.Errorf("TotalRecommendations = %d, want 10", stats.TotalRecommendations)
	}

	ws := writer.Stats()
	if ws.TotalWritten != 10 || ws.TotalBatches != 1 {
		t.Errorf("writer stats = %+v, want 10 written in 1 batch", ws)
	}
}

func TestDBWriter_PeriodicFlush(t *testing.T) {
	store, writer := setupTestDBWriter(t, DBWriterConfig{
		BatchSize:   100,
		FlushPeriod: 50 * time.Millisecond,
		ChannelSize: 100,
	})

	for i := 0; i < 3; i++ {
		writer.Write(createTestRecord(fmt.Sprintf("r%d", i), 50, time.Now()))
	}

	time.Sleep(200 * time.Millisecond)

	stats, _ := store.GetStorageStats()
	if stats.TotalRecommendations != 3 {
		t.Errorf("TotalRecommendations = %d, want 3", stats.TotalRecommendations)
	}
}

func TestDBWriter_StopFlushesQueued(t *testing.T) {
	store, writer := setupTestDBWriter(t, DBWriterConfig{
		BatchSize:   100,
		FlushPeriod: time.Hour,
		ChannelSize: 100,
	})

	for i := 0; i < 7; i++ {
		writer.Write(createTestRecord(fmt.Sprintf("r%d", i), 50, time.Now()))
	}
	writer.Stop()

	stats, _ := store.GetStorageStats()
	if stats.TotalRecommendations != 7 {
		t.Errorf("TotalRecommendations = %d, want 7", stats.TotalRecommendations)
	}

	// Stop is idempotent
	writer.Stop()
}

func TestDBWriter_WriteAfterStopDrops(t *testing.T) {
	_, writer := setupTestDBWriter(t, DefaultDBWriterConfig())
	writer.Stop()

	if writer.Write(createTestRecord("late", 50, time.Now())) {
		t.Error("Write after Stop should return false")
	}
	if writer.Stats().TotalDropped != 1 {
		t.Errorf("TotalDropped = %d, want 1", writer.Stats().TotalDropped)
	}
}

func TestDBWriter_ChannelFullDrops(t *testing.T) {
	inserter := &blockingInserter{release: make(chan struct{})}
	writer := NewDBWriter(inserter, DBWriterConfig{BatchSize: 1, FlushPeriod: time.Hour, ChannelSize: 2}, zerolog.Nop())

	// The first record parks the loop inside InsertBatch, the next two fill
	// the channel.
	dropped := 0
	for i := 0; i < 10; i++ {
		if !writer.Write(createTestRecord(fmt.Sprintf("r%d", i), 50, time.Now())) {
			dropped++
		}
	}
	close(inserter.release)
	writer.Stop()

	if dropped < 7 {
		t.Errorf("dropped = %d, want at least 7", dropped)
	}
	if got := writer.Stats().TotalDropped; got != int64(dropped) {
		t.Errorf("TotalDropped = %d, want %d", got, dropped)
	}
}

func TestDBWriter_InsertErrorsCounted(t *testing.T) {
	inserter := &failingInserter{}
	writer := NewDBWriter(inserter, DBWriterConfig{BatchSize: 1, FlushPeriod: time.Hour, ChannelSize: 10}, zerolog.Nop())

	writer.Write(createTestRecord("r1", 50, time.Now()))
	writer.Write(createTestRecord("r2", 50, time.Now()))
	writer.Stop()

	stats := writer.Stats()
	inserter.mu.Lock()
	calls := inserter.calls
	inserter.mu.Unlock()
	if stats.TotalErrors == 0 || stats.TotalErrors != int64(calls) {
		t.Errorf("TotalErrors = %d, want one per failed batch (%d)", stats.TotalErrors, calls)
	}
	if stats.TotalWritten != 0 {
		t.Errorf("TotalWritten = %d, want 0", stats.TotalWritten)
	}
}

func TestDBWriter_ConcurrentWrites(t *testing.T) {
	store, writer := setupTestDBWriter(t, DBWriterConfig{
		BatchSize:   20,
		FlushPeriod: 20 * time.Millisecond,
		ChannelSize: 1000,
	})

	var wg sync.WaitGroup
	for g := 0; g < 5; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				writer.Write(createTestRecord(fmt.Sprintf("g%d-%d", g, i), 50, time.Now()))
			}
		}(g)
	}
	wg.Wait()
	writer.Stop()

	stats, _ := store.GetStorageStats()
	if stats.TotalRecommendations != 100 {
		t.Errorf("TotalRecommendations = %d, want 100", stats.TotalRecommendations)
	}
}
