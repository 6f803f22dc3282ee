package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/afroash/krishi-monitor/internal/models"
)

// setupTestDB creates a temporary database for testing
func setupTestDB(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"), zerolog.Nop())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// createTestRecord creates an audit record issued at the given time
func createTestRecord(id string, soilMoisture float64, issuedAt time.Time) *models.RecommendationRecord {
	shouldIrrigate := soilMoisture < 40
	return &models.RecommendationRecord{
		ID:       id,
		City:     "Mumbai",
		Crop:     "wheat",
		IssuedAt: issuedAt,
		Recommendation: models.Recommendation{
			ShouldIrrigate:   shouldIrrigate,
			Reason:           fmt.Sprintf("soil at %v%%", soilMoisture),
			IrrigationStatus: models.StatusFor(shouldIrrigate),
			Confidence:       70,
		},
	}
}

func TestNewSQLiteStore(t *testing.T) {
	store := setupTestDB(t)
	if store.db == nil {
		t.Fatal("Expected non-nil database connection")
	}
}

func TestNewSQLiteStore_InvalidPath(t *testing.T) {
	_, err := NewSQLiteStore("/nonexistent/path/that/cannot/exist/test.db", zerolog.Nop())
	if err == nil {
		t.Fatal("Expected error for invalid path")
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	store := setupTestDB(t)

	for i := 0; i < 2; i++ {
		if err := store.Migrate(); err != nil {
			t.Fatalf("Migration %d failed: %v", i+2, err)
		}
	}
}

func TestInsertRecommendation_RoundTrip(t *testing.T) {
	store := setupTestDB(t)

	issued := time.Date(2026, 3, 14, 9, 26, 53, 589_000_000, time.UTC)
	rec := createTestRecord("rec-1", 25, issued)
	rec.City = "Pune"
	rec.Crop = "rice"
	rec.Confidence = 95

	if err := store.InsertRecommendation(rec); err != nil {
		t.Fatalf("InsertRecommendation failed: %v", err)
	}

	got, err := store.GetRecentRecommendations(10)
	if err != nil {
		t.Fatalf("GetRecentRecommendations failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}

	r := got[0]
	if r.ID != "rec-1" || r.City != "Pune" || r.Crop != "rice" {
		t.Errorf("identity fields = %+v", r)
	}
	if !r.ShouldIrrigate || r.IrrigationStatus != models.IrrigationOn || r.Confidence != 95 {
		t.Errorf("decision fields = %+v", r.Recommendation)
	}
	if !r.IssuedAt.Equal(issued) {
		t.Errorf("IssuedAt = %v, want %v", r.IssuedAt, issued)
	}
}

func TestInsertRecommendation_DuplicateID(t *testing.T) {
	store := setupTestDB(t)

	rec := createTestRecord("dup", 50, time.Now())
	if err := store.InsertRecommendation(rec); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if err := store.InsertRecommendation(rec); err == nil {
		t.Error("expected primary key violation on duplicate id")
	}
}

func TestInsertBatch(t *testing.T) {
	store := setupTestDB(t)

	base := time.Now().UTC()
	var batch []*models.RecommendationRecord
	for i := 0; i < 25; i++ {
		batch = append(batch, createTestRecord(fmt.Sprintf("rec-%02d", i), float64(20+i*2), base.Add(time.Duration(i)*time.Second)))
	}

	if err := store.InsertBatch(batch); err != nil {
		t.Fatalf("InsertBatch failed: %v", err)
	}

	stats, err := store.GetStorageStats()
	if err != nil {
		t.Fatalf("GetStorageStats failed: %v", err)
	}
	if stats.TotalRecommendations != 25 {
		t.Errorf("TotalRecommendations = %d, want 25", stats.TotalRecommendations)
	}
	// soil 20..38 -> 10 records below 40
	if stats.IrrigationCount != 10 {
		t.Errorf("IrrigationCount = %d, want 10", stats.IrrigationCount)
	}
}

func TestInsertBatch_Empty(t *testing.T) {
	store := setupTestDB(t)
	if err := store.InsertBatch(nil); err != nil {
		t.Errorf("InsertBatch(nil) = %v", err)
	}
}

func TestInsertBatch_RollsBackOnError(t *testing.T) {
	store := setupTestDB(t)

	now := time.Now()
	batch := []*models.RecommendationRecord{
		createTestRecord("a", 30, now),
		createTestRecord("a", 30, now),
	}
	if err := store.InsertBatch(batch); err == nil {
		t.Fatal("expected error for duplicate id in batch")
	}

	stats, _ := store.GetStorageStats()
	if stats.TotalRecommendations != 0 {
		t.Errorf("TotalRecommendations = %d, want 0 after rollback", stats.TotalRecommendations)
	}
}

func TestGetRecentRecommendations_NewestFirstWithLimit(t *testing.T) {
	store := setupTestDB(t)

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		store.InsertRecommendation(createTestRecord(fmt.Sprintf("rec-%d", i), 50, base.Add(time.Duration(i)*time.Minute)))
	}

	got, err := store.GetRecentRecommendations(3)
	if err != nil {
		t.Fatalf("GetRecentRecommendations failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	for i, want := range []string{"rec-4", "rec-3", "rec-2"} {
		if got[i].ID != want {
			t.Errorf("got[%d].ID = %s, want %s", i, got[i].ID, want)
		}
	}
}

func TestGetLastIrrigation(t *testing.T) {
	store := setupTestDB(t)

	last, err := store.GetLastIrrigation()
	if err != nil {
		t.Fatalf("GetLastIrrigation on empty db: %v", err)
	}
	if last != nil {
		t.Fatalf("expected nil on empty db, got %+v", last)
	}

	base := time.Now().UTC().Add(-time.Hour)
	store.InsertRecommendation(createTestRecord("on-old", 20, base))
	store.InsertRecommendation(createTestRecord("on-new", 35, base.Add(10*time.Minute)))
	store.InsertRecommendation(createTestRecord("off-newest", 60, base.Add(20*time.Minute)))

	last, err = store.GetLastIrrigation()
	if err != nil {
		t.Fatalf("GetLastIrrigation failed: %v", err)
	}
	if last == nil || last.ID != "on-new" {
		t.Errorf("last irrigation = %+v, want on-new", last)
	}
}

func TestDeleteOlderThan(t *testing.T) {
	store := setupTestDB(t)

	now := time.Now().UTC()
	for i := 0; i < 4; i++ {
		store.InsertRecommendation(createTestRecord(fmt.Sprintf("old-%d", i), 30, now.AddDate(0, 0, -40)))
	}
	for i := 0; i < 3; i++ {
		store.InsertRecommendation(createTestRecord(fmt.Sprintf("new-%d", i), 30, now.Add(-time.Hour)))
	}

	deleted, err := store.DeleteOlderThan(30)
	if err != nil {
		t.Fatalf("DeleteOlderThan failed: %v", err)
	}
	if deleted != 4 {
		t.Errorf("deleted = %d, want 4", deleted)
	}

	remaining, _ := store.GetRecentRecommendations(100)
	if len(remaining) != 3 {
		t.Errorf("remaining = %d, want 3", len(remaining))
	}
}

func TestWeatherCache_PutGet(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	if _, ok, err := store.GetCached(ctx, "current:pune"); err != nil || ok {
		t.Fatalf("empty cache: ok=%v err=%v", ok, err)
	}

	payload := []byte(`{"temperature":28,"city":"Pune"}`)
	if err := store.PutCached(ctx, "current:pune", payload, time.Minute); err != nil {
		t.Fatalf("PutCached failed: %v", err)
	}

	got, ok, err := store.GetCached(ctx, "current:pune")
	if err != nil || !ok {
		t.Fatalf("GetCached: ok=%v err=%v", ok, err)
	}
	if string(got) != string(payload) {
		t.Errorf("payload = %s, want %s", got, payload)
	}

	// Overwrite replaces the entry
	if err := store.PutCached(ctx, "current:pune", []byte(`{}`), time.Minute); err != nil {
		t.Fatalf("PutCached overwrite failed: %v", err)
	}
	got, _, _ = store.GetCached(ctx, "current:pune")
	if string(got) != `{}` {
		t.Errorf("payload after overwrite = %s", got)
	}
}

func TestWeatherCache_Expiry(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	now := time.Now()
	store.now = func() time.Time { return now }

	store.PutCached(ctx, "forecast:pune", []byte(`[]`), 5*time.Minute)
	store.PutCached(ctx, "forecast:delhi", []byte(`[]`), time.Hour)

	store.now = func() time.Time { return now.Add(10 * time.Minute) }

	if _, ok, _ := store.GetCached(ctx, "forecast:pune"); ok {
		t.Error("expired entry served")
	}
	if _, ok, _ := store.GetCached(ctx, "forecast:delhi"); !ok {
		t.Error("live entry missing")
	}

	purged, err := store.DeleteExpiredCache()
	if err != nil {
		t.Fatalf("DeleteExpiredCache failed: %v", err)
	}
	if purged != 1 {
		t.Errorf("purged = %d, want 1", purged)
	}

	stats, _ := store.GetStorageStats()
	if stats.CachedEntries != 1 {
		t.Errorf("CachedEntries = %d, want 1", stats.CachedEntries)
	}
}

func TestGetStorageStats_Empty(t *testing.T) {
	store := setupTestDB(t)

	stats, err := store.GetStorageStats()
	if err != nil {
		t.Fatalf("GetStorageStats failed: %v", err)
	}
	if stats.TotalRecommendations != 0 || stats.IrrigationCount != 0 || stats.CachedEntries != 0 {
		t.Errorf("stats = %+v, want zeros", stats)
	}
	if !stats.OldestIssued.IsZero() {
		t.Errorf("OldestIssued = %v, want zero", stats.OldestIssued)
	}
	if stats.DatabaseSizeMB <= 0 {
		t.Errorf("DatabaseSizeMB = %v, want > 0", stats.DatabaseSizeMB)
	}
}

func TestParseTimestamp(t *testing.T) {
	store := setupTestDB(t)

	tests := []string{
		"2026-03-14 09:26:53.589",
		"2026-03-14 09:26:53",
		"2026-03-14T09:26:53Z",
		"2026-03-14T09:26:53.589123+05:30",
	}
	for _, ts := range tests {
		if _, err := store.parseTimestamp(ts); err != nil {
			t.Errorf("parseTimestamp(%q) = %v", ts, err)
		}
	}
	if _, err := store.parseTimestamp("yesterday"); err == nil {
		t.Error("expected error for unparseable timestamp")
	}
}
