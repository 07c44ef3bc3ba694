package redis

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/goodtune/tabtime/internal/config"
	"github.com/goodtune/tabtime/internal/storage"
)

func setupTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()

	// Create miniredis instance
	mr := miniredis.RunT(t)

	cfg := config.RedisConfig{
		Host:         mr.Addr(), // Full address "host:port"
		Port:         0,         // Not used when host contains port
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 1,
		DialTimeout:  "5s",
		ReadTimeout:  "3s",
		WriteTimeout: "3s",
		KeyPrefix:    "test",
	}

	store, err := Open(cfg)
	if err != nil {
		t.Fatalf("Failed to open Redis store: %v", err)
	}

	return store, mr
}

func sampleData() storage.TrackedData {
	data := make(storage.TrackedData)
	data.Put("2024-03-01", "a.test", "/x", storage.PageData{ActiveMs: 5000, FirstSeen: 1000, LastSeen: 6000, LastUpdated: 6000, Title: "X"})
	data.Put("2024-03-01", "a.test", "/y", storage.PageData{ActiveMs: 3000, FirstSeen: 6000, LastSeen: 9000, LastUpdated: 9000, Title: "Y"})
	data.Put("2024-03-02", "b.test", "/", storage.PageData{
		ActiveMs:  100,
		Breakdown: map[string]int64{"active_focused": 100, "inactive": 900},
	})
	return data
}

func TestTrackedStore_SetAndGetAll(t *testing.T) {
	store, _ := setupTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	tracked := store.Tracked()

	if err := tracked.Set(ctx, sampleData()); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	all, err := tracked.GetAll(ctx)
	if err != nil {
		t.Fatalf("GetAll failed: %v", err)
	}

	if len(all) != 2 {
		t.Fatalf("Expected 2 days, got %d", len(all))
	}

	page, ok := all.Page("2024-03-01", "a.test", "/y")
	if !ok {
		t.Fatal("Expected page a.test/y on 2024-03-01")
	}
	if page.ActiveMs != 3000 {
		t.Errorf("Expected ActiveMs 3000, got %d", page.ActiveMs)
	}
	if page.Title != "Y" {
		t.Errorf("Expected title Y, got %q", page.Title)
	}

	page, ok = all.Page("2024-03-02", "b.test", "/")
	if !ok {
		t.Fatal("Expected page b.test/ on 2024-03-02")
	}
	if page.Breakdown["inactive"] != 900 {
		t.Errorf("Expected inactive breakdown 900, got %d", page.Breakdown["inactive"])
	}
}

func TestTrackedStore_SetOverwritesOnlyListedPages(t *testing.T) {
	store, _ := setupTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	tracked := store.Tracked()

	if err := tracked.Set(ctx, sampleData()); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	update := make(storage.TrackedData)
	update.Put("2024-03-01", "a.test", "/x", storage.PageData{ActiveMs: 7000, Title: "X2"})
	if err := tracked.Set(ctx, update); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	data, err := tracked.GetDays(ctx, "2024-03-01")
	if err != nil {
		t.Fatalf("GetDays failed: %v", err)
	}

	if page, _ := data.Page("2024-03-01", "a.test", "/x"); page.ActiveMs != 7000 {
		t.Errorf("Expected overwritten ActiveMs 7000, got %d", page.ActiveMs)
	}
	if page, _ := data.Page("2024-03-01", "a.test", "/y"); page.ActiveMs != 3000 {
		t.Errorf("Expected untouched ActiveMs 3000, got %d", page.ActiveMs)
	}
	if _, ok := data["2024-03-02"]; ok {
		t.Error("GetDays returned a day that was not requested")
	}
}

func TestTrackedStore_GetDaysMissing(t *testing.T) {
	store, _ := setupTestStore(t)
	defer func() { _ = store.Close() }()

	data, err := store.Tracked().GetDays(context.Background(), "2020-01-01")
	if err != nil {
		t.Fatalf("GetDays failed: %v", err)
	}
	if len(data) != 0 {
		t.Errorf("Expected no data, got %v", data)
	}
}

func TestTrackedStore_RemoveDay(t *testing.T) {
	store, mr := setupTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	tracked := store.Tracked()

	if err := tracked.Set(ctx, sampleData()); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	if err := tracked.Remove(ctx, "2024-03-01"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}

	days, err := tracked.Days(ctx)
	if err != nil {
		t.Fatalf("Days failed: %v", err)
	}
	if len(days) != 1 || days[0] != "2024-03-02" {
		t.Errorf("Expected only 2024-03-02 to remain, got %v", days)
	}

	if mr.Exists("test:page:2024-03-01:a.test") {
		t.Error("Expected page hash to be deleted")
	}
	if mr.Exists("test:day:2024-03-01:hosts") {
		t.Error("Expected host index to be deleted")
	}
}

func TestTrackedStore_Clear(t *testing.T) {
	store, mr := setupTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	tracked := store.Tracked()

	if err := tracked.Set(ctx, sampleData()); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	if err := tracked.Clear(ctx); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}

	all, err := tracked.GetAll(ctx)
	if err != nil {
		t.Fatalf("GetAll failed: %v", err)
	}
	if len(all) != 0 {
		t.Errorf("Expected empty store after clear, got %d days", len(all))
	}
	if keys := mr.Keys(); len(keys) != 0 {
		t.Errorf("Expected no keys after clear, got %v", keys)
	}
}

func TestTrackedStore_UnavailableServer(t *testing.T) {
	store, mr := setupTestStore(t)
	defer func() { _ = store.Close() }()

	mr.Close()

	if _, err := store.Tracked().GetAll(context.Background()); err == nil {
		t.Error("Expected error when Redis is unavailable")
	}
}
