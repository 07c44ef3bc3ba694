package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goodtune/tabtime/internal/config"
	"github.com/goodtune/tabtime/internal/ingest"
	"github.com/goodtune/tabtime/internal/storage"
	"github.com/goodtune/tabtime/internal/storage/bolt"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeServer serves the stats endpoints of a running tabtime server.
type fakeServer struct {
	*httptest.Server
	cleared atomic.Int32
	status  int
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()

	fs := &fakeServer{status: http.StatusOK}
	router := mux.NewRouter()
	router.HandleFunc("/api/v1/stats", func(w http.ResponseWriter, r *http.Request) {
		if fs.status != http.StatusOK {
			w.WriteHeader(fs.status)
			_ = json.NewEncoder(w).Encode(ingest.ErrorResponse{Error: "Internal Server Error", Message: "Failed to read tracked data", Code: fs.status})
			return
		}
		data := make(storage.TrackedData)
		data.Put(r.URL.Query().Get("start"), "live.test", "/", storage.PageData{ActiveMs: 1500})
		_ = json.NewEncoder(w).Encode(ingest.StatsResponse{
			Start:      r.URL.Query().Get("start"),
			End:        r.URL.Query().Get("end"),
			Data:       data,
			FlushError: "disk full",
		})
	}).Methods("GET")
	router.HandleFunc("/api/v1/stats", func(w http.ResponseWriter, r *http.Request) {
		fs.cleared.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "cleared"})
	}).Methods("DELETE")

	fs.Server = httptest.NewServer(router)
	t.Cleanup(fs.Close)
	return fs
}

// deadClient points at an address nothing listens on.
func deadClient(t *testing.T) *apiClient {
	t.Helper()
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	return &apiClient{baseURL: srv.URL, client: &http.Client{Timeout: time.Second}}
}

func boltConfig(t *testing.T) config.StorageConfig {
	t.Helper()

	cfg := config.StorageConfig{Type: "bolt", Path: filepath.Join(t.TempDir(), "tabtime.db")}
	store, err := bolt.Open(cfg.Path)
	require.NoError(t, err)
	data := make(storage.TrackedData)
	data.Put("2024-03-01", "disk.test", "/a", storage.PageData{ActiveMs: 4000})
	data.Put("2024-02-01", "disk.test", "/old", storage.PageData{ActiveMs: 1000})
	require.NoError(t, store.Tracked().Set(context.Background(), data))
	require.NoError(t, store.Close())
	return cfg
}

func TestNewAPIClientAddress(t *testing.T) {
	assert.Equal(t, "http://127.0.0.1:7420", newAPIClient(config.ServerConfig{BindAddress: "0.0.0.0", APIPort: 7420}).baseURL)
	assert.Equal(t, "http://[::1]:8000", newAPIClient(config.ServerConfig{BindAddress: "::1", APIPort: 8000}).baseURL)
}

func TestLoadReportFromServer(t *testing.T) {
	srv := newFakeServer(t)
	client := &apiClient{baseURL: srv.URL, client: srv.Client()}

	// The store is never opened while a server answers.
	stats, err := loadReport(context.Background(), client, config.StorageConfig{Type: "floppy"}, "2024-03-01", "2024-03-02")
	require.NoError(t, err)

	assert.Equal(t, "2024-03-01", stats.Start)
	assert.Equal(t, "2024-03-02", stats.End)
	assert.Equal(t, "disk full", stats.FlushError)
	page, ok := stats.Data.Page("2024-03-01", "live.test", "/")
	require.True(t, ok)
	assert.Equal(t, int64(1500), page.ActiveMs)
}

func TestLoadReportServerError(t *testing.T) {
	srv := newFakeServer(t)
	srv.status = http.StatusInternalServerError
	client := &apiClient{baseURL: srv.URL, client: srv.Client()}

	_, err := loadReport(context.Background(), client, config.StorageConfig{Type: "floppy"}, "2024-03-01", "2024-03-01")
	require.Error(t, err)
	assert.NotErrorIs(t, err, errServerUnavailable)
	assert.Contains(t, err.Error(), "Failed to read tracked data")
}

func TestLoadReportFallsBackToStore(t *testing.T) {
	cfg := boltConfig(t)

	stats, err := loadReport(context.Background(), deadClient(t), cfg, "2024-03-01", "2024-03-31")
	require.NoError(t, err)

	assert.Equal(t, []string{"2024-03-01"}, stats.Data.Days())
	page, ok := stats.Data.Page("2024-03-01", "disk.test", "/a")
	require.True(t, ok)
	assert.Equal(t, int64(4000), page.ActiveMs)
	assert.Empty(t, stats.FlushError)
}

func TestClearThroughServer(t *testing.T) {
	srv := newFakeServer(t)
	client := &apiClient{baseURL: srv.URL, client: srv.Client()}

	require.NoError(t, clearData(context.Background(), client, config.StorageConfig{Type: "floppy"}))
	assert.Equal(t, int32(1), srv.cleared.Load())
}

func TestClearFallsBackToStore(t *testing.T) {
	cfg := boltConfig(t)

	require.NoError(t, clearData(context.Background(), deadClient(t), cfg))

	store, err := bolt.Open(cfg.Path)
	require.NoError(t, err)
	defer store.Close()
	days, err := store.Tracked().Days(context.Background())
	require.NoError(t, err)
	assert.Empty(t, days)
}
