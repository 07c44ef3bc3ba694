package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/goodtune/tabtime/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleData() storage.TrackedData {
	data := make(storage.TrackedData)
	data.Put("2024-03-01", "example.com", "/a", storage.PageData{ActiveMs: 5000, Title: "A"})
	data.Put("2024-03-01", "example.com", "/b", storage.PageData{ActiveMs: 1000})
	data.Put("2024-03-01", "go.dev", "/", storage.PageData{ActiveMs: 9000, Title: "Go"})
	data.Put("2024-03-02", "go.dev", "/doc", storage.PageData{ActiveMs: 2000})
	return data
}

func TestReportRange(t *testing.T) {
	now := time.Date(2024, 3, 5, 23, 30, 0, 0, time.UTC)

	start, end, err := reportRange("", "", now, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, "2024-03-05", start)
	assert.Equal(t, "2024-03-05", end)

	start, end, err = reportRange("2024-03-07", "2024-03-01", now, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, "2024-03-01", start)
	assert.Equal(t, "2024-03-07", end)

	_, _, err = reportRange("yesterday", "", now, time.UTC)
	assert.Error(t, err)
}

func TestHostTotals(t *testing.T) {
	totals := hostTotals(sampleData()["2024-03-01"])

	require.Len(t, totals, 2)
	assert.Equal(t, "go.dev", totals[0].hostname)
	assert.Equal(t, int64(9000), totals[0].activeMs)
	assert.Equal(t, "example.com", totals[1].hostname)
	assert.Equal(t, int64(6000), totals[1].activeMs)
	assert.Equal(t, "/a", totals[1].pages[0].key)
}

func TestFilterHost(t *testing.T) {
	data := filterHost(sampleData(), "go.dev")

	assert.Equal(t, []string{"2024-03-01", "2024-03-02"}, data.Days())
	assert.NotContains(t, data["2024-03-01"], "example.com")
	assert.Len(t, filterHost(sampleData(), ""), 2)
	assert.Empty(t, filterHost(sampleData(), "missing.org"))
}

func TestPrintReport(t *testing.T) {
	color.NoColor = true

	var buf bytes.Buffer
	printReport(&buf, "2024-03-01", "2024-03-02", sampleData(), true)
	out := buf.String()

	assert.Contains(t, out, "2024-03-01")
	assert.Contains(t, out, "go.dev")
	assert.Contains(t, out, "9s")
	assert.Contains(t, out, "/doc")

	buf.Reset()
	printReport(&buf, "2024-01-01", "2024-01-02", storage.TrackedData{}, false)
	assert.Equal(t, "No data between 2024-01-01 and 2024-01-02\n", buf.String())
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcd…", truncate("abcdefgh", 5))
}
