package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/goodtune/tabtime/internal/config"
	"github.com/goodtune/tabtime/internal/ingest"
)

// errServerUnavailable is returned when no server answers on the API
// address.
var errServerUnavailable = errors.New("tabtime server not reachable")

// apiClient talks to a running server so that reads and clears go through
// its pending deltas rather than around them.
type apiClient struct {
	baseURL string
	client  *http.Client
}

func newAPIClient(cfg config.ServerConfig) *apiClient {
	host := cfg.BindAddress
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return &apiClient{
		baseURL: "http://" + net.JoinHostPort(host, strconv.Itoa(cfg.APIPort)),
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Stats fetches the flushed aggregate for [start, end].
func (c *apiClient) Stats(ctx context.Context, start, end string) (ingest.StatsResponse, error) {
	query := url.Values{}
	query.Set("start", start)
	query.Set("end", end)

	var resp ingest.StatsResponse
	err := c.do(ctx, http.MethodGet, "/api/v1/stats?"+query.Encode(), &resp)
	return resp, err
}

// Clear erases all tracked data, pending deltas included.
func (c *apiClient) Clear(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/stats", nil)
}

func (c *apiClient) do(ctx context.Context, method, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", errServerUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr ingest.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err != nil || apiErr.Message == "" {
			return fmt.Errorf("server returned %s", resp.Status)
		}
		return fmt.Errorf("server returned %s: %s", resp.Status, apiErr.Message)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
