package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/goodtune/tabtime/internal/registry"
	"github.com/goodtune/tabtime/internal/tracker"
	"github.com/rs/zerolog"
)

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(data); err != nil {
		http.Error(w, `{"error":"Internal Server Error","message":"Failed to encode response"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_, _ = w.Write(buf.Bytes())
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	})
}

// Handler serves the event and reporting API.
type Handler struct {
	tracker *tracker.Tracker
	cache   *TabCache
	logger  zerolog.Logger
}

// NewHandler creates a new API handler.
func NewHandler(t *tracker.Tracker, cache *TabCache, logger zerolog.Logger) *Handler {
	return &Handler{
		tracker: t,
		cache:   cache,
		logger:  logger.With().Str("handler", "ingest").Logger(),
	}
}

// Events applies a batch of host events in order.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req EventsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	// Reject the whole batch before applying any of it.
	for _, ev := range req.Events {
		if err := ev.validate(); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	for _, ev := range req.Events {
		switch ev.Type {
		case EventCreated:
			info := tracker.ResourceInfo{ID: ev.ResourceID, URL: *ev.URL}
			if ev.ContainerID != nil {
				info.ContainerID = *ev.ContainerID
			}
			if ev.Title != nil {
				info.Title = *ev.Title
			}
			if ev.Active != nil {
				info.Active = *ev.Active
			}
			h.cache.Remember(info)
			h.tracker.HandleCreated(info)

		case EventUpdated:
			change := tracker.Change{URL: ev.URL, Title: ev.Title}
			h.cache.Update(ev.ResourceID, change)
			h.tracker.HandleUpdated(ctx, ev.ResourceID, change)

		case EventActivated:
			h.cache.Activate(ev.ResourceID, *ev.ContainerID)
			h.tracker.HandleActivated(ctx, ev.ResourceID, *ev.ContainerID)

		case EventRemoved:
			h.tracker.HandleRemoved(ev.ResourceID)
			h.cache.Forget(ev.ResourceID)

		case EventFocusChanged:
			var container registry.ContainerID
			if ev.ContainerID != nil {
				container = *ev.ContainerID
			}
			h.tracker.HandleFocusChanged(container, ev.ContainerID != nil)

		case EventIdleChanged:
			h.tracker.HandleIdleChanged(*ev.Idle)
		}
	}

	h.logger.Debug().Int("events", len(req.Events)).Msg("Applied events")
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"applied": len(req.Events),
	})
}

// Bootstrap seeds the tracker with resources that already exist.
func (h *Handler) Bootstrap(w http.ResponseWriter, r *http.Request) {
	var req BootstrapRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	infos := make([]tracker.ResourceInfo, 0, len(req.Resources))
	for _, res := range req.Resources {
		info := tracker.ResourceInfo{
			ID:          res.ResourceID,
			ContainerID: res.ContainerID,
			URL:         res.URL,
			Title:       res.Title,
			Active:      res.Active,
		}
		h.cache.Remember(info)
		infos = append(infos, info)
	}

	var focused registry.ContainerID
	if req.FocusedContainer != nil {
		focused = *req.FocusedContainer
	}
	h.tracker.Bootstrap(infos, focused, req.FocusedContainer != nil)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"resources": len(infos),
	})
}

// Stats returns aggregated records for a day range. Missing bounds default
// to today.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	query := r.URL.Query()

	report, err := h.tracker.AggregateForRange(ctx, query.Get("start"), query.Get("end"))
	if errors.Is(err, tracker.ErrInvalidRange) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to read tracked data")
		writeError(w, http.StatusInternalServerError, "Failed to read tracked data")
		return
	}

	resp := StatsResponse{
		Start: report.Start,
		End:   report.End,
		Data:  report.Data,
	}
	if report.FlushError != nil {
		resp.FlushError = report.FlushError.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

// Clear erases all tracked data.
func (h *Handler) Clear(w http.ResponseWriter, r *http.Request) {
	if err := h.tracker.RequestClear(r.Context()); err != nil {
		h.logger.Error().Err(err).Msg("Failed to clear tracked data")
		writeError(w, http.StatusInternalServerError, "Failed to clear tracked data")
		return
	}

	h.logger.Info().Msg("Tracked data cleared")
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"cleared": true,
	})
}

// Resources lists every tracked resource.
func (h *Handler) Resources(w http.ResponseWriter, r *http.Request) {
	snapshot := h.tracker.Snapshot()

	views := make([]ResourceView, 0, len(snapshot))
	for _, st := range snapshot {
		views = append(views, ResourceView{
			ResourceID:     st.ID,
			ContainerID:    st.ContainerID,
			URL:            st.URL,
			Hostname:       st.GroupKey(),
			ResourceKey:    st.ResourceKey(),
			Title:          st.Title,
			Active:         st.Active,
			Focused:        st.Focused,
			Idle:           st.Idle,
			StateStartTime: st.StateStartTime,
			FirstSeenAt:    st.FirstSeenAt,
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"resources": views,
		"count":     len(views),
	})
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"resources": len(h.tracker.Snapshot()),
		"cached":    h.cache.Len(),
	})
}
