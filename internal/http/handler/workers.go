package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"ezywork/internal/notifier"
	"ezywork/internal/presence"
)

type WorkerHandler struct {
	Presence  *presence.Service
	Hub       *notifier.Hub
	Heartbeat time.Duration
	Log       *slog.Logger
}

// Stream holds the worker's notifier connection open as Server-Sent Events.
// The connection leaves every channel when the client goes away.
func (h *WorkerHandler) Stream(w http.ResponseWriter, r *http.Request) {
	workerID, err := actor(r, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	ctx := r.Context()
	c := h.Hub.Connect(workerID)
	defer h.Hub.Disconnect(c)

	if err := h.Presence.Attach(ctx, c); err != nil {
		h.Log.Error("attach connection", "worker", workerID, "err", err)
		writeError(w, http.StatusInternalServerError, "server error")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if err := writeEvent(w, "hello", map[string]any{
		"connection_id": c.ID(),
		"worker_id":     workerID,
		"channels":      h.Hub.Channels(c),
	}); err != nil {
		return
	}
	flusher.Flush()

	heartbeat := h.Heartbeat
	if heartbeat <= 0 {
		heartbeat = 25 * time.Second
	}
	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-c.Events():
			if !ok {
				return
			}
			if err := writeEvent(w, ev.Type, ev); err != nil {
				h.Log.Debug("stream write failed", "conn", c.ID(), "err", err)
				return
			}
			flusher.Flush()
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
	return err
}

type presenceReq struct {
	Online bool     `json:"online"`
	Skills []string `json:"skills"`
}

// SetPresence toggles the worker online or offline. Omitting skills keeps
// the stored ones.
func (h *WorkerHandler) SetPresence(w http.ResponseWriter, r *http.Request) {
	workerID, err := actor(r, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	var req presenceReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad json")
		return
	}

	p, err := h.Presence.Set(r.Context(), workerID, req.Online, req.Skills)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type skillsReq struct {
	Skills []string `json:"skills"`
}

func (h *WorkerHandler) UpdateSkills(w http.ResponseWriter, r *http.Request) {
	workerID, err := actor(r, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	var req skillsReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad json")
		return
	}
	if req.Skills == nil {
		writeError(w, http.StatusBadRequest, "skills required")
		return
	}

	p, err := h.Presence.UpdateSkills(r.Context(), workerID, req.Skills)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *WorkerHandler) GetPresence(w http.ResponseWriter, r *http.Request) {
	p, err := h.Presence.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *WorkerHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, presence.ErrInvalid) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.Log.Error("worker request failed", "method", r.Method, "path", r.URL.Path, "err", err)
	writeError(w, http.StatusInternalServerError, "server error")
}
