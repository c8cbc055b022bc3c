package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"pupctl/internal/service"
)

const busKeepAlive = 15 * time.Second

type BusHandler struct {
	bus    *service.LogBus
	logger *zap.Logger
}

func NewBusHandler(bus *service.LogBus, logger *zap.Logger) *BusHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BusHandler{bus: bus, logger: logger}
}

// Stream sends every bus packet as a server-sent event named log:out or
// log:err, with the JSON packet as data. Comment lines keep idle
// connections alive.
func (h *BusHandler) Stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	// The server write timeout would otherwise cut the stream.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	packets, cancel := h.bus.Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	ticker := time.NewTicker(busKeepAlive)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case p, ok := <-packets:
			if !ok {
				return
			}
			data, err := json.Marshal(p)
			if err != nil {
				h.logger.Warn("encoding bus packet", zap.Error(err))
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", p.Event(), data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
