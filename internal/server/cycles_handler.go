package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/limiquantix/quantix-sched/internal/domain"
)

const (
	defaultHistory = 100
	writeWait      = 5 * time.Second
)

// CyclesHandler keeps the most recent cycle reports and streams new ones to websocket
// clients. It implements scheduler.Reporter.
type CyclesHandler struct {
	logger   *zap.Logger
	upgrader websocket.Upgrader

	history    []*domain.CycleReport
	historyMu  sync.RWMutex
	maxHistory int

	clients   map[*websocket.Conn]*streamClient
	clientsMu sync.Mutex
}

// streamClient serializes writes to one connection; gorilla allows a single writer.
type streamClient struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// NewCyclesHandler creates a cycles handler keeping up to maxHistory reports.
func NewCyclesHandler(maxHistory int, logger *zap.Logger) *CyclesHandler {
	if maxHistory <= 0 {
		maxHistory = defaultHistory
	}
	return &CyclesHandler{
		logger: logger.Named("cycles"),
		upgrader: websocket.Upgrader{
			// Origins are enforced by the CORS middleware.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		history:    make([]*domain.CycleReport, 0, maxHistory),
		maxHistory: maxHistory,
		clients:    make(map[*websocket.Conn]*streamClient),
	}
}

// RegisterRoutes registers the cycle routes.
func (h *CyclesHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/cycles", h.handleList)
	mux.HandleFunc("GET /api/v1/cycles/watch", h.handleWatch)
}

// Report records the report and broadcasts it. Writes give up at the ctx deadline.
func (h *CyclesHandler) Report(ctx context.Context, report *domain.CycleReport) error {
	h.historyMu.Lock()
	h.history = append(h.history, report)
	if len(h.history) > h.maxHistory {
		h.history = h.history[len(h.history)-h.maxHistory:]
	}
	h.historyMu.Unlock()

	h.broadcast(ctx, report)
	return nil
}

// Recent returns up to limit reports, newest first.
func (h *CyclesHandler) Recent(limit int) []*domain.CycleReport {
	h.historyMu.RLock()
	defer h.historyMu.RUnlock()

	if limit <= 0 || limit > len(h.history) {
		limit = len(h.history)
	}
	out := make([]*domain.CycleReport, 0, limit)
	for i := len(h.history) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, h.history[i])
	}
	return out
}

// Clients returns the number of connected websocket clients.
func (h *CyclesHandler) Clients() int {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()
	return len(h.clients)
}

// Close disconnects every websocket client.
func (h *CyclesHandler) Close() {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()
	for conn := range h.clients {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(writeWait))
		_ = conn.Close()
		delete(h.clients, conn)
	}
}

// handleList handles GET /api/v1/cycles?limit=N
func (h *CyclesHandler) handleList(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]any{"cycles": h.Recent(limit)}); err != nil {
		h.logger.Error("Failed to write JSON response", zap.Error(err))
	}
}

// handleWatch handles websocket connections streaming cycle reports.
func (h *CyclesHandler) handleWatch(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade WebSocket", zap.Error(err))
		return
	}
	defer conn.Close()

	h.clientsMu.Lock()
	h.clients[conn] = &streamClient{conn: conn}
	h.clientsMu.Unlock()
	h.logger.Info("Cycle stream client connected", zap.String("remote_addr", r.RemoteAddr))

	defer func() {
		h.clientsMu.Lock()
		delete(h.clients, conn)
		h.clientsMu.Unlock()
		h.logger.Info("Cycle stream client disconnected", zap.String("remote_addr", r.RemoteAddr))
	}()

	// Drain client frames so pings and the close handshake are processed.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *CyclesHandler) broadcast(ctx context.Context, report *domain.CycleReport) {
	if ctx.Err() != nil {
		h.logger.Debug("Skipping cycle report broadcast", zap.Error(ctx.Err()))
		return
	}

	data, err := json.Marshal(report)
	if err != nil {
		h.logger.Warn("Failed to marshal cycle report", zap.Error(err))
		return
	}

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	h.clientsMu.Lock()
	clients := make([]*streamClient, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.clientsMu.Unlock()

	// A stalled client costs at most one deadline, however many are connected.
	var wg sync.WaitGroup
	for _, c := range clients {
		wg.Add(1)
		go func(c *streamClient) {
			defer wg.Done()
			if err := c.write(data, deadline); err != nil {
				h.logger.Debug("Failed to send cycle report to client", zap.Error(err))
				_ = c.conn.Close()
				h.clientsMu.Lock()
				delete(h.clients, c.conn)
				h.clientsMu.Unlock()
			}
		}(c)
	}
	wg.Wait()
}

func (c *streamClient) write(data []byte, deadline time.Time) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(deadline)
	return c.conn.WriteMessage(websocket.TextMessage, data)
}
