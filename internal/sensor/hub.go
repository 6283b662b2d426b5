// Package sensor receives accelerometer readings from the phone over a
// WebSocket and keeps only the most recent one.
package sensor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/raphaelgruber/hairscan/internal/gate"
)

// Path is the WebSocket endpoint the phone connects to.
const Path = "/sensor"

const (
	readLimit   = 512
	readTimeout = 60 * time.Second
)

// Hub holds the latest reading from any connected sensor client.
type Hub struct {
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu      sync.RWMutex
	latest  gate.Reading
	has     bool
	clients int
}

// NewHub creates a hub. A nil logger falls back to slog.Default().
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

// Latest returns the most recent reading, or false before the first one.
func (h *Hub) Latest() (gate.Reading, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.latest, h.has
}

// Clients returns the number of connected sensor clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.clients
}

// Update replaces the latest reading. Readings without a timestamp get the
// receive time.
func (h *Hub) Update(r gate.Reading) {
	if r.At.IsZero() {
		r.At = time.Now()
	}
	h.mu.Lock()
	h.latest = r
	h.has = true
	h.mu.Unlock()
}

func (h *Hub) track(delta int) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients += delta
	return h.clients
}

// ServeHTTP upgrades the request and reads JSON readings until the client leaves.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("sensor upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	conn.SetReadLimit(readLimit)
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	h.logger.Info("sensor connected", "remote", r.RemoteAddr, "clients", h.track(1))
	defer func() {
		h.logger.Info("sensor disconnected", "remote", r.RemoteAddr, "clients", h.track(-1))
	}()

	for {
		var reading gate.Reading
		if err := conn.ReadJSON(&reading); err != nil {
			var closeErr *websocket.CloseError
			if !errors.As(err, &closeErr) {
				h.logger.Debug("sensor read ended", "error", err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		if !reading.Valid() {
			h.logger.Debug("dropping sensor reading", "x", reading.X, "y", reading.Y, "z", reading.Z)
			continue
		}
		h.Update(reading)
	}
}

// Serve runs an HTTP server exposing the hub at Path until ctx is done.
func Serve(ctx context.Context, addr string, h *Hub) error {
	mux := http.NewServeMux()
	mux.Handle(Path, h)

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		h.logger.Info("sensor server listening", "addr", addr, "path", Path)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("sensor server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
