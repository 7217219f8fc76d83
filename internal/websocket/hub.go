// Package websocket fans live status updates out to dashboard clients.
// The hub is a single-goroutine actor driven by a command channel; all
// client maps are owned by that goroutine and never locked.
package websocket

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/nazuninha/wabot/internal/metrics"
)

const (
	maxClients      = 50
	refreshInterval = 5 * time.Second
	writeTimeout    = 5 * time.Second
	sendBuffer      = 16
)

type hubCmd interface{ hubCmd() }

type cmdRegister struct {
	conn  *websocket.Conn
	errCh chan error
}

func (cmdRegister) hubCmd() {}

type cmdUnregister struct {
	conn *websocket.Conn
}

func (cmdUnregister) hubCmd() {}

type cmdBroadcast struct {
	data []byte
}

func (cmdBroadcast) hubCmd() {}

type cmdClientCount struct {
	replyCh chan int
}

func (cmdClientCount) hubCmd() {}

type cmdStop struct{}

func (cmdStop) hubCmd() {}

// clientWriter serializes writes to one connection. A full send buffer
// marks the client as slow; the hub evicts it instead of blocking.
type clientWriter struct {
	conn   *websocket.Conn
	sendCh chan []byte
	done   chan struct{}
}

func newClientWriter(conn *websocket.Conn) *clientWriter {
	cw := &clientWriter{
		conn:   conn,
		sendCh: make(chan []byte, sendBuffer),
		done:   make(chan struct{}),
	}
	go cw.run()
	return cw
}

func (cw *clientWriter) run() {
	for {
		select {
		case msg, ok := <-cw.sendCh:
			if !ok {
				return
			}
			cw.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := cw.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-cw.done:
			return
		}
	}
}

func (cw *clientWriter) stop() {
	close(cw.done)
	cw.conn.Close()
}

// Hub owns the dashboard client set. Every status change is pushed
// immediately; a refresh tick re-sends the current snapshot so uptime
// counters advance even on a quiet system.
type Hub struct {
	cmdCh    chan hubCmd
	done     chan struct{}
	clock    clockwork.Clock
	snapshot func() ([]byte, error)
	clients  map[*websocket.Conn]*clientWriter
}

// NewHub starts the hub actor. snapshot produces the payload sent to a
// freshly registered client and on every refresh tick.
func NewHub(snapshot func() ([]byte, error), clock clockwork.Clock) *Hub {
	h := &Hub{
		cmdCh:    make(chan hubCmd, 256),
		done:     make(chan struct{}),
		clock:    clock,
		snapshot: snapshot,
		clients:  make(map[*websocket.Conn]*clientWriter),
	}
	go h.run()
	return h
}

// Register adds a dashboard client and queues the current snapshot as its
// first message. Returns an error once the hub is stopped.
func (h *Hub) Register(conn *websocket.Conn) error {
	errCh := make(chan error, 1)
	select {
	case h.cmdCh <- cmdRegister{conn: conn, errCh: errCh}:
	case <-h.done:
		conn.Close()
		return fmt.Errorf("dashboard hub is stopped")
	}
	select {
	case err := <-errCh:
		return err
	case <-h.done:
		conn.Close()
		return fmt.Errorf("dashboard hub is stopped")
	}
}

// Unregister removes a client. Safe to call for already-removed clients
// and after the hub stopped.
func (h *Hub) Unregister(conn *websocket.Conn) {
	select {
	case h.cmdCh <- cmdUnregister{conn: conn}:
	case <-h.done:
	}
}

// Broadcast pushes payload to every connected client. Marshal failures are
// logged and dropped; a dashboard update is never worth crashing for.
// Broadcasts after Stop are dropped.
func (h *Hub) Broadcast(payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("Failed to marshal dashboard update", "error", err)
		return
	}
	select {
	case h.cmdCh <- cmdBroadcast{data: data}:
	case <-h.done:
	}
}

// ClientCount reports the number of connected dashboard clients.
func (h *Hub) ClientCount() int {
	replyCh := make(chan int, 1)
	select {
	case h.cmdCh <- cmdClientCount{replyCh: replyCh}:
	case <-h.done:
		return 0
	}
	select {
	case n := <-replyCh:
		return n
	case <-h.done:
		return 0
	}
}

// Stop disconnects every client and terminates the actor. Idempotent.
func (h *Hub) Stop() {
	select {
	case h.cmdCh <- cmdStop{}:
	case <-h.done:
	}
}

func (h *Hub) run() {
	defer close(h.done)

	ticker := h.clock.NewTicker(refreshInterval)
	defer ticker.Stop()

	for {
		select {
		case cmd := <-h.cmdCh:
			switch c := cmd.(type) {
			case cmdRegister:
				h.handleRegister(c)
			case cmdUnregister:
				h.handleUnregister(c.conn)
			case cmdBroadcast:
				h.fanOut(c.data)
			case cmdClientCount:
				c.replyCh <- len(h.clients)
			case cmdStop:
				h.handleStop()
				return
			}

		case <-ticker.Chan():
			if len(h.clients) == 0 {
				continue
			}
			data, err := h.snapshot()
			if err != nil {
				slog.Error("Failed to build dashboard snapshot", "error", err)
				continue
			}
			h.fanOut(data)
		}
	}
}

func (h *Hub) handleRegister(c cmdRegister) {
	if len(h.clients) >= maxClients {
		slog.Warn("Rejecting dashboard client, hub full", "max_clients", maxClients)
		c.conn.Close()
		c.errCh <- fmt.Errorf("max dashboard clients (%d) reached", maxClients)
		return
	}

	cw := newClientWriter(c.conn)
	h.clients[c.conn] = cw
	metrics.HubConnectedClients.Set(float64(len(h.clients)))
	slog.Debug("Dashboard client registered", "clients", len(h.clients))

	if data, err := h.snapshot(); err == nil {
		select {
		case cw.sendCh <- data:
		default:
		}
	} else {
		slog.Error("Failed to build dashboard snapshot", "error", err)
	}
	c.errCh <- nil
}

func (h *Hub) handleUnregister(conn *websocket.Conn) {
	cw, exists := h.clients[conn]
	if !exists {
		return
	}
	cw.stop()
	delete(h.clients, conn)
	metrics.HubConnectedClients.Set(float64(len(h.clients)))
	slog.Debug("Dashboard client unregistered", "clients", len(h.clients))
}

func (h *Hub) fanOut(data []byte) {
	var slow []*websocket.Conn
	for conn, cw := range h.clients {
		select {
		case cw.sendCh <- data:
		default:
			slow = append(slow, conn)
		}
	}

	for _, conn := range slow {
		slog.Warn("Disconnecting slow dashboard client")
		metrics.HubSlowClientsEvicted.Inc()
		h.handleUnregister(conn)
	}
}

func (h *Hub) handleStop() {
	for conn, cw := range h.clients {
		cw.stop()
		delete(h.clients, conn)
	}
	metrics.HubConnectedClients.Set(0)
}
