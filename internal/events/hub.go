package events

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cuongbtq/tickqueue/internal/scheduler"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

type subscriber struct {
	out   chan []byte
	jobID string // empty means every job
	done  chan struct{}
	once  sync.Once
}

func (s *subscriber) close() {
	s.once.Do(func() { close(s.done) })
}

// Hub is a scheduler sink that broadcasts job events to websocket subscribers.
// A slow subscriber loses its oldest undelivered message instead of stalling the tick.
type Hub struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader
	buffer   int

	mu   sync.RWMutex
	subs map[*subscriber]struct{}
}

// NewHub creates a hub whose subscribers buffer up to buffer messages
func NewHub(buffer int, logger *slog.Logger) *Hub {
	if buffer <= 0 {
		buffer = 64
	}

	return &Hub{
		logger: logger,
		buffer: buffer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		subs: make(map[*subscriber]struct{}),
	}
}

// JobSubmitted broadcasts the event
func (h *Hub) JobSubmitted(ev scheduler.Event) { h.broadcast(ev) }

// JobCompleted broadcasts the event
func (h *Hub) JobCompleted(ev scheduler.Event) { h.broadcast(ev) }

// Subscribers returns the number of connected clients
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// ServeHTTP upgrades the request and streams events until the client goes away.
// The optional job_id query parameter limits the stream to one job.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("Websocket upgrade failed", slog.Any("error", err))
		return
	}
	defer conn.Close()

	sub := &subscriber{
		out:   make(chan []byte, h.buffer),
		jobID: r.URL.Query().Get("job_id"),
		done:  make(chan struct{}),
	}
	h.add(sub)
	defer h.remove(sub)

	go h.writeLoop(conn, sub)

	// reader loop only services control frames and notices disconnects
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			sub.close()
			return
		}
	}
}

// Close disconnects every subscriber
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for sub := range h.subs {
		sub.close()
		delete(h.subs, sub)
	}
}

func (h *Hub) writeLoop(conn *websocket.Conn, sub *subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-sub.done:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			_ = conn.Close()
			return
		case b := <-sub.out:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
				sub.close()
				_ = conn.Close()
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				sub.close()
				_ = conn.Close()
				return
			}
		}
	}
}

func (h *Hub) broadcast(ev scheduler.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.subs) == 0 {
		return
	}

	b, err := json.Marshal(NewJobEvent(ev))
	if err != nil {
		h.logger.Error("Failed to marshal job event",
			slog.String("job_id", ev.Job.ID),
			slog.Any("error", err),
		)
		return
	}

	for sub := range h.subs {
		if sub.jobID != "" && sub.jobID != ev.Job.ID {
			continue
		}
		sendLatest(sub.out, b)
	}
}

func (h *Hub) add(sub *subscriber) {
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) remove(sub *subscriber) {
	h.mu.Lock()
	delete(h.subs, sub)
	h.mu.Unlock()
}

// sendLatest enqueues b, dropping the oldest message when ch is full
func sendLatest(ch chan []byte, b []byte) {
	select {
	case ch <- b:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- b:
	default:
	}
}
