package events

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/RMMwalali/kraftbasic-sub001/internal/logging"
	"github.com/RMMwalali/kraftbasic-sub001/internal/uuid"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     localOrigin,
}

// localOrigin accepts non-browser clients and pages served from localhost.
func localOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	switch u.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	hub  *Hub

	mu   sync.Mutex
	subs map[string]bool

	done      chan struct{}
	closeOnce sync.Once
}

// close tells the write pump to hang up. send is never closed, so replies
// racing with removal cannot panic.
func (c *client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *client) wants(eventType string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs) == 0 || c.subs[eventType]
}

// Hub keeps websocket connections and broadcasts events to them.
// Clients receive everything until they send a subscribe action.
type Hub struct {
	clients    map[string]*client
	broadcast  chan Event
	register   chan *client
	unregister chan *client
	stopped    chan struct{}
	mu         sync.RWMutex
	log        *logging.Logger
}

// NewHub creates a Hub. Call Run to start delivering.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 256
	}
	return &Hub{
		clients:    make(map[string]*client),
		broadcast:  make(chan Event, buffer),
		register:   make(chan *client),
		unregister: make(chan *client),
		stopped:    make(chan struct{}),
		log:        logging.Get().With("websocket"),
	}
}

// Attach forwards every bus event to the hub.
func (h *Hub) Attach(bus *Bus) (detach func()) {
	return bus.Subscribe(h.Broadcast)
}

// Broadcast queues ev for delivery. It never blocks; when the queue is
// full the event is dropped.
func (h *Hub) Broadcast(ev Event) {
	select {
	case h.broadcast <- ev:
	default:
		h.log.Warn("broadcast queue full, event dropped", logging.Fields{"type": ev.Type})
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Run manages connections until ctx is done, then closes every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.stopped)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for id, c := range h.clients {
				c.close()
				delete(h.clients, id)
			}
			h.mu.Unlock()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c.id] = c
			n := len(h.clients)
			h.mu.Unlock()
			h.log.Debug("client connected", logging.Fields{"client": c.id, "total": n})

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c.id]; ok {
				delete(h.clients, c.id)
				c.close()
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.log.Debug("client disconnected", logging.Fields{"client": c.id, "total": n})

		case ev := <-h.broadcast:
			msg, err := json.Marshal(ev)
			if err != nil {
				h.log.Error("failed to marshal event", err, logging.Fields{"type": ev.Type})
				continue
			}
			h.mu.Lock()
			for id, c := range h.clients {
				if !c.wants(ev.Type) {
					continue
				}
				select {
				case c.send <- msg:
				default:
					c.close()
					delete(h.clients, id)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Handler upgrades requests to websocket connections.
func (h *Hub) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.log.Warn("websocket upgrade failed", logging.Fields{"error": err.Error()})
			return
		}
		c := &client{
			id:   uuid.New(),
			conn: conn,
			send: make(chan []byte, 256),
			hub:  h,
			subs: make(map[string]bool),
			done: make(chan struct{}),
		}
		select {
		case h.register <- c:
		case <-h.stopped:
			conn.Close()
			return
		}

		go c.writePump()
		go c.readPump()
	}
}

// Serve exposes the hub on addr under /ws until ctx is done.
func (h *Hub) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	h.log.Info("websocket listening", logging.Fields{"addr": addr})

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

type clientMessage struct {
	Action string   `json:"action"`
	Events []string `json:"events"`
}

func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.stopped:
		}
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Warn("websocket read error", logging.Fields{"client": c.id, "error": err.Error()})
			}
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		switch msg.Action {
		case "subscribe":
			c.mu.Lock()
			for _, e := range msg.Events {
				c.subs[e] = true
			}
			c.mu.Unlock()
			c.reply(map[string]interface{}{"action": "subscribe_ack", "subscribed": msg.Events})
		case "unsubscribe":
			c.mu.Lock()
			for _, e := range msg.Events {
				delete(c.subs, e)
			}
			c.mu.Unlock()
		case "ping":
			c.reply(map[string]interface{}{"action": "pong"})
		}
	}
}

// reply queues a direct response without blocking the read loop.
func (c *client) reply(body map[string]interface{}) {
	body["timestamp"] = time.Now().Unix()
	data, _ := json.Marshal(body)
	select {
	case c.send <- data:
	case <-c.done:
	default:
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
