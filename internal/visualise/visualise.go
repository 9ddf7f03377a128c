// Package visualise streams accepted trace frames to connected
// websocket clients (spec.md §6 [visualise]). Grounded on the
// teacher's own gorilla/websocket usage in
// kernel/core/mesh/transport/signaling_native.go (a mutex-guarded
// conn.WriteMessage(TextMessage, data) send), generalised from a
// single dialed client connection to a server broadcasting to every
// currently-accepted connection.
package visualise

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/nmxmxh/otfkmc/internal/otflog"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) send(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, frame)
}

// Broadcaster accepts websocket clients on an HTTP handler and fans
// out every Broadcast call to all of them, dropping any client whose
// send fails (spec.md §4.9 step 7: accepted trace frames are streamed
// to live viewers in addition to the trace file).
type Broadcaster struct {
	mu      sync.Mutex
	clients map[*client]struct{}
	log     *otflog.Logger
}

func New(log *otflog.Logger) *Broadcaster {
	if log == nil {
		log = otflog.Default("visualise")
	}
	return &Broadcaster{clients: make(map[*client]struct{}), log: log}
}

// ServeHTTP upgrades the request to a websocket connection and
// registers it as a broadcast target until the connection closes.
func (b *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.log.Warn("websocket upgrade failed", otflog.Err(err))
		return
	}
	c := &client{conn: conn}

	b.mu.Lock()
	b.clients[c] = struct{}{}
	b.mu.Unlock()

	b.log.Info("visualiser connected", otflog.Int("clients", b.numClients()))

	go b.drain(c)
}

// drain reads and discards incoming frames until the client
// disconnects, at which point it deregisters the client. A websocket
// server must keep reading a connection or pong/close frames never
// surface (see gorilla/websocket's own documentation on this).
func (b *Broadcaster) drain(c *client) {
	defer b.remove(c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (b *Broadcaster) remove(c *client) {
	b.mu.Lock()
	delete(b.clients, c)
	b.mu.Unlock()
	_ = c.conn.Close()
}

func (b *Broadcaster) numClients() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// Broadcast sends frame (a single XYZ trace frame, or any other
// payload the caller wants live viewers to see) to every connected
// client, dropping clients whose send fails.
func (b *Broadcaster) Broadcast(frame []byte) {
	b.mu.Lock()
	targets := make([]*client, 0, len(b.clients))
	for c := range b.clients {
		targets = append(targets, c)
	}
	b.mu.Unlock()

	for _, c := range targets {
		if err := c.send(frame); err != nil {
			b.remove(c)
		}
	}
}
