// Package ws fans engine events out to WebSocket clients. Clients are
// read-only consumers; commands go through the REST API. Every event
// published on the engine bus is forwarded as a channel-tagged envelope.
package ws

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/personadesk/runstream/internal/bus"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 512
	sendBuffer     = 256
)

// Envelope wraps one bus event for the wire.
type Envelope struct {
	Channel string          `json:"channel"`
	Payload json.RawMessage `json:"payload"`
	Ts      int64           `json:"ts"`
}

type conn struct {
	id   string
	ws   *websocket.Conn
	send chan []byte
	once sync.Once
}

// Gateway bridges the in-process bus to WebSocket clients.
type Gateway struct {
	upgrader websocket.Upgrader

	mu     sync.RWMutex
	conns  map[string]*conn
	unsubs []func()
}

// NewGateway creates a gateway subscribed to the given bus channels.
func NewGateway(b *bus.Bus, channels []string) *Gateway {
	g := &Gateway{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		conns: make(map[string]*conn),
	}
	for _, channel := range channels {
		ch := channel
		g.unsubs = append(g.unsubs, b.Subscribe(ch, func(payload []byte) {
			g.broadcast(ch, payload)
		}))
	}
	return g
}

// Serve handles the WebSocket upgrade and connection lifecycle.
func (g *Gateway) Serve(c echo.Context) error {
	ws, err := g.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		log.Printf("WARN: failed to upgrade websocket: %v", err)
		return err
	}

	cn := &conn{
		id:   "ws_" + uuid.New().String()[:8],
		ws:   ws,
		send: make(chan []byte, sendBuffer),
	}
	g.mu.Lock()
	g.conns[cn.id] = cn
	g.mu.Unlock()
	log.Printf("INFO: websocket client connected: %s", cn.id)

	go g.writePump(cn)
	go g.readPump(cn)
	return nil
}

// Close unsubscribes from the bus and drops all clients.
func (g *Gateway) Close() {
	for _, unsub := range g.unsubs {
		unsub()
	}
	g.mu.Lock()
	conns := make([]*conn, 0, len(g.conns))
	for _, cn := range g.conns {
		conns = append(conns, cn)
	}
	g.mu.Unlock()
	for _, cn := range conns {
		g.drop(cn)
	}
}

// ClientCount returns the number of connected clients.
func (g *Gateway) ClientCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.conns)
}

func (g *Gateway) broadcast(channel string, payload []byte) {
	data, err := json.Marshal(Envelope{
		Channel: channel,
		Payload: json.RawMessage(payload),
		Ts:      time.Now().UnixMilli(),
	})
	if err != nil {
		log.Printf("ERROR: failed to marshal ws envelope: %v", err)
		return
	}

	g.mu.RLock()
	var stalled []*conn
	for _, cn := range g.conns {
		select {
		case cn.send <- data:
		default:
			// client not draining; drop it rather than block the bus
			stalled = append(stalled, cn)
		}
	}
	g.mu.RUnlock()

	for _, cn := range stalled {
		log.Printf("WARN: websocket client %s buffer full, closing", cn.id)
		g.drop(cn)
	}
}

func (g *Gateway) drop(cn *conn) {
	cn.once.Do(func() {
		// closing send under the write lock excludes the broadcast
		// path, which only sends while holding the read lock
		g.mu.Lock()
		delete(g.conns, cn.id)
		close(cn.send)
		g.mu.Unlock()
		cn.ws.Close()
	})
}

func (g *Gateway) readPump(cn *conn) {
	defer g.drop(cn)

	cn.ws.SetReadLimit(maxMessageSize)
	cn.ws.SetReadDeadline(time.Now().Add(pongWait))
	cn.ws.SetPongHandler(func(string) error {
		cn.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		// incoming frames are ignored; the read loop only notices
		// disconnects and pongs
		if _, _, err := cn.ws.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WARN: websocket read error on %s: %v", cn.id, err)
			}
			return
		}
	}
}

func (g *Gateway) writePump(cn *conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		g.drop(cn)
	}()

	for {
		select {
		case message, ok := <-cn.send:
			cn.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				cn.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := cn.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			cn.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := cn.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
