package api

import (
	"encoding/json"
	"log"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tradegate/backend/internal/cycle"
)

const (
	pongWait   = 60 * time.Second // time allowed to read the next pong
	pingPeriod = 30 * time.Second // must be < pongWait
	writeWait  = 10 * time.Second
	sendBuffer = 64 // per-client outbound buffer; slow clients get dropped
)

// upgrader validates origins in production (TRADEGATE_ENV=production with
// TRADEGATE_ALLOWED_ORIGINS set); dev and staging accept all origins.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     buildCheckOrigin(),
}

func buildCheckOrigin() func(r *http.Request) bool {
	env := os.Getenv("TRADEGATE_ENV")
	allowedRaw := os.Getenv("TRADEGATE_ALLOWED_ORIGINS")

	if env == "production" && allowedRaw != "" {
		allowed := make(map[string]bool)
		for _, origin := range strings.Split(allowedRaw, ",") {
			allowed[strings.TrimSpace(origin)] = true
		}
		return func(r *http.Request) bool {
			return allowed[r.Header.Get("Origin")]
		}
	}
	if env == "production" {
		log.Printf("[STREAM] ⚠️ TRADEGATE_ALLOWED_ORIGINS not set in production, allowing all origins")
	}
	return func(r *http.Request) bool { return true }
}

// streamClient is one connected websocket consumer. All writes go through
// the send channel into writePump, so only one goroutine ever touches the
// connection for writes.
type streamClient struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

// DecisionStream fans published decision events out to every connected
// websocket client.
type DecisionStream struct {
	mu      sync.Mutex
	clients map[*streamClient]struct{}
	logger  *log.Logger
}

func NewDecisionStream() *DecisionStream {
	return &DecisionStream{
		clients: make(map[*streamClient]struct{}),
		logger:  log.New(log.Writer(), "[STREAM] ", log.LstdFlags),
	}
}

// Broadcast sends one decision event to every client. A client whose buffer
// is full is disconnected rather than allowed to stall the cycle goroutine.
func (ds *DecisionStream) Broadcast(ev cycle.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		ds.logger.Printf("⚠️ event marshal failed: %v", err)
		return
	}

	ds.mu.Lock()
	clients := make([]*streamClient, 0, len(ds.clients))
	for c := range ds.clients {
		clients = append(clients, c)
	}
	ds.mu.Unlock()

	for _, c := range clients {
		select {
		case c.send <- payload:
		default:
			ds.logger.Printf("dropping slow decision-stream client")
			ds.remove(c)
		}
	}
}

// ClientCount reports the number of connected consumers.
func (ds *DecisionStream) ClientCount() int {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	return len(ds.clients)
}

// HandleWebSocket upgrades the request and starts the client pumps.
func (ds *DecisionStream) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		ds.logger.Printf("upgrade failed: %v", err)
		return
	}

	c := &streamClient{
		conn: conn,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}

	ds.mu.Lock()
	ds.clients[c] = struct{}{}
	ds.mu.Unlock()
	ds.logger.Printf("decision-stream client connected (%d total)", ds.ClientCount())

	go ds.writePump(c)
	go ds.readPump(c)
}

func (ds *DecisionStream) remove(c *streamClient) {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
	ds.mu.Lock()
	delete(ds.clients, c)
	ds.mu.Unlock()
}

// writePump owns all writes to the connection, including pings.
func (ds *DecisionStream) writePump(c *streamClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		ds.remove(c)
	}()

	for {
		select {
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// readPump drains inbound frames so pongs and close frames are processed.
// The stream is one-way; any client payload is discarded.
func (ds *DecisionStream) readPump(c *streamClient) {
	defer ds.remove(c)

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
