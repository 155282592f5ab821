package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	MessageProgress  = "progress"
	MessageCompleted = "completed"
	MessageFailed    = "failed"

	writeWait = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ProgressMessage is pushed to every client watching a run.
type ProgressMessage struct {
	Type      string    `json:"type"`
	RunID     string    `json:"run_id"`
	Phase     string    `json:"phase,omitempty"`
	Done      int       `json:"done"`
	Total     int       `json:"total"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Client is one websocket connection subscribed to a run.
type Client struct {
	RunID string
	Conn  *websocket.Conn
	Send  chan []byte
	Hub   *Hub
}

// Hub fans run progress out to subscribed websocket clients. Progress
// messages are throttled per run; completion and failure always go out.
type Hub struct {
	runClients map[string]map[*Client]bool
	limiters   map[string]*rate.Limiter
	limit      rate.Limit
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	logger     *logrus.Logger
	mutex      sync.RWMutex
}

// NewHub creates a hub that forwards at most updatesPerSecond progress
// messages per run.
func NewHub(logger *logrus.Logger, updatesPerSecond float64) *Hub {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if updatesPerSecond <= 0 {
		updatesPerSecond = 4
	}
	return &Hub{
		runClients: make(map[string]map[*Client]bool),
		limiters:   make(map[string]*rate.Limiter),
		limit:      rate.Limit(updatesPerSecond),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run handles registration until ctx is done, then closes every client.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case client := <-h.register:
			h.mutex.Lock()
			if h.runClients[client.RunID] == nil {
				h.runClients[client.RunID] = make(map[*Client]bool)
			}
			h.runClients[client.RunID][client] = true
			total := len(h.runClients[client.RunID])
			h.mutex.Unlock()

			h.logger.WithFields(logrus.Fields{
				"run_id":      client.RunID,
				"subscribers": total,
			}).Info("WebSocket client connected")

		case client := <-h.unregister:
			h.mutex.Lock()
			h.remove(client)
			h.mutex.Unlock()

			h.logger.WithField("run_id", client.RunID).Info("WebSocket client disconnected")

		case <-ctx.Done():
			close(h.done)
			h.mutex.Lock()
			for _, clients := range h.runClients {
				for client := range clients {
					h.remove(client)
				}
			}
			h.mutex.Unlock()
			return
		}
	}
}

// remove must be called with the write lock held.
func (h *Hub) remove(client *Client) {
	clients := h.runClients[client.RunID]
	if !clients[client] {
		return
	}
	delete(clients, client)
	close(client.Send)
	if len(clients) == 0 {
		delete(h.runClients, client.RunID)
	}
}

// HandleWebSocket upgrades GET /ws/runs/:id.
func (h *Hub) HandleWebSocket(c *gin.Context) {
	runID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid run ID"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.WithError(err).Error("Failed to upgrade WebSocket connection")
		return
	}

	client := &Client{
		RunID: runID.String(),
		Conn:  conn,
		Send:  make(chan []byte, 256),
		Hub:   h,
	}
	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// Publish sends msg to the run's subscribers. Throttled progress messages
// are dropped.
func (h *Hub) Publish(msg ProgressMessage) {
	h.publish(msg, msg.Type != MessageProgress)
}

func (h *Hub) publish(msg ProgressMessage, force bool) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	if !force && !h.allow(msg.RunID) {
		return
	}
	if msg.Type != MessageProgress {
		h.mutex.Lock()
		delete(h.limiters, msg.RunID)
		h.mutex.Unlock()
	}

	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.WithError(err).Error("Failed to marshal WebSocket message")
		return
	}

	h.mutex.Lock()
	defer h.mutex.Unlock()
	for client := range h.runClients[msg.RunID] {
		select {
		case client.Send <- data:
		default:
			h.logger.WithField("run_id", msg.RunID).Warn("Dropping slow WebSocket client")
			h.remove(client)
		}
	}
}

func (h *Hub) allow(runID string) bool {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	l, ok := h.limiters[runID]
	if !ok {
		l = rate.NewLimiter(h.limit, 1)
		h.limiters[runID] = l
	}
	return l.Allow()
}

// ProgressFunc adapts Publish to the simulator's progress callback. The
// last iteration is always delivered.
func (h *Hub) ProgressFunc(runID uuid.UUID, phase string) func(done, total int) {
	id := runID.String()
	return func(done, total int) {
		h.publish(ProgressMessage{Type: MessageProgress, RunID: id, Phase: phase, Done: done, Total: total}, done == total)
	}
}

// Subscribers returns the number of clients watching runID.
func (h *Hub) Subscribers(runID string) int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.runClients[runID])
}

// GetConnectionCount returns the total number of active connections.
func (h *Hub) GetConnectionCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	n := 0
	for _, clients := range h.runClients {
		n += len(clients)
	}
	return n
}

func (c *Client) readPump() {
	defer func() {
		select {
		case c.Hub.unregister <- c:
		case <-c.Hub.done:
		}
		c.Conn.Close()
	}()

	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.Hub.logger.WithError(err).Error("WebSocket error")
			}
			return
		}
	}
}

func (c *Client) writePump() {
	defer c.Conn.Close()

	for message := range c.Send {
		c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
			c.Hub.logger.WithError(err).Error("Failed to write WebSocket message")
			return
		}
	}
	c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
	c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
}
