package service

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"mcq_bot/internal/model"
	"mcq_bot/pkg/logger"
	"mcq_bot/pkg/monitoring"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	broadcastQueue = 64
)

const (
	EventTypeSessionState = "SESSION_STATE"
	EventTypePairingCode  = "PAIRING_CODE"
	EventTypeBatchReport  = "BATCH_REPORT"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type WSMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Subscriber 只读的 websocket 连接，客户端发来的内容一律丢弃
type Subscriber struct {
	ID   string
	Hub  *EventHub
	Conn *websocket.Conn
	Send chan []byte
}

func (c *Subscriber) readPump() {
	defer func() {
		select {
		case c.Hub.unregister <- c:
		case <-c.Hub.done:
		}
		c.Conn.Close()
	}()
	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error { c.Conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Log.Warn("WebSocket unexpected close", zap.Error(err), zap.String("subscriber", c.ID))
			}
			return
		}
	}
}

func (c *Subscriber) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// EventHub fans session and batch events out to websocket subscribers. It
// is a SessionObserver; publishing never blocks the caller.
type EventHub struct {
	clients    map[string]*Subscriber
	broadcast  chan []byte
	register   chan *Subscriber
	unregister chan *Subscriber
	done       chan struct{}
}

func NewEventHub() *EventHub {
	return &EventHub{
		clients:    make(map[string]*Subscriber),
		broadcast:  make(chan []byte, broadcastQueue),
		register:   make(chan *Subscriber),
		unregister: make(chan *Subscriber),
		done:       make(chan struct{}),
	}
}

func (h *EventHub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.stop()
			return

		case client := <-h.register:
			h.clients[client.ID] = client
			monitoring.EventSubscribers.Inc()

		case client := <-h.unregister:
			if _, ok := h.clients[client.ID]; ok {
				delete(h.clients, client.ID)
				close(client.Send)
				monitoring.EventSubscribers.Dec()
			}

		case payload := <-h.broadcast:
			for _, client := range h.clients {
				select {
				case client.Send <- payload:
				default:
					// 慢客户端直接丢消息
				}
			}
		}
	}
}

func (h *EventHub) stop() {
	close(h.done)
	for id, client := range h.clients {
		close(client.Send)
		delete(h.clients, id)
	}
	monitoring.EventSubscribers.Set(0)
	logger.Log.Info("EventHub stopped")
}

func (h *EventHub) Publish(msg WSMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		logger.Log.Error("Marshal websocket event failed", zap.Error(err), zap.String("type", msg.Type))
		return
	}
	select {
	case h.broadcast <- payload:
	default:
		logger.Log.Debug("Event queue full, dropping", zap.String("type", msg.Type))
	}
}

func (h *EventHub) OnStateChange(from, to model.SessionState) {
	h.Publish(WSMessage{Type: EventTypeSessionState, Data: map[string]string{
		"from": from.String(),
		"to":   to.String(),
	}})
}

func (h *EventHub) OnPairingCode(code string) {
	h.Publish(WSMessage{Type: EventTypePairingCode, Data: map[string]string{"code": code}})
}

func (h *EventHub) OnBatchFinished(report *model.BatchReport) {
	h.Publish(WSMessage{Type: EventTypeBatchReport, Data: report})
}

func ServeWs(hub *EventHub, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Log.Error("WebSocket upgrade failed", zap.Error(err))
		return
	}
	client := &Subscriber{
		ID:   uuid.New().String(),
		Hub:  hub,
		Conn: conn,
		Send: make(chan []byte, 16),
	}
	select {
	case hub.register <- client:
	case <-hub.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}
