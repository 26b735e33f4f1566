// Package api serves a read-only view of the trading system: REST
// snapshot routes plus a WebSocket hub that fans out view.Bus updates.
// Grounded on teacher's internal/api/websocket.go (Hub/Client register/
// unregister, heartbeat, channel subscriptions) and server.go (mux
// routing, middleware chain), adapted from a generic order/position/
// signal event set to the view.Update sum type.
package api

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/atlas-desktop/orb-trader/internal/view"
)

// MessageType tags a WSMessage's payload shape.
type MessageType string

const (
	MsgTypeMarket      MessageType = "market"
	MsgTypeSystem      MessageType = "system"
	MsgTypeAccount     MessageType = "account"
	MsgTypeTradeResult MessageType = "trade_result"
	MsgTypeConnection  MessageType = "connection"
	MsgTypeAtr         MessageType = "atr"
	MsgTypeHeartbeat   MessageType = "heartbeat"

	MsgTypeSubscribe   MessageType = "subscribe"
	MsgTypeUnsubscribe MessageType = "unsubscribe"
)

// WSMessage is the envelope sent to every client.
type WSMessage struct {
	Type      MessageType     `json:"type"`
	Channel   string          `json:"channel,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// Client is one WebSocket connection.
type Client struct {
	id            string
	hub           *Hub
	conn          *websocket.Conn
	send          chan []byte
	subscriptions map[string]bool
	mu            sync.RWMutex
}

// Hub fans view.Bus updates out to connected clients, supporting
// per-epic channel subscriptions alongside the always-on broadcast feed.
type Hub struct {
	logger     *zap.Logger
	bus        *view.Bus
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	channels   map[string]map[*Client]bool
	mu         sync.RWMutex
}

// NewHub builds a Hub wired to bus. Call Run to start it.
func NewHub(logger *zap.Logger, bus *view.Bus) *Hub {
	return &Hub{
		logger:     logger.Named("ws_hub"),
		bus:        bus,
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		channels:   make(map[string]map[*Client]bool),
	}
}

// Run subscribes to the view bus and services register/unregister/
// heartbeat. It takes no context and never returns.
func (h *Hub) Run() {
	sub := h.bus.Subscribe(h.onUpdate)
	defer h.bus.Unsubscribe(sub)

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.logger.Debug("client registered", zap.String("id", client.id))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				for channel := range client.subscriptions {
					if clients, ok := h.channels[channel]; ok {
						delete(clients, client)
						if len(clients) == 0 {
							delete(h.channels, channel)
						}
					}
				}
			}
			h.mu.Unlock()
			h.logger.Debug("client unregistered", zap.String("id", client.id))

		case <-ticker.C:
			h.broadcast(WSMessage{Type: MsgTypeHeartbeat, Timestamp: time.Now().UnixMilli()})
		}
	}
}

func (h *Hub) onUpdate(update view.Update) {
	msgType, epic := classify(update)
	data, err := json.Marshal(update)
	if err != nil {
		h.logger.Error("failed to marshal view update", zap.Error(err))
		return
	}
	msg := WSMessage{Type: msgType, Channel: epic, Data: data, Timestamp: time.Now().UnixMilli()}
	h.broadcast(msg)
	if epic != "" {
		h.publishToChannel(epic, msg)
	}
}

func classify(update view.Update) (msgType MessageType, epic string) {
	switch u := update.(type) {
	case view.MarketView:
		return MsgTypeMarket, u.Epic
	case view.SystemView:
		return MsgTypeSystem, u.Epic
	case view.AccountView:
		return MsgTypeAccount, ""
	case view.TradeResultView:
		return MsgTypeTradeResult, u.Epic
	case view.ConnectionView:
		return MsgTypeConnection, ""
	case view.AtrView:
		return MsgTypeAtr, u.Epic
	default:
		return "", ""
	}
}

func (h *Hub) broadcast(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to marshal message", zap.Error(err))
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		select {
		case client.send <- data:
		default:
		}
	}
}

func (h *Hub) publishToChannel(channel string, msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if clients, ok := h.channels[channel]; ok {
		for client := range clients {
			select {
			case client.send <- data:
			default:
			}
		}
	}
}

// Subscribe adds a client to a per-epic channel.
func (h *Hub) Subscribe(client *Client, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.channels[channel] == nil {
		h.channels[channel] = make(map[*Client]bool)
	}
	h.channels[channel][client] = true
	client.mu.Lock()
	client.subscriptions[channel] = true
	client.mu.Unlock()
}

// Unsubscribe removes a client from a per-epic channel.
func (h *Hub) Unsubscribe(client *Client, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if clients, ok := h.channels[channel]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.channels, channel)
		}
	}
	client.mu.Lock()
	delete(client.subscriptions, channel)
	client.mu.Unlock()
}

// ClientCount reports the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// NewClient wraps a dialed connection.
func NewClient(id string, hub *Hub, conn *websocket.Conn) *Client {
	return &Client{id: id, hub: hub, conn: conn, send: make(chan []byte, 256), subscriptions: make(map[string]bool)}
}

// ReadPump pumps client->server control messages (subscribe/unsubscribe).
func (c *Client) ReadPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(65536)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Error("websocket read error", zap.Error(err))
			}
			break
		}

		var msg WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			c.hub.logger.Warn("invalid websocket message", zap.Error(err))
			continue
		}

		switch msg.Type {
		case MsgTypeSubscribe:
			c.hub.Subscribe(c, msg.Channel)
		case MsgTypeUnsubscribe:
			c.hub.Unsubscribe(c, msg.Channel)
		}
	}
}

// WritePump pumps hub->client messages, batching whatever has queued up
// since the last write and pinging on idle.
func (c *Client) WritePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
