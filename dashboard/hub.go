// Package dashboard implements the Dashboard Hub (spec component 4.G):
// a websocket fan-out of call events to every connected operator client,
// a client-to-server command channel, and a REST surface over the
// access store and call history.
//
// The fan-out is grounded on core/app/ws/manager.py's ConnectionManager
// (broadcast to every active connection, drop ones that fail), adapted
// to Go's idiom of a buffered per-client channel instead of an
// await-per-send loop, so one slow client can never block the others or
// the call itself — matching the teacher's own drop-oldest backpressure
// idiom in transport/provider.go's audioWriter.
package dashboard

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// EventType tags a server-to-client dashboard message per spec §6's
// message table.
type EventType string

const (
	EventStatus           EventType = "status"
	EventCallIncoming     EventType = "call_incoming"
	EventCallActive       EventType = "call_active"
	EventCallEnded        EventType = "call_ended"
	EventCallRejected     EventType = "call_rejected"
	EventTranscript       EventType = "transcript"
	EventFunctionCall     EventType = "function_call"
	EventFunctionResult   EventType = "function_result"
	EventAgentChanged     EventType = "agent_changed"
	EventAIState          EventType = "ai_state"
	EventCallCost         EventType = "call_cost"
	EventModelChanged     EventType = "model_changed"
	EventBlacklistUpdated EventType = "blacklist_updated"
	EventWhitelistUpdated EventType = "whitelist_updated"
)

// Event is one server-to-client dashboard message.
type Event struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload,omitempty"`
}

// Command is one client-to-server dashboard message.
type Command struct {
	Type      string `json:"type"` // "hangup" | "mute_ai" | "unmute_ai" | "switch_agent"
	AgentName string `json:"agent_name,omitempty"`
}

// CommandHandler routes a dashboard command to the active call
// supervisor. Implemented by the supervisor package.
type CommandHandler func(cmd Command)

// Hub fans out call events to every connected dashboard client and
// accepts commands from them.
type Hub struct {
	log *logrus.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
	onCmd   CommandHandler
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan Event
	done chan struct{}
}

// New creates an empty Hub.
func New(log *logrus.Logger) *Hub {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Hub{log: log, clients: make(map[*client]struct{})}
}

// OnCommand sets the handler invoked for every command received from any
// connected client.
func (h *Hub) OnCommand(handler CommandHandler) {
	h.mu.Lock()
	h.onCmd = handler
	h.mu.Unlock()
}

// Broadcast publishes evt to every connected client. Best-effort: a
// client whose send buffer is full is dropped rather than allowed to
// stall the broadcast (spec §4.G).
func (h *Hub) Broadcast(evt Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		select {
		case c.send <- evt:
		default:
			h.log.WithField("client_id", c.id).Warn("dashboard client send buffer full, dropping client")
			if c.conn != nil {
				_ = c.conn.Close() // its readLoop then fails and removes it
			}
		}
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeWS upgrades an HTTP request to a dashboard websocket connection.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Error("dashboard websocket upgrade failed")
		return
	}

	c := &client{id: uuid.NewString(), conn: conn, send: make(chan Event, 32), done: make(chan struct{})}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.log.WithField("client_id", c.id).Info("dashboard client connected")

	go h.writeLoop(c)
	h.readLoop(c)
}

func (h *Hub) writeLoop(c *client) {
	defer func() { _ = c.conn.Close() }()
	for {
		select {
		case <-c.done:
			return
		case evt := <-c.send:
			if err := c.conn.WriteJSON(evt); err != nil {
				return
			}
		}
	}
}

func (h *Hub) readLoop(c *client) {
	defer h.removeClient(c)
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var cmd Command
		if err := json.Unmarshal(raw, &cmd); err != nil {
			continue
		}

		h.mu.RLock()
		handler := h.onCmd
		h.mu.RUnlock()
		if handler != nil {
			handler(cmd)
		}
	}
}

func (h *Hub) removeClient(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	close(c.done)
	h.log.WithField("client_id", c.id).Info("dashboard client disconnected")
}

// ClientCount returns the number of currently connected dashboard clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
