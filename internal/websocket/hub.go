package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog/log"

	"github.com/makeasinger/sunoproxy/internal/model"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Client represents a WebSocket subscriber of one run
type Client struct {
	RunID string
	Conn  *websocket.Conn
	Send  chan []byte
}

// Hub maintains active WebSocket connections
type Hub struct {
	// Clients grouped by run ID
	clients map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan *BroadcastMessage
	// done is closed when Run returns.
	done chan struct{}

	mu sync.RWMutex
}

// BroadcastMessage represents a message to broadcast
type BroadcastMessage struct {
	RunID   string
	Message []byte
}

// NewHub creates a new Hub
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *BroadcastMessage, 256),
		done:       make(chan struct{}),
	}
}

// Run starts the hub's main loop and returns when ctx is done
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return

		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.RunID] == nil {
				h.clients[client.RunID] = make(map[*Client]bool)
			}
			h.clients[client.RunID][client] = true
			h.mu.Unlock()
			log.Debug().Str("run_id", client.RunID).Msg("ws client registered")

		case client := <-h.unregister:
			h.remove(client)
			log.Debug().Str("run_id", client.RunID).Msg("ws client unregistered")

		case msg := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients[msg.RunID] {
				select {
				case client.Send <- msg.Message:
				default:
					// Slow consumer.
					close(client.Send)
					delete(h.clients[msg.RunID], client)
				}
			}
			h.mu.Unlock()
		}
	}
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if clients, ok := h.clients[client.RunID]; ok {
		if _, ok := clients[client]; ok {
			delete(clients, client)
			close(client.Send)
			if len(clients) == 0 {
				delete(h.clients, client.RunID)
			}
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for runID, clients := range h.clients {
		for client := range clients {
			close(client.Send)
		}
		delete(h.clients, runID)
	}
}

// Subscribers returns the number of clients watching runID
func (h *Hub) Subscribers(runID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[runID])
}

// Register adds a new client. It reports false when the hub has stopped.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

// Unregister removes a client. It is a no-op once the hub has stopped.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// OnStatus publishes a run status change
func (h *Hub) OnStatus(ctx context.Context, job *model.Job) {
	h.send(job.ID, model.WSStatusMessage{
		Type:    model.WSMessageTypeStatus,
		RunID:   job.ID,
		Status:  job.Status,
		Attempt: len(job.Attempts),
	})
	if job.Status == model.JobStatusCompleted && len(job.Output) > 0 {
		h.BroadcastComplete(job.ID, jsoniter.RawMessage(job.Output))
	}
}

// OnMetadata publishes a partial metadata update
func (h *Hub) OnMetadata(ctx context.Context, job *model.Job, partial map[string]any) {
	h.send(job.ID, model.WSMetadataMessage{
		Type:     model.WSMessageTypeMetadata,
		RunID:    job.ID,
		Metadata: partial,
	})
}

// BroadcastComplete sends a completion message to all run subscribers
func (h *Hub) BroadcastComplete(runID string, result interface{}) {
	h.send(runID, model.WSCompleteMessage{
		Type:   model.WSMessageTypeComplete,
		RunID:  runID,
		Result: result,
	})
}

// BroadcastError sends an error message to all run subscribers
func (h *Hub) BroadcastError(runID string, code, message string) {
	h.send(runID, model.WSErrorMessage{
		Type:  model.WSMessageTypeError,
		RunID: runID,
		Error: model.WSError{
			Code:    code,
			Message: message,
		},
	})
}

// send never blocks the caller; messages are dropped when the hub is busy.
func (h *Hub) send(runID string, msg interface{}) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Str("run_id", runID).Msg("marshal ws message")
		return
	}
	select {
	case h.broadcast <- &BroadcastMessage{RunID: runID, Message: data}:
	default:
		log.Warn().Str("run_id", runID).Msg("ws broadcast buffer full, message dropped")
	}
}

// reply queues data for one registered client. Send is only closed while
// the client is being removed under the write lock.
func (h *Hub) reply(client *Client, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.clients[client.RunID][client] {
		return
	}
	select {
	case client.Send <- data:
	default:
	}
}

// HandleConnection serves one WebSocket subscriber until it disconnects
func (h *Hub) HandleConnection(c *websocket.Conn, runID string) {
	client := &Client{
		RunID: runID,
		Conn:  c,
		Send:  make(chan []byte, 256),
	}

	if !h.Register(client) {
		_ = c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
		return
	}
	defer h.Unregister(client)

	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case message, ok := <-client.Send:
				if !ok {
					_ = c.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
				if err := c.WriteMessage(websocket.TextMessage, message); err != nil {
					return
				}

			case <-ticker.C:
				if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, message, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Str("run_id", runID).Msg("websocket error")
			}
			break
		}

		var msg model.WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}

		if msg.Type == model.WSMessageTypePing {
			data, _ := json.Marshal(model.WSMessage{Type: model.WSMessageTypePong})
			h.reply(client, data)
		}
	}
}
