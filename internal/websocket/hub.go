package websocket

import (
	"encoding/json"
	"sync"

	"github.com/dennisdiepolder/kpiboard/internal/metrics"
	"github.com/dennisdiepolder/kpiboard/internal/types"
	"github.com/rs/zerolog"
)

// Boards returns the last committed leaderboard of a month
type Boards interface {
	Get(monthID string) (types.Leaderboard, bool)
}

// Watcher is told which months connected dashboards are looking at
type Watcher interface {
	Watch(monthID string)
}

type delivery struct {
	client *Client
	board  types.Leaderboard
}

// Hub maintains the set of active clients and pushes leaderboards to them
type Hub struct {
	// Registered clients
	clients map[*Client]bool

	// Committed leaderboards to fan out
	broadcast chan types.Leaderboard

	// Single-client sends, e.g. the current board after a subscribe
	deliver chan delivery

	// Register requests from the clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	boards  Boards
	watcher Watcher

	// Mutex to protect clients map
	mu sync.RWMutex

	logger zerolog.Logger
}

// NewHub creates a new Hub. boards and watcher may be nil.
func NewHub(boards Boards, watcher Watcher, logger zerolog.Logger) *Hub {
	return &Hub{
		broadcast:  make(chan types.Leaderboard, 256),
		deliver:    make(chan delivery, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
		boards:     boards,
		watcher:    watcher,
		logger:     logger,
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			metrics.Get().RecordWebSocketConnect()
			h.logger.Info().
				Str("client_id", client.id).
				Str("month", client.Month()).
				Int("total_clients", total).
				Msg("client connected")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				h.removeLocked(client)
				h.logger.Info().
					Str("client_id", client.id).
					Int("total_clients", len(h.clients)).
					Msg("client disconnected")
			}
			h.mu.Unlock()

		case lb := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				h.sendLocked(client, lb)
			}
			h.mu.Unlock()

		case d := <-h.deliver:
			h.mu.Lock()
			if h.clients[d.client] {
				h.sendLocked(d.client, d.board)
			}
			h.mu.Unlock()
		}
	}
}

// PublishLeaderboard queues a committed leaderboard for every client
// watching its month
func (h *Hub) PublishLeaderboard(lb types.Leaderboard) {
	select {
	case h.broadcast <- lb:
	default:
		metrics.Get().RecordWebSocketError()
		h.logger.Warn().Str("month", lb.MonthID).Msg("broadcast queue full, dropping leaderboard")
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// subscribe points a client at a month and sends the cached board if any
func (h *Hub) subscribe(client *Client, monthID string) {
	client.setMonth(monthID)
	if h.watcher != nil {
		h.watcher.Watch(monthID)
	}
	if h.boards == nil {
		return
	}
	if lb, ok := h.boards.Get(monthID); ok {
		select {
		case h.deliver <- delivery{client: client, board: lb}:
		default:
		}
	}
}

func (h *Hub) sendLocked(client *Client, lb types.Leaderboard) {
	filtered := client.FilterLeaderboard(lb)
	if filtered == nil {
		return
	}

	data, err := json.Marshal(types.LeaderboardMessage{Type: "leaderboard", Leaderboard: *filtered})
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to marshal leaderboard")
		return
	}

	select {
	case client.send <- data:
		metrics.Get().RecordWebSocketMessage()
	default:
		// Client's send buffer is full, close and remove it
		h.removeLocked(client)
		metrics.Get().RecordWebSocketError()
		h.logger.Warn().
			Str("client_id", client.id).
			Msg("client send buffer full, closing connection")
	}
}

func (h *Hub) removeLocked(client *Client) {
	delete(h.clients, client)
	close(client.send)
	metrics.Get().RecordWebSocketDisconnect()
}
