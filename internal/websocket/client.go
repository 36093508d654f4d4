package websocket

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/dennisdiepolder/kpiboard/internal/auth"
	"github.com/dennisdiepolder/kpiboard/internal/config"
	"github.com/dennisdiepolder/kpiboard/internal/types"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Client is a middleman between the websocket connection and the hub
type Client struct {
	// Unique client ID
	id string

	// The hub this client belongs to
	hub *Hub

	// The websocket connection
	conn *websocket.Conn

	// Buffered channel of outbound messages
	send chan []byte

	config *config.Config
	logger zerolog.Logger

	// Caller identity, decides which rows the client sees
	claims *auth.Claims

	// Month the dashboard is looking at
	month string
	mu    sync.Mutex
}

// subscribeMessage is sent by dashboards to switch the watched month
type subscribeMessage struct {
	Type  string `json:"type"`
	Month string `json:"month"`
}

// NewClient creates a new Client
func NewClient(hub *Hub, conn *websocket.Conn, cfg *config.Config, logger zerolog.Logger, claims *auth.Claims, month string) *Client {
	clientID := uuid.New().String()
	return &Client{
		id:     clientID,
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, 256),
		config: cfg,
		logger: logger.With().Str("client_id", clientID).Logger(),
		claims: claims,
		month:  month,
	}
}

// Month returns the month the client is subscribed to
func (c *Client) Month() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.month
}

func (c *Client) setMonth(monthID string) {
	c.mu.Lock()
	c.month = monthID
	c.mu.Unlock()
}

// readPump pumps messages from the websocket connection to the hub
//
// The application runs readPump in a per-connection goroutine. The application
// ensures that there is at most one reader on a connection by executing all
// reads from this goroutine.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.config.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error().Err(err).Msg("websocket read error")
			}
			break
		}
		c.handleMessage(message)
	}
}

func (c *Client) handleMessage(message []byte) {
	var msg subscribeMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		c.logger.Debug().Str("message", string(message)).Msg("ignoring malformed client message")
		return
	}
	if msg.Type != "subscribe" || !types.IsMonthID(msg.Month) {
		c.logger.Debug().Str("type", msg.Type).Str("month", msg.Month).Msg("ignoring client message")
		return
	}
	c.hub.subscribe(c, msg.Month)
}

// writePump pumps messages from the hub to the websocket connection
//
// A goroutine running writePump is started for each connection. The
// application ensures that there is at most one writer to a connection by
// executing all writes from this goroutine.
func (c *Client) writePump() {
	ticker := time.NewTicker(c.config.PingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
			if !ok {
				// The hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			// one leaderboard per frame so dashboards can parse each message
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Start starts the client's read and write pumps
func (c *Client) Start() {
	go c.writePump()
	go c.readPump()
}

// FilterLeaderboard returns the view of lb this client may see, or nil when
// the board is for another month. Admins see every row; agents only their own.
func (c *Client) FilterLeaderboard(lb types.Leaderboard) *types.Leaderboard {
	if lb.MonthID != c.Month() {
		return nil
	}
	if c.claims.IsAdmin() {
		return &lb
	}

	filtered := lb
	filtered.Failures = nil
	filtered.Rows = []types.RankingRow{}
	if c.claims == nil {
		return &filtered
	}
	for _, row := range lb.Rows {
		if row.AgentID == c.claims.AgentID {
			filtered.Rows = append(filtered.Rows, row)
		}
	}
	return &filtered
}
