package websocket

import (
	"net/http"
	"time"

	"github.com/dennisdiepolder/kpiboard/internal/auth"
	"github.com/dennisdiepolder/kpiboard/internal/config"
	"github.com/dennisdiepolder/kpiboard/internal/types"
	"github.com/dennisdiepolder/kpiboard/pkg/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Handler handles WebSocket upgrade requests
type Handler struct {
	hub      *Hub
	config   *config.Config
	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

// NewHandler creates a new WebSocket handler
func NewHandler(hub *Hub, cfg *config.Config, logger zerolog.Logger) *Handler {
	return &Handler{
		hub:    hub,
		config: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return middleware.OriginAllowed(r.Header.Get("Origin"), cfg.AllowedOrigins)
			},
		},
		logger: logger,
	}
}

// ServeHTTP handles WebSocket upgrade requests. The month query parameter
// selects the initial month, defaulting to the current one.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.GetUserFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	month := r.URL.Query().Get("month")
	if month == "" {
		month = types.MonthIDOf(time.Now())
	}
	if !types.IsMonthID(month) {
		http.Error(w, "invalid month", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to upgrade connection")
		return
	}

	client := NewClient(h.hub, conn, h.config, h.logger, claims, month)
	h.hub.register <- client
	client.Start()
	h.hub.subscribe(client, month)
}
