package handlers

import (
	"net/http"
	"slices"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/CrowderSoup/taskpro/services"
)

// WebSocketHandler streams board events to the signed-in user
type WebSocketHandler struct {
	hub      *services.Hub
	upgrader websocket.Upgrader
	logger   *log.Logger
}

func NewWebSocketHandler(hub *services.Hub, allowedOrigins []string, logger *log.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		hub: hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || slices.Contains(allowedOrigins, "*") || slices.Contains(allowedOrigins, origin)
			},
		},
		logger: logger,
	}
}

// HandleWebSocket upgrades the HTTP connection to a WebSocket connection
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Warn("failed to upgrade to websocket")
		return
	}

	// A user may keep several tabs or devices connected
	client := services.NewClient(h.hub, conn, user.ID)
	h.hub.Register(client)

	go client.WritePump()
	go client.ReadPump()
}
