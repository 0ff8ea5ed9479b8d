package handlers

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	ws "github.com/thereayou/concord/internal/websocket"
)

// WebSocketHandler upgrades requests on /ws and starts the client pumps.
// Authentication happens in-band, so the upgrade itself is open.
type WebSocketHandler struct {
	hub        *ws.Hub
	dispatcher *Dispatcher
	upgrader   websocket.Upgrader
}

func NewWebSocketHandler(hub *ws.Hub, dispatcher *Dispatcher) *WebSocketHandler {
	return &WebSocketHandler{
		hub:        hub,
		dispatcher: dispatcher,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

func (h *WebSocketHandler) HandleWebSocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("[ws] upgrade from %s: %v", c.ClientIP(), err)
		return
	}

	client := ws.NewClient(conn)
	h.hub.Register(client)
	log.Printf("[ws] %s connected from %s", client.ID, c.ClientIP())

	go client.WritePump()
	go client.ReadPump(h.dispatcher)
}
