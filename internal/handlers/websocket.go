package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/mossy-p/mesh-signaling/internal/models"
	"github.com/mossy-p/mesh-signaling/internal/signaling"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	Subprotocols:    models.Subprotocols(),
	CheckOrigin: func(r *http.Request) bool {
		// Origin checking is handled by middleware
		return true
	},
}

// HandleSignaling upgrades the request and hands the connection to the hub.
// Room membership is negotiated over the socket with join-room messages.
func HandleSignaling(hub *signaling.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			// Upgrade has already written the HTTP error
			slog.Debug("Failed to upgrade connection", "error", err)
			return
		}

		client := signaling.NewClient(hub, conn)
		slog.Debug("Signaling connection opened", "peer", client.ID, "subprotocol", conn.Subprotocol())
		client.Start()
	}
}
