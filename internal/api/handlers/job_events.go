package handlers

import (
	"net/http"
	"slices"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/stitts-dev/xc-results/internal/services"
)

// JobEventsHandler streams scrape job updates over a websocket.
type JobEventsHandler struct {
	hub      *services.JobEventHub
	upgrader websocket.Upgrader
}

// NewJobEventsHandler accepts connections from the configured CORS origins;
// "*" or an empty list accepts any origin.
func NewJobEventsHandler(hub *services.JobEventHub, origins []string) *JobEventsHandler {
	allowAll := len(origins) == 0 || slices.Contains(origins, "*")
	return &JobEventsHandler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return allowAll || origin == "" || slices.Contains(origins, origin)
			},
		},
	}
}

// Stream upgrades the connection and registers it with the hub
func (h *JobEventsHandler) Stream(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logrus.WithError(err).Warn("Failed to upgrade job event connection")
		return
	}

	client := services.NewJobSubscriber(h.hub, conn)
	if !h.hub.Register(client) {
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
		conn.Close()
		return
	}

	go client.WritePump()
	go client.ReadPump()
}
