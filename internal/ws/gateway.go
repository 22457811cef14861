package ws

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/theopensystemslab/planx-new-sub014/internal/collab"
)

// Authentication happens in middleware before the upgrade is attempted, so
// the upgrader itself does not gate on origin.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// Gateway bridges authenticated websocket connections to the collab
// service. One Gateway serves every flow; per-flow fan-out lives in the Hub.
type Gateway struct {
	hub *Hub
	svc collab.Service
	sem *collab.Semaphore
}

func NewGateway(hub *Hub, svc collab.Service, sem *collab.Semaphore) *Gateway {
	return &Gateway{hub: hub, svc: svc, sem: sem}
}

// Connect upgrades the request and runs the connection's read loop until
// the client goes away. The actor identity was attached by the auth
// middleware; no unauthenticated request reaches this handler.
func (g *Gateway) Connect(c *gin.Context) {
	actorID := c.GetString("actorId")
	if actorID == "" {
		c.String(http.StatusUnauthorized, "missing actor identity")
		return
	}
	email := c.GetString("email")

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("websocket upgrade (actor=%s): %v", actorID, err)
		return
	}
	defer conn.Close()

	wsConn := NewConn(conn, g.hub, actorID, email, g.svc, g.sem)
	go wsConn.writeLoop()
	wsConn.readLoop(c.Request.Context())
}
