package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/yeremiapane/tablesync/realtime"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type StreamController struct {
	Hub *realtime.Hub
}

func NewStreamController(hub *realtime.Hub) *StreamController {
	return &StreamController{Hub: hub}
}

// TableStream -> websocket endpoint for one table's event channel. The
// table device subscribes unauthenticated; staff dashboards come through
// the authenticated route with the same handler. Observers re-fetch the
// snapshot on every event, and on (re)connect, rather than applying events
// incrementally.
func (sc *StreamController) TableStream(c *gin.Context) {
	tableID, ok := parseID(c, "table_id")
	if !ok {
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	sc.Hub.Attach(tableID, ws)

	// Hold the connection open; fan-out happens from the hub.
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			break
		}
	}

	sc.Hub.Detach(tableID, ws)
}
