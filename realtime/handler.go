package realtime

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The REST layer already runs with a permissive CORS policy; the
	// websocket endpoint mirrors it.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler upgrades the request to a websocket connection and runs its
// pumps until the client disconnects. The handler goroutine doubles as
// the read pump, the same way a streaming response handler blocks for
// the connection lifetime.
func Handler(hub *Hub, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
		if err != nil {
			logger.Errorf("websocket upgrade: %v", err)
			return err
		}
		s := newSession(hub, conn, logger)
		logger.WithFields(log.Fields{"session": s.ID, "remote": conn.RemoteAddr().String()}).
			Debug("websocket connected")
		go s.writePump()
		s.readPump()
		return nil
	}
}
