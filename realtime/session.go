package realtime

import (
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/baidenprynce9-wq/codealpha-tasks/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendQueueSize  = 64
)

// Session wraps one websocket connection. The read pump handles the
// join_project control messages; the write pump drains the send queue
// built up by hub fan-out. A slow consumer loses messages rather than
// stalling the hub or other rooms.
type Session struct {
	ID string

	hub    *Hub
	conn   *websocket.Conn
	logger *log.Logger

	send chan []byte
	once sync.Once
	quit chan struct{}
}

func newSession(hub *Hub, conn *websocket.Conn, logger *log.Logger) *Session {
	return &Session{
		ID:     uuid.NewString(),
		hub:    hub,
		conn:   conn,
		logger: logger,
		send:   make(chan []byte, sendQueueSize),
		quit:   make(chan struct{}),
	}
}

// trySend queues data for the write pump without blocking.
func (s *Session) trySend(data []byte) bool {
	select {
	case s.send <- data:
		return true
	default:
		return false
	}
}

func (s *Session) close() {
	s.once.Do(func() {
		s.hub.Leave(s)
		close(s.quit)
		_ = s.conn.Close()
	})
}

// readPump consumes inbound control messages until the connection
// drops. Anything other than join_project is ignored.
func (s *Session) readPump() {
	defer s.close()
	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debugf("session %s read: %v", s.ID, err)
			}
			return
		}
		var msg domain.Event
		if err := sonic.Unmarshal(data, &msg); err != nil {
			s.logger.Debugf("session %s: unparseable message: %v", s.ID, err)
			continue
		}
		switch msg.Type {
		case domain.JoinProject:
			projectID, err := domain.ParseID(msg.Payload)
			if err != nil {
				s.logger.Debugf("session %s: bad join_project payload: %v", s.ID, err)
				continue
			}
			s.hub.Join(s, domain.RoomKey(projectID))
		default:
			s.logger.Debugf("session %s: ignoring %q message", s.ID, msg.Type)
		}
	}
}

// writePump flushes queued events and keeps the connection alive with
// pings.
func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.close()
	}()
	for {
		select {
		case <-s.quit:
			return
		case data := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
