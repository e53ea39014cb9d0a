package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pion/logging"

	"github.com/mossy-p/webrtc-device/internal/models"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = 54 * time.Second
	pollInterval = 250 * time.Millisecond
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin checking is handled by middleware
		return true
	},
}

// watcher is one dashboard connection following the device status
type watcher struct {
	ID   string
	Conn *websocket.Conn
	Send chan []byte
	done chan struct{}
	log  logging.LeveledLogger
}

// StreamStatus upgrades to a websocket and pushes the status document every
// time it changes.
func (s *Status) StreamStatus(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warnf("Failed to upgrade connection: %v", err)
		return
	}

	w := &watcher{
		ID:   uuid.New().String(),
		Conn: conn,
		Send: make(chan []byte, 16),
		done: make(chan struct{}),
		log:  s.log,
	}
	w.log.Infof("Status watcher %s connected", w.ID)

	go w.writePump()
	go w.readPump()
	go w.watch(s.status)
}

// watch polls the status and queues a message whenever it changes.
func (w *watcher) watch(status func() models.StatusResponse) {
	ticker := time.NewTicker(pollInterval)
	defer func() {
		ticker.Stop()
		close(w.Send)
	}()

	var last []byte
	for {
		data, err := json.Marshal(status())
		if err != nil {
			w.log.Errorf("Failed to marshal status: %v", err)
			return
		}
		if string(data) != string(last) {
			select {
			case w.Send <- data:
				last = data
			default:
				w.log.Debugf("Status watcher %s is slow, skipping update", w.ID)
			}
		}

		select {
		case <-ticker.C:
		case <-w.done:
			return
		}
	}
}

// readPump discards client messages and detects the connection closing.
func (w *watcher) readPump() {
	defer func() {
		close(w.done)
		w.log.Infof("Status watcher %s disconnected", w.ID)
	}()

	w.Conn.SetReadDeadline(time.Now().Add(pongWait))
	w.Conn.SetPongHandler(func(string) error {
		w.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := w.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				w.log.Warnf("WebSocket error: %v", err)
			}
			return
		}
	}
}

func (w *watcher) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		w.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-w.Send:
			w.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				w.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := w.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				w.log.Warnf("Failed to write message: %v", err)
				return
			}

		case <-ticker.C:
			w.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := w.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
