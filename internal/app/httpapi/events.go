package httpapi

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/reviewgame/server/internal/app/events"
	"github.com/reviewgame/server/internal/app/metrics"
	"github.com/reviewgame/server/internal/logging"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 50 * time.Second
	wsReadLimit  = 512
)

// The play surface is public; origin checks add nothing a join code does
// not already gate.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// playEvents streams game events to players and projector screens. Clients
// fetch the snapshot over GET first and apply events on top of it.
func (h *handler) playEvents(w http.ResponseWriter, r *http.Request) {
	g, err := h.app.Games.Resolve(r.Context(), mux.Vars(r)["code"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written its own response.
		h.log.WithContext(r.Context()).WithError(err).Warn("websocket upgrade failed")
		return
	}

	ch, cancel := h.app.Events.Subscribe(g.ID)
	metrics.WebSocketConnected()

	client := &eventClient{conn: conn, events: ch, cancel: cancel, log: h.log.WithFields(map[string]interface{}{"game_id": g.ID})}
	go client.writePump()
	client.readPump()
}

// eventClient is one subscribed socket. The stream is one-way; inbound
// frames only serve to detect the peer going away.
type eventClient struct {
	conn   *websocket.Conn
	events <-chan events.Event
	cancel func()
	log    *logging.Logger

	closeOnce sync.Once
}

// close tears the connection down exactly once, whichever pump dies first.
func (c *eventClient) close() {
	c.closeOnce.Do(func() {
		c.cancel()
		_ = c.conn.Close()
		metrics.WebSocketDisconnected()
	})
}

func (c *eventClient) readPump() {
	defer c.close()
	c.conn.SetReadLimit(wsReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *eventClient) writePump() {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()
	for {
		select {
		case ev, ok := <-c.events:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				// Subscription cancelled under us; say goodbye.
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := c.conn.WriteJSON(ev); err != nil {
				c.log.WithError(err).Debug("websocket write failed")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
