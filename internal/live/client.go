package live

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var (
	// Time allowed to write a message to the peer.
	WriteWait = 10 * time.Second
	// Time allowed to read the next pong message from the peer.
	PongWait = 60 * time.Second
	// Send pings to peer with this period. Must be less than pongWait.
	PingPeriod = (PongWait * 9) / 10
	// Maximum message size allowed from peer.
	MaxMessageSize int64 = 64 * 1024
)

const (
	SUBSCRIBE    string = "SUBSCRIBE"
	UNSUBSCRIBE  string = "UNSUBSCRIBE"
	SUBSCRIBED   string = "SUBSCRIBED"
	UNSUBSCRIBED string = "UNSUBSCRIBED"
)

type subscription struct {
	client *client
	Type   string   `json:"type"`
	Topics []string `json:"topics"`
}

type client struct {
	ws            *websocket.Conn
	send          chan []byte
	hub           *Hub
	closeOnce     sync.Once
	subscriptions map[string]struct{}
}

func newClient(ws *websocket.Conn, hub *Hub) *client {
	return &client{
		ws:            ws,
		send:          make(chan []byte, 64),
		hub:           hub,
		subscriptions: map[string]struct{}{},
	}
}

// close is only called from the hub goroutine.
func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.send)
	})
}

func (c *client) listenRead() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		if err := c.ws.Close(); err != nil {
			log.Debug().Err(err).Msg("websocket already closed")
		}
	}()

	c.ws.SetReadLimit(MaxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(PongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(PongWait))
		return nil
	})

	for {
		_, message, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Msg("websocket closed unexpectedly")
			}
			return
		}

		s := &subscription{}
		if err := json.Unmarshal(message, s); err != nil {
			log.Debug().Err(err).Msg("invalid subscription message")
			continue
		}
		if s.Type != SUBSCRIBE && s.Type != UNSUBSCRIBE {
			log.Debug().Str("type", s.Type).Msg("unknown subscription type")
			continue
		}
		s.client = c
		select {
		case c.hub.subscription <- s:
		case <-c.hub.done:
			return
		}
	}
}

func (c *client) listenWrite() {
	ticker := time.NewTicker(PingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(WriteWait))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Debug().Err(err).Msg("failed to write message")
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(WriteWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func mustMarshal(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
