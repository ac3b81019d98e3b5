package wsbridge

import (
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// client is one connected WebSocket subscriber. Events flow one way, from
// the streamer to the client; inbound frames are read only to service pongs
// and detect disconnects.
type client struct {
	streamer *Streamer
	ws       *websocket.Conn
	send     chan []byte
}

func newClient(s *Streamer, ws *websocket.Conn) *client {
	return &client{
		streamer: s,
		ws:       ws,
		send:     make(chan []byte, 256),
	}
}

// start registers the client with the streamer and launches its pumps.
func (c *client) start() {
	c.streamer.register(c)
	go c.writePump()
	go c.readPump()
}

func (c *client) readPump() {
	defer func() {
		c.streamer.unregister(c)
		c.ws.Close()
	}()

	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
