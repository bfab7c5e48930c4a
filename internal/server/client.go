package server

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 8192
)

type Client struct {
	conn   *websocket.Conn
	hub    *MsgDropServer
	log    *log.Logger
	dropId string
	label  string
	send   chan *ServerEvent
	stop   chan struct{}

	stopOnce sync.Once
	roomLock sync.RWMutex
	room     *Room
}

func NewClient(dropId, label string, conn *websocket.Conn, cs *MsgDropServer, l *log.Logger) *Client {
	return &Client{
		conn:   conn,
		hub:    cs,
		log:    l,
		dropId: dropId,
		label:  label,
		send:   make(chan *ServerEvent, 256),
		stop:   make(chan struct{}),
	}
}

func (c *Client) Write() {
	ticker := time.NewTicker(time.Duration(pingInterval))
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case ev, ok := <-c.send:
			if !ok {
				return
			}

			bytes, err := json.Marshal(ev)
			if err != nil {
				c.log.Println("failed to serialize event:", err)
				continue
			}

			if !c.sendMessage(websocket.TextMessage, bytes) {
				return
			}
		case <-c.stop:
			return
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !c.sendMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) Read() {
	defer func() {
		c.conn.Close()
		c.cleanup()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(appData string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Printf("ws: read: %v", err)
			}
			break
		}

		var ev ClientEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			c.log.Println("error parsing event:", err)
			c.queueMessage(ErrInvalidEvent())
			continue
		}

		ev.client = c

		switch ev.Type {
		case EventPing:
			var p PingPayload
			json.Unmarshal(ev.Payload, &p)
			c.queueMessage(&ServerEvent{
				Type:      EventPong,
				Payload:   PingPayload{Ts: p.Ts},
				Timestamp: Now(),
			})
		case EventTyping, EventPresence, EventPresenceRequest, EventRead, EventVideoSignal, EventChat, EventGif, EventGame:
			c.forwardToRoom(&ev)
		default:
			c.queueMessage(ErrInvalidEvent())
		}
	}
}

func (c *Client) forwardToRoom(ev *ClientEvent) {
	r := c.getRoom()
	if r == nil {
		// join not processed yet, or already left
		c.queueMessage(ErrServiceUnavailable())
		return
	}

	select {
	case r.eventChan <- ev:
	default:
		c.log.Printf("eventChan full for drop %q", r.dropId)
		c.queueMessage(ErrServiceUnavailable())
	}
}

func (c *Client) queueMessage(ev *ServerEvent) bool {
	select {
	case c.send <- ev:
	default:
		c.log.Println("failed to queue event for client, channel is full")
		return false
	}

	return true
}

func (c *Client) sendMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Printf("write message: %s", err)
		}
		return false
	}

	return true
}

func (c *Client) stopClient() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
}

func (c *Client) cleanup() {
	c.hub.deRegisterChan <- c
	c.stopClient()
}

func (c *Client) setRoom(r *Room) {
	c.roomLock.Lock()
	defer c.roomLock.Unlock()
	c.room = r
}

func (c *Client) getRoom() *Room {
	c.roomLock.RLock()
	defer c.roomLock.RUnlock()
	return c.room
}
