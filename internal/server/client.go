package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-chatserver/internal/types"
	"github.com/teris-io/shortid"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// Client pumps one websocket connection. It owns a registry session
// for its lifetime and implements Transport for the delivery router.
type Client struct {
	conn       *websocket.Conn
	chatServer *ChatServer
	log        *log.Logger
	user       types.User
	session    *Session
	send       chan *ServerMessage
	stop       chan struct{}
	stopOnce   sync.Once
}

func NewClient(user types.User, conn *websocket.Conn, cs *ChatServer, l *log.Logger) (*Client, error) {
	sessionId, err := shortid.Generate()
	if err != nil {
		return nil, err
	}

	c := &Client{
		conn:       conn,
		chatServer: cs,
		log:        l,
		user:       user,
		send:       make(chan *ServerMessage, 256),
		stop:       make(chan struct{}),
	}

	c.session = cs.Registry.Register(user.Id, sessionId, c)
	return c, nil
}

// Queue implements Transport. It reports false when the outbound
// buffer is full rather than blocking the router.
func (c *Client) Queue(msg *ServerMessage) bool {
	select {
	case c.send <- msg:
	default:
		c.log.Printf("send buffer full for session %q", c.session.Id)
		return false
	}

	return true
}

// Close implements Transport. The idle sweeper calls it after the
// session is already gone from the registry.
func (c *Client) Close() {
	c.stopClient()
}

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.log.Println("write exiting")
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}

			bytes, err := json.Marshal(msg)
			if err != nil {
				c.log.Println("failed to serialize message:", err)
				continue
			}

			if !c.writeMessage(websocket.TextMessage, bytes) {
				return
			}
		case <-c.stop:
			return
		case <-ticker.C:
			if !c.writeMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) Read() {
	defer func() {
		c.conn.Close()
		c.cleanup()
		c.log.Println("read exiting")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(appData string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.session.Touch()
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Printf("ws: read: %v", err)
			}
			break
		}

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.log.Println("error parsing message:", err)
			c.Queue(ErrInvalidMessage(-1))
			continue
		}

		c.session.Touch()
		c.handleMessage(&msg)
	}
}

func (c *Client) handleMessage(msg *ClientMessage) {
	switch {
	case msg.Publish != nil:
		c.handlePublish(msg)
	case msg.Subscribe != nil:
		if err := c.chatServer.Registry.Subscribe(c.session.Id, msg.Subscribe.ConversationId); err != nil {
			c.Queue(ErrInternalError(msg.Id))
			return
		}
		c.Queue(NoErrOK(msg.Id, nil))
	case msg.Unsubscribe != nil:
		if err := c.chatServer.Registry.Unsubscribe(c.session.Id, msg.Unsubscribe.ConversationId); err != nil {
			c.Queue(ErrInternalError(msg.Id))
			return
		}
		c.Queue(NoErrOK(msg.Id, nil))
	case msg.AckSeen != nil:
		c.chatServer.Router.AckSeen(context.Background(), types.SeenMark{
			UserId:         c.user.Id,
			ConversationId: msg.AckSeen.ConversationId,
			MessageId:      msg.AckSeen.MessageId,
			Timestamp:      Now(),
		})
		c.Queue(NoErrAccepted(msg.Id))
	default:
		c.Queue(ErrInvalidMessage(msg.Id))
	}
}

func (c *Client) handlePublish(msg *ClientMessage) {
	sent, err := c.chatServer.Gateway.Send(context.Background(), c.user.Id, msg.Publish)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidTarget):
			c.Queue(ErrInvalidMessage(msg.Id))
		case errors.Is(err, ErrUnknownTarget), errors.Is(err, ErrNotGroupMember):
			c.Queue(ErrTargetNotFound(msg.Id))
		default:
			c.log.Println("send:", err)
			c.Queue(ErrInternalError(msg.Id))
		}
		return
	}

	c.Queue(NoErrOK(msg.Id, map[string]any{
		"message_id":      sent.Id,
		"conversation_id": sent.ConversationId,
	}))
}

func (c *Client) writeMessage(msgType int, msg []byte) bool {
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
	c.chatServer.Registry.Deregister(c.session.Id)
	c.stopClient()
}
