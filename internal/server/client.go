package server

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/npezzotti/chat-relay/internal/types"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 1024
	// authWindow bounds how long a connection may sit in the
	// authenticating state before it is closed.
	authWindow = 10 * time.Second
)

// Client is the per-connection session: the transport handle, the
// authenticated identity, the current room and the lifecycle state.
type Client struct {
	id    string
	conn  *websocket.Conn
	relay *RelayServer
	log   *log.Logger
	send  chan *ServerMessage
	stop  chan struct{}

	closeOnce sync.Once
	authTimer *time.Timer

	mu    sync.Mutex
	state SessionState
	user  types.User
	room  *types.RoomKey
}

func NewClient(conn *websocket.Conn, relay *RelayServer, logger *log.Logger) *Client {
	c := &Client{
		id:    uuid.NewString(),
		conn:  conn,
		relay: relay,
		log:   logger,
		send:  make(chan *ServerMessage, 256),
		stop:  make(chan struct{}),
		state: StateConnecting,
	}

	c.transition(StateAuthenticating)
	c.authTimer = time.AfterFunc(authWindow, func() {
		if c.State() == StateAuthenticating {
			c.log.Printf("client %s failed to authenticate within %s", c.id, authWindow)
			c.closeClient()
		}
	})

	return c
}

func (c *Client) Id() string { return c.id }

// Authenticate records the verified identity and advances the session to
// idle. It must be called before the client may join a room.
func (c *Client) Authenticate(user types.User) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !validTransition(c.state, StateIdle) {
		return false
	}

	c.user = user
	c.state = StateIdle
	c.authTimer.Stop()
	return true
}

func (c *Client) User() types.User {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.user
}

func (c *Client) State() SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) transition(to SessionState) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !validTransition(c.state, to) {
		return false
	}
	c.state = to
	return true
}

// Room returns the client's current room key, or nil before the first join.
func (c *Client) Room() *types.RoomKey {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.room
}

func (c *Client) setRoom(key *types.RoomKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.room = key
}

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
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

			if !c.sendMessage(websocket.TextMessage, bytes) {
				return
			}
		case <-c.stop:
			return
		case <-ticker.C:
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
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
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
			c.queueMessage(ErrInvalidMessage())
			continue
		}

		c.dispatch(&msg)
	}
}

func (c *Client) dispatch(msg *ClientMessage) {
	msg.client = c

	switch msg.Type {
	case TypeJoinRoom:
		if msg.OrganizationId == "" {
			c.queueMessage(ErrInvalidMessage())
			return
		}
	case TypeChatMessage:
		if msg.Data == "" {
			c.queueMessage(ErrInvalidMessage())
			return
		}
	default:
		c.log.Printf("unknown message type %q", msg.Type)
		c.queueMessage(ErrInvalidMessage())
		return
	}

	select {
	case c.relay.eventChan <- msg:
	default:
		c.log.Println("event channel full")
		c.queueMessage(ErrServiceUnavailable())
	}
}

// queueMessage enqueues a message for the write pump. It fails without
// blocking if the client is closed or its queue is full.
func (c *Client) queueMessage(msg *ServerMessage) bool {
	select {
	case <-c.stop:
		return false
	default:
	}

	select {
	case c.send <- msg:
		return true
	default:
		c.log.Printf("send queue full for client %s", c.id)
		return false
	}
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

// closeClient stops the pumps. The read pump's cleanup path deregisters the
// client from the relay, which releases its room membership.
func (c *Client) closeClient() {
	c.closeOnce.Do(func() {
		c.transition(StateClosed)
		c.authTimer.Stop()
		close(c.stop)
		if c.conn != nil {
			c.conn.Close()
		}
	})
}

func (c *Client) cleanup() {
	c.closeClient()
	select {
	case c.relay.deregisterChan <- c:
	case <-c.relay.done:
	}
}
