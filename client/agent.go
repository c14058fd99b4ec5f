// Package client implements the relay's client side: a persistent websocket
// connection that re-establishes itself with backoff, replays the room join
// on every reconnect, and reconciles optimistic local sends against the
// server's authoritative history.
package client

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/chat-relay/internal/server"
	"github.com/npezzotti/chat-relay/internal/types"
	"github.com/teris-io/shortid"
)

// State is the agent's connection state. The cycle is
// disconnected -> connecting -> open -> disconnected, never terminal while
// the agent is running.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// maxSendAttempts bounds how many times a pending message is sent before it
// is marked failed (the initial send plus one resend after reconnect).
const maxSendAttempts = 2

type Config struct {
	// ServerURL is the relay's base HTTP URL, e.g. http://localhost:8000.
	ServerURL string
	// Token is the bearer token from the login endpoint.
	Token string
	// Room is joined on every (re)connect.
	Room types.RoomKey
	// Sender is the display identity attached to outgoing messages. The
	// server overrides it with the authenticated username.
	Sender string
	// OnMessage, if set, is called for every confirmed message, echoes of
	// the agent's own sends included.
	OnMessage func(types.Message)
	// OnStateChange, if set, is called on every connection state change.
	OnStateChange func(State)
	Logger        *log.Logger
	HTTPClient    *http.Client
	MinBackoff    time.Duration
	MaxBackoff    time.Duration
}

type Agent struct {
	cfg     Config
	log     *log.Logger
	httpc   *http.Client
	backoff *backoff

	mu      sync.Mutex
	state   State
	conn    *websocket.Conn
	history *localHistory

	// wmu serializes websocket writes, which may come from the run loop
	// and from Send callers.
	wmu sync.Mutex

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func NewAgent(cfg Config) (*Agent, error) {
	if cfg.ServerURL == "" {
		return nil, fmt.Errorf("server URL cannot be empty")
	}
	if cfg.Room.OrganizationId == "" {
		return nil, fmt.Errorf("room organization id cannot be empty")
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}

	httpc := cfg.HTTPClient
	if httpc == nil {
		httpc = http.DefaultClient
	}

	return &Agent{
		cfg:     cfg,
		log:     cfg.Logger,
		httpc:   httpc,
		backoff: newBackoff(cfg.MinBackoff, cfg.MaxBackoff),
		history: newLocalHistory(),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}, nil
}

// Start launches the connect/read/reconnect cycle.
func (a *Agent) Start() {
	go a.run()
}

// Stop tears the agent down. It does not wait for in-flight sends to be
// confirmed.
func (a *Agent) Stop() {
	a.stopOnce.Do(func() {
		close(a.stop)
	})

	// unblock a blocked read
	a.mu.Lock()
	if a.conn != nil {
		a.conn.Close()
	}
	a.mu.Unlock()

	<-a.done
}

func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// History returns a snapshot of the agent's local view of the conversation.
func (a *Agent) History() []Entry {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.history.snapshot()
}

// Send displays the message optimistically and sends it to the relay. It
// returns the correlation id the confirmed echo will carry.
func (a *Agent) Send(text string) (string, error) {
	id, err := shortid.Generate()
	if err != nil {
		return "", fmt.Errorf("generate correlation id: %w", err)
	}

	msg := types.Message{
		Text:          text,
		Sender:        a.cfg.Sender,
		CorrelationId: id,
	}

	a.mu.Lock()
	a.history.addPending(msg)
	conn := a.conn
	a.mu.Unlock()

	if conn != nil {
		if err := a.writeMessage(conn, &server.ClientMessage{
			Type:          server.TypeChatMessage,
			Data:          text,
			Sender:        a.cfg.Sender,
			CorrelationId: id,
		}); err != nil {
			// still pending, reconnect resync will retry it
			a.log.Println("send:", err)
		}
	}

	return id, nil
}

func (a *Agent) run() {
	defer close(a.done)

	for {
		a.setState(StateConnecting)
		conn, err := a.dial()
		if err != nil {
			a.log.Println("dial:", err)
			a.setState(StateDisconnected)
			if !a.sleep(a.backoff.next()) {
				return
			}
			continue
		}

		a.backoff.reset()
		a.setConn(conn)
		a.setState(StateOpen)

		// the server holds no session continuity across transports, so
		// the join must be replayed on every reconnect
		if err := a.joinRoom(conn); err != nil {
			a.log.Println("join:", err)
			conn.Close()
			a.setConn(nil)
			a.setState(StateDisconnected)
			if !a.sleep(a.backoff.next()) {
				return
			}
			continue
		}

		if err := a.resync(conn); err != nil {
			a.log.Println("resync:", err)
		}

		a.readLoop(conn)

		conn.Close()
		a.setConn(nil)
		a.setState(StateDisconnected)

		if !a.sleep(a.backoff.next()) {
			return
		}
	}
}

func (a *Agent) dial() (*websocket.Conn, error) {
	u, err := url.Parse(a.cfg.ServerURL)
	if err != nil {
		return nil, fmt.Errorf("parse server URL: %w", err)
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = "/ws"

	header := http.Header{}
	if a.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+a.cfg.Token)
	}

	conn, resp, err := websocket.DefaultDialer.Dial(u.String(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", u.String(), err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", u.String(), err)
	}

	return conn, nil
}

func (a *Agent) joinRoom(conn *websocket.Conn) error {
	return a.writeMessage(conn, &server.ClientMessage{
		Type:           server.TypeJoinRoom,
		OrganizationId: a.cfg.Room.OrganizationId,
		ChatId:         a.cfg.Room.ChatId,
	})
}

func (a *Agent) writeMessage(conn *websocket.Conn, msg *server.ClientMessage) error {
	a.wmu.Lock()
	defer a.wmu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteJSON(msg)
}

// resync fetches the authoritative history over HTTP and reconciles the
// local view against it, re-sending pending messages the server never saw.
func (a *Agent) resync(conn *websocket.Conn) error {
	authoritative, err := a.FetchHistory()
	if err != nil {
		return err
	}

	a.mu.Lock()
	resend := a.history.reconcile(authoritative, maxSendAttempts)
	a.mu.Unlock()

	for _, msg := range resend {
		if err := a.writeMessage(conn, &server.ClientMessage{
			Type:          server.TypeChatMessage,
			Data:          msg.Text,
			Sender:        msg.Sender,
			CorrelationId: msg.CorrelationId,
		}); err != nil {
			return fmt.Errorf("resend: %w", err)
		}
	}

	return nil
}

// FetchHistory performs the bulk read for the agent's room.
func (a *Agent) FetchHistory() ([]types.Message, error) {
	u := fmt.Sprintf("%s/%s/%s", a.cfg.ServerURL,
		url.PathEscape(a.cfg.Room.OrganizationId), url.PathEscape(a.cfg.Room.ChatId))

	req, err := http.NewRequest(http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	if a.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+a.cfg.Token)
	}

	resp, err := a.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch history: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch history: unexpected status %d", resp.StatusCode)
	}

	var hist types.ChatHistory
	if err := json.NewDecoder(resp.Body).Decode(&hist); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}

	return hist.Messages, nil
}

func (a *Agent) readLoop(conn *websocket.Conn) {
	for {
		select {
		case <-a.stop:
			return
		default:
		}

		var msg server.ServerMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				a.log.Println("read:", err)
			}
			return
		}

		switch msg.Type {
		case server.TypeNewMessage:
			if msg.Data == nil {
				continue
			}
			a.applyMessage(*msg.Data)
		case server.TypeError:
			a.log.Printf("server error %d: %s", msg.Code, msg.Error)
		}
	}
}

func (a *Agent) applyMessage(msg types.Message) {
	a.mu.Lock()
	applied := a.history.apply(msg)
	a.mu.Unlock()

	if applied && a.cfg.OnMessage != nil {
		a.cfg.OnMessage(msg)
	}
}

func (a *Agent) setConn(conn *websocket.Conn) {
	a.mu.Lock()
	a.conn = conn
	a.mu.Unlock()
}

func (a *Agent) setState(state State) {
	a.mu.Lock()
	changed := a.state != state
	a.state = state
	a.mu.Unlock()

	if changed && a.cfg.OnStateChange != nil {
		a.cfg.OnStateChange(state)
	}
}

// sleep waits for the delay, returning false if the agent was stopped.
func (a *Agent) sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-a.stop:
		return false
	case <-timer.C:
		return true
	}
}
