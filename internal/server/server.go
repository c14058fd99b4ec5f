package server

import (
	"context"
	"log"
	"sync"

	"github.com/npezzotti/chat-relay/internal/history"
	"github.com/npezzotti/chat-relay/internal/stats"
	"github.com/npezzotti/chat-relay/internal/types"
)

const (
	metricNumConnections  = "NumConnections"
	metricNumActiveRooms  = "NumActiveRooms"
	metricTotalMessages   = "TotalMessages"
	metricTotalBroadcasts = "TotalBroadcasts"
)

type shutdownReq struct {
	done chan struct{}
}

// RelayServer is the single event-processing authority of the process: every
// join, chat message and disconnect is handled to completion by its run loop
// before the next one, which serializes all registry and history mutation.
type RelayServer struct {
	log      *log.Logger
	history  *history.Store
	registry *Registry
	stats    stats.StatsProvider

	clients     map[*Client]struct{}
	clientsLock sync.Mutex

	eventChan      chan *ClientMessage
	registerChan   chan *Client
	deregisterChan chan *Client
	stop           chan shutdownReq
	// done is closed when the run loop exits, releasing any read pump
	// still trying to deregister its client.
	done chan struct{}
}

func NewRelayServer(logger *log.Logger, store *history.Store, sp stats.StatsProvider) (*RelayServer, error) {
	rs := &RelayServer{
		log:            logger,
		history:        store,
		registry:       NewRegistry(),
		stats:          sp,
		clients:        make(map[*Client]struct{}),
		eventChan:      make(chan *ClientMessage, 256),
		registerChan:   make(chan *Client),
		deregisterChan: make(chan *Client),
		stop:           make(chan shutdownReq),
		done:           make(chan struct{}),
	}

	sp.RegisterMetric(metricNumConnections)
	sp.RegisterMetric(metricNumActiveRooms)
	sp.RegisterMetric(metricTotalMessages)
	sp.RegisterMetric(metricTotalBroadcasts)

	return rs, nil
}

// History exposes the relay's store for the bulk-read HTTP surface.
func (rs *RelayServer) History() *history.Store {
	return rs.history
}

func (rs *RelayServer) Run() {
	for {
		select {
		case c := <-rs.registerChan:
			rs.addClient(c)
			rs.stats.Incr(metricNumConnections)
		case c := <-rs.deregisterChan:
			rs.removeClient(c)
		case msg := <-rs.eventChan:
			switch msg.Type {
			case TypeJoinRoom:
				rs.handleJoin(msg)
			case TypeChatMessage:
				rs.handleChatMessage(msg)
			}
		case req := <-rs.stop:
			rs.log.Println("closing client connections")
			rs.clientsLock.Lock()
			for c := range rs.clients {
				c.closeClient()
			}
			rs.clientsLock.Unlock()

			close(rs.done)
			close(req.done)
			return
		}
	}
}

// RegisterClient hands a freshly upgraded connection to the run loop.
func (rs *RelayServer) RegisterClient(c *Client) {
	rs.registerChan <- c
}

func (rs *RelayServer) handleJoin(msg *ClientMessage) {
	c := msg.client
	if !c.transition(StateJoined) {
		rs.log.Printf("client %s sent join in state %s", c.Id(), c.State())
		c.queueMessage(ErrNotAuthenticated())
		return
	}

	key := msg.RoomKey()
	res := rs.registry.Join(c, key)
	rs.history.Touch(key)

	if res.createdRoom {
		rs.stats.Incr(metricNumActiveRooms)
	}
	if res.prunedPrevious {
		rs.stats.Decr(metricNumActiveRooms)
	}

	rs.log.Printf("client %s joined room %q", c.Id(), key)
}

func (rs *RelayServer) handleChatMessage(msg *ClientMessage) {
	c := msg.client
	if c.State() != StateJoined {
		rs.log.Printf("client %s sent chat_message in state %s", c.Id(), c.State())
		c.queueMessage(ErrNotJoined())
		return
	}

	key := *c.Room()

	// the authenticated identity is authoritative, a client cannot
	// claim another sender
	stored := rs.history.Append(key, types.Message{
		Text:          msg.Data,
		Sender:        c.User().Username,
		CorrelationId: msg.CorrelationId,
	})
	rs.stats.Incr(metricTotalMessages)

	rs.broadcast(key, stored, nil)
}

// broadcast delivers the message to every current member of the room except
// exclude. Delivery is best-effort per member: a member whose queue is full
// is closed, and delivery to the remaining members continues.
func (rs *RelayServer) broadcast(key types.RoomKey, msg types.Message, exclude *Client) {
	rs.stats.Incr(metricTotalBroadcasts)

	for _, member := range rs.registry.Members(key) {
		if member == exclude {
			continue
		}

		if !member.queueMessage(NewMessage(msg)) {
			rs.log.Printf("dropping client %s, send failed", member.Id())
			member.closeClient()
		}
	}
}

func (rs *RelayServer) addClient(c *Client) {
	rs.clientsLock.Lock()
	defer rs.clientsLock.Unlock()
	rs.clients[c] = struct{}{}
}

func (rs *RelayServer) removeClient(c *Client) {
	rs.clientsLock.Lock()
	_, ok := rs.clients[c]
	delete(rs.clients, c)
	rs.clientsLock.Unlock()

	if !ok {
		return
	}

	if rs.registry.Leave(c) {
		rs.stats.Decr(metricNumActiveRooms)
	}
	rs.stats.Decr(metricNumConnections)

	c.closeClient()
	rs.log.Printf("removed client %s", c.Id())
}

func (rs *RelayServer) Shutdown(ctx context.Context) error {
	req := shutdownReq{done: make(chan struct{})}

	select {
	case rs.stop <- req:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-req.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
