package chat

import (
	"net"
	"sync"
	"time"

	"chatgateway/tools/security"

	"github.com/gorilla/websocket"
)

// Conn is one transport-level session. Exactly one Conn per websocket; a
// user with several devices holds several Conns. The identity starts nil
// and is set only through Registry.AttachIdentity.
type Conn struct {
	ID        string
	Remote    net.Addr
	CreatedAt time.Time

	ws *websocket.Conn

	mu       sync.RWMutex
	identity *security.Identity
	rooms    map[Room]struct{}

	sendq chan []byte

	closeOnce sync.Once
	done      chan struct{}
}

func NewConn(id string, ws *websocket.Conn, queueSize int) *Conn {
	if queueSize <= 0 {
		queueSize = 256
	}
	c := &Conn{
		ID:        id,
		ws:        ws,
		CreatedAt: time.Now(),
		rooms:     make(map[Room]struct{}),
		sendq:     make(chan []byte, queueSize),
		done:      make(chan struct{}),
	}
	if ws != nil {
		c.Remote = ws.RemoteAddr()
	}
	return c
}

// Identity returns the attached identity, or nil before authentication.
func (c *Conn) Identity() *security.Identity {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.identity
}

// setIdentity binds or refreshes the identity. The user id is fixed on
// first bind; a credential for a different user is refused so a connection
// can never carry memberships (user rooms in particular) earned under
// another identity.
func (c *Conn) setIdentity(ident *security.Identity) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.identity != nil && c.identity.UserID != ident.UserID {
		return false
	}
	c.identity = ident
	return true
}

func (c *Conn) addRoom(r Room) {
	c.mu.Lock()
	c.rooms[r] = struct{}{}
	c.mu.Unlock()
}

func (c *Conn) removeRoom(r Room) {
	c.mu.Lock()
	delete(c.rooms, r)
	c.mu.Unlock()
}

// Rooms returns a snapshot of the joined rooms.
func (c *Conn) Rooms() []Room {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Room, 0, len(c.rooms))
	for r := range c.rooms {
		out = append(out, r)
	}
	return out
}

// TrySend enqueues an outbound frame without blocking. Reports false when
// the queue is full; the caller drops the frame for this connection only.
func (c *Conn) TrySend(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.sendq <- frame:
		return true
	default:
		return false
	}
}

// Close releases the transport at most once. The write pump observes done
// and finishes the websocket shutdown.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.ws != nil {
			_ = c.ws.Close()
		}
	})
}

func (c *Conn) Done() <-chan struct{} { return c.done }
