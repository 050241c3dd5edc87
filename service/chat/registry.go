package chat

import (
	"hash/fnv"
	"sync"
	"time"

	"chatgateway/logger"
	"chatgateway/tools/errs"
	"chatgateway/tools/security"
)

const shardCount = 32

// RegistryConf tunes the connection registry.
type RegistryConf struct {
	AuthGrace  time.Duration    // how long an unauthenticated conn may linger
	SweepEvery time.Duration    // sweeper period
	Clock      func() time.Time // injectable clock for tests; nil => time.Now
	// OnExpire is invoked (outside any shard lock) for each connection the
	// sweeper evicts for missing the auth grace window.
	OnExpire func(*Conn)
}

func (c *RegistryConf) norm() {
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.SweepEvery <= 0 {
		c.SweepEvery = 5 * time.Second
	}
	if c.AuthGrace <= 0 {
		c.AuthGrace = 30 * time.Second
	}
}

type connShard struct {
	mu    sync.RWMutex
	conns map[string]*Conn
}

type roomShard struct {
	mu    sync.RWMutex
	rooms map[Room]map[string]struct{}
}

// Registry tracks every live connection, its authenticated identity and the
// rooms it joined. Connection and room state live in independent shard sets
// so fanout on one room never contends with lifecycle churn on another.
type Registry struct {
	connShards [shardCount]connShard
	roomShards [shardCount]roomShard

	conf     RegistryConf
	stopOnce sync.Once
	stopCh   chan struct{}
}

func NewRegistry(conf RegistryConf) *Registry {
	conf.norm()
	r := &Registry{
		conf:   conf,
		stopCh: make(chan struct{}),
	}
	for i := range r.connShards {
		r.connShards[i].conns = make(map[string]*Conn)
	}
	for i := range r.roomShards {
		r.roomShards[i].rooms = make(map[Room]map[string]struct{})
	}
	go r.sweeper()
	return r
}

func (r *Registry) Close() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	for i := range r.connShards {
		s := &r.connShards[i]
		s.mu.Lock()
		for _, c := range s.conns {
			c.Close()
		}
		s.conns = make(map[string]*Conn)
		s.mu.Unlock()
	}
	for i := range r.roomShards {
		s := &r.roomShards[i]
		s.mu.Lock()
		s.rooms = make(map[Room]map[string]struct{})
		s.mu.Unlock()
	}
}

func shardIndex(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % shardCount)
}

func (r *Registry) connShard(connID string) *connShard {
	return &r.connShards[shardIndex(connID)]
}

func (r *Registry) roomShard(room Room) *roomShard {
	return &r.roomShards[shardIndex(room.String())]
}

// Register records a fresh, unauthenticated connection.
func (r *Registry) Register(c *Conn) error {
	if c == nil || c.ID == "" {
		return errs.ErrArgs.WithDetail("nil conn or empty id")
	}
	s := r.connShard(c.ID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.conns[c.ID]; exists {
		return errs.ErrAlreadyExists.WithDetail("conn " + c.ID)
	}
	s.conns[c.ID] = c
	return nil
}

// Get returns the live connection record for an id.
func (r *Registry) Get(connID string) (*Conn, bool) {
	s := r.connShard(connID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conns[connID]
	return c, ok
}

// AttachIdentity sets the identity on an existing connection. Re-verification
// with a fresh credential for the same user refreshes the claims; a credential
// for a different user is refused, since the connection's memberships (its
// user room above all) were granted under the original identity. Memberships
// are untouched either way: an expired credential mid-session must not evict
// the client from its rooms.
func (r *Registry) AttachIdentity(connID string, ident *security.Identity) error {
	if ident == nil {
		return errs.ErrArgs.WithDetail("nil identity")
	}
	c, ok := r.Get(connID)
	if !ok {
		return errs.ErrNotFound.WithDetail("conn " + connID)
	}
	if !c.setIdentity(ident) {
		return errs.ErrAuthInvalid.WithDetail("conn " + connID + " is bound to another user")
	}
	return nil
}

// Join adds the connection to a room. Unauthenticated connections may join
// nothing; user rooms additionally require the attached identity to match.
func (r *Registry) Join(connID string, room Room) error {
	if room.IsZero() || room.ID == "" {
		return errs.ErrArgs.WithDetail("bad room")
	}
	c, ok := r.Get(connID)
	if !ok {
		return errs.ErrNotFound.WithDetail("conn " + connID)
	}
	ident := c.Identity()
	if ident == nil {
		return errs.ErrForbidden.WithDetail("unauthenticated")
	}
	if room.Kind == RoomUser && room.ID != ident.UserID {
		return errs.ErrForbidden.WithDetail("user room " + room.ID)
	}

	c.addRoom(room)
	s := r.roomShard(room)
	s.mu.Lock()
	members := s.rooms[room]
	if members == nil {
		members = make(map[string]struct{})
		s.rooms[room] = members
	}
	members[connID] = struct{}{}
	s.mu.Unlock()
	return nil
}

// Leave removes the membership. Absent membership is a no-op, not an error.
func (r *Registry) Leave(connID string, room Room) {
	if c, ok := r.Get(connID); ok {
		c.removeRoom(room)
	}
	r.dropMember(room, connID)
}

func (r *Registry) dropMember(room Room, connID string) {
	s := r.roomShard(room)
	s.mu.Lock()
	if members := s.rooms[room]; members != nil {
		delete(members, connID)
		if len(members) == 0 {
			delete(s.rooms, room)
		}
	}
	s.mu.Unlock()
}

// MembersOf returns a point-in-time snapshot of the room's connection ids.
// It may race a concurrent Deregister; delivering to a connection that is
// tearing down is acceptable and handled by TrySend.
func (r *Registry) MembersOf(room Room) []string {
	s := r.roomShard(room)
	s.mu.RLock()
	defer s.mu.RUnlock()
	members := s.rooms[room]
	if len(members) == 0 {
		return nil
	}
	out := make([]string, 0, len(members))
	for id := range members {
		out = append(out, id)
	}
	return out
}

// Deregister removes the connection and cascades through every room it
// joined. Idempotent: the second caller finds nothing and returns nil.
func (r *Registry) Deregister(connID string) *Conn {
	s := r.connShard(connID)
	s.mu.Lock()
	c := s.conns[connID]
	delete(s.conns, connID)
	s.mu.Unlock()
	if c == nil {
		return nil
	}
	for _, room := range c.Rooms() {
		r.dropMember(room, connID)
	}
	c.Close()
	return c
}

// Len reports the number of live connections, for logging and tests.
func (r *Registry) Len() int {
	n := 0
	for i := range r.connShards {
		s := &r.connShards[i]
		s.mu.RLock()
		n += len(s.conns)
		s.mu.RUnlock()
	}
	return n
}

func (r *Registry) sweeper() {
	t := time.NewTicker(r.conf.SweepEvery)
	defer t.Stop()
	for {
		select {
		case <-r.stopCh:
			return
		case <-t.C:
			r.sweepOnce(r.conf.Clock())
		}
	}
}

// sweepOnce evicts connections that completed the transport handshake but
// never authenticated inside the grace window, so they cannot hold registry
// slots indefinitely. Eviction goes through Deregister so the membership
// cascade holds even when an authentication races the scan; a connection
// that did authenticate between scan and eviction is left alone.
func (r *Registry) sweepOnce(now time.Time) {
	var expired []*Conn
	for i := range r.connShards {
		s := &r.connShards[i]
		s.mu.RLock()
		for _, c := range s.conns {
			if c.Identity() == nil && now.Sub(c.CreatedAt) > r.conf.AuthGrace {
				expired = append(expired, c)
			}
		}
		s.mu.RUnlock()
	}
	for _, c := range expired {
		if c.Identity() != nil {
			continue
		}
		logger.Infof("[registry] auth grace expired conn=%s", c.ID)
		if r.conf.OnExpire != nil {
			r.conf.OnExpire(c)
		}
		r.Deregister(c.ID)
	}
}
