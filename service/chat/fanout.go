package chat

import (
	"encoding/json"
	"sync/atomic"

	"chatgateway/logger"
	"chatgateway/tools/safe"
)

// Event is one transient fanout unit. Constructed by the internal publish
// API, the NATS ingress or the typing tracker; consumed exactly once.
type Event struct {
	Room    Room
	Name    string
	Payload any

	// ExcludeConn suppresses delivery to the originating connection.
	ExcludeConn string
	// ExcludeUser suppresses delivery to every connection of a user; the
	// HTTP message producer knows the sender's user id, not its conn ids.
	ExcludeUser string
}

// Engine delivers events to the current members of a room. It owns no
// membership state of its own; everything is resolved against the registry
// at publish time.
type Engine struct {
	reg *Registry

	delivered atomic.Int64
	dropped   atomic.Int64
}

func NewEngine(reg *Registry) *Engine {
	safe.MustNotNil(reg, "registry")
	return &Engine{reg: reg}
}

// Publish fans the event out to every member of the room except the
// excluded connection(s) and returns the number of connections reached.
//
// Delivery per connection is best-effort and independent: a full outbound
// queue drops the frame for that connection only and never blocks the
// caller, so per-room FIFO order (for a single producer) is preserved for
// everyone else.
func (e *Engine) Publish(ev Event) int {
	members := e.reg.MembersOf(ev.Room)
	if len(members) == 0 {
		return 0
	}

	frame, err := json.Marshal(ServerFrame{Event: ev.Name, Data: ev.Payload})
	if err != nil {
		logger.Errorf("[fanout] marshal event=%s room=%s err=%v", ev.Name, ev.Room, err)
		return 0
	}

	reached := 0
	for _, connID := range members {
		if connID == ev.ExcludeConn {
			continue
		}
		c, ok := e.reg.Get(connID)
		if !ok {
			// lost the race with a disconnect; fine
			continue
		}
		if ev.ExcludeUser != "" {
			if ident := c.Identity(); ident != nil && ident.UserID == ev.ExcludeUser {
				continue
			}
		}
		if c.TrySend(frame) {
			reached++
			e.delivered.Add(1)
		} else {
			e.dropped.Add(1)
			logger.Warnf("[fanout] sendq full, drop event=%s room=%s conn=%s", ev.Name, ev.Room, connID)
		}
	}
	return reached
}

// Stats reports delivered/dropped counters since start.
func (e *Engine) Stats() (delivered, dropped int64) {
	return e.delivered.Load(), e.dropped.Load()
}
