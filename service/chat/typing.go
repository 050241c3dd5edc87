package chat

import (
	"sync"
	"time"

	"chatgateway/logger"
	"chatgateway/tools/safe"
	"chatgateway/tools/security"
)

type typingKey struct {
	conversationID string
	userID         string
}

type typingEntry struct {
	username  string
	connID    string // most recent connection that signalled typing
	expiresAt time.Time
}

// TypingConf tunes the tracker.
type TypingConf struct {
	Window     time.Duration    // debounce window; entries expire Window after the last signal
	SweepEvery time.Duration    // expiry sweep period
	Clock      func() time.Time // injectable for tests; nil => time.Now
}

func (c *TypingConf) norm() {
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.Window <= 0 {
		c.Window = time.Second
	}
	if c.SweepEvery <= 0 {
		c.SweepEvery = 250 * time.Millisecond
	}
}

// TypingTracker holds the ephemeral per-(conversation,user) typing flags.
// At most one entry exists per pair; repeated signals refresh the deadline
// instead of duplicating the entry or the broadcast.
type TypingTracker struct {
	mu      sync.Mutex
	entries map[typingKey]*typingEntry

	engine   *Engine
	conf     TypingConf
	stopOnce sync.Once
	stopCh   chan struct{}
}

func NewTypingTracker(engine *Engine, conf TypingConf) *TypingTracker {
	safe.MustNotNil(engine, "engine")
	conf.norm()
	t := &TypingTracker{
		entries: make(map[typingKey]*typingEntry),
		engine:  engine,
		conf:    conf,
		stopCh:  make(chan struct{}),
	}
	go t.sweeper()
	return t
}

func (t *TypingTracker) Close() {
	t.stopOnce.Do(func() { close(t.stopCh) })
}

// Start transitions (conversation, user) from idle to typing and broadcasts
// user-typing to the conversation room, excluding the originating
// connection. Inside the debounce window it only refreshes the deadline,
// never emits a duplicate event.
func (t *TypingTracker) Start(conversationID string, ident *security.Identity, connID string) {
	now := t.conf.Clock()

	t.mu.Lock()
	key := typingKey{conversationID, ident.UserID}
	entry, already := t.entries[key]
	if already {
		entry.expiresAt = now.Add(t.conf.Window)
		entry.connID = connID
		t.mu.Unlock()
		return
	}
	t.entries[key] = &typingEntry{
		username:  ident.Username,
		connID:    connID,
		expiresAt: now.Add(t.conf.Window),
	}
	t.mu.Unlock()

	t.engine.Publish(Event{
		Room:        ConversationRoom(conversationID),
		Name:        EvUserTyping,
		ExcludeConn: connID,
		Payload: TypingPayload{
			ConversationID: conversationID,
			UserID:         ident.UserID,
			Username:       ident.Username,
		},
	})
}

// Stop transitions back to idle and broadcasts user-stopped-typing. No-op
// when the pair was not typing.
func (t *TypingTracker) Stop(conversationID, userID, connID string) {
	t.mu.Lock()
	key := typingKey{conversationID, userID}
	_, ok := t.entries[key]
	if ok {
		delete(t.entries, key)
	}
	t.mu.Unlock()
	if !ok {
		return
	}

	t.engine.Publish(Event{
		Room:        ConversationRoom(conversationID),
		Name:        EvUserStoppedTyping,
		ExcludeConn: connID,
		Payload: TypingPayload{
			ConversationID: conversationID,
			UserID:         userID,
		},
	})
}

// DisconnectCleanup stops every typing entry whose most recent signal came
// from the disconnecting connection. Entries owned by the same user's other
// devices are left alone.
func (t *TypingTracker) DisconnectCleanup(connID string) {
	type victim struct {
		key typingKey
	}
	var victims []victim

	t.mu.Lock()
	for key, entry := range t.entries {
		if entry.connID == connID {
			delete(t.entries, key)
			victims = append(victims, victim{key})
		}
	}
	t.mu.Unlock()

	for _, v := range victims {
		t.engine.Publish(Event{
			Room: ConversationRoom(v.key.conversationID),
			Name: EvUserStoppedTyping,
			Payload: TypingPayload{
				ConversationID: v.key.conversationID,
				UserID:         v.key.userID,
			},
		})
	}
}

// IsTyping reports whether the pair currently holds a typing flag.
func (t *TypingTracker) IsTyping(conversationID, userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.entries[typingKey{conversationID, userID}]
	return ok
}

func (t *TypingTracker) sweeper() {
	tick := time.NewTicker(t.conf.SweepEvery)
	defer tick.Stop()
	for {
		select {
		case <-t.stopCh:
			return
		case <-tick.C:
			t.sweepOnce(t.conf.Clock())
		}
	}
}

// sweepOnce expires entries that saw neither a refresh nor an explicit stop.
// This is the fallback for clients that go quiet without disconnecting; the
// disconnect path handles the rest immediately.
func (t *TypingTracker) sweepOnce(now time.Time) {
	var expired []typingKey

	t.mu.Lock()
	for key, entry := range t.entries {
		if now.After(entry.expiresAt) {
			delete(t.entries, key)
			expired = append(expired, key)
		}
	}
	t.mu.Unlock()

	for _, key := range expired {
		logger.Debugf("[typing] expired conversation=%s user=%s", key.conversationID, key.userID)
		t.engine.Publish(Event{
			Room: ConversationRoom(key.conversationID),
			Name: EvUserStoppedTyping,
			Payload: TypingPayload{
				ConversationID: key.conversationID,
				UserID:         key.userID,
			},
		})
	}
}
