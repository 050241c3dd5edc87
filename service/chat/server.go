package chat

import (
	"context"
	"encoding/json"
	"time"

	"chatgateway/logger"
	"chatgateway/service/storage"
	"chatgateway/tools/errs"
	"chatgateway/tools/security"
)

var errAuthTimeout = errs.ErrAuthInvalid.WithDetail("no credential within grace period")

// Options wires the server. Everything is injected here at startup; there
// is no process-wide fanout singleton for request handlers to reach into.
type Options struct {
	JWT           security.Options
	AuthGrace     time.Duration
	TypingWindow  time.Duration
	SendQueueSize int
	Presence      storage.Presence
	Clock         func() time.Time
}

// Server owns the connection lifecycle: registry, fanout engine and typing
// tracker are constructed together so initialization order is explicit;
// the engine exists before any HTTP handler that publishes through it.
type Server struct {
	opts     Options
	reg      *Registry
	engine   *Engine
	typing   *TypingTracker
	disp     *Dispatcher
	presence storage.Presence
}

func NewServer(opts Options) *Server {
	if opts.Presence == nil {
		opts.Presence = storage.Noop()
	}
	s := &Server{
		opts:     opts,
		disp:     NewDispatcher(),
		presence: opts.Presence,
	}
	s.reg = NewRegistry(RegistryConf{
		AuthGrace: opts.AuthGrace,
		Clock:     opts.Clock,
		OnExpire: func(c *Conn) {
			// a hint before the transport goes away; delivery not guaranteed
			s.sendFrame(c, errorFrame(EvAuthError, errAuthTimeout))
		},
	})
	s.engine = NewEngine(s.reg)
	s.typing = NewTypingTracker(s.engine, TypingConf{
		Window: opts.TypingWindow,
		Clock:  opts.Clock,
	})
	return s
}

func (s *Server) Close() {
	s.typing.Close()
	s.reg.Close()
}

func (s *Server) Registry() *Registry     { return s.reg }
func (s *Server) Engine() *Engine         { return s.engine }
func (s *Server) Typing() *TypingTracker  { return s.typing }
func (s *Server) Disp() *Dispatcher       { return s.disp }
func (s *Server) JWTOpts() security.Options { return s.opts.JWT }

// Authenticate verifies a credential against the strict context and, on
// success, attaches the identity to the connection, auto-joins the user's
// own room and records presence. Idempotent for re-verification with the
// same user: refreshing the identity and re-joining an already joined room
// are no-ops in effect. A valid credential for a different user is refused
// by the registry; the connection keeps its original identity and rooms.
func (s *Server) Authenticate(c *Conn, token string) (*security.Identity, error) {
	ident, err := security.Verify(s.opts.JWT, token)
	if err != nil {
		return nil, err
	}
	if err := s.reg.AttachIdentity(c.ID, ident); err != nil {
		return nil, err
	}
	if err := s.reg.Join(c.ID, UserRoom(ident.UserID)); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.presence.Online(ctx, ident.UserID, c.ID); err != nil {
		logger.Warnf("[server] presence online user=%s conn=%s err=%v", ident.UserID, c.ID, err)
	}
	return ident, nil
}

// sendFrame marshals and enqueues a frame for one connection; failures are
// logged, never surfaced.
func (s *Server) sendFrame(c *Conn, f ServerFrame) {
	buf, err := json.Marshal(f)
	if err != nil {
		logger.Errorf("[server] marshal frame event=%s err=%v", f.Event, err)
		return
	}
	if !c.TrySend(buf) {
		logger.Warnf("[server] sendq full, drop event=%s conn=%s", f.Event, c.ID)
	}
}

// teardown runs the disconnect cleanup exactly once per connection, however
// many exit paths race into it: typing flags owned by this connection stop,
// memberships cascade out of the registry, presence goes offline.
func (s *Server) teardown(c *Conn) {
	s.typing.DisconnectCleanup(c.ID)
	removed := s.reg.Deregister(c.ID)
	if removed == nil {
		return
	}
	if ident := c.Identity(); ident != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.presence.Offline(ctx, ident.UserID, c.ID); err != nil {
			logger.Warnf("[server] presence offline user=%s conn=%s err=%v", ident.UserID, c.ID, err)
		}
	}
	logger.Infof("[server] conn closed id=%s live=%d", c.ID, s.reg.Len())
}
