package chat

import (
	"sync"
)

// Context is what a frame handler gets to work with: the server and the
// connection the frame arrived on.
type Context struct {
	S    *Server
	Conn *Conn
}

// Send pushes a frame to this context's connection (best-effort).
func (ctx *Context) Send(f ServerFrame) {
	ctx.S.sendFrame(ctx.Conn, f)
}

// SendError translates a typed failure into a client-visible *-error frame.
func (ctx *Context) SendError(event string, err error) {
	ctx.S.sendFrame(ctx.Conn, errorFrame(event, err))
}

// Handler processes one inbound client event type.
type Handler interface {
	Event() string
	Handle(ctx *Context, f *ClientFrame) error
}

// Dispatcher maps client event names to handlers. Registration happens at
// startup; lookups afterwards are read-only.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[string]Handler)}
}

func (d *Dispatcher) Register(h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[h.Event()] = h
}

func (d *Dispatcher) GetHandler(event string) Handler {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.handlers[event]
}
