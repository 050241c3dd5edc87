package natsx

import (
	"encoding/json"

	"chatgateway/logger"
	"chatgateway/service/chat"
	"chatgateway/tools/errs"

	"github.com/nats-io/nats.go"
)

// Ingress bridges out-of-process producers into the local fanout engine: a
// service that cannot reach the internal HTTP API publishes the same event
// shape onto a NATS subject instead. This is also the seam a clustered
// multi-gateway deployment would grow from.

type Config struct {
	URL     string
	Subject string
	Name    string // client name shown in nats monitoring
}

// remoteEvent is the wire shape on the subject.
type remoteEvent struct {
	Room        string          `json:"room"` // e.g. "conversation:42"
	Event       string          `json:"event"`
	Data        json.RawMessage `json:"data,omitempty"`
	ExcludeUser string          `json:"excludeUserId,omitempty"`
}

type Ingress struct {
	nc     *nats.Conn
	sub    *nats.Subscription
	engine *chat.Engine
	cfg    Config
}

func NewIngress(cfg Config, engine *chat.Engine) (*Ingress, error) {
	if cfg.URL == "" || cfg.Subject == "" {
		return nil, errs.ErrArgs.WithDetail("nats url/subject empty")
	}
	if cfg.Name == "" {
		cfg.Name = "chatgateway"
	}
	nc, err := nats.Connect(cfg.URL, nats.Name(cfg.Name))
	if err != nil {
		return nil, errs.WrapMsg(err, "nats connect", "url", cfg.URL)
	}
	return &Ingress{nc: nc, engine: engine, cfg: cfg}, nil
}

func (i *Ingress) Start() error {
	sub, err := i.nc.Subscribe(i.cfg.Subject, i.handle)
	if err != nil {
		return errs.WrapMsg(err, "nats subscribe", "subject", i.cfg.Subject)
	}
	i.sub = sub
	logger.Infof("[natsx] subscribed subject=%s", i.cfg.Subject)
	return nil
}

func (i *Ingress) handle(m *nats.Msg) {
	var ev remoteEvent
	if err := json.Unmarshal(m.Data, &ev); err != nil {
		logger.Warnf("[natsx] bad event on %s: %v", m.Subject, err)
		return
	}
	room, err := chat.ParseRoom(ev.Room)
	if err != nil {
		logger.Warnf("[natsx] bad room %q: %v", ev.Room, err)
		return
	}
	reached := i.engine.Publish(chat.Event{
		Room:        room,
		Name:        ev.Event,
		Payload:     ev.Data,
		ExcludeUser: ev.ExcludeUser,
	})
	logger.Debugf("[natsx] event=%s room=%s reached=%d", ev.Event, ev.Room, reached)
}

func (i *Ingress) Close() error {
	if i.sub != nil {
		_ = i.sub.Unsubscribe()
	}
	if i.nc != nil {
		i.nc.Close()
	}
	return nil
}
