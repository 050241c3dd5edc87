package chat

import (
	"net"
	"net/http"
	"strings"
	"time"

	"chatgateway/logger"
	"chatgateway/tools/ids"
	"chatgateway/tools/safe"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	readLimit      = 1 << 20 // 1MB
	readWait       = 60 * time.Second
	writeWait      = 10 * time.Second
	pingInterval   = 25 * time.Second
	firstPingDelay = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// HandleWS runs the per-connection lifecycle: accept, register, handshake
// auth, serve frames, tear down.
func (s *Server) HandleWS(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Infof("[ws] upgrade error: %v", err)
		return
	}

	conn := NewConn(ids.GenerateString(), ws, s.opts.SendQueueSize)
	if err := s.reg.Register(conn); err != nil {
		logger.Errorf("[ws] register conn=%s err=%v", conn.ID, err)
		_ = ws.Close()
		return
	}
	defer s.teardown(conn)

	pumpDone := make(chan struct{})
	safe.Go(func() { s.writePump(conn, pumpDone) })

	// Handshake credential: query param, Authorization header or cookie.
	// A present-but-invalid token rejects the connection outright; an
	// absent token leaves it unauthenticated under the grace sweeper, so
	// the client may still auth-verify in time.
	if token := extractToken(c.Request); token != "" {
		ident, aerr := s.Authenticate(conn, token)
		if aerr != nil {
			logger.Infof("[ws] handshake auth failed conn=%s err=%v", conn.ID, aerr)
			s.sendFrame(conn, errorFrame(EvAuthError, aerr))
			conn.Close()
			<-pumpDone
			return
		}
		logger.Infof("[ws] authenticated conn=%s user=%s", conn.ID, ident.UserID)
		s.sendFrame(conn, ServerFrame{Event: EvAuthSuccess, Data: ident})
	}

	s.readLoop(conn)

	conn.Close()
	<-pumpDone
}

func (s *Server) readLoop(conn *Conn) {
	ws := conn.ws
	ws.SetReadLimit(readLimit)
	_ = ws.SetReadDeadline(time.Now().Add(readWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(readWait))
	})

	for {
		mt, data, rerr := ws.ReadMessage()
		if rerr != nil {
			if websocket.IsCloseError(rerr,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				logger.Infof("[ws] peer closed conn=%s", conn.ID)
			} else if ne, ok := rerr.(net.Error); ok && ne.Timeout() {
				logger.Infof("[ws] read timeout conn=%s", conn.ID)
			} else {
				logger.Infof("[ws] read err conn=%s err=%v", conn.ID, rerr)
			}
			return
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}

		frame, perr := ParseClientFrame(data)
		if perr != nil {
			sample := data
			if len(sample) > 256 {
				sample = sample[:256]
			}
			logger.Infof("[ws] bad frame conn=%s err=%v sample=%q", conn.ID, perr, sample)
			s.sendFrame(conn, errorFrame(EvError, perr))
			continue
		}

		h := s.disp.GetHandler(frame.Event)
		if h == nil {
			logger.Infof("[ws] no handler event=%s conn=%s", frame.Event, conn.ID)
			continue
		}
		if err := h.Handle(&Context{S: s, Conn: conn}, frame); err != nil {
			// handlers report their own *-error frames; this is the last
			// resort for ones that bubble a failure instead
			logger.Infof("[ws] handler err event=%s conn=%s err=%v", frame.Event, conn.ID, err)
			s.sendFrame(conn, errorFrame(EvError, err))
		}
	}
}

// writePump is the single writer for a connection: it drains the outbound
// queue and keeps the ping/pong heartbeat. Serializing all writes here is
// what makes fanout order per room hold for each member.
func (s *Server) writePump(conn *Conn, done chan<- struct{}) {
	ws := conn.ws
	ticker := time.NewTicker(pingInterval)
	first := time.NewTimer(firstPingDelay)
	defer func() {
		ticker.Stop()
		first.Stop()
		_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
		_ = ws.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = ws.Close()
		close(done)
	}()

	for {
		select {
		case <-conn.Done():
			// flush whatever was queued before the close won the race
			for {
				select {
				case payload := <-conn.sendq:
					_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
					if err := ws.WriteMessage(websocket.TextMessage, payload); err != nil {
						return
					}
				default:
					return
				}
			}
		case payload := <-conn.sendq:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				logger.Infof("[ws] write err conn=%s err=%v", conn.ID, err)
				return
			}
		case <-first.C:
			if err := pingQuiet(ws); err != nil {
				logger.Infof("[ws] first ping err conn=%s err=%v", conn.ID, err)
				return
			}
		case <-ticker.C:
			if err := pingQuiet(ws); err != nil {
				logger.Infof("[ws] ping err conn=%s err=%v", conn.ID, err)
				return
			}
		}
	}
}

func pingQuiet(ws *websocket.Conn) error {
	_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
	return ws.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(writeWait))
}

// extractToken pulls the bearer credential out of the upgrade request:
// ?token=, Authorization: Bearer, or the auth-token cookie, in that order.
func extractToken(r *http.Request) string {
	if t := strings.TrimSpace(r.URL.Query().Get("token")); t != "" {
		return t
	}
	if authz := strings.TrimSpace(r.Header.Get("Authorization")); authz != "" {
		if strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			return strings.TrimSpace(authz[len("bearer "):])
		}
	}
	if ck, err := r.Cookie("auth-token"); err == nil {
		return ck.Value
	}
	return ""
}
