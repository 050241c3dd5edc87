package chat_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"chatgateway/middleware"
	"chatgateway/service/chat"
	"chatgateway/service/chat/handlers"
	"chatgateway/tools/security"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var testJWT = security.Options{Secret: []byte("e2e-secret"), Alg: "HS256", TTL: time.Hour}

type gateway struct {
	srv  *chat.Server
	http *httptest.Server
}

func newGateway(t *testing.T) *gateway {
	t.Helper()
	gin.SetMode(gin.TestMode)

	srv := chat.NewServer(chat.Options{
		JWT:           testJWT,
		AuthGrace:     time.Hour, // handshake timing is not under test here
		TypingWindow:  time.Second,
		SendQueueSize: 64,
	})
	handlers.RegisterAll(srv)

	r := gin.New()
	r.GET("/ws", srv.HandleWS)
	internal := r.Group("/internal", middleware.Auth(middleware.AuthOptions{JWT: testJWT}))
	internal.POST("/conversations/:id/messages", srv.HandlePublishMessage)
	internal.POST("/users/:id/events", srv.HandlePublishUserEvent)
	internal.POST("/conversations/:id/events", srv.HandlePublishConversationEvent)

	ts := httptest.NewServer(r)
	g := &gateway{srv: srv, http: ts}
	t.Cleanup(func() {
		ts.Close()
		srv.Close()
	})
	return g
}

func (g *gateway) wsURL(query string) string {
	u := "ws" + strings.TrimPrefix(g.http.URL, "http") + "/ws"
	if query != "" {
		u += "?" + query
	}
	return u
}

func mintToken(t *testing.T, user string) string {
	t.Helper()
	token, _, err := security.Generate(testJWT, security.Identity{
		UserID:   user,
		Username: user,
		Email:    user + "@example.com",
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	return token
}

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type client struct {
	t  *testing.T
	ws *websocket.Conn
}

func dial(t *testing.T, url string) *client {
	t.Helper()
	ws, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	c := &client{t: t, ws: ws}
	t.Cleanup(func() { ws.Close() })
	return c
}

func (c *client) send(event string, data any) {
	c.t.Helper()
	buf, err := json.Marshal(map[string]any{"event": event, "data": data})
	if err != nil {
		c.t.Fatalf("marshal %s: %v", event, err)
	}
	if err := c.ws.WriteMessage(websocket.TextMessage, buf); err != nil {
		c.t.Fatalf("write %s: %v", event, err)
	}
}

func (c *client) read() frame {
	c.t.Helper()
	_ = c.ws.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, raw, err := c.ws.ReadMessage()
	if err != nil {
		c.t.Fatalf("read frame: %v", err)
	}
	var f frame
	if err := json.Unmarshal(raw, &f); err != nil {
		c.t.Fatalf("bad frame %q: %v", raw, err)
	}
	return f
}

func (c *client) expect(event string) frame {
	c.t.Helper()
	f := c.read()
	if f.Event != event {
		c.t.Fatalf("got %s frame (%s), want %s", f.Event, f.Data, event)
	}
	return f
}

// expectSilence asserts no frame arrives for a short window.
func (c *client) expectSilence(d time.Duration) {
	c.t.Helper()
	_ = c.ws.SetReadDeadline(time.Now().Add(d))
	_, raw, err := c.ws.ReadMessage()
	if err == nil {
		c.t.Fatalf("unexpected frame: %s", raw)
	}
	if ne, ok := err.(interface{ Timeout() bool }); !ok || !ne.Timeout() {
		c.t.Fatalf("read failed with %v, want timeout", err)
	}
}

func waitMembers(t *testing.T, g *gateway, room chat.Room, n int) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if len(g.srv.Registry().MembersOf(room)) == n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("room %s never reached %d members (have %d)",
		room, n, len(g.srv.Registry().MembersOf(room)))
}

func postJSON(t *testing.T, g *gateway, path, token string, body any) *http.Response {
	t.Helper()
	buf, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, g.http.URL+path, bytes.NewReader(buf))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestMessageFanoutExcludesSender(t *testing.T) {
	g := newGateway(t)
	aliceToken := mintToken(t, "alice")

	alice := dial(t, g.wsURL("token="+aliceToken))
	alice.expect("auth-success")
	bob := dial(t, g.wsURL("token="+mintToken(t, "bob")))
	bob.expect("auth-success")

	alice.send("join-conversation", map[string]any{"conversationId": "42"})
	bob.send("join-conversation", map[string]any{"conversationId": "42"})
	waitMembers(t, g, chat.ConversationRoom("42"), 2)

	resp := postJSON(t, g, "/internal/conversations/42/messages", aliceToken, map[string]any{
		"senderId": "alice",
		"message":  map[string]any{"id": "m1", "body": "hello", "senderId": "alice"},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("publish status = %d", resp.StatusCode)
	}
	var out struct {
		Reached int `json:"reached"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode publish response: %v", err)
	}
	if out.Reached != 1 {
		t.Errorf("reached = %d, want 1 (bob only)", out.Reached)
	}

	// Bob sees the message, then the conversation bump, in that order.
	msg := bob.expect("message-received")
	var body struct {
		Body string `json:"body"`
	}
	if err := json.Unmarshal(msg.Data, &body); err != nil || body.Body != "hello" {
		t.Errorf("message payload = %s (err %v), want body hello", msg.Data, err)
	}
	bob.expect("conversation-updated")

	// The sender is excluded from message-received but still gets the bump.
	alice.expect("conversation-updated")
	alice.expectSilence(150 * time.Millisecond)
}

func TestHandshakeRejectsBadToken(t *testing.T) {
	g := newGateway(t)

	c := dial(t, g.wsURL("token=not-a-jwt"))
	f := c.expect("auth-error")
	var payload struct {
		Code   int    `json:"code"`
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal(f.Data, &payload); err != nil || payload.Code == 0 {
		t.Errorf("auth-error payload = %s (err %v)", f.Data, err)
	}

	// The server closes after the rejection frame.
	_ = c.ws.SetReadDeadline(time.Now().Add(3 * time.Second))
	if _, _, err := c.ws.ReadMessage(); err == nil {
		t.Fatal("connection stayed open after rejected handshake")
	}
}

func TestAuthVerifyAfterConnect(t *testing.T) {
	g := newGateway(t)

	c := dial(t, g.wsURL(""))

	// Unauthenticated joins are refused with an explicit error frame.
	c.send("join-conversation", map[string]any{"conversationId": "42"})
	c.expect("auth-error")

	c.send("auth-verify", map[string]any{"token": mintToken(t, "carol")})
	f := c.expect("auth-success")
	var ident struct {
		UserID string `json:"userId"`
	}
	if err := json.Unmarshal(f.Data, &ident); err != nil || ident.UserID != "carol" {
		t.Fatalf("auth-success payload = %s (err %v), want carol", f.Data, err)
	}

	c.send("join-conversation", map[string]any{"conversationId": "42"})
	waitMembers(t, g, chat.ConversationRoom("42"), 1)
}

func TestTypingBroadcastOverSockets(t *testing.T) {
	g := newGateway(t)

	alice := dial(t, g.wsURL("token="+mintToken(t, "alice")))
	alice.expect("auth-success")
	bob := dial(t, g.wsURL("token="+mintToken(t, "bob")))
	bob.expect("auth-success")

	alice.send("join-conversation", map[string]any{"conversationId": "7"})
	bob.send("join-conversation", map[string]any{"conversationId": "7"})
	waitMembers(t, g, chat.ConversationRoom("7"), 2)

	alice.send("typing-start", map[string]any{"conversationId": "7"})
	f := bob.expect("user-typing")
	var typing struct {
		UserID   string `json:"userId"`
		Username string `json:"username"`
	}
	if err := json.Unmarshal(f.Data, &typing); err != nil || typing.UserID != "alice" {
		t.Fatalf("user-typing payload = %s (err %v), want alice", f.Data, err)
	}

	alice.send("typing-stop", map[string]any{"conversationId": "7"})
	bob.expect("user-stopped-typing")
	alice.expectSilence(150 * time.Millisecond)
}

func TestUserEventReachesEveryDevice(t *testing.T) {
	g := newGateway(t)
	token := mintToken(t, "dora")

	phone := dial(t, g.wsURL("token="+token))
	phone.expect("auth-success")
	laptop := dial(t, g.wsURL("token="+token))
	laptop.expect("auth-success")
	waitMembers(t, g, chat.UserRoom("dora"), 2)

	resp := postJSON(t, g, "/internal/users/dora/events", token, map[string]any{
		"event": "member-added",
		"data":  map[string]any{"conversationId": "42"},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("publish status = %d", resp.StatusCode)
	}

	phone.expect("member-added")
	laptop.expect("member-added")
}

func TestReverifyCannotSwitchUser(t *testing.T) {
	g := newGateway(t)
	opsToken := mintToken(t, "ops")

	alice := dial(t, g.wsURL("token="+mintToken(t, "alice")))
	alice.expect("auth-success")
	waitMembers(t, g, chat.UserRoom("alice"), 1)

	// A valid token for another user must not rebind the connection.
	alice.send("auth-verify", map[string]any{"token": mintToken(t, "mallory")})
	alice.expect("auth-error")

	// mallory's out-of-band events go nowhere near this connection.
	resp := postJSON(t, g, "/internal/users/mallory/events", opsToken, map[string]any{
		"event": "member-added",
		"data":  map[string]any{"conversationId": "secret"},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("publish status = %d", resp.StatusCode)
	}
	var out struct {
		Reached int `json:"reached"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode publish response: %v", err)
	}
	if out.Reached != 0 {
		t.Errorf("mallory event reached %d connections, want 0", out.Reached)
	}
	alice.expectSilence(150 * time.Millisecond)

	// The original identity and its user room stay intact.
	resp = postJSON(t, g, "/internal/users/alice/events", opsToken, map[string]any{
		"event": "member-added",
		"data":  map[string]any{"conversationId": "42"},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("publish status = %d", resp.StatusCode)
	}
	alice.expect("member-added")
}

func TestInternalAPIRequiresBearer(t *testing.T) {
	g := newGateway(t)

	resp := postJSON(t, g, "/internal/conversations/42/messages", "", map[string]any{
		"senderId": "alice",
		"message":  map[string]any{"body": "x"},
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("no token: status = %d, want 401", resp.StatusCode)
	}

	resp = postJSON(t, g, "/internal/conversations/42/events", mintToken(t, "ops"), map[string]any{
		"event": "message-received", // not on the conversation allowlist
		"data":  map[string]any{},
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("disallowed event: status = %d, want 400", resp.StatusCode)
	}
}

func TestDisconnectCleansUpMembership(t *testing.T) {
	g := newGateway(t)

	alice := dial(t, g.wsURL("token="+mintToken(t, "alice")))
	alice.expect("auth-success")
	bob := dial(t, g.wsURL("token="+mintToken(t, "bob")))
	bob.expect("auth-success")

	alice.send("join-conversation", map[string]any{"conversationId": "42"})
	alice.send("typing-start", map[string]any{"conversationId": "42"})
	bob.send("join-conversation", map[string]any{"conversationId": "42"})
	waitMembers(t, g, chat.ConversationRoom("42"), 2)

	// Dropping the socket must stop alice's typing flag and shrink the room.
	alice.ws.Close()
	waitMembers(t, g, chat.ConversationRoom("42"), 1)

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) && g.srv.Typing().IsTyping("42", "alice") {
		time.Sleep(5 * time.Millisecond)
	}
	if g.srv.Typing().IsTyping("42", "alice") {
		t.Error("typing flag survived the disconnect")
	}
}
