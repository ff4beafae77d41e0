package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dkeye/gridvoice/internal/app/avatars"
	"github.com/dkeye/gridvoice/internal/app/identity"
	"github.com/dkeye/gridvoice/internal/app/presence"
	"github.com/dkeye/gridvoice/internal/config"
	"github.com/dkeye/gridvoice/internal/core"
	"github.com/dkeye/gridvoice/internal/domain"
	"github.com/dkeye/gridvoice/internal/protocol"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

type testServer struct {
	srv *httptest.Server
	hub *presence.Hub
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	dir := t.TempDir()
	catalog := filepath.Join(dir, "avatars.json")
	if err := os.WriteFile(catalog, []byte(`[{"id":1,"name":"Fox","image":"fox.png"},{"id":2,"name":"Owl","image":"owl.png"}]`), 0o644); err != nil {
		t.Fatal(err)
	}
	cat, err := avatars.Load(catalog)
	if err != nil {
		t.Fatal(err)
	}

	cfg := &config.Config{
		Mode:               "test",
		StaticPath:         dir,
		AvatarDir:          dir,
		ReadLimit:          32768,
		PingPeriod:         time.Minute,
		SendQueue:          32,
		Secret:             "test-secret",
		TokenTTL:           time.Hour,
		GridSize:           10,
		ProximityThreshold: 2,
		JoinRate:           config.RateConfig{Limit: 3, Interval: time.Minute},
	}
	ids := identity.NewService(identity.NewMemoryStore(), cfg.Secret, cfg.TokenTTL)
	hub := presence.NewHub(ids, presence.SimplePolicy{})
	hub.UseCatalog(cat)

	ctx, cancel := context.WithCancel(context.Background())
	srv := httptest.NewServer(SetupRouter(ctx, cfg, Deps{Identity: ids, Avatars: cat, Hub: hub}))
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return &testServer{srv: srv, hub: hub}
}

func (ts *testServer) client(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatal(err)
	}
	return &http.Client{Jar: jar, Timeout: 5 * time.Second}
}

func (ts *testServer) postJSON(t *testing.T, c *http.Client, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	b, _ := json.Marshal(body)
	resp, err := c.Post(ts.srv.URL+path, "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	defer resp.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func (ts *testServer) login(t *testing.T, c *http.Client, email, name string) string {
	t.Helper()
	resp, out := ts.postJSON(t, c, "/api/login", map[string]string{"email": email, "name": name})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status %d: %v", resp.StatusCode, out)
	}
	token, _ := out["token"].(string)
	if token == "" {
		t.Fatalf("no token in %v", out)
	}
	return token
}

func (ts *testServer) dial(t *testing.T, c *http.Client) *websocket.Conn {
	t.Helper()
	d := websocket.Dialer{Jar: c.Jar, HandshakeTimeout: 5 * time.Second}
	ws, _, err := d.Dial("ws"+strings.TrimPrefix(ts.srv.URL, "http")+"/api/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

// next reads frames until one of type typ arrives.
func next(t *testing.T, ws *websocket.Conn, typ protocol.Type) map[string]any {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		var m map[string]any
		if err := ws.ReadJSON(&m); err != nil {
			t.Fatalf("waiting for %s: %v", typ, err)
		}
		if m["type"] == string(typ) {
			return m
		}
	}
}

func TestLoginValidation(t *testing.T) {
	ts := newTestServer(t)
	c := ts.client(t)
	for _, body := range []map[string]string{
		{"email": "", "name": "x"},
		{"email": "not-an-email", "name": "x"},
		{"email": "a@example.com"},
	} {
		resp, _ := ts.postJSON(t, c, "/api/login", body)
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("%v: status %d", body, resp.StatusCode)
		}
	}
}

func TestAvatarsAndSetAvatar(t *testing.T) {
	ts := newTestServer(t)
	c := ts.client(t)

	resp, err := c.Get(ts.srv.URL + "/api/avatars")
	if err != nil {
		t.Fatal(err)
	}
	var list []map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&list)
	resp.Body.Close()
	if len(list) != 2 || list[0]["name"] != "Fox" {
		t.Fatalf("avatars = %v", list)
	}

	token := ts.login(t, c, "ann@example.com", "Ann")
	cases := []struct {
		name   string
		body   map[string]any
		status int
	}{
		{"ok", map[string]any{"token": token, "avatarId": 2}, http.StatusOK},
		{"session cookie", map[string]any{"avatarId": 1}, http.StatusOK},
		{"unknown avatar", map[string]any{"token": token, "avatarId": 99}, http.StatusBadRequest},
		{"bad token", map[string]any{"token": "garbage", "avatarId": 1}, http.StatusUnauthorized},
	}
	for _, tc := range cases {
		resp, out := ts.postJSON(t, c, "/api/set-avatar", tc.body)
		if resp.StatusCode != tc.status {
			t.Errorf("%s: status %d (%v), want %d", tc.name, resp.StatusCode, out, tc.status)
		}
	}
}

func TestWebSocketJoinKeepsAvatarWhenUnknown(t *testing.T) {
	ts := newTestServer(t)
	c := ts.client(t)
	token := ts.login(t, c, "ivy@example.com", "Ivy")
	ws := ts.dial(t, c)
	next(t, ws, protocol.TypeWelcome)

	if err := ws.WriteJSON(map[string]any{"type": "join", "token": token, "avatarId": 2, "position": map[string]int{"x": 0, "y": 0}}); err != nil {
		t.Fatal(err)
	}
	next(t, ws, protocol.TypeRoster)
	if err := ws.WriteJSON(map[string]any{"type": "join", "token": token, "avatarId": 42, "position": map[string]int{"x": 1, "y": 0}}); err != nil {
		t.Fatal(err)
	}
	roster := next(t, ws, protocol.TypeRoster)
	u := roster["users"].([]any)[0].(map[string]any)
	if u["avatarId"] != float64(2) {
		t.Fatalf("avatarId = %v, want 2", u["avatarId"])
	}
}

// discardConn is a hub connection that accepts and drops every frame.
type discardConn struct{}

func (discardConn) TrySend(core.Frame) error { return nil }
func (discardConn) Close()                   {}

func TestWelcomeIsFirstFrameDuringBroadcasts(t *testing.T) {
	ts := newTestServer(t)
	c := ts.client(t)
	token := ts.login(t, c, "mover@example.com", "Mover")
	const id = core.ConnID("mover")
	ts.hub.Attach(id, discardConn{})
	if err := ts.hub.Join(id, token, 1, domain.Position{}); err != nil {
		t.Fatal(err)
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			ts.hub.Move(id, domain.Position{X: i % 10})
		}
	}()
	defer func() {
		close(stop)
		<-done
	}()

	for i := 0; i < 20; i++ {
		other := ts.dial(t, ts.client(t))
		_ = other.SetReadDeadline(time.Now().Add(3 * time.Second))
		var m map[string]any
		if err := other.ReadJSON(&m); err != nil {
			t.Fatal(err)
		}
		if m["type"] != string(protocol.TypeWelcome) {
			t.Fatalf("dial %d: first frame %v, want welcome", i, m["type"])
		}
		_ = other.Close()
	}
}

func TestWebSocketJoinMoveRoster(t *testing.T) {
	ts := newTestServer(t)
	c := ts.client(t)
	token := ts.login(t, c, "ann@example.com", "Ann")

	ws := ts.dial(t, c)
	welcome := next(t, ws, protocol.TypeWelcome)
	id, _ := welcome["connectionId"].(string)
	if id == "" {
		t.Fatalf("welcome without id: %v", welcome)
	}

	if err := ws.WriteJSON(map[string]any{"type": "join", "token": token, "avatarId": 1, "position": map[string]int{"x": 3, "y": 4}}); err != nil {
		t.Fatal(err)
	}
	roster := next(t, ws, protocol.TypeRoster)
	users, _ := roster["users"].([]any)
	if len(users) != 1 {
		t.Fatalf("roster users = %v", users)
	}
	u := users[0].(map[string]any)
	if u["connectionId"] != id || u["identifier"] != "ann@example.com" || u["displayName"] != "Ann" {
		t.Fatalf("roster entry = %v", u)
	}

	if err := ws.WriteJSON(map[string]any{"type": "move", "position": map[string]int{"x": 5, "y": 5}}); err != nil {
		t.Fatal(err)
	}
	roster = next(t, ws, protocol.TypeRoster)
	pos := roster["users"].([]any)[0].(map[string]any)["position"].(map[string]any)
	if pos["x"] != float64(5) || pos["y"] != float64(5) {
		t.Fatalf("position = %v", pos)
	}

	if err := ws.WriteJSON(map[string]string{"type": "ping"}); err != nil {
		t.Fatal(err)
	}
	next(t, ws, protocol.TypePong)

	resp, err := c.Get(ts.srv.URL + "/api/roster")
	if err != nil {
		t.Fatal(err)
	}
	var snap map[string][]map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&snap)
	resp.Body.Close()
	if len(snap["users"]) != 1 {
		t.Fatalf("GET roster = %v", snap)
	}
}

func TestWebSocketJoinFallsBackToSessionToken(t *testing.T) {
	ts := newTestServer(t)
	c := ts.client(t)
	ts.login(t, c, "bob@example.com", "Bob")

	ws := ts.dial(t, c)
	next(t, ws, protocol.TypeWelcome)
	if err := ws.WriteJSON(map[string]any{"type": "join", "avatarId": 0, "position": map[string]int{"x": 0, "y": 0}}); err != nil {
		t.Fatal(err)
	}
	roster := next(t, ws, protocol.TypeRoster)
	if users := roster["users"].([]any); len(users) != 1 {
		t.Fatalf("users = %v", users)
	}
}

func TestWebSocketErrorsKeepConnectionOpen(t *testing.T) {
	ts := newTestServer(t)
	ws := ts.dial(t, ts.client(t))
	next(t, ws, protocol.TypeWelcome)

	cases := []struct {
		msg  string
		code string
	}{
		{`{"type":"join","token":"garbage","avatarId":1,"position":{"x":0,"y":0}}`, protocol.CodeInvalidToken},
		{`{"type":"move"}`, protocol.CodeBadPayload},
		{`{"type":"move","position":{"x":"a","y":0}}`, protocol.CodeBadPayload},
		{`not json`, protocol.CodeBadPayload},
		{`{"type":"dance"}`, protocol.CodeUnknownType},
	}
	for _, tc := range cases {
		if err := ws.WriteMessage(websocket.TextMessage, []byte(tc.msg)); err != nil {
			t.Fatalf("%s: write: %v", tc.msg, err)
		}
		m := next(t, ws, protocol.TypeError)
		if m["error"] != tc.code {
			t.Errorf("%s: error = %v, want %s", tc.msg, m["error"], tc.code)
		}
	}
	if n := len(ts.hub.Snapshot()); n != 0 {
		t.Fatalf("roster has %d entries after rejected join", n)
	}

	// Still usable.
	if err := ws.WriteJSON(map[string]string{"type": "ping"}); err != nil {
		t.Fatal(err)
	}
	next(t, ws, protocol.TypePong)
}

func TestWebSocketRelayAndDisconnect(t *testing.T) {
	ts := newTestServer(t)
	ca, cb := ts.client(t), ts.client(t)
	ta := ts.login(t, ca, "a@example.com", "A")
	tb := ts.login(t, cb, "b@example.com", "B")

	wa, wb := ts.dial(t, ca), ts.dial(t, cb)
	ida := next(t, wa, protocol.TypeWelcome)["connectionId"].(string)
	idb := next(t, wb, protocol.TypeWelcome)["connectionId"].(string)

	_ = wa.WriteJSON(map[string]any{"type": "join", "token": ta, "avatarId": 1, "position": map[string]int{"x": 0, "y": 0}})
	next(t, wa, protocol.TypeRoster)
	_ = wb.WriteJSON(map[string]any{"type": "join", "token": tb, "avatarId": 2, "position": map[string]int{"x": 1, "y": 0}})
	for {
		if users := next(t, wa, protocol.TypeRoster)["users"].([]any); len(users) == 2 {
			break
		}
	}

	payload := map[string]any{"sdp": map[string]string{"type": "offer", "sdp": "v=0"}}
	_ = wa.WriteJSON(map[string]any{"type": "signal", "to": idb, "signal": payload})
	sig := next(t, wb, protocol.TypeSignal)
	if sig["from"] != ida {
		t.Fatalf("from = %v, want %s", sig["from"], ida)
	}
	if sdp := sig["signal"].(map[string]any)["sdp"].(map[string]any); sdp["sdp"] != "v=0" {
		t.Fatalf("payload altered: %v", sig["signal"])
	}

	// Unknown destination: silently dropped, no error back.
	_ = wa.WriteJSON(map[string]any{"type": "signal", "to": "nobody", "signal": payload})
	_ = wa.WriteJSON(map[string]string{"type": "ping"})
	_ = wa.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		var m map[string]any
		if err := wa.ReadJSON(&m); err != nil {
			t.Fatal(err)
		}
		if m["type"] == string(protocol.TypeError) {
			t.Fatalf("unexpected error %v", m)
		}
		if m["type"] == string(protocol.TypePong) {
			break
		}
	}

	_ = wa.Close()
	for {
		users := next(t, wb, protocol.TypeRoster)["users"].([]any)
		if len(users) == 1 && users[0].(map[string]any)["connectionId"] == idb {
			break
		}
	}
}

func TestWebSocketJoinRateLimited(t *testing.T) {
	ts := newTestServer(t)
	ws := ts.dial(t, ts.client(t))
	next(t, ws, protocol.TypeWelcome)
	join := `{"type":"join","token":"garbage","avatarId":1,"position":{"x":0,"y":0}}`
	for i := 0; i < 3; i++ {
		_ = ws.WriteMessage(websocket.TextMessage, []byte(join))
		if m := next(t, ws, protocol.TypeError); m["error"] != protocol.CodeInvalidToken {
			t.Fatalf("attempt %d: %v", i, m)
		}
	}
	_ = ws.WriteMessage(websocket.TextMessage, []byte(join))
	if m := next(t, ws, protocol.TypeError); m["error"] != protocol.CodeRateLimited {
		t.Fatalf("4th attempt: %v", m)
	}
}
