package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"whip/internal/command"
	"whip/internal/config"
	"whip/internal/metrics"
	"whip/internal/state"
)

var fixedNow = time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)

func testServer(t *testing.T, m *metrics.Metrics) (*Server, *httptest.Server) {
	t.Helper()
	return testServerWS(t, m, config.WSConfig{WriteTimeout: time.Second, MaxMessageBytes: 4096})
}

func testServerWS(t *testing.T, m *metrics.Metrics, ws config.WSConfig) (*Server, *httptest.Server) {
	t.Helper()
	s := New(Options{
		WS:      ws,
		Metrics: m,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:     func() time.Time { return fixedNow },
	}, nil)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func dialWS(t *testing.T, baseURL, authz string) *websocket.Conn {
	t.Helper()
	h := http.Header{}
	if authz != "" {
		h.Set("Authorization", authz)
	}
	url := "ws" + strings.TrimPrefix(baseURL, "http") + "/ws"
	c, _, err := websocket.DefaultDialer.Dial(url, h)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func postWhip(t *testing.T, baseURL, authz, body string) (int, []byte) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, baseURL+"/whip", strings.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if authz != "" {
		req.Header.Set("Authorization", authz)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, b
}

func detailOf(t *testing.T, b []byte) string {
	t.Helper()
	var body struct {
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(b, &body); err != nil {
		t.Fatalf("decode %s: %v", b, err)
	}
	return body.Detail
}

func TestBearerToken(t *testing.T) {
	tok, err := bearerToken("Bearer abc")
	if err != nil || tok != "abc" {
		t.Fatalf("tok=%q err=%v", tok, err)
	}
	tok, err = bearerToken("  bEaReR   abc  ")
	if err != nil || tok != "abc" {
		t.Fatalf("mixed case tok=%q err=%v", tok, err)
	}
	if _, err := bearerToken(""); !errors.Is(err, errMissingAuth) {
		t.Fatalf("empty err=%v", err)
	}
	for _, h := range []string{"abc", "Basic abc", "Bearer a b", "Bearer"} {
		if _, err := bearerToken(h); !errors.Is(err, errBadAuth) {
			t.Fatalf("%q err=%v", h, err)
		}
	}
}

func TestHealthz(t *testing.T) {
	_, ts := testServer(t, nil)
	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || strings.TrimSpace(string(b)) != `{"status":"ok"}` {
		t.Fatalf("status=%d body=%s", resp.StatusCode, b)
	}
}

func TestWhip_AuthAndValidation(t *testing.T) {
	_, ts := testServer(t, nil)

	code, b := postWhip(t, ts.URL, "", `{"duration":5}`)
	if code != http.StatusUnauthorized || detailOf(t, b) != detailMissingAuth {
		t.Fatalf("missing: %d %s", code, b)
	}

	code, b = postWhip(t, ts.URL, "Token abc", `{"duration":5}`)
	if code != http.StatusUnauthorized || detailOf(t, b) != detailBadAuth {
		t.Fatalf("bad format: %d %s", code, b)
	}

	// Auth is checked before the body.
	code, _ = postWhip(t, ts.URL, "", `{"duration":500}`)
	if code != http.StatusUnauthorized {
		t.Fatalf("auth-before-body: %d", code)
	}

	code, b = postWhip(t, ts.URL, "Bearer abc", `{"duration":0}`)
	if code != http.StatusUnprocessableEntity {
		t.Fatalf("invalid: %d %s", code, b)
	}
	var ve struct {
		Detail []command.Issue `json:"detail"`
	}
	if err := json.Unmarshal(b, &ve); err != nil || len(ve.Detail) != 1 || ve.Detail[0].Loc[1] != "duration" {
		t.Fatalf("422 body=%s err=%v", b, err)
	}

	code, b = postWhip(t, ts.URL, "Bearer abc", `{"duration":5}`)
	if code != http.StatusNotFound || detailOf(t, b) != detailNoClient {
		t.Fatalf("no client: %d %s", code, b)
	}
}

func TestWS_MissingTokenClosesWithPolicyViolation(t *testing.T) {
	_, ts := testServer(t, nil)
	for _, authz := range []string{"", "Basic xyz"} {
		c := dialWS(t, ts.URL, authz)
		_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, _, err := c.ReadMessage()
		if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
			t.Fatalf("authz=%q err=%v", authz, err)
		}
	}
}

func TestWhip_EndToEnd(t *testing.T) {
	m := metrics.New()
	s, ts := testServer(t, m)
	c := dialWS(t, ts.URL, "Bearer tok-1")
	waitFor(t, "registration", func() bool { _, ok := s.Registry().Lookup("tok-1"); return ok })

	code, b := postWhip(t, ts.URL, "Bearer tok-1", `{"duration":5,"side":"left"}`)
	if code != http.StatusAccepted {
		t.Fatalf("status=%d body=%s", code, b)
	}
	var resp sentBody
	if err := json.Unmarshal(b, &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "sent" || resp.Payload.Duration != 5 || resp.Payload.Side != command.SideLeft {
		t.Fatalf("resp=%+v", resp)
	}

	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	typ, frame, err := c.ReadMessage()
	if err != nil || typ != websocket.TextMessage {
		t.Fatalf("read: typ=%d err=%v", typ, err)
	}
	want := `{"command":"whip","duration":5,"side":"left","ts":"2024-05-06T07:08:09.000000+00:00"}`
	if string(frame) != want {
		t.Fatalf("frame=%s", frame)
	}

	// Client disconnect frees the token.
	_ = c.Close()
	waitFor(t, "unregister", func() bool { return s.Registry().Count() == 0 })
	code, _ = postWhip(t, ts.URL, "Bearer tok-1", `{"duration":5}`)
	if code != http.StatusNotFound {
		t.Fatalf("after disconnect status=%d", code)
	}

	mresp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	defer mresp.Body.Close()
	mb, _ := io.ReadAll(mresp.Body)
	if !strings.Contains(string(mb), `whip_commands_total{result="sent"} 1`) {
		t.Fatalf("metrics body:\n%s", mb)
	}
}

func TestWS_NewestConnectionWins(t *testing.T) {
	s, ts := testServer(t, nil)
	first := dialWS(t, ts.URL, "Bearer shared")
	waitFor(t, "first", func() bool { return s.Registry().Count() == 1 })
	firstConn, _ := s.Registry().Lookup("shared")

	second := dialWS(t, ts.URL, "Bearer shared")
	waitFor(t, "second", func() bool {
		c, ok := s.Registry().Lookup("shared")
		return ok && c != firstConn
	})

	// The superseded socket going away must not evict the new one.
	_ = first.Close()
	time.Sleep(50 * time.Millisecond)

	code, b := postWhip(t, ts.URL, "Bearer shared", `{"duration":2}`)
	if code != http.StatusAccepted {
		t.Fatalf("status=%d body=%s", code, b)
	}
	_ = second.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, frame, err := second.ReadMessage(); err != nil || !strings.Contains(string(frame), `"duration":2`) {
		t.Fatalf("frame=%s err=%v", frame, err)
	}
}

type deadConn struct{}

func (deadConn) ID() string              { return "dead" }
func (deadConn) Send([]byte) error       { return errors.New("broken pipe") }
func (deadConn) Close(int, string) error { return nil }

func TestWhip_SendFailureIsNotFoundAndForgets(t *testing.T) {
	s, ts := testServer(t, nil)
	s.Registry().Register("ghost", deadConn{})

	code, b := postWhip(t, ts.URL, "Bearer ghost", `{"duration":3}`)
	if code != http.StatusNotFound || detailOf(t, b) != detailNoClient {
		t.Fatalf("status=%d body=%s", code, b)
	}
	if _, ok := s.Registry().Lookup("ghost"); ok {
		t.Fatalf("dead conn still registered")
	}
}

func TestServe_ShutdownClosesListeners(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := New(Options{
		ShutdownTimeout: 2 * time.Second,
		WS:              config.WSConfig{WriteTimeout: time.Second, MaxMessageBytes: 4096},
		Logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, state.NewRegistry())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	c := dialWS(t, "http://"+ln.Addr().String(), "Bearer bye")
	waitFor(t, "registration", func() bool { return s.Registry().Count() == 1 })

	cancel()

	_ = c.SetReadDeadline(time.Now().Add(3 * time.Second))
	if _, _, err := c.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Fatalf("read err=%v", err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Serve did not return")
	}
	if s.Registry().Count() != 0 {
		t.Fatalf("registry not drained")
	}
}

func TestWS_MissedPongDropsListener(t *testing.T) {
	s, ts := testServerWS(t, nil, config.WSConfig{
		WriteTimeout:    time.Second,
		PingInterval:    20 * time.Millisecond,
		PongTimeout:     100 * time.Millisecond,
		MaxMessageBytes: 4096,
	})

	// A reading client answers pings through the default ping handler.
	alive := dialWS(t, ts.URL, "Bearer alive")
	go func() {
		for {
			if _, _, err := alive.ReadMessage(); err != nil {
				return
			}
		}
	}()

	// A client that never reads never sends a pong.
	_ = dialWS(t, ts.URL, "Bearer silent")
	waitFor(t, "both registered", func() bool { return s.Registry().Count() == 2 })

	waitFor(t, "silent listener dropped", func() bool {
		_, ok := s.Registry().Lookup("silent")
		return !ok
	})

	time.Sleep(200 * time.Millisecond)
	if _, ok := s.Registry().Lookup("alive"); !ok {
		t.Fatalf("responsive listener was dropped")
	}
}

func TestWS_OversizedFrameClosesListener(t *testing.T) {
	s, ts := testServerWS(t, nil, config.WSConfig{WriteTimeout: time.Second, MaxMessageBytes: 16})
	c := dialWS(t, ts.URL, "Bearer chatty")
	waitFor(t, "registration", func() bool { return s.Registry().Count() == 1 })

	if err := c.WriteMessage(websocket.TextMessage, []byte(strings.Repeat("x", 64))); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := c.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseMessageTooBig) {
		t.Fatalf("read err=%v", err)
	}
	waitFor(t, "unregister", func() bool { return s.Registry().Count() == 0 })

	code, _ := postWhip(t, ts.URL, "Bearer chatty", `{"duration":1}`)
	if code != http.StatusNotFound {
		t.Fatalf("status=%d", code)
	}
}

func TestWS_UpgradeAfterShutdownBeganIsClosed(t *testing.T) {
	s, ts := testServer(t, nil)
	s.closeAll(websocket.CloseGoingAway, "server shutting down")

	c := dialWS(t, ts.URL, "Bearer late")
	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := c.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Fatalf("read err=%v", err)
	}
	if s.Registry().Count() != 0 {
		t.Fatalf("late listener registered")
	}
}
