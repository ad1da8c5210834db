package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/XueKirby/mastodon-streaming/internal/models"
)

func wsURL(server *httptest.Server, rawQuery string) string {
	u := "ws" + strings.TrimPrefix(server.URL, "http") + "/"
	if rawQuery != "" {
		u += "?" + rawQuery
	}
	return u
}

func dialWS(t *testing.T, server *httptest.Server, rawQuery string) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(server, rawQuery), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() {
		_ = conn.Close()
	})
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) wsFrame {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame wsFrame
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if err := json.Unmarshal(payload, &frame); err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	return frame
}

func TestWebSocketHandshakeSubscription(t *testing.T) {
	env := newTestEnv(t)
	server := httptest.NewServer(env.handler.Routes())
	t.Cleanup(server.Close)

	conn := dialWS(t, server, "stream=hashtag&tag=Art")
	env.waitForListeners(t, "timeline:hashtag:art", 1)

	env.bus.Dispatch("timeline:hashtag:art", updateRaw)

	frame := readFrame(t, conn)
	if len(frame.Stream) != 2 || frame.Stream[0] != "hashtag" || frame.Stream[1] != "art" {
		t.Fatalf("stream field = %v", frame.Stream)
	}
	if frame.Event != "update" {
		t.Fatalf("event = %q", frame.Event)
	}
	var payload struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.ID != "1" {
		t.Fatalf("payload id = %q", payload.ID)
	}
}

func TestWebSocketInsufficientScopeRejectsHandshake(t *testing.T) {
	env := newTestEnv(t)
	env.auth.account = &models.Account{ID: 42, Scopes: []string{models.ScopeReadStatuses}}
	server := httptest.NewServer(env.handler.Routes())
	t.Cleanup(server.Close)

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(server, "stream=user:notification&access_token=valid-token"), nil)
	if err == nil {
		t.Fatal("expected handshake rejection")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("handshake response = %+v, want 401", resp)
	}
	resp.Body.Close()
}

func TestWebSocketControlPlaneSubscribeUnsubscribe(t *testing.T) {
	env := newTestEnv(t)
	server := httptest.NewServer(env.handler.Routes())
	t.Cleanup(server.Close)

	conn := dialWS(t, server, "")

	if err := conn.WriteJSON(map[string]string{"type": "subscribe", "stream": "hashtag", "tag": "Art"}); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}
	env.waitForListeners(t, "timeline:hashtag:art", 1)

	env.bus.Dispatch("timeline:hashtag:art", updateRaw)
	frame := readFrame(t, conn)
	if frame.Event != "update" {
		t.Fatalf("event = %q", frame.Event)
	}

	if err := conn.WriteJSON(map[string]string{"type": "unsubscribe", "stream": "hashtag", "tag": "art"}); err != nil {
		t.Fatalf("write unsubscribe: %v", err)
	}
	env.waitForListeners(t, "timeline:hashtag:art", 0)
}

func TestWebSocketSubscribeIgnoresUnknownAndUnauthorized(t *testing.T) {
	env := newTestEnv(t)
	server := httptest.NewServer(env.handler.Routes())
	t.Cleanup(server.Close)

	conn := dialWS(t, server, "")

	// Unknown control type and unknown stream are silently ignored.
	if err := conn.WriteJSON(map[string]string{"type": "ping"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := conn.WriteJSON(map[string]string{"type": "subscribe", "stream": "fediverse"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	// Anonymous connections cannot attach owned streams.
	if err := conn.WriteJSON(map[string]string{"type": "subscribe", "stream": "user"}); err != nil {
		t.Fatalf("write: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	if got := len(env.upstream.Subscribes()); got != 0 {
		t.Fatalf("upstream subscribes = %d, want 0", got)
	}

	// The connection stays usable.
	if err := conn.WriteJSON(map[string]string{"type": "subscribe", "stream": "public"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	env.waitForListeners(t, "timeline:public", 1)
}

func TestWebSocketListRejectedDuringHandshake(t *testing.T) {
	env := newTestEnv(t)
	env.auth.account = &models.Account{ID: 42, Scopes: []string{models.ScopeRead}}
	server := httptest.NewServer(env.handler.Routes())
	t.Cleanup(server.Close)

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(server, "stream=list&list=99&access_token=valid-token"), nil)
	if err == nil {
		t.Fatal("expected handshake rejection")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("handshake response = %+v, want 404", resp)
	}
	resp.Body.Close()
	if got := len(env.upstream.Subscribes()); got != 0 {
		t.Fatalf("upstream subscribes = %d, want 0", got)
	}
}

func TestWebSocketHandshakeIgnoresUnknownAndMissingParamStreams(t *testing.T) {
	env := newTestEnv(t)
	env.auth.account = &models.Account{ID: 42, Scopes: []string{models.ScopeRead}}
	server := httptest.NewServer(env.handler.Routes())
	t.Cleanup(server.Close)

	// A hashtag stream without its tag and an unknown stream name must
	// still complete the upgrade; the client just gets no frames for
	// them.
	for _, rawQuery := range []string{
		"stream=hashtag&access_token=valid-token",
		"stream=fediverse&access_token=valid-token",
	} {
		before := len(env.upstream.Subscribes())
		conn := dialWS(t, server, rawQuery)

		time.Sleep(50 * time.Millisecond)
		if got := len(env.upstream.Subscribes()) - before; got != 0 {
			t.Fatalf("%s: upstream subscribes = %d, want 0", rawQuery, got)
		}

		// The connection stays usable for control-plane subscribes.
		if err := conn.WriteJSON(map[string]string{"type": "subscribe", "stream": "hashtag", "tag": "Art"}); err != nil {
			t.Fatalf("%s: write subscribe: %v", rawQuery, err)
		}
		env.waitForListeners(t, "timeline:hashtag:art", 1)
		if err := conn.WriteJSON(map[string]string{"type": "unsubscribe", "stream": "hashtag", "tag": "art"}); err != nil {
			t.Fatalf("%s: write unsubscribe: %v", rawQuery, err)
		}
		env.waitForListeners(t, "timeline:hashtag:art", 0)
		conn.Close()
	}
}

func TestWebSocketCloseReleasesSubscriptions(t *testing.T) {
	env := newTestEnv(t)
	server := httptest.NewServer(env.handler.Routes())
	t.Cleanup(server.Close)

	conn := dialWS(t, server, "stream=public")
	env.waitForListeners(t, "timeline:public", 1)

	conn.Close()
	env.waitForListeners(t, "timeline:public", 0)
}

func TestWebSocketKillEventDisconnects(t *testing.T) {
	env := newTestEnv(t)
	server := httptest.NewServer(env.handler.Routes())
	t.Cleanup(server.Close)

	conn := dialWS(t, server, "stream=public")
	env.waitForListeners(t, "timeline:public", 1)

	env.bus.Dispatch("timeline:public", `{"event":"kill","payload":"","queued_at":0}`)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func TestWebSocketEchoesSubprotocolToken(t *testing.T) {
	env := newTestEnv(t)
	env.auth.account = &models.Account{ID: 42, Scopes: []string{models.ScopeRead, models.ScopeReadStatuses}}
	server := httptest.NewServer(env.handler.Routes())
	t.Cleanup(server.Close)

	dialer := websocket.Dialer{Subprotocols: []string{"valid-token"}}
	conn, resp, err := dialer.Dial(wsURL(server, "stream=user"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if got := resp.Header.Get("Sec-WebSocket-Protocol"); got != "valid-token" {
		t.Fatalf("echoed subprotocol = %q", got)
	}
	resp.Body.Close()
	env.waitForListeners(t, "timeline:42", 1)
}
