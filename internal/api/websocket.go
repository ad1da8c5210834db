package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/XueKirby/mastodon-streaming/internal/auth"
	"github.com/XueKirby/mastodon-streaming/internal/models"
	"github.com/XueKirby/mastodon-streaming/internal/observability/logging"
	"github.com/XueKirby/mastodon-streaming/internal/streaming"
)

const (
	// wsPingInterval keeps the connection alive through intermediaries.
	wsPingInterval = 30 * time.Second
	// wsPongWait is how long a silent peer is tolerated before the read
	// deadline fires.
	wsPongWait = 2 * wsPingInterval
	// wsWriteWait bounds every frame write.
	wsWriteWait = 10 * time.Second
	// wsSendBuffer bounds the outbound queue per client.
	wsSendBuffer = 64
	// wsReadLimit bounds inbound control frames.
	wsReadLimit = 4096
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Streaming access control is token based, not origin based.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsFrame is the outbound message shape.
type wsFrame struct {
	Stream  []string        `json:"stream"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// wsCommand is the inbound control protocol.
type wsCommand struct {
	Type   string `json:"type"`
	Stream string `json:"stream"`
	Tag    string `json:"tag"`
	List   string `json:"list"`
}

// WebSocket upgrades the connection and runs the control-plane session. Auth
// failures and list rejections of the handshake stream surface as plain HTTP
// responses before the upgrade.
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	streamName := query.Get("stream")
	token := auth.TokenFromRequest(r)

	var account *models.Account
	var err error
	switch {
	case streamName != "":
		account, err = h.authenticate(r, streamName)
	case token != "":
		account, err = h.auth.Resolve(r.Context(), token, streaming.RequiredScopes(""))
	case h.alwaysRequireAuth:
		err = auth.ErrMissingToken
	}
	if err != nil {
		writeError(w, err)
		return
	}

	// Resolve the handshake-URL subscription before upgrading. Auth and
	// list rejections still reach the client as HTTP statuses; an unknown
	// stream name or missing parameter is logged and ignored — the
	// connection upgrades and the client simply receives no frames for
	// that stream, matching the control-plane subscribe behavior.
	var initial *streaming.Destination
	if streamName != "" {
		dest, err := streaming.ResolveStream(account, streamName, query.Get("tag"), query.Get("list"))
		switch {
		case err == nil:
			if streamName == "list" && !h.auth.AuthorizeList(r.Context(), dest.Param, account) {
				writeError(w, streaming.ErrListNotAuthorized)
				return
			}
			initial = &dest
		case ignorableReject(err):
			logging.WithContext(r.Context(), h.logger).Warn("ignoring handshake stream", "stream", streamName, "error", err)
		default:
			writeError(w, err)
			return
		}
	}

	// Browser clients smuggle the token through the subprotocol header and
	// expect it echoed back.
	var responseHeader http.Header
	if proto := r.Header.Get("Sec-WebSocket-Protocol"); proto != "" {
		responseHeader = http.Header{"Sec-WebSocket-Protocol": {proto}}
	}

	conn, err := wsUpgrader.Upgrade(w, r, responseHeader)
	if err != nil {
		// Upgrade already answered the request.
		return
	}

	logger := logging.WithContext(r.Context(), h.logger).With(
		"transport", "websocket",
		"remote_addr", h.remoteAddr(r),
	)

	ctx, cancel := context.WithCancel(context.Background())
	client := &wsClient{
		handler: h,
		conn:    conn,
		logger:  logger,
		account: account,
		session: streaming.NewSession(h.bus, h.heartbeats, logger),
		send:    make(chan []byte, wsSendBuffer),
		inbound: make(chan wsDelivery, wsSendBuffer),
		ctx:     ctx,
		cancel:  cancel,
	}
	client.run(initial)
}

// ignorableReject reports whether a stream rejection is dropped silently over
// WebSocket instead of failing the handshake: unknown stream names and
// missing parameters never reject an upgrade.
func ignorableReject(err error) bool {
	reject, ok := err.(*streaming.RejectError)
	if !ok {
		return false
	}
	switch reject.Kind {
	case "unknown-stream", "missing-required-param":
		return true
	default:
		return false
	}
}

// wsDelivery carries one raw upstream message together with the subscription
// it arrived for.
type wsDelivery struct {
	dest streaming.Destination
	raw  string
}

type wsClient struct {
	handler *Handler
	conn    *websocket.Conn
	logger  *slog.Logger
	account *models.Account
	session *streaming.Session
	send    chan []byte
	inbound chan wsDelivery

	ctx    context.Context
	cancel context.CancelFunc
	closed sync.Once
}

func (c *wsClient) run(initial *streaming.Destination) {
	c.logger.Info("websocket opened")
	go c.writePump()
	go c.deliverLoop()
	if initial != nil {
		c.subscribe(*initial)
	}
	c.readPump()
	c.close()
}

func (c *wsClient) close() {
	c.closed.Do(func() {
		c.cancel()
		c.session.Close(context.Background())
		_ = c.conn.Close()
		c.logger.Info("websocket closed")
	})
}

// subscribe attaches the destination and registers a listener that never
// blocks shared dispatch: a full queue drops the event for this client only.
func (c *wsClient) subscribe(dest streaming.Destination) {
	listener := func(raw string) {
		select {
		case c.inbound <- wsDelivery{dest: dest, raw: raw}:
		default:
			c.logger.Warn("dropping event for slow consumer", "stream", dest.StreamName)
		}
	}
	if err := c.session.Subscribe(c.ctx, dest, listener); err != nil {
		c.logger.Error("upstream subscribe failed", "stream", dest.StreamName, "error", err)
	}
}

// deliverLoop filters and frames events off the dispatch path, so the
// filter's database lookups never block other clients.
func (c *wsClient) deliverLoop() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case delivery := <-c.inbound:
			event, err := streaming.ParseEvent(delivery.raw)
			if err != nil {
				c.logger.Error("dropping malformed event", "error", err)
				continue
			}
			c.logger.Debug("event received", "event", event.Event, "lag_ms", event.Lag(time.Now()).Milliseconds())
			if event.Event == streaming.EventKill {
				c.logger.Info("closing connection on upstream request")
				c.close()
				return
			}
			if !c.handler.filter.Allow(c.ctx, c.account, delivery.dest, event) {
				continue
			}
			frame, err := json.Marshal(wsFrame{
				Stream:  streamField(delivery.dest),
				Event:   event.Event,
				Payload: event.Payload,
			})
			if err != nil {
				c.logger.Error("frame marshal failed", "error", err)
				continue
			}
			select {
			case c.send <- frame:
			default:
				c.logger.Warn("dropping frame for slow consumer", "stream", delivery.dest.StreamName)
			}
		}
	}
}

func streamField(dest streaming.Destination) []string {
	if dest.Param != "" {
		return []string{dest.StreamName, dest.Param}
	}
	return []string{dest.StreamName}
}

func (c *wsClient) writePump() {
	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-c.ctx.Done():
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case frame := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.close()
				return
			}
		case <-ping.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		}
	}
}

func (c *wsClient) readPump() {
	c.conn.SetReadLimit(wsReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))

		var command wsCommand
		if err := json.Unmarshal(payload, &command); err != nil {
			c.logger.Debug("ignoring malformed control frame", "error", err)
			continue
		}
		switch command.Type {
		case "subscribe":
			c.handleSubscribe(command)
		case "unsubscribe":
			c.handleUnsubscribe(command)
		default:
			// Unknown control types are silently ignored.
		}
	}
}

func (c *wsClient) handleSubscribe(command wsCommand) {
	if !c.authorizedFor(command.Stream) {
		c.logger.Warn("rejecting subscribe", "stream", command.Stream)
		return
	}
	dest, err := streaming.ResolveStream(c.account, command.Stream, command.Tag, command.List)
	if err != nil {
		c.logger.Warn("ignoring subscribe", "stream", command.Stream, "error", err)
		return
	}
	if command.Stream == "list" && !c.handler.auth.AuthorizeList(c.ctx, dest.Param, c.account) {
		c.logger.Warn("rejecting list subscribe", "list", dest.Param)
		return
	}
	c.subscribe(dest)
}

func (c *wsClient) handleUnsubscribe(command wsCommand) {
	dest, err := streaming.ResolveStream(c.account, command.Stream, command.Tag, command.List)
	if err != nil {
		return
	}
	c.session.Unsubscribe(c.ctx, dest)
}

// authorizedFor checks the control-plane subscribe against the connection's
// granted scopes.
func (c *wsClient) authorizedFor(streamName string) bool {
	if streaming.IsPublicStream(streamName) && !c.handler.alwaysRequireAuth {
		return true
	}
	return c.account.HasAnyScope(streaming.RequiredScopes(streamName)...)
}
