package api

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/XueKirby/mastodon-streaming/internal/auth"
	"github.com/XueKirby/mastodon-streaming/internal/models"
	"github.com/XueKirby/mastodon-streaming/internal/observability/logging"
	"github.com/XueKirby/mastodon-streaming/internal/streaming"
)

// Authenticator resolves bearer tokens and list ownership; *auth.Resolver
// implements it.
type Authenticator interface {
	Resolve(ctx context.Context, token string, requiredScopes []string) (*models.Account, error)
	AuthorizeList(ctx context.Context, listID string, account *models.Account) bool
}

// VisibilityFilter decides per-event delivery; *streaming.Filter implements
// it.
type VisibilityFilter interface {
	Allow(ctx context.Context, viewer *models.Account, dest streaming.Destination, event streaming.Event) bool
}

// HandlerConfig wires the handler's collaborators.
type HandlerConfig struct {
	Auth       Authenticator
	Bus        *streaming.Bus
	Heartbeats *streaming.Heartbeater
	Filter     VisibilityFilter
	Logger     *slog.Logger
	// AlwaysRequireAuth disables anonymous access to public streams.
	AlwaysRequireAuth bool
	// TrustedProxyIP enables X-Forwarded-For resolution when the peer
	// matches.
	TrustedProxyIP string
}

// Handler serves the streaming endpoints.
type Handler struct {
	auth              Authenticator
	bus               *streaming.Bus
	heartbeats        *streaming.Heartbeater
	filter            VisibilityFilter
	logger            *slog.Logger
	alwaysRequireAuth bool
	trustedProxyIP    string
}

// NewHandler initialises a handler using the provided configuration.
func NewHandler(cfg HandlerConfig) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		auth:              cfg.Auth,
		bus:               cfg.Bus,
		heartbeats:        cfg.Heartbeats,
		filter:            cfg.Filter,
		logger:            logger,
		alwaysRequireAuth: cfg.AlwaysRequireAuth,
		trustedProxyIP:    cfg.TrustedProxyIP,
	}
}

// Routes assembles the streaming route tree with its middleware chain.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(logging.RequestLogger(logging.RequestLoggerConfig{Logger: h.logger}))
	r.Use(corsMiddleware)

	r.Get("/api/v1/streaming/health", h.Health)
	r.Get("/api/v1/streaming/user", h.streamHandler("user"))
	r.Get("/api/v1/streaming/user/notification", h.streamHandler("user:notification"))
	r.Get("/api/v1/streaming/public", h.publicHandler("public"))
	r.Get("/api/v1/streaming/public/local", h.publicHandler("public:local"))
	r.Get("/api/v1/streaming/public/remote", h.publicHandler("public:remote"))
	r.Get("/api/v1/streaming/direct", h.streamHandler("direct"))
	r.Get("/api/v1/streaming/hashtag", h.streamHandler("hashtag"))
	r.Get("/api/v1/streaming/hashtag/local", h.streamHandler("hashtag:local"))
	r.Get("/api/v1/streaming/list", h.streamHandler("list"))
	r.Get("/", h.WebSocket)

	return r
}

// Health answers load balancer probes.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (h *Handler) streamHandler(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.serveStream(w, r, name)
	}
}

// publicHandler routes the only_media variants of the firehose endpoints.
func (h *Handler) publicHandler(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stream := name
		if onlyMedia(r.URL.Query().Get("only_media")) {
			stream += ":media"
		}
		h.serveStream(w, r, stream)
	}
}

func onlyMedia(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true":
		return true
	default:
		return false
	}
}

func (h *Handler) serveStream(w http.ResponseWriter, r *http.Request, name string) {
	account, err := h.authenticate(r, name)
	if err != nil {
		writeError(w, err)
		return
	}

	query := r.URL.Query()
	dest, err := streaming.ResolveStream(account, name, query.Get("tag"), query.Get("list"))
	if err != nil {
		writeError(w, err)
		return
	}
	if name == "list" && !h.auth.AuthorizeList(r.Context(), dest.Param, account) {
		writeError(w, streaming.ErrListNotAuthorized)
		return
	}

	h.serveSSE(w, r, account, dest)
}

// authenticate applies the per-stream auth policy: public streams allow
// anonymous viewers unless the instance requires auth for everything, and a
// presented token is always resolved so its languages and scopes apply.
func (h *Handler) authenticate(r *http.Request, streamName string) (*models.Account, error) {
	token := auth.TokenFromRequest(r)
	if token == "" {
		if streaming.IsPublicStream(streamName) && !h.alwaysRequireAuth {
			return nil, nil
		}
		return nil, auth.ErrMissingToken
	}
	return h.auth.Resolve(r.Context(), token, streaming.RequiredScopes(streamName))
}

// remoteAddr resolves the client address, honoring X-Forwarded-For only when
// the direct peer is the trusted proxy.
func (h *Handler) remoteAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if h.trustedProxyIP == "" || host != h.trustedProxyIP {
		return host
	}
	forwarded := strings.TrimSpace(r.Header.Get("X-Forwarded-For"))
	if forwarded == "" {
		return host
	}
	if first, _, found := strings.Cut(forwarded, ","); found {
		return strings.TrimSpace(first)
	}
	return forwarded
}
