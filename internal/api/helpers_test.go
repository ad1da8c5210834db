package api

import (
	"context"
	"testing"
	"time"

	"github.com/XueKirby/mastodon-streaming/internal/auth"
	"github.com/XueKirby/mastodon-streaming/internal/models"
	"github.com/XueKirby/mastodon-streaming/internal/streaming"
	"github.com/XueKirby/mastodon-streaming/internal/testsupport"
)

// stubAuth resolves a single known token and owns the configured lists.
type stubAuth struct {
	token      string
	account    *models.Account
	ownedLists map[string]bool
}

func (s *stubAuth) Resolve(ctx context.Context, token string, requiredScopes []string) (*models.Account, error) {
	if token == "" {
		return nil, auth.ErrMissingToken
	}
	if token != s.token || s.account == nil {
		return nil, auth.ErrInvalidToken
	}
	if len(requiredScopes) > 0 && !s.account.HasAnyScope(requiredScopes...) {
		return nil, auth.ErrInsufficientScope
	}
	return s.account, nil
}

func (s *stubAuth) AuthorizeList(ctx context.Context, listID string, account *models.Account) bool {
	return account != nil && s.ownedLists[listID]
}

type testEnv struct {
	handler  *Handler
	upstream *testsupport.FakeUpstream
	bus      *streaming.Bus
	auth     *stubAuth
	db       *testsupport.StubDB
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	upstream := &testsupport.FakeUpstream{}
	bus := streaming.NewBus(streaming.BusConfig{Upstream: upstream})
	db := &testsupport.StubDB{}
	authStub := &stubAuth{token: "valid-token", ownedLists: map[string]bool{}}
	handler := NewHandler(HandlerConfig{
		Auth: authStub,
		Bus:  bus,
		Heartbeats: streaming.NewHeartbeater(streaming.HeartbeatConfig{
			Store:    testsupport.NewFakeMarkerStore(),
			Interval: time.Hour,
		}),
		Filter: streaming.NewFilter(db, nil),
	})
	return &testEnv{handler: handler, upstream: upstream, bus: bus, auth: authStub, db: db}
}

// waitForListeners polls until the channel reaches the wanted local listener
// count.
func (e *testEnv) waitForListeners(t *testing.T, channel string, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		if e.bus.ListenerCount(channel) == want {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("channel %s never reached %d listeners (have %d)", channel, want, e.bus.ListenerCount(channel))
		}
		time.Sleep(5 * time.Millisecond)
	}
}
