package streaming

import (
	"context"
	"log/slog"
	"sync"
)

// Session owns every upstream subscription held by one client connection and
// guarantees they are all released when the connection goes away.
type Session struct {
	bus        *Bus
	heartbeats *Heartbeater
	logger     *slog.Logger

	mu     sync.Mutex
	closed bool
	subs   map[string]*subscription
}

type subscription struct {
	listeners     []boundListener
	stopHeartbeat func()
}

type boundListener struct {
	channel string
	id      ListenerID
}

// NewSession binds a session to the shared bus and heartbeater.
func NewSession(bus *Bus, heartbeats *Heartbeater, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		bus:        bus,
		heartbeats: heartbeats,
		logger:     logger,
		subs:       make(map[string]*subscription),
	}
}

// Subscribe attaches the listener to every channel of the destination and
// starts the subscription heartbeat. Subscribing a channel set the session
// already holds is a no-op.
func (s *Session) Subscribe(ctx context.Context, dest Destination, fn Listener) error {
	key := dest.Key()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	if _, ok := s.subs[key]; ok {
		s.mu.Unlock()
		return nil
	}
	// Reserve the key before the upstream round-trips so a concurrent
	// subscribe for the same set stays idempotent.
	entry := &subscription{}
	s.subs[key] = entry
	s.mu.Unlock()

	listeners := make([]boundListener, 0, len(dest.Channels))
	rollback := func() {
		for _, bound := range listeners {
			s.bus.Unsubscribe(ctx, bound.channel, bound.id)
		}
	}
	for _, channel := range dest.Channels {
		id, err := s.bus.Subscribe(ctx, channel, fn)
		if err != nil {
			rollback()
			s.mu.Lock()
			if s.subs[key] == entry {
				delete(s.subs, key)
			}
			s.mu.Unlock()
			return err
		}
		listeners = append(listeners, boundListener{channel: channel, id: id})
	}

	s.mu.Lock()
	if s.closed || s.subs[key] != entry {
		// The session was torn down (or this key released) while the
		// upstream round-trips were in flight.
		s.mu.Unlock()
		rollback()
		return nil
	}
	entry.listeners = listeners
	s.mu.Unlock()

	if s.heartbeats != nil {
		stop := s.heartbeats.Start(dest.Channels)
		s.mu.Lock()
		stillHeld := !s.closed && s.subs[key] == entry
		if stillHeld {
			entry.stopHeartbeat = stop
		}
		s.mu.Unlock()
		if !stillHeld {
			stop()
		}
	}
	s.logger.Debug("session subscribed", "channels", dest.Channels)
	return nil
}

// Unsubscribe releases the channel set if the session holds it.
func (s *Session) Unsubscribe(ctx context.Context, dest Destination) {
	key := dest.Key()

	s.mu.Lock()
	entry, ok := s.subs[key]
	if ok {
		delete(s.subs, key)
	}
	s.mu.Unlock()

	if ok {
		s.release(ctx, entry)
		s.logger.Debug("session unsubscribed", "channels", dest.Channels)
	}
}

// Close tears down every subscription. Later Subscribe calls become no-ops.
func (s *Session) Close(ctx context.Context) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	entries := make([]*subscription, 0, len(s.subs))
	for _, entry := range s.subs {
		entries = append(entries, entry)
	}
	s.subs = make(map[string]*subscription)
	s.mu.Unlock()

	for _, entry := range entries {
		s.release(ctx, entry)
	}
}

func (s *Session) release(ctx context.Context, entry *subscription) {
	for _, bound := range entry.listeners {
		s.bus.Unsubscribe(ctx, bound.channel, bound.id)
	}
	if entry.stopHeartbeat != nil {
		entry.stopHeartbeat()
	}
}

// SubscriptionCount reports how many channel sets the session holds.
func (s *Session) SubscriptionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}
