package streaming

import (
	"context"
	"log/slog"
	"time"
)

const (
	// HeartbeatInterval is how often subscription markers are refreshed.
	HeartbeatInterval = 360 * time.Second
	// HeartbeatTTL is three refresh intervals: a marker expires, and
	// producers conclude "no live subscribers", once refreshes have stopped
	// for that long.
	HeartbeatTTL = 3 * HeartbeatInterval
)

// MarkerStore persists the per-channel subscriber markers.
type MarkerStore interface {
	SetMarker(ctx context.Context, channel string, ttl time.Duration) error
}

// HeartbeatConfig configures a Heartbeater.
type HeartbeatConfig struct {
	Store    MarkerStore
	Logger   *slog.Logger
	Interval time.Duration
	TTL      time.Duration
}

// Heartbeater keeps subscription markers alive for active channel sets.
type Heartbeater struct {
	store    MarkerStore
	logger   *slog.Logger
	interval time.Duration
	ttl      time.Duration
}

// NewHeartbeater applies the default cadence when the config leaves it zero.
func NewHeartbeater(cfg HeartbeatConfig) *Heartbeater {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = HeartbeatInterval
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = HeartbeatTTL
	}
	return &Heartbeater{store: cfg.Store, logger: logger, interval: interval, ttl: ttl}
}

// Start writes the markers immediately, then refreshes them on every tick.
// The returned stopper cancels the timer; it is safe to call more than once.
func (h *Heartbeater) Start(channels []string) (stop func()) {
	ctx, cancel := context.WithCancel(context.Background())

	h.write(ctx, channels)
	go func() {
		ticker := time.NewTicker(h.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				h.write(ctx, channels)
			}
		}
	}()

	return cancel
}

func (h *Heartbeater) write(ctx context.Context, channels []string) {
	for _, channel := range channels {
		if err := h.store.SetMarker(ctx, channel, h.ttl); err != nil {
			if ctx.Err() != nil {
				return
			}
			h.logger.Warn("subscription heartbeat write failed", "channel", channel, "error", err)
		}
	}
}
