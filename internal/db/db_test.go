package db

import (
	"context"
	"testing"

	"github.com/XueKirby/mastodon-streaming/internal/config"
)

func TestNewPostgresPoolRejectsBadDSN(t *testing.T) {
	cfg := config.Config{DatabaseDSN: "host=localhost port=not-a-port"}
	if _, err := NewPostgresPool(context.Background(), cfg); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestNewRedisClientRejectsBadURL(t *testing.T) {
	cfg := config.Config{RedisURL: "http://not-redis"}
	if _, err := NewRedisClient(cfg); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestNewRedisClientFromDiscreteVars(t *testing.T) {
	cfg := config.Config{RedisAddr: "127.0.0.1:6379", RedisDB: 2}
	client, err := NewRedisClient(cfg)
	if err != nil {
		t.Fatalf("NewRedisClient: %v", err)
	}
	defer client.Close()
	if client == nil {
		t.Fatal("nil client")
	}
}
