package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Defaults applied when the environment leaves a knob unset.
const (
	DefaultBind     = "127.0.0.1"
	DefaultPort     = 4000
	DefaultDBPool   = 10
	DefaultLogLevel = "info"
)

// Config carries everything the gateway reads from the environment.
type Config struct {
	Env      string
	LogLevel string

	// BindAddr is the TCP listen address. SocketPath, when set, wins and
	// selects a UNIX domain socket instead.
	BindAddr   string
	SocketPath string

	TrustedProxyIP string

	DatabaseDSN string
	DBPoolSize  int32

	RedisURL       string
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	RedisNamespace string

	// AlwaysRequireAuth disables anonymous access to public streams.
	AlwaysRequireAuth bool

	ClusterNum int
}

// Production reports whether the process runs in production mode.
func (c Config) Production() bool {
	return strings.EqualFold(c.Env, "production")
}

// ChannelPrefix is the namespace prepended to pub/sub channels and marker
// keys.
func (c Config) ChannelPrefix() string {
	if c.RedisNamespace == "" {
		return ""
	}
	return c.RedisNamespace + ":"
}

// Load reads the environment, honoring a .env file when present.
func Load() (Config, error) {
	// Missing .env files are the normal case outside development.
	_ = godotenv.Load()
	return FromEnv(os.Getenv), nil
}

// FromEnv builds a Config from the provided lookup, exposed separately so
// tests can inject an environment.
func FromEnv(getenv func(string) string) Config {
	cfg := Config{
		Env:            strings.TrimSpace(getenv("NODE_ENV")),
		LogLevel:       firstNonEmpty(getenv("LOG_LEVEL"), DefaultLogLevel),
		TrustedProxyIP: strings.TrimSpace(getenv("TRUSTED_PROXY_IP")),
		RedisNamespace: strings.TrimSpace(getenv("REDIS_NAMESPACE")),
		RedisURL:       strings.TrimSpace(getenv("REDIS_URL")),
		DBPoolSize:     DefaultDBPool,
		ClusterNum:     1,
	}

	port := strings.TrimSpace(getenv("PORT"))
	socket := strings.TrimSpace(getenv("SOCKET"))
	bind := firstNonEmpty(getenv("BIND"), DefaultBind)
	switch {
	case socket != "":
		cfg.SocketPath = socket
	case port != "" && !isNumeric(port):
		// A non-numeric PORT names a UNIX socket path.
		cfg.SocketPath = port
	default:
		portNum := DefaultPort
		if port != "" {
			if parsed, err := strconv.Atoi(port); err == nil {
				portNum = parsed
			}
		}
		cfg.BindAddr = fmt.Sprintf("%s:%d", bind, portNum)
	}

	if pool := strings.TrimSpace(getenv("DB_POOL")); pool != "" {
		if parsed, err := strconv.Atoi(pool); err == nil && parsed > 0 {
			cfg.DBPoolSize = int32(parsed)
		}
	}
	cfg.DatabaseDSN = databaseDSN(getenv)

	if cfg.RedisURL == "" {
		host := firstNonEmpty(getenv("REDIS_HOST"), "127.0.0.1")
		redisPort := firstNonEmpty(getenv("REDIS_PORT"), "6379")
		cfg.RedisAddr = host + ":" + redisPort
		cfg.RedisPassword = getenv("REDIS_PASSWORD")
		if db := strings.TrimSpace(getenv("REDIS_DB")); db != "" {
			if parsed, err := strconv.Atoi(db); err == nil {
				cfg.RedisDB = parsed
			}
		}
	}

	cfg.AlwaysRequireAuth = envEnabled(getenv("LIMITED_FEDERATION_MODE")) ||
		envEnabled(getenv("WHITELIST_MODE")) ||
		envEnabled(getenv("AUTHORIZED_FETCH"))

	if num := strings.TrimSpace(getenv("STREAMING_CLUSTER_NUM")); num != "" {
		if parsed, err := strconv.Atoi(num); err == nil && parsed > 0 {
			cfg.ClusterNum = parsed
		}
	}

	return cfg
}

// databaseDSN prefers DATABASE_URL and otherwise assembles a keyword DSN from
// the discrete DB_* variables.
func databaseDSN(getenv func(string) string) string {
	if dsn := strings.TrimSpace(getenv("DATABASE_URL")); dsn != "" {
		return dsn
	}

	parts := []string{
		"host=" + firstNonEmpty(getenv("DB_HOST"), "localhost"),
		"port=" + firstNonEmpty(getenv("DB_PORT"), "5432"),
		"dbname=" + firstNonEmpty(getenv("DB_NAME"), "mastodon_development"),
		"user=" + firstNonEmpty(getenv("DB_USER"), "mastodon"),
		"sslmode=" + firstNonEmpty(getenv("DB_SSLMODE"), "prefer"),
	}
	if pass := getenv("DB_PASS"); pass != "" {
		parts = append(parts, "password="+quoteDSNValue(pass))
	}
	return strings.Join(parts, " ")
}

func quoteDSNValue(value string) string {
	if !strings.ContainsAny(value, " '\\") {
		return value
	}
	replacer := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return "'" + replacer.Replace(value) + "'"
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func isNumeric(value string) bool {
	_, err := strconv.Atoi(value)
	return err == nil
}

func envEnabled(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// ValidateRedisURL rejects malformed REDIS_URL values early so the failure
// happens at boot rather than on first subscribe.
func (c Config) ValidateRedisURL() error {
	if c.RedisURL == "" {
		return nil
	}
	parsed, err := url.Parse(c.RedisURL)
	if err != nil {
		return fmt.Errorf("parse REDIS_URL: %w", err)
	}
	switch parsed.Scheme {
	case "redis", "rediss", "unix":
		return nil
	default:
		return fmt.Errorf("unsupported REDIS_URL scheme %q", parsed.Scheme)
	}
}
