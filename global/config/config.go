package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

const NodeTypeMsgGateway = "msgGateway"

// AppConfig carries every tunable the gateway reads at startup. It is
// loaded once in main() and handed to constructors explicitly; nothing
// reaches for it after initialization.
type AppConfig struct {
	NodeType string
	NodeID   int64
	HTTPAddr string

	JWTSecret []byte

	// How long an accepted connection may stay unauthenticated before the
	// sweeper closes it.
	AuthGrace time.Duration
	// Typing debounce window: repeated typing-start signals inside the
	// window collapse into a single event.
	TypingWindow time.Duration
	// Per-connection outbound queue depth; a full queue drops frames for
	// that connection only.
	SendQueueSize int

	// Browser origins allowed on the websocket route. Empty means accept
	// everything (local development).
	AllowedOrigins []string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	PresenceTTL   time.Duration

	NatsURL     string
	NatsSubject string
}

func Load() *AppConfig {
	return &AppConfig{
		NodeType:       NodeTypeMsgGateway,
		NodeID:         envInt64("GATEWAY_NODE_ID", 1),
		HTTPAddr:       envStr("GATEWAY_HTTP_ADDR", ":8080"),
		JWTSecret:      []byte(envStr("JWT_SECRET", "your-secret-key")),
		AuthGrace:      envDur("GATEWAY_AUTH_GRACE", 30*time.Second),
		TypingWindow:   envDur("GATEWAY_TYPING_WINDOW", time.Second),
		SendQueueSize:  int(envInt64("GATEWAY_SEND_QUEUE", 256)),
		AllowedOrigins: envList("GATEWAY_ALLOWED_ORIGIN"),
		RedisAddr:      envStr("REDIS_ADDR", ""),
		RedisPassword:  envStr("REDIS_PASSWORD", ""),
		RedisDB:        int(envInt64("REDIS_DB", 0)),
		PresenceTTL:    envDur("PRESENCE_TTL", 2*time.Minute),
		NatsURL:        envStr("NATS_URL", ""),
		NatsSubject:    envStr("NATS_FANOUT_SUBJECT", "chat.fanout"),
	}
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

// envList parses a comma-separated env value; empty entries are dropped.
func envList(key string) []string {
	var out []string
	for _, v := range strings.Split(os.Getenv(key), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func envDur(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
