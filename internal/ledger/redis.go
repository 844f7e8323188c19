package ledger

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// DefaultKey is the Redis key the ledger document is stored under.
const DefaultKey = "livefleet:deployed-channels"

// RedisConfig configures the Redis-backed ledger.
type RedisConfig struct {
	Addr         string
	Username     string
	Password     string
	DB           int
	Key          string
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	TLS          bool
}

// LoadRedisConfigFromEnv reads LIVEFLEET_REDIS_* variables. An empty Addr
// means no Redis ledger is configured.
func LoadRedisConfigFromEnv() RedisConfig {
	cfg := RedisConfig{
		Addr:     strings.TrimSpace(os.Getenv("LIVEFLEET_REDIS_ADDR")),
		Username: strings.TrimSpace(os.Getenv("LIVEFLEET_REDIS_USERNAME")),
		Password: os.Getenv("LIVEFLEET_REDIS_PASSWORD"),
		Key:      strings.TrimSpace(os.Getenv("LIVEFLEET_REDIS_LEDGER_KEY")),
		TLS:      strings.EqualFold(strings.TrimSpace(os.Getenv("LIVEFLEET_REDIS_TLS")), "true"),
	}
	return cfg
}

type redisLedger struct {
	client redis.UniversalClient
	key    string
}

type document struct {
	Channels []string  `json:"channels"`
	Updated  time.Time `json:"updatedAt"`
}

// NewRedisLedger connects to Redis and verifies the connection with PING.
func NewRedisLedger(ctx context.Context, cfg RedisConfig) (Ledger, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("redis addr is required")
	}
	key := strings.TrimSpace(cfg.Key)
	if key == "" {
		key = DefaultKey
	}
	client := redis.NewUniversalClient(redisOptions(addr, cfg))
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &redisLedger{client: client, key: key}, nil
}

// redisOptions builds the client options. Client-side retries are disabled;
// a failed ledger call surfaces on the pass that made it.
func redisOptions(addr string, cfg RedisConfig) *redis.UniversalOptions {
	var tlsConfig *tls.Config
	if cfg.TLS {
		tlsConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return &redis.UniversalOptions{
		Addrs:        []string{addr},
		Username:     strings.TrimSpace(cfg.Username),
		Password:     cfg.Password,
		DB:           cfg.DB,
		TLSConfig:    tlsConfig,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		MaxRetries:   -1,
	}
}

func (l *redisLedger) Load(ctx context.Context) ([]string, error) {
	raw, err := l.client.Get(ctx, l.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load ledger: %w", err)
	}
	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode ledger: %w", err)
	}
	return normalize(doc.Channels), nil
}

func (l *redisLedger) Replace(ctx context.Context, names []string) error {
	payload, err := json.Marshal(document{Channels: normalize(names), Updated: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("encode ledger: %w", err)
	}
	if err := l.client.Set(ctx, l.key, payload, 0).Err(); err != nil {
		return fmt.Errorf("write ledger: %w", err)
	}
	return nil
}

func (l *redisLedger) Close() error {
	return l.client.Close()
}
