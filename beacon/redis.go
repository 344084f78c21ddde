package beacon

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisOptions configures the Redis-backed store.
type RedisOptions struct {
	Endpoints  []string // host:port; the first endpoint is used
	PoolSize   int
	RetryCount int
}

// RedisStore reads sensors from and writes outputs to Redis. Value decoding
// follows the backend contract's preference order: hash entries holding
// {value, timestamp}, then plain string values, then JSON documents of the
// form {"value": ..., "timestamp": ...}.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects a client according to opts. The connection is
// lazy; the first Read surfaces connectivity errors.
func NewRedisStore(opts RedisOptions) *RedisStore {
	addr := "localhost:6379"
	if len(opts.Endpoints) > 0 {
		addr = opts.Endpoints[0]
	}
	client := redis.NewClient(&redis.Options{
		Addr:       addr,
		PoolSize:   opts.PoolSize,
		MaxRetries: opts.RetryCount,
	})
	return &RedisStore{client: client}
}

// Close releases the underlying client.
func (s *RedisStore) Close() error { return s.client.Close() }

// Ping verifies connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Read(ctx context.Context, key string) (Reading, bool, error) {
	// Preferred encoding: a hash with value and timestamp fields.
	fields, err := s.client.HGetAll(ctx, key).Result()
	if err == nil && len(fields) > 0 {
		if raw, ok := fields["value"]; ok {
			return decodeReading(raw, fields["timestamp"]), true, nil
		}
	}

	raw, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return Reading{}, false, nil
	}
	if err != nil {
		// A WRONGTYPE from GET after an empty HGETALL means the key is
		// absent in both encodings we understand.
		if strings.HasPrefix(err.Error(), "WRONGTYPE") {
			return Reading{}, false, nil
		}
		return Reading{}, false, fmt.Errorf("redis read %s: %w", key, err)
	}

	// JSON document fallback.
	var doc struct {
		Value     any    `json:"value"`
		Timestamp string `json:"timestamp"`
	}
	if len(raw) > 0 && (raw[0] == '{') && json.Unmarshal([]byte(raw), &doc) == nil {
		return decodeAnyReading(doc.Value, doc.Timestamp), true, nil
	}

	return decodeReading(raw, ""), true, nil
}

func (s *RedisStore) ReadAll(ctx context.Context, keys []string) (map[string]Reading, error) {
	out := make(map[string]Reading, len(keys))
	for _, k := range keys {
		r, ok, err := s.Read(ctx, k)
		if err != nil {
			return nil, err
		}
		if ok {
			out[k] = r
		}
	}
	return out, nil
}

func (s *RedisStore) Write(ctx context.Context, key string, v Value, at time.Time) error {
	err := s.client.HSet(ctx, key,
		"value", v.Str(),
		"timestamp", at.UTC().Format(time.RFC3339Nano),
	).Err()
	if err != nil {
		return fmt.Errorf("redis write %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Publish(ctx context.Context, channel, message string) error {
	if err := s.client.Publish(ctx, channel, message).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", channel, err)
	}
	return nil
}

// decodeReading turns a raw string value plus optional timestamp text into
// a Reading, inferring bool and number forms.
func decodeReading(raw, ts string) Reading {
	r := Reading{Value: parseScalar(raw)}
	if ts != "" {
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			r.Timestamp = t
		}
	}
	return r
}

func decodeAnyReading(v any, ts string) Reading {
	r := Reading{Value: FromAny(v)}
	if ts != "" {
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			r.Timestamp = t
		}
	}
	return r
}

func parseScalar(raw string) Value {
	switch raw {
	case "":
		return Null
	case "true":
		return Bool(true)
	case "false":
		return Bool(false)
	}
	if n, err := strconv.ParseFloat(raw, 64); err == nil {
		return Number(n)
	}
	return String(raw)
}
