package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisStream is the stream key used when none is configured.
const DefaultRedisStream = "geminicog:audit"

// RedisSink appends records to a capped Redis stream.
type RedisSink struct {
	rdb    *redis.Client
	stream string
	maxLen int64
}

// OpenRedis connects to the server at url (redis://...) and checks it with
// a PING. maxLen caps the stream; 0 leaves it uncapped.
func OpenRedis(ctx context.Context, url, stream string, maxLen int64) (*RedisSink, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("audit redis: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("audit redis: ping: %w", err)
	}
	return NewRedisSink(rdb, stream, maxLen), nil
}

// NewRedisSink wraps an existing client.
func NewRedisSink(rdb *redis.Client, stream string, maxLen int64) *RedisSink {
	if stream == "" {
		stream = DefaultRedisStream
	}
	return &RedisSink{rdb: rdb, stream: stream, maxLen: maxLen}
}

func (s *RedisSink) Write(ctx context.Context, r Record) error {
	fields, err := json.Marshal(r.Fields)
	if err != nil {
		return fmt.Errorf("audit redis: encode fields: %w", err)
	}
	err = s.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: s.maxLen,
		Values: map[string]any{
			"id":      r.ID,
			"step_id": r.StepID,
			"outcome": r.Outcome,
			"message": r.Message,
			"fields":  string(fields),
			"created": strconv.FormatInt(r.Created.UnixMilli(), 10),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("audit redis: xadd %s: %w", s.stream, err)
	}
	return nil
}

// Prune trims entries whose stream ids are older than before.
func (s *RedisSink) Prune(ctx context.Context, before time.Time) (int64, error) {
	n, err := s.rdb.XTrimMinID(ctx, s.stream, fmt.Sprintf("%d-0", before.UnixMilli())).Result()
	if err != nil {
		return 0, fmt.Errorf("audit redis: xtrim %s: %w", s.stream, err)
	}
	return n, nil
}

func (s *RedisSink) Close() error {
	return s.rdb.Close()
}
