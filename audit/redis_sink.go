package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// IStreamClient is the subset of the redis client used by RedisSink.
type IStreamClient interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// RedisSink appends records to a redis stream. Stream entries are ordered,
// server-timestamped and cannot be edited in place.
type RedisSink struct {
	mu     sync.Mutex
	client IStreamClient
	stream string
}

func NewRedisSink(client IStreamClient, stream string) *RedisSink {
	return &RedisSink{client: client, stream: stream}
}

func (s *RedisSink) Append(ctx context.Context, rec Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	err = s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]interface{}{
			"kind":   string(rec.Kind),
			"actor":  rec.Actor,
			"record": string(payload),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd %s: %w", s.stream, err)
	}
	return nil
}
