package sink

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"cdc-streamer/internal/config"
	"cdc-streamer/internal/models"
)

// streamClient is the subset of redis.Cmdable used by RedisSink.
type streamClient interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
	XTrimMaxLenApprox(ctx context.Context, key string, maxLen, limit int64) *redis.IntCmd
	Close() error
}

// RedisSink appends each event to the stream
// "<stream_prefix>.cdc.<database>.<table>" with fields data and event_id.
type RedisSink struct {
	client streamClient
	prefix string
	maxLen *int64
	log    *logrus.Entry
}

// NewRedis connects to the server at cfg.URL and verifies it with PING.
func NewRedis(ctx context.Context, cfg config.RedisConfig, logger *logrus.Logger) (*RedisSink, error) {
	log := logger.WithField("sink", "redis")

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, &ConnectionError{Sink: "redis", Err: err}
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, ackTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, &ConnectionError{Sink: "redis", Err: err}
	}

	log.Infof("Connected to Redis at %s", opts.Addr)
	return newRedis(client, cfg.StreamPrefix, cfg.MaxLen, log), nil
}

func newRedis(client streamClient, prefix string, maxLen *int64, log *logrus.Entry) *RedisSink {
	return &RedisSink{client: client, prefix: prefix, maxLen: maxLen, log: log}
}

func (r *RedisSink) Run(ctx context.Context, events <-chan models.ChangeEvent) error {
	r.log.Info("Starting Redis streaming...")
	return consume(ctx, r.log, events, r.publish)
}

func (r *RedisSink) publish(ctx context.Context, e models.ChangeEvent) (string, error) {
	stream := Destination(r.prefix, e)
	payload, err := e.Marshal()
	if err != nil {
		return stream, err
	}

	if err := r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		ID:     "*",
		Values: []interface{}{"data", string(payload), "event_id", e.ID.String()},
	}).Err(); err != nil {
		return stream, fmt.Errorf("xadd: %w", err)
	}

	if r.maxLen != nil {
		if err := r.client.XTrimMaxLenApprox(ctx, stream, *r.maxLen, 0).Err(); err != nil {
			return stream, fmt.Errorf("xtrim: %w", err)
		}
	}
	return stream, nil
}

func (r *RedisSink) Close() error {
	return r.client.Close()
}
