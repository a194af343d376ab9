package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/convolab/lessonaudio/internal/platform/envutil"
	"github.com/convolab/lessonaudio/internal/platform/logger"
	"github.com/convolab/lessonaudio/internal/services"
)

// JobEventBus fans job lifecycle events out over Redis pub/sub. Events for one
// owner go to "<prefix>:<owner>", so a subscriber may follow a single user or
// every user with a pattern subscription.
type JobEventBus interface {
	services.JobEventPublisher
	StartForwarder(ctx context.Context, channel string, onEvent func(ev services.JobEvent)) error
	Client() goredis.UniversalClient
	Close() error
}

type jobEventBus struct {
	log    *logger.Logger
	rdb    goredis.UniversalClient
	prefix string
}

// NewJobEventBus connects using REDIS_ADDR and pings before returning.
func NewJobEventBus(log *logger.Logger) (JobEventBus, error) {
	addr := envutil.String("REDIS_ADDR", "")
	if addr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		Password:    envutil.String("REDIS_PASSWORD", ""),
		DB:          envutil.Int("REDIS_DB", 0),
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewJobEventBusWithClient(log, rdb, envutil.String("REDIS_CHANNEL", "lessonaudio:jobs")), nil
}

func NewJobEventBusWithClient(log *logger.Logger, rdb goredis.UniversalClient, prefix string) JobEventBus {
	prefix = strings.TrimRight(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = "lessonaudio:jobs"
	}
	return &jobEventBus{
		log:    logger.OrNop(log).With("service", "RedisJobEventBus"),
		rdb:    rdb,
		prefix: prefix,
	}
}

func (b *jobEventBus) Client() goredis.UniversalClient { return b.rdb }

// ChannelFor returns the pub/sub channel for owner, or the pattern matching
// all owners when owner is empty.
func (b *jobEventBus) ChannelFor(owner string) string {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return b.prefix + ":*"
	}
	return b.prefix + ":" + owner
}

func (b *jobEventBus) Publish(ctx context.Context, ev services.JobEvent) error {
	if b == nil || b.rdb == nil {
		return fmt.Errorf("redis job bus not initialized")
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, b.ChannelFor(ev.Channel), raw).Err()
}

// StartForwarder subscribes to channel (an owner id, or "" for everyone) and
// calls onEvent from a single goroutine until ctx is done.
func (b *jobEventBus) StartForwarder(ctx context.Context, channel string, onEvent func(ev services.JobEvent)) error {
	if b == nil || b.rdb == nil {
		return fmt.Errorf("redis job bus not initialized")
	}
	if onEvent == nil {
		return fmt.Errorf("onEvent callback required")
	}

	var sub *goredis.PubSub
	if name := b.ChannelFor(channel); strings.HasSuffix(name, "*") {
		sub = b.rdb.PSubscribe(ctx, name)
	} else {
		sub = b.rdb.Subscribe(ctx, name)
	}
	// wait for the subscription confirmation
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}

	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					return
				}
				var ev services.JobEvent
				if err := json.Unmarshal([]byte(m.Payload), &ev); err != nil {
					b.log.Warn("bad redis job event payload", "error", err)
					continue
				}
				onEvent(ev)
			}
		}
	}()
	return nil
}

func (b *jobEventBus) Close() error {
	if b == nil || b.rdb == nil {
		return nil
	}
	return b.rdb.Close()
}
