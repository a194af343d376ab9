package redis

import (
	"context"
	"os"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/convolab/lessonaudio/internal/platform/logger"
	"github.com/convolab/lessonaudio/internal/services"
)

func TestChannelFor(t *testing.T) {
	b := NewJobEventBusWithClient(nil, nil, "jobs:").(*jobEventBus)
	if got := b.ChannelFor("u1"); got != "jobs:u1" {
		t.Fatalf("ChannelFor(u1)=%s", got)
	}
	if got := b.ChannelFor(""); got != "jobs:*" {
		t.Fatalf("ChannelFor('')=%s", got)
	}
	if err := b.Publish(context.Background(), services.JobEvent{}); err == nil {
		t.Fatalf("expected error publishing without a client")
	}
}

func TestJobEventBusRoundTrip(t *testing.T) {
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}
	rdb := goredis.NewClient(&goredis.Options{Addr: addr})
	bus := NewJobEventBusWithClient(logger.NewNop(), rdb, "lessonaudio:test:"+t.Name())
	t.Cleanup(func() { _ = bus.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	got := make(chan services.JobEvent, 1)
	if err := bus.StartForwarder(ctx, "", func(ev services.JobEvent) { got <- ev }); err != nil {
		t.Fatalf("StartForwarder: %v", err)
	}
	want := services.JobEvent{Channel: "owner-1", Event: services.JobEventProgress, Data: map[string]any{"progress": float64(40)}}
	if err := bus.Publish(ctx, want); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	select {
	case ev := <-got:
		if ev.Event != want.Event || ev.Channel != "owner-1" || ev.Data["progress"] != float64(40) {
			t.Fatalf("unexpected event: %+v", ev)
		}
	case <-ctx.Done():
		t.Fatalf("timed out waiting for event")
	}
}
