package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	goredis "github.com/redis/go-redis/v9"

	"github.com/usd-asset-library/backend/internal/domain"
	"github.com/usd-asset-library/backend/internal/pkg/logger"
)

const DefaultLockChannel = "asset-locks"

type LockEventBus interface {
	Publish(ctx context.Context, ev domain.LockEvent) error
	// Subscribe delivers events to onEvent until ctx is done.
	Subscribe(ctx context.Context, onEvent func(ev domain.LockEvent)) error
}

type lockEventBus struct {
	log     *logger.Logger
	rdb     *goredis.Client
	channel string
}

func NewLockEventBus(log *logger.Logger, rdb *goredis.Client, channel string) (LockEventBus, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if rdb == nil {
		return nil, fmt.Errorf("redis client required")
	}
	channel = strings.TrimSpace(channel)
	if channel == "" {
		channel = DefaultLockChannel
	}
	return &lockEventBus{
		log:     log.With("service", "RedisLockEventBus"),
		rdb:     rdb,
		channel: channel,
	}, nil
}

func (b *lockEventBus) Publish(ctx context.Context, ev domain.LockEvent) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, b.channel, raw).Err()
}

func (b *lockEventBus) Subscribe(ctx context.Context, onEvent func(ev domain.LockEvent)) error {
	if onEvent == nil {
		return fmt.Errorf("onEvent callback required")
	}

	sub := b.rdb.Subscribe(ctx, b.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}

	go func() {
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					_ = sub.Close()
					return
				}
				ev, err := decodeLockEvent(m.Payload)
				if err != nil {
					b.log.Warn("bad redis lock event payload", "error", err)
					continue
				}
				onEvent(ev)
			}
		}
	}()

	return nil
}

func decodeLockEvent(payload string) (domain.LockEvent, error) {
	var ev domain.LockEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return ev, err
	}
	if ev.AssetName == "" || ev.Action == "" {
		return ev, fmt.Errorf("lock event missing asset or action")
	}
	return ev, nil
}
