package redis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gorelay/internal/metrics"

	"github.com/redis/go-redis/v9"
)

// subscribe 建立订阅并等待确认
func (r *RedisBus) subscribe(ctx context.Context, channel string) (*redis.PubSub, error) {
	pubsub := r.client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("redis subscribe %s: %w", channel, err)
	}
	return pubsub, nil
}

// subscribeRoutine 转发订阅消息，连接断开时按RetryInterval重新订阅，ctx结束时关闭outCh
func (r *RedisBus) subscribeRoutine(ctx context.Context, pubsub *redis.PubSub, channel string, outCh chan<- []byte) {
	defer close(outCh)

	for {
		r.forward(ctx, pubsub, channel, outCh)
		pubsub.Close()

		if ctx.Err() != nil {
			return
		}

		var err error
		for attempt := 1; ; attempt++ {
			select {
			case <-ctx.Done():
				return
			case <-time.After(r.cfg.RetryInterval):
			}

			r.reconnects.Add(1)
			pubsub, err = r.subscribe(ctx, channel)
			if err == nil {
				slog.Info("redis subscription recovered", "channel", channel, "attempts", attempt)
				break
			}
			slog.Warn("redis resubscribe failed", "channel", channel, "attempt", attempt, "error", err)
		}
	}
}

// forward 把消息写入outCh直到订阅通道关闭或ctx结束
func (r *RedisBus) forward(ctx context.Context, pubsub *redis.PubSub, channel string, outCh chan<- []byte) {
	msgCh := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgCh:
			if !ok {
				slog.Warn("redis subscription disconnected", "channel", channel)
				return
			}
			metrics.BusReceived(r.Name())

			select {
			case outCh <- []byte(msg.Payload):
			case <-ctx.Done():
				return
			case <-time.After(r.cfg.OpTimeout):
				slog.Warn("timeout sending message to subscriber channel", "channel", channel)
				metrics.RecordError()
			}
		}
	}
}
