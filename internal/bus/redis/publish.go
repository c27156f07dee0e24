package redis

import (
	"context"
	"fmt"

	"gorelay/internal/bus"
	"gorelay/internal/metrics"
)

// Publish 实现MessageBus.Publish，通过Redis PUBLISH发布消息
func (r *RedisBus) Publish(ctx context.Context, topic string, data []byte) error {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()

	if closed {
		return bus.ErrBusClosed
	}
	if topic == "" {
		return bus.ErrTopicEmpty
	}

	publishCtx, cancel := context.WithTimeout(ctx, r.cfg.OpTimeout)
	defer cancel()

	// 没有订阅者时PUBLISH返回0，不视为错误
	if err := r.client.Publish(publishCtx, r.formatKey(topic), data).Err(); err != nil {
		metrics.BusPublishError(r.Name())
		return fmt.Errorf("%w: %v", bus.ErrPublishFailed, err)
	}
	return nil
}

// Subscribe 实现MessageBus.Subscribe，返回前等待Redis确认订阅
func (r *RedisBus) Subscribe(ctx context.Context, topic string) (<-chan []byte, error) {
	if topic == "" {
		return nil, bus.ErrTopicEmpty
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, bus.ErrBusClosed
	}
	if old, ok := r.subs[topic]; ok {
		old.cancel()
	}
	subCtx, cancel := context.WithCancel(ctx)
	sub := &subscription{cancel: cancel}
	r.subs[topic] = sub
	r.mu.Unlock()

	pubsub, err := r.subscribe(subCtx, r.formatKey(topic))
	if err != nil {
		r.forget(topic, sub)
		cancel()
		return nil, err
	}

	outCh := make(chan []byte, 100)
	go func() {
		defer r.forget(topic, sub)
		r.subscribeRoutine(subCtx, pubsub, r.formatKey(topic), outCh)
	}()
	return outCh, nil
}

// Unsubscribe 实现MessageBus.Unsubscribe
func (r *RedisBus) Unsubscribe(topic string) error {
	if topic == "" {
		return bus.ErrTopicEmpty
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if sub, ok := r.subs[topic]; ok {
		sub.cancel()
		delete(r.subs, topic)
	}
	return nil
}

func (r *RedisBus) forget(topic string, sub *subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.subs[topic] == sub {
		delete(r.subs, topic)
	}
}
