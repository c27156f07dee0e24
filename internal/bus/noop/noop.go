// Package noop 提供一个空操作的消息总线实现
package noop

import (
	"context"
	"sync"

	"gorelay/internal/bus"
)

// NoopBus 是一个空操作的消息总线实现，直接丢弃消息
// 适用于单节点模式，不需要跨节点通信
type NoopBus struct {
	mu     sync.Mutex
	closed bool
	subs   map[string]chan []byte
}

// New 创建一个新的NoopBus实例
func New() *NoopBus {
	return &NoopBus{subs: make(map[string]chan []byte)}
}

// Name 实现MessageBus.Name
func (n *NoopBus) Name() string {
	return "noop"
}

// Publish 实现MessageBus.Publish，实际上不做任何事情
func (n *NoopBus) Publish(ctx context.Context, topic string, data []byte) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return bus.ErrBusClosed
	}
	if topic == "" {
		return bus.ErrTopicEmpty
	}
	return nil
}

// Subscribe 实现MessageBus.Subscribe，返回的通道不会收到任何消息，
// 直到ctx结束、取消订阅或总线关闭时被关闭
func (n *NoopBus) Subscribe(ctx context.Context, topic string) (<-chan []byte, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return nil, bus.ErrBusClosed
	}
	if topic == "" {
		return nil, bus.ErrTopicEmpty
	}

	n.unsubscribeLocked(topic)
	ch := make(chan []byte)
	n.subs[topic] = ch

	go func() {
		<-ctx.Done()
		n.mu.Lock()
		defer n.mu.Unlock()
		if n.subs[topic] == ch {
			n.unsubscribeLocked(topic)
		}
	}()
	return ch, nil
}

// Unsubscribe 实现MessageBus.Unsubscribe
func (n *NoopBus) Unsubscribe(topic string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if topic == "" {
		return bus.ErrTopicEmpty
	}
	n.unsubscribeLocked(topic)
	return nil
}

func (n *NoopBus) unsubscribeLocked(topic string) {
	if ch, ok := n.subs[topic]; ok {
		close(ch)
		delete(n.subs, topic)
	}
}

// Close 实现MessageBus.Close，标记为已关闭
func (n *NoopBus) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return nil
	}
	n.closed = true
	for topic := range n.subs {
		n.unsubscribeLocked(topic)
	}
	return nil
}

// 确保NoopBus实现了MessageBus接口
var _ bus.MessageBus = (*NoopBus)(nil)
