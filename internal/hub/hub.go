// Package hub 提供进程内的有界广播Hub
//
// Hub内部是一个固定容量的环形缓冲区，每个订阅持有独立的读游标。
// 发布从不阻塞：缓冲区满时覆盖最旧的消息；读得太慢的订阅者会跳过
// 已被覆盖的消息，从仍保留的最旧消息继续读取。
package hub

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"gorelay/internal/metrics"
)

// DefaultCapacity 默认保留的消息条数
const DefaultCapacity = 100

var (
	ErrHubClosed          = errors.New("hub closed")
	ErrSubscriptionClosed = errors.New("subscription closed")
)

// Publisher 发布消息的一方只需要这个接口
type Publisher interface {
	Publish(msg string)
}

// Hub 多生产者多订阅者的广播通道
type Hub struct {
	mu      sync.RWMutex
	ring    []string
	tail    uint64        // 下一条消息的序号，也是已发布的总数
	notify  chan struct{} // 每次发布时关闭并替换，用于唤醒等待的订阅者
	closed  bool
	subs    map[uint64]*Subscription
	nextSub uint64
}

var _ Publisher = (*Hub)(nil)

// New 创建一个容量为capacity的Hub，capacity<=0时使用DefaultCapacity
func New(capacity int) *Hub {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Hub{
		ring:   make([]string, capacity),
		notify: make(chan struct{}),
		subs:   make(map[uint64]*Subscription),
	}
}

// Publish 向所有订阅者发布消息，从不阻塞也从不失败
func (h *Hub) Publish(msg string) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.ring[h.tail%uint64(len(h.ring))] = msg
	h.tail++
	h.wakeLocked()
	h.mu.Unlock()

	metrics.HubPublished()
}

// Subscribe 创建一个从当前位置开始的订阅，不会看到之前的消息
func (h *Hub) Subscribe() *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	s := &Subscription{hub: h, id: h.nextSub, next: h.tail}
	h.nextSub++
	if !h.closed {
		h.subs[s.id] = s
		metrics.HubSubscribers(len(h.subs))
	}
	return s
}

// Close 关闭Hub并唤醒所有阻塞的订阅者，可重复调用
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	close(h.notify)
	slog.Debug("hub closed", "published", h.tail, "subscribers", len(h.subs))
}

// SubscriberCount 当前注册的订阅数
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Published 已发布的消息总数
func (h *Hub) Published() uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.tail
}

// Capacity 环形缓冲区容量
func (h *Hub) Capacity() int {
	return len(h.ring)
}

// oldestLocked 返回仍保留的最旧消息序号，调用方需持有锁
func (h *Hub) oldestLocked() uint64 {
	size := uint64(len(h.ring))
	if h.tail <= size {
		return 0
	}
	return h.tail - size
}

// wakeLocked 唤醒所有等待者，调用方需持有写锁且Hub未关闭
func (h *Hub) wakeLocked() {
	close(h.notify)
	h.notify = make(chan struct{})
}

// Subscription Hub上的一个订阅，同一订阅只能由一个goroutine读取
type Subscription struct {
	hub    *Hub
	id     uint64
	next   uint64
	lagged atomic.Uint64
	closed atomic.Bool
}

// Receive 阻塞直到有新消息、ctx结束或Hub关闭
//
// 订阅者落后超过缓冲区容量时，未读的旧消息被丢弃，
// 本次调用返回仍保留的最旧消息，不返回错误。
// Hub关闭后先读完仍保留的消息，再返回ErrHubClosed。
func (s *Subscription) Receive(ctx context.Context) (string, error) {
	h := s.hub
	for {
		if s.closed.Load() {
			return "", ErrSubscriptionClosed
		}

		h.mu.RLock()
		if s.next < h.tail {
			var skipped uint64
			if oldest := h.oldestLocked(); s.next < oldest {
				skipped = oldest - s.next
				s.next = oldest
			}
			msg := h.ring[s.next%uint64(len(h.ring))]
			s.next++
			h.mu.RUnlock()

			if skipped > 0 {
				s.lagged.Add(skipped)
				metrics.HubLagged(skipped)
				slog.Debug("subscriber lagged, skipping messages", "subscription", s.id, "skipped", skipped)
			}
			return msg, nil
		}
		closed := h.closed
		wait := h.notify
		h.mu.RUnlock()

		if closed {
			return "", ErrHubClosed
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-wait:
		}
	}
}

// Lagged 因落后而跳过的消息总数
func (s *Subscription) Lagged() uint64 {
	return s.lagged.Load()
}

// Close 注销订阅并唤醒阻塞在Receive上的调用，可重复调用
func (s *Subscription) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}

	h := s.hub
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.subs, s.id)
	metrics.HubSubscribers(len(h.subs))
	if !h.closed {
		h.wakeLocked()
	}
}
