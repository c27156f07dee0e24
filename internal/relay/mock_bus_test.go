package relay

import (
	"context"
	"errors"
	"sync"

	"gorelay/internal/bus"
)

var errSubscribeDown = errors.New("subscribe down")

// memBus 进程内的MessageBus，多个Bridge共享同一实例模拟集群
type memBus struct {
	mu             sync.Mutex
	subs           map[string][]chan []byte
	published      [][]byte
	failSubscribes int
	subscribeCalls int
	closed         bool
}

func newMemBus() *memBus {
	return &memBus{subs: make(map[string][]chan []byte)}
}

func (m *memBus) Name() string { return "mem" }

func (m *memBus) Publish(ctx context.Context, topic string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return bus.ErrBusClosed
	}
	if topic == "" {
		return bus.ErrTopicEmpty
	}
	m.published = append(m.published, data)
	for _, ch := range m.subs[topic] {
		select {
		case ch <- data:
		default:
		}
	}
	return nil
}

func (m *memBus) Subscribe(ctx context.Context, topic string) (<-chan []byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.subscribeCalls++
	if m.closed {
		return nil, bus.ErrBusClosed
	}
	if m.failSubscribes > 0 {
		m.failSubscribes--
		return nil, errSubscribeDown
	}

	ch := make(chan []byte, 64)
	m.subs[topic] = append(m.subs[topic], ch)
	go func() {
		<-ctx.Done()
		m.remove(topic, ch)
	}()
	return ch, nil
}

func (m *memBus) remove(topic string, target chan []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	chans := m.subs[topic]
	for i, ch := range chans {
		if ch == target {
			m.subs[topic] = append(chans[:i], chans[i+1:]...)
			close(ch)
			return
		}
	}
}

// inject 直接投递原始数据，模拟总线重复投递或异常数据
func (m *memBus) inject(topic string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.subs[topic] {
		ch <- data
	}
}

// dropSubscribers 关闭所有订阅通道，模拟总线断开
func (m *memBus) dropSubscribers(topic string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.subs[topic] {
		close(ch)
	}
	delete(m.subs, topic)
}

func (m *memBus) Unsubscribe(topic string) error {
	if topic == "" {
		return bus.ErrTopicEmpty
	}
	return nil
}

func (m *memBus) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *memBus) publishedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.published)
}

func (m *memBus) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.subscribeCalls
}

var _ bus.MessageBus = (*memBus)(nil)
