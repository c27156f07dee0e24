package nats

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gorelay/internal/bus"
	"gorelay/internal/metrics"

	"github.com/nats-io/nats.go"
)

// Publish 实现MessageBus.Publish，NATS core发布只写入客户端缓冲区
func (n *NatsBus) Publish(ctx context.Context, topic string, data []byte) error {
	n.mu.Lock()
	closed := n.closed
	n.mu.Unlock()

	if closed {
		return bus.ErrBusClosed
	}
	if topic == "" {
		return bus.ErrTopicEmpty
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := n.conn.Publish(topic, data); err != nil {
		metrics.BusPublishError(n.Name())
		return fmt.Errorf("%w: %v", bus.ErrPublishFailed, err)
	}
	return nil
}

// Subscribe 实现MessageBus.Subscribe，返回的通道在ctx结束、取消订阅或总线关闭时关闭
func (n *NatsBus) Subscribe(ctx context.Context, topic string) (<-chan []byte, error) {
	if topic == "" {
		return nil, bus.ErrTopicEmpty
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return nil, bus.ErrBusClosed
	}
	if old, ok := n.subs[topic]; ok {
		old.close()
		delete(n.subs, topic)
	}

	msgCh := make(chan *nats.Msg, 100)
	natsSub, err := n.conn.ChanSubscribe(topic, msgCh)
	if err != nil {
		return nil, fmt.Errorf("nats subscribe %s: %w", topic, err)
	}
	// 等待服务器处理SUB，之后的发布一定能被收到
	if err := n.conn.Flush(); err != nil {
		natsSub.Unsubscribe()
		return nil, fmt.Errorf("nats flush: %w", err)
	}

	sub := &subscription{sub: natsSub, stop: make(chan struct{})}
	n.subs[topic] = sub

	outCh := make(chan []byte, 100)
	go n.forward(ctx, topic, sub, msgCh, outCh)
	return outCh, nil
}

func (n *NatsBus) forward(ctx context.Context, topic string, sub *subscription, msgCh <-chan *nats.Msg, outCh chan<- []byte) {
	defer close(outCh)
	defer func() {
		n.mu.Lock()
		if n.subs[topic] == sub {
			delete(n.subs, topic)
		}
		n.mu.Unlock()
		sub.close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.stop:
			return
		case msg := <-msgCh:
			metrics.BusReceived(n.Name())

			select {
			case outCh <- msg.Data:
			case <-ctx.Done():
				return
			case <-sub.stop:
				return
			case <-time.After(n.cfg.OpTimeout):
				slog.Warn("timeout sending message to subscriber channel", "topic", topic)
				metrics.RecordError()
			}
		}
	}
}

// Unsubscribe 实现MessageBus.Unsubscribe
func (n *NatsBus) Unsubscribe(topic string) error {
	if topic == "" {
		return bus.ErrTopicEmpty
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if sub, ok := n.subs[topic]; ok {
		sub.close()
		delete(n.subs, topic)
	}
	return nil
}
