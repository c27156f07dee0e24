// Package bus 提供节点间消息传递机制
package bus

import (
	"context"
	"errors"
)

// 定义错误类型
var (
	ErrTopicEmpty    = errors.New("topic cannot be empty")
	ErrBusClosed     = errors.New("message bus is closed")
	ErrPublishFailed = errors.New("publish message failed")
)

// MessageBus 在节点间传播消息，投递是尽力而为的
type MessageBus interface {
	// Publish 发布消息到指定主题
	Publish(ctx context.Context, topic string, data []byte) error

	// Subscribe 订阅指定主题，返回接收channel；ctx结束或取消订阅后channel被关闭
	Subscribe(ctx context.Context, topic string) (<-chan []byte, error)

	// Unsubscribe 取消订阅主题
	Unsubscribe(topic string) error

	// Name 总线类型名，用于日志和指标
	Name() string

	Close() error
}
