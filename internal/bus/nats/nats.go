// Package nats 提供基于NATS core pub/sub的消息总线实现
package nats

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"gorelay/internal/bus"

	"github.com/nats-io/nats.go"
)

// Config NATS连接配置选项
type Config struct {
	// 连接地址，例如 nats://localhost:4222
	URLs []string `mapstructure:"urls"`

	// 连接名称，用于标识客户端
	Name string `mapstructure:"name"`

	ReconnectWait time.Duration `mapstructure:"reconnect_wait"`

	// 最大重连次数，-1表示无限重连
	MaxReconnects int `mapstructure:"max_reconnects"`

	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`

	// 订阅消息转发到调用方通道的超时
	OpTimeout time.Duration `mapstructure:"op_timeout"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		URLs:           []string{nats.DefaultURL},
		Name:           "gorelay",
		ReconnectWait:  2 * time.Second,
		MaxReconnects:  -1,
		ConnectTimeout: 5 * time.Second,
		OpTimeout:      500 * time.Millisecond,
	}
}

// NatsBus 基于NATS的消息总线实现
type NatsBus struct {
	conn       *nats.Conn
	cfg        Config
	mu         sync.Mutex
	closed     bool
	subs       map[string]*subscription
	reconnects atomic.Uint64
}

type subscription struct {
	sub  *nats.Subscription
	stop chan struct{}
	once sync.Once
}

func (s *subscription) close() {
	s.once.Do(func() {
		s.sub.Unsubscribe()
		close(s.stop)
	})
}

// New 连接NATS服务器并创建NatsBus
func New(cfg Config) (*NatsBus, error) {
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = DefaultConfig().OpTimeout
	}

	nb := &NatsBus{
		cfg:  cfg,
		subs: make(map[string]*subscription),
	}

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.Timeout(cfg.ConnectTimeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			nb.reconnects.Add(1)
			slog.Info("nats reconnected", "reconnects", nb.reconnects.Load())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			slog.Info("nats connection closed")
		}),
	}

	// 多个URL时客户端会依次尝试
	serverURL := nats.DefaultURL
	if len(cfg.URLs) > 0 {
		serverURL = strings.Join(cfg.URLs, ",")
	}

	nc, err := nats.Connect(serverURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	nb.conn = nc

	slog.Info("connected to nats", "urls", cfg.URLs)
	return nb, nil
}

// Name 实现MessageBus.Name
func (n *NatsBus) Name() string {
	return "nats"
}

// Reconnects 获取重连次数
func (n *NatsBus) Reconnects() uint64 {
	return n.reconnects.Load()
}

// Close 实现MessageBus.Close，关闭所有订阅和连接
func (n *NatsBus) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return nil
	}
	n.closed = true

	for topic, sub := range n.subs {
		sub.close()
		delete(n.subs, topic)
	}
	n.conn.Close()
	return nil
}

var _ bus.MessageBus = (*NatsBus)(nil)
