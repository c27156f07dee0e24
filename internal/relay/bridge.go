// Package relay 在本地Hub和跨节点消息总线之间转发聊天消息
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"gorelay/internal/bus"
	"gorelay/internal/hub"
	"gorelay/internal/metrics"
	"gorelay/internal/utils"
)

var (
	ErrBadEnvelope   = errors.New("relay: bad envelope")
	ErrBridgeStarted = errors.New("relay: bridge already started")
)

// DefaultTopic 默认总线主题
const DefaultTopic = "relay"

// Config 桥接配置
type Config struct {
	Topic          string        `mapstructure:"topic" json:"topic"`
	NodeID         string        `mapstructure:"node_id" json:"node_id"`
	DedupTTL       time.Duration `mapstructure:"dedup_ttl" json:"dedup_ttl"`
	PublishTimeout time.Duration `mapstructure:"publish_timeout" json:"publish_timeout"`
	QueueSize      int           `mapstructure:"queue_size" json:"queue_size"`
	Subscribe      utils.Backoff `mapstructure:"subscribe" json:"subscribe"`
}

// DefaultConfig 返回默认桥接配置
func DefaultConfig() Config {
	return Config{
		Topic:          DefaultTopic,
		DedupTTL:       DefaultDedupTTL,
		PublishTimeout: time.Second,
		QueueSize:      256,
		Subscribe:      utils.DefaultBackoff(),
	}
}

// Bridge 把本地发布的消息封装成Envelope发送到总线，并把其他节点的消息发布到本地Hub。
// Bridge实现hub.Publisher，Reader通过它发布时不需要感知集群。
type Bridge struct {
	hub   *hub.Hub
	bus   bus.MessageBus
	cfg   Config
	dedup *Deduplicator

	outbound chan Envelope
	ready    chan struct{}
	started  atomic.Bool
	closed   atomic.Bool

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

var _ hub.Publisher = (*Bridge)(nil)

// New 创建Bridge，需调用Start后才开始转发
func New(h *hub.Hub, b bus.MessageBus, cfg Config) *Bridge {
	def := DefaultConfig()
	if cfg.Topic == "" {
		cfg.Topic = def.Topic
	}
	if cfg.NodeID == "" {
		cfg.NodeID = generateNodeID()
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = def.PublishTimeout
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}

	return &Bridge{
		hub:      h,
		bus:      b,
		cfg:      cfg,
		dedup:    NewDeduplicator(cfg.NodeID, cfg.DedupTTL),
		outbound: make(chan Envelope, cfg.QueueSize),
		ready:    make(chan struct{}),
	}
}

func generateNodeID() string {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return fmt.Sprintf("%s-%d-%x", hostname, os.Getpid(), time.Now().UnixNano())
}

// NodeID 返回本节点ID
func (b *Bridge) NodeID() string {
	return b.cfg.NodeID
}

// Ready 在首次成功订阅总线后关闭
func (b *Bridge) Ready() <-chan struct{} {
	return b.ready
}

// Start 启动订阅与发布协程，立即返回
func (b *Bridge) Start(ctx context.Context) error {
	if !b.started.CompareAndSwap(false, true) {
		return ErrBridgeStarted
	}

	ctx, b.cancel = context.WithCancel(ctx)
	b.wg.Add(2)
	go func() {
		defer b.wg.Done()
		b.subscribeLoop(ctx)
	}()
	go func() {
		defer b.wg.Done()
		b.publishLoop(ctx)
	}()

	slog.Info("relay bridge started", "node_id", b.cfg.NodeID, "bus", b.bus.Name(), "topic", b.cfg.Topic)
	return nil
}

// Publish 发布到本地Hub并排队发送到总线，从不阻塞。
// 队列已满时丢弃总线副本，本地投递不受影响。
func (b *Bridge) Publish(msg string) {
	b.hub.Publish(msg)

	if b.closed.Load() {
		return
	}

	env := Envelope{ID: b.dedup.NextID(), Payload: msg, SentAt: time.Now()}
	select {
	case b.outbound <- env:
	default:
		slog.Warn("relay outbound queue full, dropping bus copy", "id", env.ID.String())
		metrics.BusPublishError(b.bus.Name())
	}
}

func (b *Bridge) publishLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-b.outbound:
			b.send(ctx, env)
		}
	}
}

func (b *Bridge) send(ctx context.Context, env Envelope) {
	data, err := env.Marshal()
	if err != nil {
		slog.Error("failed to marshal envelope", "id", env.ID.String(), "error", err)
		metrics.RecordError()
		return
	}

	pubCtx, cancel := context.WithTimeout(ctx, b.cfg.PublishTimeout)
	defer cancel()

	if err := b.bus.Publish(pubCtx, b.cfg.Topic, data); err != nil {
		slog.Warn("failed to publish to bus", "id", env.ID.String(), "bus", b.bus.Name(), "error", err)
		return
	}
	slog.Debug("published to bus", "id", env.ID.String())
}

func (b *Bridge) subscribeLoop(ctx context.Context) {
	var readyOnce sync.Once

	for {
		var ch <-chan []byte
		err := utils.RetryWithBackoff(ctx, "relay_bus_subscribe", b.cfg.Subscribe, func(ctx context.Context) error {
			var err error
			ch, err = b.bus.Subscribe(ctx, b.cfg.Topic)
			return err
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("failed to subscribe to bus after retries, remote messages won't be received", "bus", b.bus.Name(), "error", err)
			metrics.RecordCriticalError("relay_subscribe")
			return
		}
		readyOnce.Do(func() { close(b.ready) })

		if !b.consume(ctx, ch) {
			return
		}

		slog.Info("bus subscription closed, resubscribing", "bus", b.bus.Name(), "topic", b.cfg.Topic)
		select {
		case <-ctx.Done():
			return
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// consume 处理总线消息，通道关闭时返回true，ctx结束时返回false
func (b *Bridge) consume(ctx context.Context, ch <-chan []byte) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case data, ok := <-ch:
			if !ok {
				return true
			}
			b.deliver(data)
		}
	}
}

// deliver 把远端消息发布到本地Hub，本节点和重复的消息被丢弃
func (b *Bridge) deliver(data []byte) {
	env, err := UnmarshalEnvelope(data)
	if err != nil {
		slog.Warn("dropping undecodable bus message", "error", err)
		metrics.RecordError()
		return
	}
	if env.ID.NodeID == b.cfg.NodeID {
		return
	}
	if b.dedup.Seen(env.ID) {
		slog.Debug("ignoring duplicate bus message", "id", env.ID.String())
		metrics.BusDuplicate()
		return
	}

	b.hub.Publish(env.Payload)
	slog.Debug("relayed bus message", "id", env.ID.String(), "source_node", env.ID.NodeID, "latency_ms", time.Since(env.SentAt).Milliseconds())
}

// Close 停止转发并取消总线订阅，不关闭总线和Hub
func (b *Bridge) Close() error {
	var err error
	b.closeOnce.Do(func() {
		b.closed.Store(true)
		if b.cancel != nil {
			b.cancel()
		}
		b.wg.Wait()
		err = b.bus.Unsubscribe(b.cfg.Topic)
		if errors.Is(err, bus.ErrBusClosed) {
			err = nil
		}
		slog.Info("relay bridge stopped", "node_id", b.cfg.NodeID)
	})
	return err
}
