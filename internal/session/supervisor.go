package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"gorelay/internal/heartbeat"
	"gorelay/internal/hub"
	"gorelay/internal/metrics"

	"golang.org/x/sync/errgroup"
)

// Mode 写任务的消息来源
type Mode string

const (
	ModeFanout    Mode = "fanout"
	ModeHeartbeat Mode = "heartbeat"
)

var ErrUnknownMode = errors.New("unknown relay mode")

// ParseMode 解析模式字符串，空字符串视为fanout
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeFanout, "":
		return ModeFanout, nil
	case ModeHeartbeat:
		return ModeHeartbeat, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
	}
}

// Config 会话相关配置
type Config struct {
	Mode              Mode          `mapstructure:"mode" json:"mode"`
	Welcome           bool          `mapstructure:"welcome" json:"welcome"`
	HubCapacity       int           `mapstructure:"hub_capacity" json:"hub_capacity"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval" json:"heartbeat_interval"`
	MilestoneEvery    int           `mapstructure:"milestone_every" json:"milestone_every"`
	PublishRate       float64       `mapstructure:"publish_rate" json:"publish_rate"`
	PublishBurst      int           `mapstructure:"publish_burst" json:"publish_burst"`
}

func DefaultConfig() Config {
	return Config{
		Mode:              ModeFanout,
		Welcome:           true,
		HubCapacity:       hub.DefaultCapacity,
		HeartbeatInterval: heartbeat.DefaultInterval,
		MilestoneEvery:    DefaultMilestoneEvery,
		PublishRate:       0, // 不限流
		PublishBurst:      10,
	}
}

// Supervisor 为每个连接并发运行读写任务，并保证先结束的一方取消另一方
type Supervisor struct {
	mode   Mode
	hub    *hub.Hub
	reader *Reader
	writer Writer
	active atomic.Int64
	wg     sync.WaitGroup

	onClose func(*Session)
}

// NewSupervisor 根据配置选择写任务策略
//
// fan-out模式下h不能为nil；pub为nil时直接发布到h。
func NewSupervisor(cfg Config, h *hub.Hub, pub hub.Publisher) (*Supervisor, error) {
	mode, err := ParseMode(string(cfg.Mode))
	if err != nil {
		return nil, err
	}

	sv := &Supervisor{mode: mode, hub: h}
	switch mode {
	case ModeFanout:
		if h == nil {
			return nil, errors.New("fan-out mode requires a hub")
		}
		if pub == nil {
			pub = h
		}
		sv.reader = NewReader(pub, cfg.PublishRate, cfg.PublishBurst)
		sv.writer = FanoutWriter{Welcome: cfg.Welcome}
	case ModeHeartbeat:
		sv.reader = NewReader(nil, 0, 0)
		sv.writer = HeartbeatWriter{Interval: cfg.HeartbeatInterval, MilestoneEvery: cfg.MilestoneEvery}
	}
	return sv, nil
}

// OnClose 设置会话进入Closed之后的回调，需在Serve之前调用
func (sv *Supervisor) OnClose(fn func(*Session)) {
	sv.onClose = fn
}

// Mode 当前写任务模式
func (sv *Supervisor) Mode() Mode {
	return sv.mode
}

// Active 当前活跃的会话数
func (sv *Supervisor) Active() int64 {
	return sv.active.Load()
}

// Wait 等待所有会话结束
func (sv *Supervisor) Wait() {
	sv.wg.Wait()
}

// Serve 在conn上运行一个会话，直到读写任务都结束才返回
//
// 正常的结束（关闭帧、对端断开、ctx取消、Hub关闭）返回nil，
// 其余错误只用于记录，不会影响其他会话。
func (sv *Supervisor) Serve(ctx context.Context, conn Conn) error {
	sv.wg.Add(1)
	defer sv.wg.Done()

	var sub *hub.Subscription
	if sv.mode == ModeFanout {
		sub = sv.hub.Subscribe()
	}
	s := newSession(NewID(), conn, sub)

	sv.active.Add(1)
	metrics.SessionOpened()
	s.log.Info("session opened", "mode", sv.mode)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		first string
		once  sync.Once
	)
	// 第一个结束的任务负责进入Terminating并取消另一个：
	// 取消ctx唤醒等待Hub或tick的写任务，关闭连接唤醒阻塞在读取上的读任务
	finish := func(name string) {
		once.Do(func() {
			first = name
			s.setState(Terminating)
			cancel()
			if err := conn.Close(); err != nil {
				s.log.Debug("close connection", "error", err)
			}
		})
	}

	var g errgroup.Group
	g.Go(func() error {
		defer finish("reader")
		return sv.reader.Run(runCtx, s)
	})
	g.Go(func() error {
		defer finish("writer")
		return sv.writer.Run(runCtx, s)
	})
	err := g.Wait()

	if sub != nil {
		sub.Close()
	}
	s.setState(Closed)
	sv.active.Add(-1)
	lifetime := time.Since(s.created)
	metrics.SessionClosed(first, lifetime)
	if sv.onClose != nil {
		sv.onClose(s)
	}

	if err != nil && !isExpected(err) {
		metrics.RecordError()
		s.log.Warn("session closed with error", "first", first, "lifetime", lifetime, "error", err)
		return fmt.Errorf("session %s: %w", s.id, err)
	}
	s.log.Info("session closed", "first", first, "lifetime", lifetime)
	return nil
}

func isExpected(err error) bool {
	return errors.Is(err, ErrConnClosed) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, hub.ErrHubClosed) ||
		errors.Is(err, hub.ErrSubscriptionClosed) ||
		errors.Is(err, heartbeat.ErrStopped)
}
