package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorelay/internal/frame"
	"gorelay/internal/heartbeat"
	"gorelay/internal/metrics"
)

// DefaultMilestoneEvery 默认每多少条消息发送一次里程碑
const DefaultMilestoneEvery = 10

var ErrNoSubscription = errors.New("fan-out writer requires a hub subscription")

// Writer 写任务策略，是连接出站一侧唯一的写入者
type Writer interface {
	Run(ctx context.Context, s *Session) error
}

// WelcomeMessage 连接建立时发送的欢迎消息
func WelcomeMessage(id string) string {
	return "Welcome! Your id is: " + id
}

// HeartbeatMessage 自驱动模式每次tick发送的消息
func HeartbeatMessage(n uint64, at time.Time) string {
	return fmt.Sprintf("Message #%d - server time: %s", n, at.Format("15:04:05"))
}

// MilestoneMessage 每N条消息之后额外发送的消息
func MilestoneMessage(n uint64) string {
	return fmt.Sprintf("Milestone! %d messages sent", n)
}

func write(ctx context.Context, s *Session, text string) error {
	if err := s.sink.WriteFrame(ctx, frame.Text{Payload: text}); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	metrics.FrameSent()
	return nil
}

// FanoutWriter 从Hub订阅读取消息并写到连接
type FanoutWriter struct {
	Welcome bool
}

func (w FanoutWriter) Run(ctx context.Context, s *Session) error {
	if s.sub == nil {
		return ErrNoSubscription
	}

	if w.Welcome {
		if err := write(ctx, s, WelcomeMessage(s.id)); err != nil {
			return stopped(ctx, err)
		}
	}

	for {
		msg, err := s.sub.Receive(ctx)
		if err != nil {
			return stopped(ctx, err)
		}
		if err := write(ctx, s, msg); err != nil {
			return stopped(ctx, err)
		}
	}
}

// HeartbeatWriter 按固定间隔自行产生消息
type HeartbeatWriter struct {
	Interval       time.Duration
	MilestoneEvery int // <=0表示不发送里程碑
}

func (w HeartbeatWriter) Run(ctx context.Context, s *Session) error {
	ticker := heartbeat.New(w.Interval)
	defer ticker.Stop()

	for {
		tick, err := ticker.Next(ctx)
		if err != nil {
			return stopped(ctx, err)
		}

		if err := write(ctx, s, HeartbeatMessage(tick.Seq, tick.At)); err != nil {
			return stopped(ctx, err)
		}

		if w.MilestoneEvery > 0 && tick.Seq%uint64(w.MilestoneEvery) == 0 {
			if err := write(ctx, s, MilestoneMessage(tick.Seq)); err != nil {
				return stopped(ctx, err)
			}
			metrics.MilestoneSent()
			s.log.Debug("milestone sent", "count", tick.Seq)
		}
	}
}

// stopped 被取消之后产生的错误都只是取消的结果
func stopped(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return nil
	}
	return err
}
