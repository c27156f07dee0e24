package session

import (
	"context"
	"fmt"

	"gorelay/internal/frame"
	"gorelay/internal/hub"
	"gorelay/internal/metrics"

	"golang.org/x/time/rate"
)

// FormatChat 转发的聊天消息格式
func FormatChat(id, text string) string {
	return fmt.Sprintf("[%s]: %s", id, text)
}

// Reader 读任务：读取入站帧并分类处理，从不向连接写入
type Reader struct {
	publisher hub.Publisher // nil表示自驱动模式，文本只记录不转发
	limit     rate.Limit
	burst     int
}

// NewReader 创建读任务，publishRate<=0表示不限流
func NewReader(publisher hub.Publisher, publishRate float64, burst int) *Reader {
	r := &Reader{publisher: publisher, limit: rate.Inf, burst: burst}
	if publishRate > 0 {
		r.limit = rate.Limit(publishRate)
		if r.burst <= 0 {
			r.burst = 1
		}
	}
	return r
}

// Run 循环读取直到收到关闭帧或读取失败
func (r *Reader) Run(ctx context.Context, s *Session) error {
	limiter := rate.NewLimiter(r.limit, r.burst)

	for {
		f, err := s.src.ReadFrame(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
		metrics.FrameReceived(f.Kind().String(), frame.Size(f))

		switch v := f.(type) {
		case frame.Text:
			r.handleText(s, v.Payload, limiter)
		case frame.Binary:
			s.log.Debug("binary frame received", "bytes", len(v.Data))
		case frame.Ping:
			s.log.Debug("ping received", "bytes", len(v.Data))
		case frame.Pong:
			s.log.Debug("pong received", "bytes", len(v.Data))
		case frame.Close:
			s.log.Info("close frame received", "code", v.Code, "reason", v.Reason)
			return nil
		default:
			panic(fmt.Sprintf("session: unhandled frame %T", f))
		}
	}
}

func (r *Reader) handleText(s *Session, text string, limiter *rate.Limiter) {
	if r.publisher == nil {
		s.log.Info("text received", "text", text)
		return
	}
	if !limiter.Allow() {
		metrics.MessageThrottled()
		s.log.Warn("publish rate exceeded, dropping message", "bytes", len(text))
		return
	}
	r.publisher.Publish(FormatChat(s.id, text))
}
