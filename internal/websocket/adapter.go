package websocket

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"syscall"
	"time"

	"gorelay/internal/frame"
	"gorelay/internal/session"

	"github.com/gorilla/websocket"
)

const closeGracePeriod = time.Second

// GorillaConn 适配gorilla/websocket到session.Conn接口
//
// gorilla在ReadMessage内部处理ping/pong，处理函数把它们记录下来，
// 在下一次ReadFrame时按到达顺序交给读任务。
type GorillaConn struct {
	conn      WSConn
	cfg       Config
	pending   []frame.Frame // 只在读goroutine中访问
	closeOnce sync.Once
	closeErr  error
}

// 确保GorillaConn实现了session.Conn接口
var _ session.Conn = (*GorillaConn)(nil)

// NewGorillaConn 包装一个已升级的连接
func NewGorillaConn(conn WSConn, cfg Config) *GorillaConn {
	g := &GorillaConn{conn: conn, cfg: cfg}
	if cfg.ReadLimit > 0 {
		conn.SetReadLimit(cfg.ReadLimit)
	}
	conn.SetPingHandler(func(data string) error {
		g.pending = append(g.pending, frame.Ping{Data: []byte(data)})
		// 与gorilla默认处理一致：回复pong，连接已关闭时忽略错误
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(closeGracePeriod))
		if err == nil || errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return nil
		}
		return err
	})
	conn.SetPongHandler(func(data string) error {
		g.pending = append(g.pending, frame.Pong{Data: []byte(data)})
		return nil
	})
	return g
}

// ReadFrame 读取下一帧，对端发送的关闭帧以frame.Close返回而不是错误
func (g *GorillaConn) ReadFrame(ctx context.Context) (frame.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f, ok := g.popPending(); ok {
		return f, nil
	}

	msgType, data, err := g.conn.ReadMessage()
	if err != nil {
		var ce *websocket.CloseError
		if errors.As(err, &ce) {
			g.pending = append(g.pending, frame.Close{Code: ce.Code, Reason: ce.Text})
			f, _ := g.popPending()
			return f, nil
		}
		return nil, classify(err)
	}

	switch msgType {
	case websocket.TextMessage:
		g.pending = append(g.pending, frame.Text{Payload: string(data)})
	case websocket.BinaryMessage:
		g.pending = append(g.pending, frame.Binary{Data: data})
	default:
		return nil, fmt.Errorf("unexpected message type %d", msgType)
	}
	f, _ := g.popPending()
	return f, nil
}

func (g *GorillaConn) popPending() (frame.Frame, bool) {
	if len(g.pending) == 0 {
		return nil, false
	}
	f := g.pending[0]
	g.pending[0] = nil
	g.pending = g.pending[1:]
	return f, true
}

// WriteFrame 写出一帧，只允许写任务调用
func (g *GorillaConn) WriteFrame(ctx context.Context, f frame.Frame) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var deadline time.Time
	if g.cfg.WriteTimeout > 0 {
		deadline = time.Now().Add(g.cfg.WriteTimeout)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}
	_ = g.conn.SetWriteDeadline(deadline)

	var err error
	switch v := f.(type) {
	case frame.Text:
		err = g.conn.WriteMessage(websocket.TextMessage, []byte(v.Payload))
	case frame.Binary:
		err = g.conn.WriteMessage(websocket.BinaryMessage, v.Data)
	case frame.Ping:
		err = g.conn.WriteControl(websocket.PingMessage, v.Data, deadline)
	case frame.Pong:
		err = g.conn.WriteControl(websocket.PongMessage, v.Data, deadline)
	case frame.Close:
		code := v.Code
		if code == 0 {
			code = websocket.CloseNormalClosure
		}
		err = g.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, v.Reason), deadline)
	default:
		panic(fmt.Sprintf("websocket: unhandled frame %T", f))
	}
	return classify(err)
}

// Close 发送正常关闭帧并关闭底层连接，只执行一次
func (g *GorillaConn) Close() error {
	g.closeOnce.Do(func() {
		_ = g.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(closeGracePeriod))
		g.closeErr = g.conn.Close()
	})
	return g.closeErr
}

// classify 把对端断开、本端已关闭之类的传输错误归一为session.ErrConnClosed
func classify(err error) error {
	if err == nil {
		return nil
	}
	var ce *websocket.CloseError
	if errors.As(err, &ce) ||
		errors.Is(err, websocket.ErrCloseSent) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNRESET) {
		return fmt.Errorf("%w: %v", session.ErrConnClosed, err)
	}
	return err
}
