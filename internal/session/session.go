// Package session 实现单个连接上的读写任务及其监督
//
// 每个连接对应一个Session：读任务独占入站一侧，写任务独占出站一侧，
// Supervisor并发运行两者，任意一个先结束就取消另一个。
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"gorelay/internal/frame"
	"gorelay/internal/hub"

	"github.com/google/uuid"
)

// ErrConnClosed 传输层已关闭（对端断开或本端关闭），属于正常的结束路径
var ErrConnClosed = errors.New("connection closed")

// Source 连接的入站一侧
type Source interface {
	ReadFrame(ctx context.Context) (frame.Frame, error)
}

// Sink 连接的出站一侧
type Sink interface {
	WriteFrame(ctx context.Context, f frame.Frame) error
}

// Conn 已完成升级的全双工连接
type Conn interface {
	Source
	Sink
	Close() error
}

// State 会话状态
type State int32

const (
	Active State = iota
	Terminating
	Closed
)

func (s State) String() string {
	switch s {
	case Active:
		return "active"
	case Terminating:
		return "terminating"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Session 一个连接的服务端状态
type Session struct {
	id      string
	src     Source
	sink    Sink
	sub     *hub.Subscription // 仅fan-out模式
	state   atomic.Int32
	created time.Time
	log     *slog.Logger
}

// NewID 生成8位会话ID
func NewID() string {
	return uuid.New().String()[:8]
}

func newSession(id string, conn Conn, sub *hub.Subscription) *Session {
	return &Session{
		id:      id,
		src:     conn,
		sink:    conn,
		sub:     sub,
		created: time.Now(),
		log:     slog.With("session_id", id),
	}
}

// ID 会话ID
func (s *Session) ID() string {
	return s.id
}

// State 当前状态
func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
}

// Subscription fan-out模式下的Hub订阅，自驱动模式下为nil
func (s *Session) Subscription() *hub.Subscription {
	return s.sub
}
