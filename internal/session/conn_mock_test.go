package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"gorelay/internal/frame"
)

// mockConn 用于测试的连接模拟，in是待读取的帧，out记录写出的帧
type mockConn struct {
	in         chan frame.Frame
	readErr    chan error
	out        chan frame.Frame
	closed     chan struct{}
	once       sync.Once
	failWrites atomic.Bool
}

func newMockConn() *mockConn {
	return &mockConn{
		in:      make(chan frame.Frame, 16),
		readErr: make(chan error, 1),
		out:     make(chan frame.Frame, 1024),
		closed:  make(chan struct{}),
	}
}

func (m *mockConn) ReadFrame(ctx context.Context) (frame.Frame, error) {
	select {
	case f := <-m.in:
		return f, nil
	case err := <-m.readErr:
		return nil, err
	case <-m.closed:
		return nil, ErrConnClosed
	}
}

func (m *mockConn) WriteFrame(ctx context.Context, f frame.Frame) error {
	select {
	case <-m.closed:
		return ErrConnClosed
	default:
	}
	if m.failWrites.Load() {
		return fmt.Errorf("%w: broken pipe", ErrConnClosed)
	}
	select {
	case m.out <- f:
		return nil
	case <-m.closed:
		return ErrConnClosed
	}
}

func (m *mockConn) Close() error {
	m.once.Do(func() { close(m.closed) })
	return nil
}

func (m *mockConn) isClosed() bool {
	select {
	case <-m.closed:
		return true
	default:
		return false
	}
}

// nextText 读取下一条写出的文本帧
func (m *mockConn) nextText(t *testing.T) string {
	t.Helper()
	select {
	case f := <-m.out:
		txt, ok := f.(frame.Text)
		if !ok {
			t.Fatalf("expected text frame, got %T", f)
		}
		return txt.Payload
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for outbound frame")
		return ""
	}
}

// recordingPublisher 记录发布的消息
type recordingPublisher struct {
	mu   sync.Mutex
	msgs []string
}

func (p *recordingPublisher) Publish(msg string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, msg)
}

func (p *recordingPublisher) published() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.msgs...)
}

var errBoom = errors.New("boom")
