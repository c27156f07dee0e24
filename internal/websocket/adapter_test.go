package websocket

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"gorelay/internal/frame"
	"gorelay/internal/session"

	"github.com/gorilla/websocket"
)

// newPair 启动一个测试服务器，返回服务端适配后的连接和客户端连接
func newPair(t *testing.T) (*GorillaConn, *websocket.Conn) {
	t.Helper()

	serverSide := make(chan *GorillaConn, 1)
	upgrader := NewUpgrader(DefaultConfig())
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		serverSide <- NewGorillaConn(c, DefaultConfig())
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	select {
	case g := <-serverSide:
		t.Cleanup(func() { g.Close() })
		return g, client
	case <-time.After(2 * time.Second):
		t.Fatal("server side not ready")
		return nil, nil
	}
}

func TestGorillaConn_TextRoundTrip(t *testing.T) {
	g, client := newPair(t)
	ctx := context.Background()

	if err := client.WriteMessage(websocket.TextMessage, []byte("hello")); err != nil {
		t.Fatalf("client write: %v", err)
	}
	f, err := g.ReadFrame(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if txt, ok := f.(frame.Text); !ok || txt.Payload != "hello" {
		t.Fatalf("got %#v, want text hello", f)
	}

	if err := g.WriteFrame(ctx, frame.Text{Payload: "world"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	mt, data, err := client.ReadMessage()
	if err != nil || mt != websocket.TextMessage || string(data) != "world" {
		t.Fatalf("client read = %d %q %v", mt, data, err)
	}
}

func TestGorillaConn_BinaryFrame(t *testing.T) {
	g, client := newPair(t)

	if err := client.WriteMessage(websocket.BinaryMessage, []byte{1, 2, 3}); err != nil {
		t.Fatalf("client write: %v", err)
	}
	f, err := g.ReadFrame(context.Background())
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if b, ok := f.(frame.Binary); !ok || len(b.Data) != 3 {
		t.Fatalf("got %#v, want 3-byte binary", f)
	}
}

// TestGorillaConn_PingSurfacedBeforeNextMessage ping帧按到达顺序先于后续数据帧交付
func TestGorillaConn_PingSurfacedBeforeNextMessage(t *testing.T) {
	g, client := newPair(t)

	if err := client.WriteControl(websocket.PingMessage, []byte("hb"), time.Now().Add(time.Second)); err != nil {
		t.Fatalf("client ping: %v", err)
	}
	if err := client.WriteMessage(websocket.TextMessage, []byte("after")); err != nil {
		t.Fatalf("client write: %v", err)
	}

	f, err := g.ReadFrame(context.Background())
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if p, ok := f.(frame.Ping); !ok || string(p.Data) != "hb" {
		t.Fatalf("got %#v, want ping hb", f)
	}
	f, err = g.ReadFrame(context.Background())
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if txt, ok := f.(frame.Text); !ok || txt.Payload != "after" {
		t.Fatalf("got %#v, want text after", f)
	}
}

func TestGorillaConn_PeerCloseFrame(t *testing.T) {
	g, client := newPair(t)

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")
	if err := client.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)); err != nil {
		t.Fatalf("client close: %v", err)
	}

	f, err := g.ReadFrame(context.Background())
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	c, ok := f.(frame.Close)
	if !ok || c.Code != websocket.CloseNormalClosure || c.Reason != "bye" {
		t.Fatalf("got %#v, want close 1000 bye", f)
	}
}

func TestGorillaConn_WriteAfterClose(t *testing.T) {
	g, _ := newPair(t)

	if err := g.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := g.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	err := g.WriteFrame(context.Background(), frame.Text{Payload: "late"})
	if !errors.Is(err, session.ErrConnClosed) {
		t.Fatalf("expected ErrConnClosed, got %v", err)
	}
}

func TestGorillaConn_CancelledContext(t *testing.T) {
	g, _ := newPair(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := g.ReadFrame(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("read: expected context.Canceled, got %v", err)
	}
	if err := g.WriteFrame(ctx, frame.Text{Payload: "x"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("write: expected context.Canceled, got %v", err)
	}
}

func TestNewUpgrader_CheckOrigin(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AllowedOrigins = []string{"https://chat.example.com"}
	u := NewUpgrader(cfg)

	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.Header.Set("Origin", "https://evil.example.com")
	if u.CheckOrigin(r) {
		t.Error("foreign origin accepted")
	}
	r.Header.Set("Origin", "https://chat.example.com")
	if !u.CheckOrigin(r) {
		t.Error("allowed origin rejected")
	}
}
