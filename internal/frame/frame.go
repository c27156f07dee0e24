// Package frame 定义连接上收发的消息帧模型
package frame

import "fmt"

// Kind 帧类型
type Kind int

const (
	KindText Kind = iota + 1
	KindBinary
	KindPing
	KindPong
	KindClose
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindBinary:
		return "binary"
	case KindPing:
		return "ping"
	case KindPong:
		return "pong"
	case KindClose:
		return "close"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Frame 是一个封闭的帧变体集合，只有本包中的类型可以实现它
type Frame interface {
	Kind() Kind
	isFrame()
}

// Text UTF-8 文本帧
type Text struct {
	Payload string
}

// Binary 二进制帧
type Binary struct {
	Data []byte
}

// Ping 控制帧
type Ping struct {
	Data []byte
}

// Pong 控制帧
type Pong struct {
	Data []byte
}

// Close 关闭帧，Code为0表示对端没有给出状态码
type Close struct {
	Code   int
	Reason string
}

func (Text) Kind() Kind   { return KindText }
func (Binary) Kind() Kind { return KindBinary }
func (Ping) Kind() Kind   { return KindPing }
func (Pong) Kind() Kind   { return KindPong }
func (Close) Kind() Kind  { return KindClose }

func (Text) isFrame()   {}
func (Binary) isFrame() {}
func (Ping) isFrame()   {}
func (Pong) isFrame()   {}
func (Close) isFrame()  {}

// Size 返回帧负载的字节数
func Size(f Frame) int {
	switch v := f.(type) {
	case Text:
		return len(v.Payload)
	case Binary:
		return len(v.Data)
	case Ping:
		return len(v.Data)
	case Pong:
		return len(v.Data)
	case Close:
		return len(v.Reason)
	default:
		panic(fmt.Sprintf("frame: unknown variant %T", f))
	}
}
