// Package heartbeat 提供自驱动写任务使用的周期性tick源
package heartbeat

import (
	"context"
	"errors"
	"sync"
	"time"
)

// DefaultInterval 默认tick间隔
const DefaultInterval = 2 * time.Second

var ErrStopped = errors.New("heartbeat stopped")

// Tick 一次tick事件，Seq从1开始每次递增1
type Tick struct {
	Seq uint64
	At  time.Time
}

// Ticker 惰性的、无限的、不可重启的tick序列，只能由一个写任务持有
type Ticker struct {
	interval time.Duration
	t        *time.Ticker
	seq      uint64
	stop     sync.Once
	done     chan struct{}
}

// New 创建一个间隔为interval的Ticker，interval<=0时使用DefaultInterval
func New(interval time.Duration) *Ticker {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Ticker{
		interval: interval,
		t:        time.NewTicker(interval),
		done:     make(chan struct{}),
	}
}

// Next 等待下一次tick
//
// 调用方没来得及接收的tick不会累积，下一次Next直接等待最近的一次触发。
func (t *Ticker) Next(ctx context.Context) (Tick, error) {
	select {
	case <-t.done:
		return Tick{}, ErrStopped
	default:
	}

	select {
	case <-ctx.Done():
		return Tick{}, ctx.Err()
	case <-t.done:
		return Tick{}, ErrStopped
	case at := <-t.t.C:
		t.seq++
		return Tick{Seq: t.seq, At: at}, nil
	}
}

// Interval 返回tick间隔
func (t *Ticker) Interval() time.Duration {
	return t.interval
}

// Stop 结束tick序列，之后的Next返回ErrStopped
func (t *Ticker) Stop() {
	t.stop.Do(func() {
		t.t.Stop()
		close(t.done)
	})
}
