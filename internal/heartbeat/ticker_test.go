package heartbeat

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestTicker_SeqIncrementsByOne(t *testing.T) {
	tk := New(2 * time.Millisecond)
	defer tk.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	var prev Tick
	for i := 1; i <= 5; i++ {
		tick, err := tk.Next(ctx)
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if tick.Seq != uint64(i) {
			t.Fatalf("seq = %d, want %d", tick.Seq, i)
		}
		if i > 1 && tick.At.Before(prev.At) {
			t.Fatalf("tick time went backwards")
		}
		prev = tick
	}
}

func TestTicker_ContextCancel(t *testing.T) {
	tk := New(time.Hour)
	defer tk.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := tk.Next(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestTicker_StopIsFinal(t *testing.T) {
	tk := New(time.Millisecond)
	tk.Stop()
	tk.Stop()

	if _, err := tk.Next(context.Background()); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
}

func TestNew_DefaultInterval(t *testing.T) {
	tk := New(0)
	defer tk.Stop()
	if tk.Interval() != DefaultInterval {
		t.Errorf("interval = %v, want %v", tk.Interval(), DefaultInterval)
	}
}
