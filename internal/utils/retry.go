package utils

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Backoff 描述指数退避参数
type Backoff struct {
	MaxRetries int           `mapstructure:"max_retries"`
	Initial    time.Duration `mapstructure:"initial"`
	Max        time.Duration `mapstructure:"max"`
	// 每次重试后退避时间的倍数，<=1时使用1.5
	Factor float64 `mapstructure:"factor"`
}

// DefaultBackoff 默认退避参数
func DefaultBackoff() Backoff {
	return Backoff{
		MaxRetries: 5,
		Initial:    time.Second,
		Max:        time.Minute,
		Factor:     1.5,
	}
}

// Next 返回current之后的退避时间
func (b Backoff) Next(current time.Duration) time.Duration {
	factor := b.Factor
	if factor <= 1 {
		factor = 1.5
	}
	next := time.Duration(float64(current) * factor)
	if b.Max > 0 && next > b.Max {
		next = b.Max
	}
	return next
}

// RetryWithBackoff 执行operation，失败后按退避参数重试最多MaxRetries次。
// ctx结束时返回ctx.Err()，全部失败时返回包装了最后一次错误的error。
func RetryWithBackoff(ctx context.Context, operationName string, b Backoff, operation func(ctx context.Context) error) error {
	err := operation(ctx)
	if err == nil {
		return nil
	}
	if b.MaxRetries <= 0 {
		return fmt.Errorf("%s failed (no retries): %w", operationName, err)
	}

	wait := b.Initial
	for attempt := 1; attempt <= b.MaxRetries; attempt++ {
		slog.Debug("waiting before retry", "operation", operationName, "attempt", attempt, "backoff_ms", wait.Milliseconds(), "error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}

		if err = operation(ctx); err == nil {
			slog.Debug("operation successful after retry", "operation", operationName, "attempt", attempt)
			return nil
		}
		wait = b.Next(wait)
	}

	slog.Error("operation failed after all retries", "operation", operationName, "retries", b.MaxRetries, "error", err)
	return fmt.Errorf("%s failed after %d retries: %w", operationName, b.MaxRetries, err)
}
