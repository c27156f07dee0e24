// Package redis 提供基于Redis的消息总线实现
package redis

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"gorelay/internal/bus"

	"github.com/redis/go-redis/v9"
)

// Config Redis连接配置选项
type Config struct {
	// 连接地址 (单机模式、集群模式或哨兵模式)
	Addrs []string `mapstructure:"addrs"`

	Password string `mapstructure:"password"`

	// 数据库编号 (仅单机模式和哨兵模式有效)
	DB int `mapstructure:"db"`

	// 哨兵模式的主节点名称
	MasterName string `mapstructure:"master_name"`

	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`

	// 订阅断开后的重连间隔
	RetryInterval time.Duration `mapstructure:"retry_interval"`
	MaxRetries    int           `mapstructure:"max_retries"`

	// 发布超时
	OpTimeout time.Duration `mapstructure:"op_timeout"`

	KeyPrefix string `mapstructure:"key_prefix"`

	// 模式: single(单机), sentinel(哨兵), cluster(集群)
	Mode string `mapstructure:"mode"`
}

// DefaultConfig 返回默认Redis配置
func DefaultConfig() Config {
	return Config{
		Addrs:         []string{"localhost:6379"},
		PoolSize:      10,
		MinIdleConns:  2,
		DialTimeout:   5 * time.Second,
		ReadTimeout:   3 * time.Second,
		WriteTimeout:  3 * time.Second,
		RetryInterval: 200 * time.Millisecond,
		MaxRetries:    3,
		OpTimeout:     500 * time.Millisecond,
		KeyPrefix:     "gorelay:",
		Mode:          "single",
	}
}

// RedisBus 基于Redis Pub/Sub的消息总线
type RedisBus struct {
	client     redis.UniversalClient
	cfg        Config
	mu         sync.Mutex
	closed     bool
	subs       map[string]*subscription
	reconnects atomic.Uint64
}

type subscription struct {
	cancel context.CancelFunc
}

// New 创建RedisBus并检查连通性
func New(cfg Config) (*RedisBus, error) {
	if len(cfg.Addrs) == 0 {
		cfg.Addrs = []string{"localhost:6379"}
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = DefaultConfig().OpTimeout
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = DefaultConfig().RetryInterval
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = DefaultConfig().DialTimeout
	}

	opts := &redis.UniversalOptions{
		Addrs:        cfg.Addrs,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		MaxRetries:   cfg.MaxRetries,
	}
	// 多个地址时NewUniversalClient返回集群客户端
	if cfg.Mode == "sentinel" {
		opts.MasterName = cfg.MasterName
	}
	client := redis.NewUniversalClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	slog.Info("connected to redis", "addrs", cfg.Addrs, "mode", cfg.Mode)
	return &RedisBus{
		client: client,
		cfg:    cfg,
		subs:   make(map[string]*subscription),
	}, nil
}

// Name 实现MessageBus.Name
func (r *RedisBus) Name() string {
	return "redis"
}

// Reconnects 返回订阅重连次数
func (r *RedisBus) Reconnects() uint64 {
	return r.reconnects.Load()
}

func (r *RedisBus) formatKey(topic string) string {
	return r.cfg.KeyPrefix + topic
}

// Close 实现MessageBus.Close，取消所有订阅并关闭连接
func (r *RedisBus) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	for topic, sub := range r.subs {
		sub.cancel()
		delete(r.subs, topic)
	}
	return r.client.Close()
}

var _ bus.MessageBus = (*RedisBus)(nil)
