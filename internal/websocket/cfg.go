// Package websocket 把gorilla/websocket连接适配为会话使用的帧流
package websocket

import (
	"net/http"
	"slices"
	"time"

	"github.com/gorilla/websocket"
)

// Config 定义WebSocket连接的配置选项
type Config struct {
	ReadLimit       int64         `mapstructure:"read_limit" json:"read_limit"`               // 单条入站消息最大字节数
	ReadBufferSize  int           `mapstructure:"read_buffer_size" json:"read_buffer_size"`   // 读取缓冲区大小
	WriteBufferSize int           `mapstructure:"write_buffer_size" json:"write_buffer_size"` // 写入缓冲区大小
	WriteTimeout    time.Duration `mapstructure:"write_timeout" json:"write_timeout"`         // 单帧写入超时
	AllowedOrigins  []string      `mapstructure:"allowed_origins" json:"allowed_origins"`     // 为空表示不检查来源
}

// DefaultConfig 返回默认的WebSocket配置
func DefaultConfig() Config {
	return Config{
		ReadLimit:       64 << 10, // 64KB
		ReadBufferSize:  4 << 10,  // 4KB
		WriteBufferSize: 4 << 10,  // 4KB
		WriteTimeout:    10 * time.Second,
	}
}

// NewUpgrader 根据配置创建HTTP到WebSocket的升级器
func NewUpgrader(cfg Config) *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  cfg.ReadBufferSize,
		WriteBufferSize: cfg.WriteBufferSize,
		CheckOrigin: func(r *http.Request) bool {
			if len(cfg.AllowedOrigins) == 0 {
				return true
			}
			return slices.Contains(cfg.AllowedOrigins, r.Header.Get("Origin"))
		},
	}
}
