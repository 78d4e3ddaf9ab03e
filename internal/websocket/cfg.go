// Package websocket 提供WebSocket连接抽象
package websocket

import "time"

// Config 定义WebSocket连接的配置选项
type Config struct {
	HandshakeTimeout  time.Duration `mapstructure:"handshake_timeout" json:"handshake_timeout"` // 升级握手超时
	WriteTimeout      time.Duration `mapstructure:"write_timeout" json:"write_timeout"`         // 单次写入超时
	ReadBufferSize    int           `mapstructure:"read_buffer_size" json:"read_buffer_size"`
	WriteBufferSize   int           `mapstructure:"write_buffer_size" json:"write_buffer_size"`
	EnableCompression bool          `mapstructure:"enable_compression" json:"enable_compression"`
}

// DefaultConfig 返回默认的WebSocket配置
func DefaultConfig() Config {
	return Config{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     10 * time.Second,
		ReadBufferSize:   4 << 10, // 4KB
		WriteBufferSize:  4 << 10, // 4KB
	}
}
