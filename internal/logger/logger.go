// Package logger 根据配置构建 slog 日志器，文件输出按大小轮转
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// RotateConfig 文件轮转参数，仅在输出为文件时生效
type RotateConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb" json:"max_size_mb"`
	MaxBackups int  `mapstructure:"max_backups" json:"max_backups"`
	MaxAgeDays int  `mapstructure:"max_age_days" json:"max_age_days"`
	Compress   bool `mapstructure:"compress" json:"compress"`
}

type Config struct {
	Level  string       `mapstructure:"level" json:"level"`
	Format string       `mapstructure:"format" json:"format"` // text 或 json
	Output string       `mapstructure:"output" json:"output"` // stdout、stderr 或文件路径
	Rotate RotateConfig `mapstructure:"rotate" json:"rotate"`
}

func DefaultConfig() Config {
	return Config{
		Level:  "info",
		Format: "text",
		Output: "stdout",
		Rotate: RotateConfig{
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 7,
		},
	}
}

// Logger 日志器及其可动态调整的级别
type Logger struct {
	*slog.Logger
	Level  *slog.LevelVar
	closer io.Closer
}

// New 创建日志器，输出为文件时需要调用 Close
func New(cfg Config) (*Logger, error) {
	w, closer, err := openOutput(cfg)
	if err != nil {
		return nil, fmt.Errorf("open log output: %w", err)
	}

	level := new(slog.LevelVar)
	level.Set(ParseLevel(cfg.Level))
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}

	return &Logger{
		Logger: slog.New(handler),
		Level:  level,
		closer: closer,
	}, nil
}

// SetLevel 按名称调整级别
func (l *Logger) SetLevel(name string) {
	l.Level.Set(ParseLevel(name))
}

func (l *Logger) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

// ParseLevel 解析日志级别，无法识别时为 info
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func openOutput(cfg Config) (io.Writer, io.Closer, error) {
	switch strings.ToLower(cfg.Output) {
	case "stdout", "":
		return os.Stdout, nil, nil
	case "stderr":
		return os.Stderr, nil, nil
	}

	f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, nil, err
	}
	_ = f.Close()

	w := &lumberjack.Logger{
		Filename:   cfg.Output,
		MaxSize:    cfg.Rotate.MaxSizeMB,
		MaxBackups: cfg.Rotate.MaxBackups,
		MaxAge:     cfg.Rotate.MaxAgeDays,
		Compress:   cfg.Rotate.Compress,
	}
	return w, w, nil
}
