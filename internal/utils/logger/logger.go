package logger

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

type contextKey string

// LoggerKey is the context key the logger is stored under.
const LoggerKey = contextKey("logger")

var (
	mu           sync.RWMutex
	globalLogger *zap.SugaredLogger
)

// ParseLevel maps a configured level name to a zap level. Unknown or empty
// names fall back to info.
// ParseLevel 将配置中的级别名映射为 zap 级别，未知名称回退为 info。
func ParseLevel(name string) zapcore.Level {
	lvl, err := zapcore.ParseLevel(strings.ToLower(strings.TrimSpace(name)))
	if err != nil {
		return zapcore.InfoLevel
	}
	return lvl
}

// New builds a sugared logger writing to w, or to a rotating file when
// cfg enables one.
// New 构建日志记录器：启用文件时写入轮转文件，否则写入 w。
func New(cfg LoggingConfig, w io.Writer) (*zap.SugaredLogger, error) {
	sink := zapcore.AddSync(w)
	if cfg.Enabled && cfg.Path != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
			return nil, err
		}
		sink = zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.Path,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		})
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder := zapcore.NewConsoleEncoder(encoderConfig)

	core := zapcore.NewCore(encoder, sink, ParseLevel(cfg.Level))
	return zap.New(core, zap.AddCaller()).Sugar(), nil
}

// Init initializes the global logger based on configuration.
// Init 根据配置初始化全局日志记录器。
func Init(cfg LoggingConfig) {
	l, err := New(cfg, os.Stdout)
	if err != nil {
		// Fall back to stdout when the log directory cannot be created
		// 无法创建日志目录时回退到 stdout
		l, _ = New(LoggingConfig{Level: cfg.Level}, os.Stdout)
		l.Warnf("⚠️  [Log] Failed to open log file %s: %v", cfg.Path, err)
	}
	mu.Lock()
	globalLogger = l
	mu.Unlock()
	l.Infof("📝 [Log] Logging initialized (level %s, path %q)", ParseLevel(cfg.Level), cfg.Path)
}

// Sync flushes any buffered log entries.
// Sync 刷新所有缓存的日志条目。
func Sync() error {
	mu.RLock()
	l := globalLogger
	mu.RUnlock()
	if l != nil {
		return l.Sync()
	}
	return nil
}

// Get returns the logger from context or global logger
// Get 从 Context 或全局日志记录器返回 Logger。
func Get(ctx context.Context) *zap.SugaredLogger {
	if ctx != nil {
		if l, ok := ctx.Value(LoggerKey).(*zap.SugaredLogger); ok {
			return l
		}
	}
	mu.RLock()
	l := globalLogger
	mu.RUnlock()
	if l == nil {
		dev, err := zap.NewDevelopment()
		if err != nil {
			return zap.NewExample().Sugar()
		}
		return dev.Sugar()
	}
	return l
}

// WithContext adds logger to context
// WithContext 将 Logger 添加到 Context。
func WithContext(ctx context.Context, l *zap.SugaredLogger) context.Context {
	return context.WithValue(ctx, LoggerKey, l)
}
