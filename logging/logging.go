// Package logging provides named zap loggers shared by every BenOr-Engine package.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config selects the log level and encoding.
type Config struct {
	// Level is one of debug, info, warn, error. Defaults to info.
	Level string `mapstructure:"level" json:"level"`
	// Format is console or json. Defaults to console.
	Format string `mapstructure:"format" json:"format"`
	// Writer is the log sink. Defaults to os.Stderr.
	Writer io.Writer `mapstructure:"-" json:"-"`
}

var (
	mu   sync.RWMutex
	root = mustBuild(Config{})
)

// Init replaces the process-wide logger. Loggers obtained earlier keep their old core.
func Init(c Config) error {
	logger, err := build(c)
	if err != nil {
		return err
	}
	mu.Lock()
	root = logger
	mu.Unlock()
	return nil
}

// MustGetLogger returns a named logger backed by the current root logger.
func MustGetLogger(name string) *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return root.Named(name).Sugar()
}

// Sync flushes buffered log entries.
func Sync() error {
	mu.RLock()
	defer mu.RUnlock()
	return root.Sync()
}

func build(c Config) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if c.Level != "" {
		l, err := zapcore.ParseLevel(strings.ToLower(c.Level))
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", c.Level, err)
		}
		level = l
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.NameKey = "name"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	switch strings.ToLower(c.Format) {
	case "", "console":
		encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	case "json":
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	default:
		return nil, fmt.Errorf("unknown log format %q", c.Format)
	}

	var sink io.Writer = os.Stderr
	if c.Writer != nil {
		sink = c.Writer
	}

	core := zapcore.NewCore(encoder, zapcore.Lock(zapcore.AddSync(sink)), zap.NewAtomicLevelAt(level))
	return zap.New(core), nil
}

func mustBuild(c Config) *zap.Logger {
	logger, err := build(c)
	if err != nil {
		panic(err)
	}
	return logger
}
