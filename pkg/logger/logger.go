package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Field is a structured log field
type Field = zap.Field

// Logger wraps zap.Logger with component and field helpers
type Logger struct {
	*zap.Logger
	config Config
}

// Config holds logger configuration
type Config struct {
	Level       string
	Format      string
	File        string
	MaxSize     int
	MaxBackups  int
	MaxAge      int
	Development bool
}

// New creates a new logger with the given configuration
func New(config Config) (*Logger, error) {
	level, err := zapcore.ParseLevel(config.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	core := zapcore.NewCore(newEncoder(config), getWriter(config), level)

	var zl *zap.Logger
	if config.Development {
		zl = zap.New(core, zap.Development(), zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	} else {
		zl = zap.New(core, zap.AddCaller())
	}

	return &Logger{
		Logger: zl,
		config: config,
	}, nil
}

// NewTestLogger returns a debug-level console logger writing to w.
// Tests use it to assert on emitted log lines.
func NewTestLogger(w io.Writer) *Logger {
	config := Config{Level: "debug", Format: "console"}
	core := zapcore.NewCore(newEncoder(config), zapcore.AddSync(w), zapcore.DebugLevel)
	return &Logger{
		Logger: zap.New(core),
		config: config,
	}
}

func newEncoder(config Config) zapcore.Encoder {
	encoderConfig := getEncoderConfig(config.Development)
	if config.Format == "json" {
		return zapcore.NewJSONEncoder(encoderConfig)
	}
	return zapcore.NewConsoleEncoder(encoderConfig)
}

// getEncoderConfig returns encoder configuration
func getEncoderConfig(development bool) zapcore.EncoderConfig {
	if development {
		return zap.NewDevelopmentEncoderConfig()
	}

	config := zap.NewProductionEncoderConfig()
	config.TimeKey = "timestamp"
	config.EncodeTime = zapcore.ISO8601TimeEncoder
	config.EncodeLevel = zapcore.CapitalLevelEncoder
	return config
}

// getWriter creates the appropriate writer based on configuration
func getWriter(config Config) zapcore.WriteSyncer {
	if config.File == "" {
		return zapcore.AddSync(os.Stdout)
	}

	dir := filepath.Dir(config.File)
	if err := os.MkdirAll(dir, 0755); err != nil {
		// Fallback to console if directory creation fails
		return zapcore.AddSync(os.Stdout)
	}

	fileWriter := &lumberjack.Logger{
		Filename:   config.File,
		MaxSize:    config.MaxSize, // MB
		MaxBackups: config.MaxBackups,
		MaxAge:     config.MaxAge, // days
		Compress:   true,
	}

	return zapcore.AddSync(io.MultiWriter(os.Stdout, fileWriter))
}

// Sync flushes any buffered log entries
func (l *Logger) Sync() {
	_ = l.Logger.Sync()
}

// WithFields returns a logger with additional fields
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	zapFields := make([]zap.Field, 0, len(fields))
	for key, value := range fields {
		zapFields = append(zapFields, zap.Any(key, value))
	}

	return &Logger{
		Logger: l.Logger.With(zapFields...),
		config: l.config,
	}
}

// WithComponent returns a logger with a component field
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		Logger: l.Logger.With(zap.String("component", component)),
		config: l.config,
	}
}

// WithProfile returns a logger tagged with a packetizer profile name
func (l *Logger) WithProfile(profile string) *Logger {
	return &Logger{
		Logger: l.Logger.With(zap.String("profile", profile)),
		config: l.config,
	}
}

// WithError returns a logger with an error field
func (l *Logger) WithError(err error) *Logger {
	return &Logger{
		Logger: l.Logger.With(zap.Error(err)),
		config: l.config,
	}
}

// Default creates a default logger for development
func Default() *Logger {
	config := Config{
		Level:       "info",
		Format:      "console",
		Development: true,
	}

	l, err := New(config)
	if err != nil {
		zapLogger, _ := zap.NewDevelopment()
		return &Logger{Logger: zapLogger, config: config}
	}

	return l
}

// Nop returns a logger that discards everything
func Nop() *Logger {
	return &Logger{Logger: zap.NewNop()}
}

// Convenience methods for common field types
func String(key, value string) Field {
	return zap.String(key, value)
}

func Int(key string, value int) Field {
	return zap.Int(key, value)
}

func Int64(key string, value int64) Field {
	return zap.Int64(key, value)
}

func Uint64(key string, value uint64) Field {
	return zap.Uint64(key, value)
}

func Uint32(key string, value uint32) Field {
	return zap.Uint32(key, value)
}

func Bool(key string, value bool) Field {
	return zap.Bool(key, value)
}

func Duration(key string, value time.Duration) Field {
	return zap.Duration(key, value)
}

func Any(key string, value interface{}) Field {
	return zap.Any(key, value)
}

// Hex logs a byte slice as a hex string
func Hex(key string, value []byte) Field {
	return zap.String(key, fmt.Sprintf("%x", value))
}

func Error(err error) Field {
	return zap.Error(err)
}
