package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
)

type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

var levelNames = map[LogLevel]string{
	LevelDebug: "DEBUG",
	LevelInfo:  "INFO",
	LevelWarn:  "WARN",
	LevelError: "ERROR",
	LevelFatal: "FATAL",
}

func (l LogLevel) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return "INFO"
}

// ParseLevel maps a level name to a LogLevel, defaulting to info.
func ParseLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	case "fatal":
		return LevelFatal
	default:
		return LevelInfo
	}
}

func (l LogLevel) slogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError, LevelFatal:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Options configures a Logger.
type Options struct {
	Level  LogLevel
	Format string // "text", "json" or "" (auto: text on a terminal, json otherwise)
	Output io.Writer
}

type Logger struct {
	levelVar *slog.LevelVar
	level    LogLevel
	slogger  *slog.Logger
}

func NewLogger(level LogLevel) *Logger {
	return New(Options{Level: level})
}

// New builds a printf-style logger on top of slog.
func New(opts Options) *Logger {
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	levelVar := new(slog.LevelVar)
	levelVar.Set(opts.Level.slogLevel())

	handlerOpts := &slog.HandlerOptions{Level: levelVar, AddSource: opts.Level == LevelDebug}
	var handler slog.Handler
	if useJSON(opts.Format, out) {
		handler = slog.NewJSONHandler(out, handlerOpts)
	} else {
		handler = slog.NewTextHandler(out, handlerOpts)
	}
	return &Logger{
		levelVar: levelVar,
		level:    opts.Level,
		slogger:  slog.New(handler),
	}
}

func useJSON(format string, out io.Writer) bool {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "json":
		return true
	case "text", "console":
		return false
	}
	f, ok := out.(*os.File)
	if !ok {
		return false
	}
	return !isatty.IsTerminal(f.Fd()) && !isatty.IsCygwinTerminal(f.Fd())
}

// SetLevel changes the minimum level at runtime.
func (l *Logger) SetLevel(level LogLevel) {
	l.level = level
	l.levelVar.Set(level.slogLevel())
}

// Slog exposes the underlying structured logger.
func (l *Logger) Slog() *slog.Logger {
	return l.slogger
}

func (l *Logger) Debug(format string, args ...interface{}) {
	l.log(LevelDebug, format, args...)
}

func (l *Logger) Info(format string, args ...interface{}) {
	l.log(LevelInfo, format, args...)
}

func (l *Logger) Warn(format string, args ...interface{}) {
	l.log(LevelWarn, format, args...)
}

func (l *Logger) Error(format string, args ...interface{}) {
	l.log(LevelError, format, args...)
}

// Fatal logs and exits the process.
func (l *Logger) Fatal(format string, args ...interface{}) {
	l.log(LevelFatal, format, args...)
	os.Exit(1)
}

func (l *Logger) log(level LogLevel, format string, args ...interface{}) {
	if level < l.level {
		return
	}
	ctx := context.Background()
	slevel := level.slogLevel()
	if !l.slogger.Enabled(ctx, slevel) {
		return
	}

	// skip runtime.Callers, log and the exported wrapper
	var pcs [1]uintptr
	runtime.Callers(3, pcs[:])
	record := slog.NewRecord(time.Now(), slevel, fmt.Sprintf(format, args...), pcs[0])
	if level == LevelFatal {
		record.AddAttrs(slog.Bool("fatal", true))
	}
	_ = l.slogger.Handler().Handle(ctx, record)
}

var (
	globalMu     sync.RWMutex
	globalLogger *Logger
)

// InitLogger replaces the process-wide logger.
func InitLogger(opts Options) {
	globalMu.Lock()
	globalLogger = New(opts)
	globalMu.Unlock()
}

func GetLogger() *Logger {
	globalMu.RLock()
	l := globalLogger
	globalMu.RUnlock()
	if l != nil {
		return l
	}

	globalMu.Lock()
	defer globalMu.Unlock()
	if globalLogger == nil {
		globalLogger = NewLogger(LevelInfo)
	}
	return globalLogger
}

// Convenience functions
func Debug(format string, args ...interface{}) {
	GetLogger().log(LevelDebug, format, args...)
}

func Info(format string, args ...interface{}) {
	GetLogger().log(LevelInfo, format, args...)
}

func Warn(format string, args ...interface{}) {
	GetLogger().log(LevelWarn, format, args...)
}

func Error(format string, args ...interface{}) {
	GetLogger().log(LevelError, format, args...)
}

func Fatal(format string, args ...interface{}) {
	GetLogger().log(LevelFatal, format, args...)
	os.Exit(1)
}
