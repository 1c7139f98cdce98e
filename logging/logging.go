package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// LogLevel represents the logging level
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARNING
	ERROR
)

// ParseLevel maps a config string onto a LogLevel, defaulting to INFO.
func ParseLevel(s string) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return DEBUG
	case "WARNING", "WARN":
		return WARNING
	case "ERROR":
		return ERROR
	default:
		return INFO
	}
}

// LoggerInterface is accepted by every component so tests can inject a
// no-op implementation.
type LoggerInterface interface {
	Debug(format string, v ...interface{})
	Info(format string, v ...interface{})
	Warning(format string, v ...interface{})
	Error(format string, v ...interface{})
	Trade(format string, v ...interface{})
	Fatal(format string, v ...interface{})
	Sync() error
	ChangeLogLevel(level LogLevel)
}

// Logger writes leveled messages to stdout and to a size-rotated file,
// one file per local day.
type Logger struct {
	logger     *log.Logger
	fileWriter io.Writer
	level      LogLevel
}

// dailyWriter keys a lumberjack logger by local date so each trading day
// lands in its own file; lumberjack still handles size-based rotation
// and backup pruning within the day.
type dailyWriter struct {
	dir      string
	baseName string
	ext      string

	maxSize    int
	maxBackups int
	maxAge     int
	compress   bool

	mu      sync.Mutex
	day     string
	current *lumberjack.Logger
}

func newDailyWriter(basePath string, maxSize, maxBackups, maxAge int, compress bool) (*dailyWriter, error) {
	base := filepath.Base(basePath)
	ext := filepath.Ext(base)
	name := strings.TrimSuffix(base, ext)
	if name == "" {
		return nil, fmt.Errorf("invalid log file: %q", basePath)
	}
	if ext == "" {
		ext = ".log"
	}
	w := &dailyWriter{
		dir:        filepath.Dir(basePath),
		baseName:   name,
		ext:        ext,
		maxSize:    maxSize,
		maxBackups: maxBackups,
		maxAge:     maxAge,
		compress:   compress,
	}
	if err := w.roll(time.Now()); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *dailyWriter) roll(now time.Time) error {
	day := now.Format("2006-01-02")
	if w.current != nil && w.day == day {
		return nil
	}
	if w.current != nil {
		_ = w.current.Close()
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	w.day = day
	w.current = &lumberjack.Logger{
		Filename:   filepath.Join(w.dir, fmt.Sprintf("%s-%s%s", w.baseName, day, w.ext)),
		MaxSize:    w.maxSize,
		MaxBackups: w.maxBackups,
		MaxAge:     w.maxAge,
		Compress:   w.compress,
	}
	return nil
}

func (w *dailyWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.roll(time.Now()); err != nil {
		return 0, err
	}
	return w.current.Write(p)
}

func (w *dailyWriter) Rotate() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.roll(time.Now()); err != nil {
		return err
	}
	return w.current.Rotate()
}

func (w *dailyWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.current == nil {
		return nil
	}
	err := w.current.Close()
	w.current = nil
	w.day = ""
	return err
}

// NewLogger creates a logger writing to both stdout and the rotated file.
func NewLogger(logFile string, maxSize, maxBackups, maxAge int, compress bool, level LogLevel) (*Logger, error) {
	fw, err := newDailyWriter(logFile, maxSize, maxBackups, maxAge, compress)
	if err != nil {
		return nil, err
	}
	return &Logger{
		logger:     log.New(io.MultiWriter(fw, os.Stdout), "", log.Ldate|log.Ltime|log.Lmicroseconds|log.Lshortfile),
		fileWriter: fw,
		level:      level,
	}, nil
}

// Debug logs a debug message
func (l *Logger) Debug(format string, v ...interface{}) {
	if l.level <= DEBUG {
		l.logger.Output(2, fmt.Sprintf("[DEBUG] "+format, v...))
	}
}

// Info logs an info message
func (l *Logger) Info(format string, v ...interface{}) {
	if l.level <= INFO {
		l.logger.Output(2, fmt.Sprintf("[INFO]  "+format, v...))
	}
}

// Warning logs a warning message
func (l *Logger) Warning(format string, v ...interface{}) {
	if l.level <= WARNING {
		l.logger.Output(2, fmt.Sprintf("[WARN]  "+format, v...))
	}
}

// Error logs an error message
func (l *Logger) Error(format string, v ...interface{}) {
	if l.level <= ERROR {
		l.logger.Output(2, fmt.Sprintf("[ERROR] "+format, v...))
	}
}

// Trade logs order and position events. Always emitted regardless of
// level so trade activity survives a DEBUG->ERROR level change.
func (l *Logger) Trade(format string, v ...interface{}) {
	l.logger.Output(2, fmt.Sprintf("[TRADE] "+format, v...))
}

// Fatal logs an error message and exits
func (l *Logger) Fatal(format string, v ...interface{}) {
	l.logger.Output(2, fmt.Sprintf("[FATAL] "+format, v...))
	os.Exit(1)
}

// Sync forces a rotation of the underlying file writer.
func (l *Logger) Sync() error {
	type rotator interface {
		Rotate() error
	}
	if r, ok := l.fileWriter.(rotator); ok {
		return r.Rotate()
	}
	return nil
}

// ChangeLogLevel changes the logging level at runtime
func (l *Logger) ChangeLogLevel(level LogLevel) {
	l.level = level
}
