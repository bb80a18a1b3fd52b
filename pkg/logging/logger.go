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

	"github.com/google/uuid"
)

// Level is the minimum severity a Logger writes.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return fmt.Sprintf("LEVEL(%d)", int(l))
	}
}

// ParseLevel parses "debug", "info", "warn" or "error" (case-insensitive).
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("invalid log level: %s (must be 'debug', 'info', 'warn', or 'error')", s)
	}
}

// sink is the destination shared by a logger and everything derived from it.
type sink struct {
	mu        sync.Mutex
	logger    *log.Logger
	file      *os.File
	path      string
	closeOnce sync.Once
}

// Logger writes leveled, component-tagged log lines.
//
// Loggers derived with With share the same sink, so a single Close releases the
// underlying file.
type Logger struct {
	component string
	level     Level
	out       *sink
}

var (
	// instanceID identifies this process in log file names
	instanceID     string
	instanceIDOnce sync.Once
)

// InstanceID returns the id generated for this process.
func InstanceID() string {
	instanceIDOnce.Do(func() {
		instanceID = uuid.New().String()
	})
	return instanceID
}

// New creates a logger writing to w.
func New(component string, w io.Writer, level Level) *Logger {
	return &Logger{
		component: component,
		level:     level,
		out:       &sink{logger: log.New(w, "", 0)},
	}
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	return New("discard", io.Discard, LevelError+1)
}

// NewFileLogger creates a logger writing to <dir>/<instance-id>-waweb.log.
//
// If the directory cannot be created or the file cannot be opened, it returns a
// logger writing to stderr along with the error, so callers can report the
// fallback and keep going.
func NewFileLogger(dir, component string, level Level) (*Logger, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		err = fmt.Errorf("failed to create log directory: %w", err)
		return newFallbackLogger(component, level, err), err
	}

	logPath := filepath.Join(dir, fmt.Sprintf("%s-waweb.log", InstanceID()))
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		err = fmt.Errorf("failed to open log file: %w", err)
		return newFallbackLogger(component, level, err), err
	}

	return &Logger{
		component: component,
		level:     level,
		out: &sink{
			logger: log.New(file, "", 0),
			file:   file,
			path:   logPath,
		},
	}, nil
}

// newFallbackLogger writes to stderr when file logging fails
func newFallbackLogger(component string, level Level, err error) *Logger {
	l := New(component, os.Stderr, level)
	l.Warnf("Failed to initialize file logging: %v", err)
	l.Warnf("Falling back to stderr logging")
	return l
}

// With returns a logger for another component sharing the same output.
func (l *Logger) With(component string) *Logger {
	return &Logger{
		component: component,
		level:     l.level,
		out:       l.out,
	}
}

// formatLogEntry creates a log entry with timestamp, component, and level
func (l *Logger) formatLogEntry(level Level, message string) string {
	timestamp := time.Now().Format("2006-01-02 15:04:05.000")
	return fmt.Sprintf("[%s] [%s] [%s] %s", timestamp, l.component, level, message)
}

func (l *Logger) logf(level Level, format string, v ...interface{}) {
	if level < l.level {
		return
	}
	entry := l.formatLogEntry(level, fmt.Sprintf(format, v...))

	l.out.mu.Lock()
	defer l.out.mu.Unlock()
	l.out.logger.Println(entry)
}

// Printf logs at info level.
func (l *Logger) Printf(format string, v ...interface{}) {
	l.logf(LevelInfo, format, v...)
}

func (l *Logger) Debugf(format string, v ...interface{}) {
	l.logf(LevelDebug, format, v...)
}

func (l *Logger) Infof(format string, v ...interface{}) {
	l.logf(LevelInfo, format, v...)
}

func (l *Logger) Warnf(format string, v ...interface{}) {
	l.logf(LevelWarn, format, v...)
}

func (l *Logger) Errorf(format string, v ...interface{}) {
	l.logf(LevelError, format, v...)
}

// LogPath returns the path to the log file, or "" when not logging to a file.
func (l *Logger) LogPath() string {
	return l.out.path
}

// Close closes the log file. Safe to call multiple times.
func (l *Logger) Close() error {
	var err error
	l.out.closeOnce.Do(func() {
		if l.out.file != nil {
			err = l.out.file.Close()
		}
	})
	return err
}

// MaskPhone hides all but the first five characters of a phone number. Input
// too short to keep anything hidden is masked entirely.
func MaskPhone(phone string) string {
	runes := []rune(phone)
	if len(runes) <= phoneVisible {
		return "*****"
	}
	return string(runes[:phoneVisible]) + "*****"
}

const phoneVisible = 5
