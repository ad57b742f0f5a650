package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/lumberjack.v2"
)

// LogLevel represents logging severity levels
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l LogLevel) String() string {
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
		return "UNKNOWN"
	}
}

// ParseLevel converts a string to a LogLevel
func ParseLevel(s string) LogLevel {
	switch strings.ToLower(s) {
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Options configures the shared log sink.
type Options struct {
	Level      string
	File       string
	MaxSize    int // megabytes
	MaxBackups int
	MaxAge     int // days
	Compress   bool
	Console    bool
	Structured bool
}

var (
	sinkMu     sync.Mutex
	sinkOut    io.Writer = os.Stderr
	sinkLevel  LogLevel  = LevelInfo
	structured bool
)

// Init configures the process-wide log sink. Safe to call once at startup;
// loggers created before Init pick up the new settings.
func Init(opts Options) {
	sinkMu.Lock()
	defer sinkMu.Unlock()

	sinkLevel = ParseLevel(opts.Level)
	structured = opts.Structured

	var writers []io.Writer
	if opts.File != "" {
		writers = append(writers, &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSize,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAge,
			Compress:   opts.Compress,
		})
	}
	if opts.Console || opts.File == "" {
		writers = append(writers, os.Stderr)
	}
	if len(writers) == 1 {
		sinkOut = writers[0]
	} else {
		sinkOut = io.MultiWriter(writers...)
	}
}

// Logger writes component-tagged messages to the shared sink.
type Logger struct {
	component string
	fields    map[string]interface{}
}

// ForComponent returns a logger tagged with the given component name.
func ForComponent(name string) *Logger {
	return &Logger{component: name}
}

// WithFields returns a logger that includes the given fields in every message.
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	merged := make(map[string]interface{}, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &Logger{component: l.component, fields: merged}
}

func (l *Logger) log(level LogLevel, format string, args ...interface{}) {
	sinkMu.Lock()
	defer sinkMu.Unlock()

	if level < sinkLevel {
		return
	}

	msg := fmt.Sprintf(format, args...)
	now := time.Now()

	if structured {
		entry := map[string]interface{}{
			"time":      now.Format(time.RFC3339),
			"level":     level.String(),
			"component": l.component,
			"msg":       msg,
		}
		for k, v := range l.fields {
			entry[k] = v
		}
		data, err := json.Marshal(entry)
		if err != nil {
			// Fall back to plain text if the fields refuse to marshal
			fmt.Fprintf(sinkOut, "%s [%s] [%s] %s\n",
				now.Format("2006-01-02 15:04:05"), level, l.component, msg)
			return
		}
		sinkOut.Write(append(data, '\n'))
		return
	}

	var b strings.Builder
	b.WriteString(now.Format("2006-01-02 15:04:05.000"))
	fmt.Fprintf(&b, " [%-5s] [%s] %s", level, l.component, msg)
	if len(l.fields) > 0 {
		keys := make([]string, 0, len(l.fields))
		for k := range l.fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%v", k, l.fields[k])
		}
	}
	b.WriteByte('\n')
	io.WriteString(sinkOut, b.String())
}

// Debugf logs a debug message
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.log(LevelDebug, format, args...)
}

// Infof logs an info message
func (l *Logger) Infof(format string, args ...interface{}) {
	l.log(LevelInfo, format, args...)
}

// Warnf logs a warning message
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.log(LevelWarn, format, args...)
}

// Errorf logs an error message
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.log(LevelError, format, args...)
}

var defaultLogger = &Logger{component: "trusdxd"}

// Debugf logs a debug message to the default logger
func Debugf(format string, args ...interface{}) {
	defaultLogger.Debugf(format, args...)
}

// Infof logs an info message to the default logger
func Infof(format string, args ...interface{}) {
	defaultLogger.Infof(format, args...)
}

// Warnf logs a warning message to the default logger
func Warnf(format string, args ...interface{}) {
	defaultLogger.Warnf(format, args...)
}

// Errorf logs an error message to the default logger
func Errorf(format string, args ...interface{}) {
	defaultLogger.Errorf(format, args...)
}
