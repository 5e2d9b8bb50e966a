package log

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
	"gopkg.in/natefinch/lumberjack.v2"
)

const colorReset = "\033[0m"

// Logger is a leveled printf-style logger. Children created with Named share
// the writer of their parent.
type Logger struct {
	out *output

	name  string
	level LogLevel
	json  bool
	color bool

	timeFormat string
}

type output struct {
	mu     sync.Mutex
	writer io.Writer
	closer io.Closer
}

// Options configures a root logger.
type Options struct {
	Name       string
	Level      LogLevel
	TimeFormat string
	// File enables rotated file output next to the terminal.
	File       string
	NoColor    bool
	JSON       bool
	NoTerminal bool
	Rotation   Rotation
}

type Rotation struct {
	MaxSize    int
	MaxBackups int
	MaxAge     int
	Compress   bool
}

type logEntry struct {
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"`
	Logger    string `json:"logger,omitempty"`
	Message   string `json:"message"`
}

// DefaultRotation keeps five 128MB files for 16 days.
func DefaultRotation() Rotation {
	return Rotation{
		MaxSize:    128,
		MaxBackups: 5,
		MaxAge:     16,
	}
}

// New creates a root logger writing to stdout and, optionally, a rotated file.
func New(opts Options) *Logger {
	var writers []io.Writer
	var closer io.Closer

	terminal := !opts.NoTerminal
	if terminal {
		writers = append(writers, os.Stdout)
	}

	if opts.File != "" {
		rotation := opts.Rotation
		if rotation.MaxSize == 0 {
			rotation = DefaultRotation()
		}

		fileWriter := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    rotation.MaxSize,
			MaxBackups: rotation.MaxBackups,
			MaxAge:     rotation.MaxAge,
			Compress:   rotation.Compress,
		}
		writers = append(writers, fileWriter)
		closer = fileWriter
	}

	if len(writers) == 0 {
		terminal = true
		writers = append(writers, os.Stdout)
	}

	// Colors would end up in the log file, so they are only used for a terminal-only setup
	color := terminal && opts.File == "" && !opts.NoColor && isatty.IsTerminal(os.Stdout.Fd())

	l := newLogger(io.MultiWriter(writers...), opts)
	l.out.closer = closer
	l.color = color && !opts.JSON

	return l
}

// NewWriter creates a logger writing plain lines into w.
func NewWriter(w io.Writer, level LogLevel) *Logger {
	return newLogger(w, Options{Level: level})
}

// NewDiscard creates a logger that drops every message.
func NewDiscard() *Logger {
	return newLogger(io.Discard, Options{Level: Off})
}

func newLogger(w io.Writer, opts Options) *Logger {
	timeFormat := opts.TimeFormat
	if timeFormat == "" {
		timeFormat = "2006-01-02 15:04:05"
	}

	return &Logger{
		out:        &output{writer: w},
		name:       opts.Name,
		level:      opts.Level,
		json:       opts.JSON,
		timeFormat: timeFormat,
	}
}

func (l *Logger) Level() LogLevel {
	return l.level
}

func (l *Logger) Name() string {
	return l.name
}

func (l *Logger) Enabled(level LogLevel) bool {
	return l != nil && level >= l.level && l.level != Off
}

func (l *Logger) log(level LogLevel, msg string, args ...any) {
	if !l.Enabled(level) {
		return
	}

	timestamp := time.Now().Format(l.timeFormat)
	formattedMsg := fmt.Sprintf(msg, args...)

	var line string
	if l.json {
		jsonBytes, _ := json.Marshal(logEntry{
			Timestamp: timestamp,
			Level:     level.String(),
			Logger:    l.name,
			Message:   formattedMsg,
		})
		line = string(jsonBytes) + "\n"
	} else {
		prefix := fmt.Sprintf("[%s] %-5s", timestamp, level)
		if l.name != "" {
			prefix = fmt.Sprintf("%s [%s]", prefix, l.name)
		}

		if l.color {
			line = fmt.Sprintf("%s%s %s%s\n", level.Color(), prefix, formattedMsg, colorReset)
		} else {
			line = fmt.Sprintf("%s %s\n", prefix, formattedMsg)
		}
	}

	l.out.mu.Lock()
	io.WriteString(l.out.writer, line)
	l.out.mu.Unlock()

	if level == Fatal {
		os.Exit(1)
	}
}

func (l *Logger) Debug(msg string, args ...any) {
	l.log(Debug, msg, args...)
}

func (l *Logger) Info(msg string, args ...any) {
	l.log(Info, msg, args...)
}

func (l *Logger) Warn(msg string, args ...any) {
	l.log(Warn, msg, args...)
}

func (l *Logger) Error(msg string, args ...any) {
	l.log(Error, msg, args...)
}

func (l *Logger) Fatal(msg string, args ...any) {
	l.log(Fatal, msg, args...)
}

// Named returns a child logger, names are joined with '/'.
func (l *Logger) Named(name string) *Logger {
	child := *l
	if l.name != "" {
		child.name = l.name + "/" + name
	} else {
		child.name = name
	}

	return &child
}

// Close closes the rotated log file, if any.
func (l *Logger) Close() error {
	if l.out.closer == nil {
		return nil
	}

	return l.out.closer.Close()
}
