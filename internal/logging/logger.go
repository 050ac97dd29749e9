package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"
)

type LoggingConfig struct {
	Level    string `json:"level" yaml:"level"`
	Output   string `json:"output" yaml:"output"`
	Progress bool   `json:"progress" yaml:"progress"`
}

type Logger struct {
	logger   *log.Logger
	config   *LoggingConfig
	out      io.Writer
	closer   io.Closer
	mutex    sync.Mutex
	level    LogLevel
	exitFunc func(int)
}

type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
	FATAL
)

var levelMap = map[string]LogLevel{
	"debug": DEBUG,
	"info":  INFO,
	"warn":  WARN,
	"error": ERROR,
	"fatal": FATAL,
}

// NewLogger builds a logger from config. Output accepts "stdout", "stderr",
// "discard" or a file path opened in append mode.
func NewLogger(config *LoggingConfig) (*Logger, error) {
	if config == nil {
		config = &LoggingConfig{
			Level:  "info",
			Output: "stdout",
		}
	}

	level, exists := levelMap[config.Level]
	if !exists {
		level = INFO
	}

	var output io.Writer
	var closer io.Closer
	switch config.Output {
	case "", "stdout":
		output = os.Stdout
	case "stderr":
		output = os.Stderr
	case "discard":
		output = io.Discard
	default:
		file, err := os.OpenFile(config.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		output = file
		closer = file
	}

	return &Logger{
		logger:   log.New(output, "", log.LstdFlags),
		config:   config,
		out:      output,
		closer:   closer,
		level:    level,
		exitFunc: os.Exit,
	}, nil
}

// New wraps an arbitrary writer; used by tests and embedding callers.
func New(w io.Writer, level string) *Logger {
	lvl, ok := levelMap[level]
	if !ok {
		lvl = INFO
	}
	return &Logger{
		logger:   log.New(w, "", log.LstdFlags),
		config:   &LoggingConfig{Level: level},
		out:      w,
		level:    lvl,
		exitFunc: os.Exit,
	}
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	return New(io.Discard, "error")
}

func (l *Logger) printf(prefix, format string, args ...interface{}) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.logger.Printf(prefix+format, args...)
}

func (l *Logger) Debug(format string, args ...interface{}) {
	if l.level <= DEBUG {
		l.printf("[DEBUG] ", format, args...)
	}
}

func (l *Logger) Info(format string, args ...interface{}) {
	if l.level <= INFO {
		l.printf("[INFO] ", format, args...)
	}
}

func (l *Logger) Warn(format string, args ...interface{}) {
	if l.level <= WARN {
		l.printf("[WARN] ", format, args...)
	}
}

func (l *Logger) Error(format string, args ...interface{}) {
	if l.level <= ERROR {
		l.printf("[ERROR] ", format, args...)
	}
}

func (l *Logger) Fatal(format string, args ...interface{}) {
	l.printf("[FATAL] ", format, args...)
	l.exitFunc(1)
}

// Enabled reports whether messages at lvl would be written.
func (l *Logger) Enabled(lvl LogLevel) bool {
	return l.level <= lvl
}

// ProgressEnabled reports whether progress bars were requested.
func (l *Logger) ProgressEnabled() bool {
	return l.config != nil && l.config.Progress && l.level <= INFO
}

func (l *Logger) Writer() io.Writer {
	return l.out
}

func (l *Logger) Close() error {
	if l.closer != nil {
		return l.closer.Close()
	}
	return nil
}
