package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Log levels
const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// ANSI color codes for terminal output
const (
	colorRed    = "\033[97;41m"
	colorGreen  = "\033[97;42m"
	colorYellow = "\033[90;43m"
	colorBlue   = "\033[97;44m"
	colorReset  = "\033[0m"
)

var levelRank = map[string]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

// Config holds logging-related configuration
type Config struct {
	Level      string // debug, info, warn, error
	File       string // Path to log file, empty logs to stdout only
	MaxSize    int    // Max size in MB
	MaxBackups int    // Number of backups to keep
	MaxAge     int    // Max age in days
	NoColor    bool
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if _, ok := levelRank[strings.ToLower(c.Level)]; !ok {
		return fmt.Errorf("invalid log level: %s", c.Level)
	}
	if c.File != "" && c.MaxSize <= 0 {
		return fmt.Errorf("max_size must be positive")
	}
	if c.MaxBackups < 0 {
		return fmt.Errorf("max_backups must be non-negative")
	}
	if c.MaxAge < 0 {
		return fmt.Errorf("max_age must be non-negative")
	}
	return nil
}

type Logger struct {
	*log.Logger
	writer  *lumberjack.Logger
	level   int
	prefix  string
	noColor bool
}

func NewLogger(config *Config) (*Logger, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	out := io.Writer(os.Stdout)
	var writer *lumberjack.Logger
	if config.File != "" {
		logFile := config.File
		if strings.HasPrefix(logFile, "~/") {
			homeDir, err := os.UserHomeDir()
			if err != nil {
				return nil, fmt.Errorf("failed to get home directory: %w", err)
			}
			logFile = filepath.Join(homeDir, logFile[2:])
		}
		if err := os.MkdirAll(filepath.Dir(logFile), 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}

		writer = &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    config.MaxSize, // MB
			MaxBackups: config.MaxBackups,
			MaxAge:     config.MaxAge, // days
			Compress:   true,
		}
		out = io.MultiWriter(writer, os.Stdout)
	}

	return &Logger{
		Logger:  log.New(out, "", log.LstdFlags),
		writer:  writer,
		level:   levelRank[strings.ToLower(config.Level)],
		noColor: config.NoColor,
	}, nil
}

// New wraps an arbitrary writer, used by tests and CLI subcommands.
func New(w io.Writer, level string) *Logger {
	rank, ok := levelRank[strings.ToLower(level)]
	if !ok {
		rank = levelRank[LevelInfo]
	}
	return &Logger{
		Logger:  log.New(w, "", log.LstdFlags),
		level:   rank,
		noColor: true,
	}
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	return New(io.Discard, LevelError)
}

func (l *Logger) Close() error {
	if l.writer == nil {
		return nil
	}
	return l.writer.Close()
}

// With returns a logger that prefixes every line with the given tag.
func (l *Logger) With(tag string) *Logger {
	clone := *l
	if clone.prefix == "" {
		clone.prefix = "[" + tag + "] "
	} else {
		clone.prefix = clone.prefix + "[" + tag + "] "
	}
	return &clone
}

func (l *Logger) Debug(format string, v ...interface{}) {
	l.logf(levelRank[LevelDebug], colorBlue, "[DEBUG]", format, v...)
}

func (l *Logger) Info(format string, v ...interface{}) {
	l.logf(levelRank[LevelInfo], colorGreen, "[INFO]", format, v...)
}

func (l *Logger) Warn(format string, v ...interface{}) {
	l.logf(levelRank[LevelWarn], colorYellow, "[WARN]", format, v...)
}

func (l *Logger) Error(format string, v ...interface{}) {
	l.logf(levelRank[LevelError], colorRed, "[ERROR]", format, v...)
}

func (l *Logger) logf(rank int, color, tag, format string, v ...interface{}) {
	if rank < l.level {
		return
	}
	label := tag
	if !l.noColor {
		label = color + tag + colorReset
	}
	l.Printf(label+" "+l.prefix+format, v...)
}
