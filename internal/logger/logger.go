package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Log file names, one per level.
const (
	InfoFile    = "info.log"
	WarningFile = "warning.log"
	ErrorFile   = "error.log"
)

// Logger provides leveled logging (debug/info/warning/error) to files and stdout/stderr.
type Logger struct {
	sugar  *zap.SugaredLogger
	logDir string
	files  []*lumberjack.Logger
}

// Options configures a file-backed Logger.
type Options struct {
	Directory  string
	Level      string // debug, info, warning, error
	MaxSizeMB  int
	MaxBackups int
}

// NewLogger creates a Logger and ensures the log directory exists.
func NewLogger(opts Options) (*Logger, error) {
	if err := os.MkdirAll(opts.Directory, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	minLevel, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}
	if opts.MaxSizeMB <= 0 {
		opts.MaxSizeMB = 10
	}
	if opts.MaxBackups <= 0 {
		opts.MaxBackups = 3
	}

	l := &Logger{logDir: opts.Directory}
	openFile := func(name string) *lumberjack.Logger {
		f := &lumberjack.Logger{
			Filename:   filepath.Join(opts.Directory, name),
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
		}
		l.files = append(l.files, f)
		return f
	}

	infoWriter := zapcore.NewMultiWriteSyncer(zapcore.AddSync(os.Stdout), zapcore.AddSync(openFile(InfoFile)))
	warningWriter := zapcore.NewMultiWriteSyncer(zapcore.AddSync(os.Stdout), zapcore.AddSync(openFile(WarningFile)))
	errorWriter := zapcore.NewMultiWriteSyncer(zapcore.AddSync(os.Stderr), zapcore.AddSync(openFile(ErrorFile)))

	enc := newEncoder()
	core := zapcore.NewTee(
		zapcore.NewCore(enc, infoWriter, levelRange(minLevel, zapcore.InfoLevel)),
		zapcore.NewCore(enc, warningWriter, levelRange(max(minLevel, zapcore.WarnLevel), zapcore.WarnLevel)),
		zapcore.NewCore(enc, errorWriter, levelRange(max(minLevel, zapcore.ErrorLevel), zapcore.FatalLevel)),
	)
	l.sugar = zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1)).Sugar()
	return l, nil
}

// NewWithWriter creates a Logger that writes every level to w. Used by tests and tools.
func NewWithWriter(w io.Writer, level string) *Logger {
	minLevel, err := ParseLevel(level)
	if err != nil {
		minLevel = zapcore.InfoLevel
	}
	core := zapcore.NewCore(newEncoder(), zapcore.AddSync(w), minLevel)
	return &Logger{sugar: zap.New(core).Sugar()}
}

// NewNop returns a Logger that discards everything.
func NewNop() *Logger {
	return &Logger{sugar: zap.NewNop().Sugar()}
}

func newEncoder() zapcore.Encoder {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.EncodeCaller = zapcore.ShortCallerEncoder
	return zapcore.NewConsoleEncoder(cfg)
}

func levelRange(lo, hi zapcore.Level) zap.LevelEnablerFunc {
	return func(l zapcore.Level) bool {
		return l >= lo && l <= hi
	}
}

// ParseLevel converts a level name into a zap level.
func ParseLevel(level string) (zapcore.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel, nil
	case "", "info":
		return zapcore.InfoLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	}
	return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", level)
}

// Debug writes a formatted debug-level log entry.
func (l *Logger) Debug(format string, v ...interface{}) {
	l.sugar.Debugf(format, v...)
}

// Info writes a formatted info-level log entry.
func (l *Logger) Info(format string, v ...interface{}) {
	l.sugar.Infof(format, v...)
}

// Warning writes a formatted warning-level log entry.
func (l *Logger) Warning(format string, v ...interface{}) {
	l.sugar.Warnf(format, v...)
}

// Error writes a formatted error-level log entry.
func (l *Logger) Error(format string, v ...interface{}) {
	l.sugar.Errorf(format, v...)
}

// Directory returns the log directory, or "" for writer-backed loggers.
func (l *Logger) Directory() string {
	return l.logDir
}

// CleanLogs truncates the specified log file.
func (l *Logger) CleanLogs(fileName string) error {
	if l.logDir == "" {
		return nil
	}
	filePath := filepath.Join(l.logDir, filepath.Base(fileName))
	if err := os.Truncate(filePath, 0); err != nil {
		l.Error("Error truncating %s: %v", fileName, err)
		return err
	}
	l.Info("File %s has been cleared.", fileName)
	return nil
}

// Close flushes buffered entries and closes log files.
func (l *Logger) Close() error {
	_ = l.sugar.Sync()
	var firstErr error
	for _, f := range l.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
