package logger

import (
	"fmt"
	"io"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	globalLogger *zap.SugaredLogger
	logFile      *os.File
	level        = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	mu           sync.Mutex
)

// Init initializes the global logger with the specified log file path.
func Init(logPath string) error {
	mu.Lock()
	defer mu.Unlock()

	if logFile != nil {
		_ = globalLogger.Sync()
		logFile.Close()
	}

	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to create log file: %w", err)
	}

	logFile = f
	globalLogger = newSugared(zapcore.AddSync(f))
	return nil
}

// InitWriter routes log output to w. Used by tests and by the monitor,
// which needs log lines kept off the terminal it draws on.
func InitWriter(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()

	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
	globalLogger = newSugared(zapcore.AddSync(w))
}

func newSugared(ws zapcore.WriteSyncer) *zap.SugaredLogger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000000")
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), ws, level)
	return zap.New(core).Sugar()
}

// SetVerbose toggles debug-level output.
func SetVerbose(verbose bool) {
	if verbose {
		level.SetLevel(zapcore.DebugLevel)
		return
	}
	level.SetLevel(zapcore.InfoLevel)
}

// Close flushes and closes the log file.
func Close() {
	mu.Lock()
	defer mu.Unlock()

	if globalLogger != nil {
		_ = globalLogger.Sync()
	}
	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
	globalLogger = nil
}

// Info logs an info message.
func Info(format string, v ...interface{}) {
	mu.Lock()
	defer mu.Unlock()

	if globalLogger != nil {
		globalLogger.Infof(format, v...)
	}
}

// Debug logs a debug message.
func Debug(format string, v ...interface{}) {
	mu.Lock()
	defer mu.Unlock()

	if globalLogger != nil {
		globalLogger.Debugf(format, v...)
	}
}

// Error logs an error message.
func Error(format string, v ...interface{}) {
	mu.Lock()
	defer mu.Unlock()

	if globalLogger != nil {
		globalLogger.Errorf(format, v...)
	}
}

// Warn logs a warning message.
func Warn(format string, v ...interface{}) {
	mu.Lock()
	defer mu.Unlock()

	if globalLogger != nil {
		globalLogger.Warnf(format, v...)
	}
}

// GetWriter returns the underlying log file, for subprocess output.
func GetWriter() io.Writer {
	mu.Lock()
	defer mu.Unlock()

	if logFile != nil {
		return logFile
	}
	return io.Discard
}
