// Package logging provides categorized file-based logging for the inspection
// backend. Each subsystem logs to its own file under the configured log
// directory; warnings and errors are mirrored to stderr. When debug mode is
// off only info and above are written.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category names a log stream / subsystem.
type Category string

const (
	CategoryBoot      Category = "boot"      // startup, wiring, shutdown
	CategoryHTTP      Category = "http"      // request handling
	CategoryStore     Category = "store"     // sqlite operations
	CategoryAggregate Category = "aggregate" // section merge engine
	CategoryImages    Category = "images"    // upload + image store
	CategoryReport    Category = "report"    // docx composition
	CategoryMailer    Category = "mailer"    // smtp delivery
	CategoryAuth      Category = "auth"      // token issue/verify
)

var (
	mu      sync.RWMutex
	loggers = make(map[Category]*zap.SugaredLogger)
	logsDir string
	debug   bool
)

// Initialize sets the log directory and debug switch. Must be called once at
// startup before any Get. With an empty dir, logs go to stderr only.
func Initialize(dir string, debugMode bool) error {
	mu.Lock()
	defer mu.Unlock()
	debug = debugMode
	logsDir = dir
	if dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}
	return nil
}

func build(category Category) *zap.SugaredLogger {
	level := zapcore.InfoLevel
	if debug {
		level = zapcore.DebugLevel
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	consoleEnc := zapcore.NewConsoleEncoder(encCfg)

	cores := []zapcore.Core{
		zapcore.NewCore(consoleEnc, zapcore.Lock(os.Stderr), zapcore.WarnLevel),
	}

	if logsDir != "" {
		name := fmt.Sprintf("%s_%s.log", time.Now().Format("2006-01-02"), category)
		f, err := os.OpenFile(filepath.Join(logsDir, name),
			os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[logging] could not open log file for %s: %v\n", category, err)
		} else {
			cores = append(cores,
				zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.Lock(f), level))
		}
	} else {
		cores = []zapcore.Core{
			zapcore.NewCore(consoleEnc, zapcore.Lock(os.Stderr), level),
		}
	}

	return zap.New(zapcore.NewTee(cores...)).
		Named(string(category)).
		Sugar()
}

// Get returns (or creates) the logger for a category.
func Get(category Category) *zap.SugaredLogger {
	mu.RLock()
	if l, ok := loggers[category]; ok {
		mu.RUnlock()
		return l
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if l, ok := loggers[category]; ok {
		return l
	}
	l := build(category)
	loggers[category] = l
	return l
}

// CloseAll flushes every logger. Call at shutdown.
func CloseAll() {
	mu.Lock()
	defer mu.Unlock()
	for _, l := range loggers {
		_ = l.Sync()
	}
	loggers = make(map[Category]*zap.SugaredLogger)
}

// Convenience wrappers for the hot categories.

// Boot logs to the boot category.
func Boot(format string, args ...interface{}) { Get(CategoryBoot).Infof(format, args...) }

// Store logs to the store category.
func Store(format string, args ...interface{}) { Get(CategoryStore).Infof(format, args...) }

// StoreDebug logs debug to the store category.
func StoreDebug(format string, args ...interface{}) { Get(CategoryStore).Debugf(format, args...) }

// Aggregate logs to the aggregate category.
func Aggregate(format string, args ...interface{}) { Get(CategoryAggregate).Infof(format, args...) }

// AggregateDebug logs debug to the aggregate category.
func AggregateDebug(format string, args ...interface{}) {
	Get(CategoryAggregate).Debugf(format, args...)
}

// Images logs to the images category.
func Images(format string, args ...interface{}) { Get(CategoryImages).Infof(format, args...) }

// Report logs to the report category.
func Report(format string, args ...interface{}) { Get(CategoryReport).Infof(format, args...) }

// ReportWarn logs a warning to the report category.
func ReportWarn(format string, args ...interface{}) { Get(CategoryReport).Warnf(format, args...) }

// Mailer logs to the mailer category.
func Mailer(format string, args ...interface{}) { Get(CategoryMailer).Infof(format, args...) }

// MailerError logs an error to the mailer category.
func MailerError(format string, args ...interface{}) { Get(CategoryMailer).Errorf(format, args...) }

// Timer measures operation duration the way the rest of the codebase logs.
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// StartTimer begins timing an operation.
func StartTimer(category Category, operation string) *Timer {
	return &Timer{category: category, op: operation, start: time.Now()}
}

// Stop ends the timer and logs the duration at debug level.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Debugf("%s completed in %v", t.op, elapsed)
	return elapsed
}

// StopWithThreshold logs a warning if the duration exceeds threshold.
func (t *Timer) StopWithThreshold(threshold time.Duration) time.Duration {
	elapsed := time.Since(t.start)
	if elapsed > threshold {
		Get(t.category).Warnf("%s took %v (threshold: %v)", t.op, elapsed, threshold)
	} else {
		Get(t.category).Debugf("%s completed in %v", t.op, elapsed)
	}
	return elapsed
}
