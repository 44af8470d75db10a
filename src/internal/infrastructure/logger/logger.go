// Package logger provides the process-wide logrus instance with optional
// size-rotated file output.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

var (
	instance  *logrus.Logger
	once      sync.Once
	mu        sync.RWMutex
	logFile   *os.File
	console   io.Writer = os.Stdout
	stopChan  chan struct{}
	monitorWG sync.WaitGroup
)

// Config holds logger configuration.
type Config struct {
	Level      string
	Format     string    // "json" (default) or "text"
	Output     io.Writer // Console stream; nil means stdout
	FilePath   string
	MaxSize    int64 // Max size in bytes before rotation
	MaxBackups int   // Number of backups to keep
	// RotateEvery is how often the file size is checked; 0 means one minute,
	// negative disables the background check.
	RotateEvery time.Duration
}

// Initialize sets up the global logger instance. Only the first call after
// Close takes effect.
func Initialize(cfg Config) error {
	var err error
	once.Do(func() {
		l := logrus.New()

		level, parseErr := logrus.ParseLevel(cfg.Level)
		if parseErr != nil {
			level = logrus.InfoLevel
		}
		l.SetLevel(level)
		l.SetFormatter(formatter(cfg.Format))

		out := cfg.Output
		if out == nil {
			out = os.Stdout
		}
		l.SetOutput(out)

		mu.Lock()
		instance = l
		console = out
		mu.Unlock()

		if cfg.FilePath != "" {
			err = setupFileOutput(cfg)
		}
	})

	return err
}

func formatter(format string) logrus.Formatter {
	if strings.EqualFold(format, "text") {
		return &logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339,
		}
	}
	return &logrus.JSONFormatter{
		TimestampFormat: time.RFC3339,
	}
}

func setupFileOutput(cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0750); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	f, err := openLogFile(cfg.FilePath)
	if err != nil {
		return err
	}

	mu.Lock()
	logFile = f
	instance.SetOutput(io.MultiWriter(console, logFile))
	mu.Unlock()

	if cfg.MaxSize > 0 && cfg.RotateEvery >= 0 {
		every := cfg.RotateEvery
		if every == 0 {
			every = time.Minute
		}
		stop := make(chan struct{})
		mu.Lock()
		stopChan = stop
		mu.Unlock()
		monitorWG.Add(1)
		go monitorLogRotation(cfg, every, stop)
	}

	return nil
}

func monitorLogRotation(cfg Config, every time.Duration, stop <-chan struct{}) {
	defer monitorWG.Done()
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			rotateIfNeeded(cfg)
		}
	}
}

// rotateIfNeeded rotates the log file once it exceeds cfg.MaxSize.
func rotateIfNeeded(cfg Config) bool {
	mu.Lock()
	defer mu.Unlock()

	if logFile == nil {
		return false
	}
	info, err := logFile.Stat()
	if err != nil || info.Size() <= cfg.MaxSize {
		return false
	}
	rotateLog(cfg)
	return true
}

// rotateLog must be called with mu held.
func rotateLog(cfg Config) {
	_ = logFile.Close() //nolint:errcheck // Ignore close errors during rotation

	backupPath := fmt.Sprintf("%s.%s", cfg.FilePath, time.Now().Format("20060102-150405.000"))
	_ = os.Rename(cfg.FilePath, backupPath) //nolint:errcheck // Continue even if rename fails

	f, err := openLogFile(cfg.FilePath)
	if err == nil {
		logFile = f
		instance.SetOutput(io.MultiWriter(console, logFile))
	} else {
		instance.SetOutput(console)
		logFile = nil
	}

	cleanOldBackups(cfg)
}

func openLogFile(filePath string) (*os.File, error) {
	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return file, nil
}

// cleanOldBackups keeps the newest cfg.MaxBackups rotated files.
func cleanOldBackups(cfg Config) {
	dir := filepath.Dir(cfg.FilePath)
	prefix := filepath.Base(cfg.FilePath) + "."

	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}

	var backups []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), prefix) {
			backups = append(backups, e.Name())
		}
	}
	sort.Strings(backups)

	for len(backups) > cfg.MaxBackups {
		_ = os.Remove(filepath.Join(dir, backups[0])) //nolint:errcheck // Continue on error
		backups = backups[1:]
	}
}

// Get returns the logger instance, initializing it with defaults if needed.
func Get() *logrus.Logger {
	mu.RLock()
	l := instance
	mu.RUnlock()
	if l != nil {
		return l
	}

	_ = Initialize(Config{Level: "info"}) //nolint:errcheck // No file output, cannot fail

	mu.RLock()
	defer mu.RUnlock()
	return instance
}

// WithField creates an entry with a single field.
func WithField(key string, value interface{}) *logrus.Entry {
	return Get().WithField(key, value)
}

// WithFields creates an entry with multiple fields.
func WithFields(fields logrus.Fields) *logrus.Entry {
	return Get().WithFields(fields)
}

// Device returns the entry every component of one simulated device logs through.
func Device(controllerID string) *logrus.Entry {
	return Get().WithField("controller_id", controllerID)
}

// Component returns an entry tagged with a subsystem name.
func Component(name string) *logrus.Entry {
	return Get().WithField("component", name)
}

// Close stops rotation, closes the log file and allows re-initialization.
func Close() {
	mu.Lock()
	if stopChan != nil {
		close(stopChan)
		stopChan = nil
	}
	mu.Unlock()

	monitorWG.Wait()

	mu.Lock()
	defer mu.Unlock()

	if logFile != nil {
		if instance != nil {
			instance.SetOutput(console)
		}
		_ = logFile.Close() //nolint:errcheck // Switch to console, ignore close errors
		logFile = nil
	}
	instance = nil
	once = sync.Once{}
}

// Debug logs a debug message.
func Debug(args ...interface{}) { Get().Debug(args...) }

// Info logs an info message.
func Info(args ...interface{}) { Get().Info(args...) }

// Warn logs a warning message.
func Warn(args ...interface{}) { Get().Warn(args...) }

// Error logs an error message.
func Error(args ...interface{}) { Get().Error(args...) }

// Debugf logs a formatted debug message.
func Debugf(format string, args ...interface{}) { Get().Debugf(format, args...) }

// Infof logs a formatted info message.
func Infof(format string, args ...interface{}) { Get().Infof(format, args...) }

// Warnf logs a formatted warning message.
func Warnf(format string, args ...interface{}) { Get().Warnf(format, args...) }

// Errorf logs a formatted error message.
func Errorf(format string, args ...interface{}) { Get().Errorf(format, args...) }
