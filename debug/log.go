package debug

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/charmbracelet/log"
)

var (
	file   *os.File
	mu     sync.Mutex
	out    = &switchWriter{w: io.Discard}
	logger = newLogger(out)
)

// switchWriter lets category loggers created before Enable follow later output changes.
type switchWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *switchWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

func (s *switchWriter) set(w io.Writer) {
	s.mu.Lock()
	s.w = w
	s.mu.Unlock()
}

func newLogger(w io.Writer) *log.Logger {
	return log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      "15:04:05.000",
		Level:           log.InfoLevel,
	})
}

// DefaultPath is ~/.config/go-daw/debug.log
func DefaultPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "go-daw", "debug.log")
}

// Enable starts logging to path, truncating it.
func Enable(path string) error {
	mu.Lock()
	defer mu.Unlock()

	if file != nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	file = f
	out.set(f)
	logger.WithPrefix("debug").Info("=== logging started ===")
	return nil
}

// SetOutput sends log output to w (stderr for headless runs).
func SetOutput(w io.Writer) {
	out.set(w)
}

// SetLevel accepts debug, info, warn, error.
func SetLevel(level string) error {
	l, err := log.ParseLevel(level)
	if err != nil {
		return err
	}
	logger.SetLevel(l)
	return nil
}

// Disable stops logging and closes the log file.
func Disable() {
	mu.Lock()
	defer mu.Unlock()

	out.set(io.Discard)
	if file != nil {
		file.Close()
		file = nil
	}
}

// New returns a logger tagged with category.
func New(category string) *log.Logger {
	return logger.WithPrefix(category)
}

// Log writes a printf-style debug message under category.
func Log(category, format string, args ...any) {
	logger.WithPrefix(category).Debugf(format, args...)
}

var (
	countersMu sync.Mutex
	counters   = make(map[string]int)
)

// LogEvery logs the first call and then every n-th call (use for high-frequency events).
func LogEvery(n int, category, format string, args ...any) {
	countersMu.Lock()
	key := category + format
	counters[key]++
	count := counters[key]
	countersMu.Unlock()

	if count == 1 || count%n == 0 {
		msg := fmt.Sprintf(format, args...)
		logger.WithPrefix(category).Warn(msg, "count", count)
	}
}
