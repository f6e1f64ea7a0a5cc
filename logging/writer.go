package logging

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// levelWriter writes one level's entries into <Director>/<date>/<level>.log,
// rotating through lumberjack. A new date opens a new file and closes the old one.
type levelWriter struct {
	config Config
	level  string

	mu      sync.Mutex
	date    string
	current *lumberjack.Logger
}

func newLevelWriter(config Config, level string) *levelWriter {
	return &levelWriter{config: config, level: level}
}

// Write implements io.Writer.
func (w *levelWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	date := time.Now().Format("2006-01-02")
	if w.current == nil || w.date != date {
		if w.current != nil {
			_ = w.current.Close()
		}
		w.current = w.open(date)
		w.date = date
	}
	return w.current.Write(p)
}

func (w *levelWriter) open(date string) *lumberjack.Logger {
	dir := filepath.Join(w.config.Director, date)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		dir = w.config.Director
		_ = os.MkdirAll(dir, 0o755)
	}
	return &lumberjack.Logger{
		Filename:   filepath.Join(dir, w.level+".log"),
		MaxSize:    w.config.MaxSize,
		MaxBackups: w.config.MaxBackups,
		MaxAge:     w.config.MaxAge,
		Compress:   w.config.Compress,
		LocalTime:  true,
	}
}

// Sync implements zapcore.WriteSyncer. lumberjack flushes on every write.
func (w *levelWriter) Sync() error {
	return nil
}

// Close closes the open file, if any.
func (w *levelWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.current == nil {
		return nil
	}
	err := w.current.Close()
	w.current = nil
	return err
}

var (
	writersMu sync.Mutex
	writers   []*levelWriter
)

func registerWriter(w *levelWriter) zapcore.WriteSyncer {
	writersMu.Lock()
	defer writersMu.Unlock()
	writers = append(writers, w)
	return w
}

// CloseAllWriters closes every file writer opened by New. Call it on shutdown.
func CloseAllWriters() error {
	writersMu.Lock()
	defer writersMu.Unlock()

	var lastErr error
	for _, w := range writers {
		if err := w.Close(); err != nil {
			lastErr = err
		}
	}
	writers = nil
	return lastErr
}
