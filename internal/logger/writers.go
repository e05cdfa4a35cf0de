package logger

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// SafeCSVWriter provides thread-safe CSV writing with periodic flushes.
type SafeCSVWriter struct {
	mu       sync.Mutex
	writer   *csv.Writer
	file     *os.File
	ticker   *time.Ticker
	done     chan struct{}
	logger   *zap.Logger
	filePath string

	writtenRecords uint64
	flushCount     uint64
}

// NewSafeCSVWriter opens (or creates) the file in append mode and writes the
// given header when the file is empty.
func NewSafeCSVWriter(filePath string, header []string, flushInterval time.Duration, logger *zap.Logger) (*SafeCSVWriter, error) {
	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}

	scw := &SafeCSVWriter{
		writer:   csv.NewWriter(file),
		file:     file,
		ticker:   time.NewTicker(flushInterval),
		done:     make(chan struct{}),
		logger:   logger,
		filePath: filePath,
	}

	if stat.Size() == 0 && len(header) > 0 {
		if err := scw.writer.Write(header); err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to write header: %w", err)
		}
		scw.writer.Flush()
	}

	go scw.periodicFlush()

	return scw, nil
}

// WriteRecord writes a CSV record in a thread-safe manner.
func (scw *SafeCSVWriter) WriteRecord(record []string) error {
	scw.mu.Lock()
	defer scw.mu.Unlock()

	if err := scw.writer.Write(record); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}

	scw.writtenRecords++
	return nil
}

// Flush forces a write of any buffered data.
func (scw *SafeCSVWriter) Flush() error {
	scw.mu.Lock()
	defer scw.mu.Unlock()

	scw.writer.Flush()
	if err := scw.writer.Error(); err != nil {
		return fmt.Errorf("CSV writer error: %w", err)
	}
	if err := scw.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync file: %w", err)
	}

	scw.flushCount++
	return nil
}

func (scw *SafeCSVWriter) periodicFlush() {
	for {
		select {
		case <-scw.ticker.C:
			if err := scw.Flush(); err != nil {
				scw.logger.Error("Periodic CSV flush failed",
					zap.String("file", scw.filePath),
					zap.Error(err))
			}
		case <-scw.done:
			return
		}
	}
}

// Close stops the flush loop and closes the underlying file.
func (scw *SafeCSVWriter) Close() error {
	close(scw.done)
	scw.ticker.Stop()

	scw.mu.Lock()
	defer scw.mu.Unlock()

	scw.writer.Flush()
	if err := scw.writer.Error(); err != nil {
		return fmt.Errorf("CSV writer error on close: %w", err)
	}
	if err := scw.file.Close(); err != nil {
		return fmt.Errorf("failed to close file: %w", err)
	}

	scw.logger.Debug("CSV writer closed",
		zap.String("file", scw.filePath),
		zap.Uint64("records", scw.writtenRecords),
		zap.Uint64("flushes", scw.flushCount))

	return nil
}

// Stats returns how many records and flushes the writer has performed.
func (scw *SafeCSVWriter) Stats() (records, flushes uint64) {
	scw.mu.Lock()
	defer scw.mu.Unlock()
	return scw.writtenRecords, scw.flushCount
}
