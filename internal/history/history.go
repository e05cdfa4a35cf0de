// internal/history/history.go
package history

import (
	"fmt"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cryptocj/copy-trading-bot-sub002/internal/logger"
)

const (
	flushInterval = 5 * time.Second
	ringCapacity  = 500
)

var csvHeader = []string{
	"timestamp", "cycle_id", "action", "symbol", "side",
	"size", "entry_price", "margin", "success", "tx_id", "reason",
}

// Record is one executed (or attempted) position action.
type Record struct {
	Timestamp  time.Time
	CycleID    string
	Action     string // "open" or "close"
	Symbol     string
	Side       string
	Size       float64
	EntryPrice float64
	Margin     float64
	Success    bool
	TxID       string
	Reason     string
}

// Store appends execution records to a CSV file and keeps the most recent
// ones in memory for session summaries.
type Store struct {
	mu     sync.Mutex
	writer *logger.SafeCSVWriter
	recent []Record
	opened uint64
	closed uint64
	failed uint64
	logger *zap.Logger
}

// NewStore creates a store writing to <dir>/executions.csv.
func NewStore(dir string, log *zap.Logger) (*Store, error) {
	path := filepath.Join(dir, "executions.csv")
	writer, err := logger.NewSafeCSVWriter(path, csvHeader, flushInterval, log)
	if err != nil {
		return nil, fmt.Errorf("create execution history writer: %w", err)
	}
	return &Store{
		writer: writer,
		recent: make([]Record, 0, ringCapacity),
		logger: log.Named("history"),
	}, nil
}

// Append records one execution. Write failures are logged and swallowed so a
// full disk never stops the sync loop.
func (s *Store) Append(rec Record) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	s.mu.Lock()
	switch {
	case !rec.Success:
		s.failed++
	case rec.Action == "open":
		s.opened++
	case rec.Action == "close":
		s.closed++
	}
	if len(s.recent) >= ringCapacity {
		s.recent = s.recent[1:]
	}
	s.recent = append(s.recent, rec)
	s.mu.Unlock()

	row := []string{
		rec.Timestamp.UTC().Format(time.RFC3339),
		rec.CycleID,
		rec.Action,
		rec.Symbol,
		rec.Side,
		strconv.FormatFloat(rec.Size, 'f', -1, 64),
		strconv.FormatFloat(rec.EntryPrice, 'f', -1, 64),
		strconv.FormatFloat(rec.Margin, 'f', -1, 64),
		strconv.FormatBool(rec.Success),
		rec.TxID,
		rec.Reason,
	}
	if err := s.writer.WriteRecord(row); err != nil {
		s.logger.Error("Failed to persist execution record",
			zap.String("symbol", rec.Symbol),
			zap.Error(err))
	}
}

// Recent returns up to n most recent records, newest last.
func (s *Store) Recent(n int) []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n <= 0 || n > len(s.recent) {
		n = len(s.recent)
	}
	out := make([]Record, n)
	copy(out, s.recent[len(s.recent)-n:])
	return out
}

// Summary returns counts for the session so far.
func (s *Store) Summary() (opened, closed, failed uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opened, s.closed, s.failed
}

// Close flushes and closes the CSV writer.
func (s *Store) Close() error {
	return s.writer.Close()
}
