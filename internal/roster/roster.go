// internal/roster/roster.go
package roster

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/cryptocj/copy-trading-bot-sub002/internal/allocation"
	"github.com/cryptocj/copy-trading-bot-sub002/internal/types"
)

// Manager holds the tracked trader roster. Every mutation recomputes
// allocations under the configured strategy so the percentages always sum to
// 100 across active traders.
type Manager struct {
	mu       sync.RWMutex
	traders  []*types.TraderRecord
	strategy allocation.Strategy
	maxSize  int
	version  uint64
	logger   *zap.Logger
}

// NewManager creates an empty roster capped at maxSize traders.
func NewManager(strategy allocation.Strategy, maxSize int, logger *zap.Logger) *Manager {
	if maxSize <= 0 {
		maxSize = 10
	}
	return &Manager{
		strategy: strategy,
		maxSize:  maxSize,
		logger:   logger.Named("roster"),
	}
}

// fileEntry is one trader in the roster YAML file.
type fileEntry struct {
	Address      string  `yaml:"address"`
	Platform     string  `yaml:"platform"`
	Paused       bool    `yaml:"paused"`
	CustomWeight float64 `yaml:"custom_weight"`
}

type rosterFile struct {
	Traders []fileEntry `yaml:"traders"`
}

// LoadFile replaces the roster with the contents of a YAML file.
func (m *Manager) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read roster file: %w", err)
	}

	var file rosterFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse roster file: %w", err)
	}
	if len(file.Traders) == 0 {
		return fmt.Errorf("roster file %s lists no traders", path)
	}
	if len(file.Traders) > m.maxSize {
		return fmt.Errorf("roster file lists %d traders, limit is %d", len(file.Traders), m.maxSize)
	}

	// Validate everything before touching the roster: a bad file must not
	// leave a half-replaced trader set behind.
	loaded := make([]*types.TraderRecord, 0, len(file.Traders))
	seen := make(map[string]bool, len(file.Traders))
	for _, entry := range file.Traders {
		addr := strings.TrimSpace(entry.Address)
		if addr == "" {
			return fmt.Errorf("roster file contains a trader with an empty address")
		}
		if seen[strings.ToLower(addr)] {
			return fmt.Errorf("duplicate trader address %s in roster file", addr)
		}
		seen[strings.ToLower(addr)] = true

		loaded = append(loaded, &types.TraderRecord{
			Address:      addr,
			Platform:     entry.Platform,
			IsActive:     !entry.Paused,
			CustomWeight: entry.CustomWeight,
		})
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.traders = loaded
	m.recomputeLocked()
	m.logger.Info("Roster loaded",
		zap.String("path", path),
		zap.Int("traders", len(m.traders)))
	return nil
}

// Add appends a trader. Duplicate addresses and roster overflow are rejected.
func (m *Manager) Add(trader *types.TraderRecord) error {
	if trader == nil || strings.TrimSpace(trader.Address) == "" {
		return fmt.Errorf("trader address cannot be empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.traders) >= m.maxSize {
		return fmt.Errorf("roster is full (%d traders)", m.maxSize)
	}
	if m.findLocked(trader.Address) != nil {
		return fmt.Errorf("trader %s already tracked", trader.Address)
	}

	m.traders = append(m.traders, trader)
	m.recomputeLocked()
	m.logger.Info("Trader added",
		zap.String("address", trader.Address),
		zap.Int("roster_size", len(m.traders)))
	return nil
}

// Remove drops a trader from the roster.
func (m *Manager) Remove(address string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, tr := range m.traders {
		if strings.EqualFold(tr.Address, address) {
			m.traders = append(m.traders[:i], m.traders[i+1:]...)
			m.recomputeLocked()
			m.logger.Info("Trader removed", zap.String("address", address))
			return nil
		}
	}
	return fmt.Errorf("trader %s not tracked", address)
}

// Pause keeps the trader in the roster but excludes it from allocations and
// conflict resolution until resumed.
func (m *Manager) Pause(address string) error {
	return m.setActive(address, false)
}

// Resume reactivates a paused trader.
func (m *Manager) Resume(address string) error {
	return m.setActive(address, true)
}

func (m *Manager) setActive(address string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tr := m.findLocked(address)
	if tr == nil {
		return fmt.Errorf("trader %s not tracked", address)
	}
	if tr.IsActive == active {
		return nil
	}
	tr.IsActive = active
	m.recomputeLocked()
	m.logger.Info("Trader state changed",
		zap.String("address", tr.Address),
		zap.Bool("active", active))
	return nil
}

// UpdatePositions stores a trader's latest fetched positions and stats.
func (m *Manager) UpdatePositions(address string, positions []types.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tr := m.findLocked(address)
	if tr == nil {
		return fmt.Errorf("trader %s not tracked", address)
	}
	tr.Positions = positions
	return nil
}

// All returns a snapshot of every trader, active or not, in roster order.
func (m *Manager) All() []*types.TraderRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*types.TraderRecord, len(m.traders))
	copy(out, m.traders)
	return out
}

// Active returns the active traders in roster order.
func (m *Manager) Active() []*types.TraderRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*types.TraderRecord, 0, len(m.traders))
	for _, tr := range m.traders {
		if tr.IsActive {
			out = append(out, tr)
		}
	}
	return out
}

// Version increments on every roster mutation. The sync loop compares it to
// detect mid-cycle changes.
func (m *Manager) Version() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.version
}

// Size returns the roster length including paused traders.
func (m *Manager) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.traders)
}

func (m *Manager) findLocked(address string) *types.TraderRecord {
	for _, tr := range m.traders {
		if strings.EqualFold(tr.Address, address) {
			return tr
		}
	}
	return nil
}

func (m *Manager) recomputeLocked() {
	allocation.ComputeAllocations(m.traders, m.strategy)
	m.version++
}
