// internal/roster/roster_test.go
package roster

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cryptocj/copy-trading-bot-sub002/internal/allocation"
	"github.com/cryptocj/copy-trading-bot-sub002/internal/types"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(allocation.StrategyEqual, 3, zaptest.NewLogger(t))
}

func TestAddRecomputesAllocations(t *testing.T) {
	m := newTestManager(t)

	require.NoError(t, m.Add(&types.TraderRecord{Address: "0xaaa", IsActive: true}))
	require.NoError(t, m.Add(&types.TraderRecord{Address: "0xbbb", IsActive: true}))

	active := m.Active()
	require.Len(t, active, 2)
	for _, tr := range active {
		assert.InDelta(t, 50.0, tr.AllocationPercent, allocation.SumTolerance)
	}
}

func TestAddRejectsDuplicateAndOverflow(t *testing.T) {
	m := newTestManager(t)

	require.NoError(t, m.Add(&types.TraderRecord{Address: "0xaaa", IsActive: true}))
	err := m.Add(&types.TraderRecord{Address: "0xAAA", IsActive: true})
	require.Error(t, err, "address comparison is case-insensitive")
	assert.Contains(t, err.Error(), "already tracked")

	require.NoError(t, m.Add(&types.TraderRecord{Address: "0xbbb", IsActive: true}))
	require.NoError(t, m.Add(&types.TraderRecord{Address: "0xccc", IsActive: true}))
	err = m.Add(&types.TraderRecord{Address: "0xddd", IsActive: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "full")
}

func TestPauseResumeReallocates(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.Add(&types.TraderRecord{Address: "0xaaa", IsActive: true}))
	require.NoError(t, m.Add(&types.TraderRecord{Address: "0xbbb", IsActive: true}))

	require.NoError(t, m.Pause("0xbbb"))
	active := m.Active()
	require.Len(t, active, 1)
	assert.InDelta(t, 100.0, active[0].AllocationPercent, allocation.SumTolerance)
	assert.Equal(t, 2, m.Size(), "paused trader stays in the roster")

	require.NoError(t, m.Resume("0xbbb"))
	assert.Len(t, m.Active(), 2)
}

func TestRemove(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.Add(&types.TraderRecord{Address: "0xaaa", IsActive: true}))
	require.NoError(t, m.Add(&types.TraderRecord{Address: "0xbbb", IsActive: true}))

	require.NoError(t, m.Remove("0xaaa"))
	active := m.Active()
	require.Len(t, active, 1)
	assert.Equal(t, "0xbbb", active[0].Address)
	assert.InDelta(t, 100.0, active[0].AllocationPercent, allocation.SumTolerance)

	require.Error(t, m.Remove("0xaaa"))
}

func TestVersionAdvancesOnMutation(t *testing.T) {
	m := newTestManager(t)
	v0 := m.Version()

	require.NoError(t, m.Add(&types.TraderRecord{Address: "0xaaa", IsActive: true}))
	v1 := m.Version()
	assert.Greater(t, v1, v0)

	require.NoError(t, m.Pause("0xaaa"))
	assert.Greater(t, m.Version(), v1)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "traders.yaml")
	content := `traders:
  - address: "0xaaa"
    platform: hyperliquid
  - address: "0xbbb"
    platform: hyperliquid
    paused: true
  - address: "0xccc"
    platform: hyperliquid
    custom_weight: 2.5
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	m := newTestManager(t)
	require.NoError(t, m.LoadFile(path))

	assert.Equal(t, 3, m.Size())
	active := m.Active()
	require.Len(t, active, 2)
	for _, tr := range active {
		assert.InDelta(t, 50.0, tr.AllocationPercent, allocation.SumTolerance)
	}

	all := m.All()
	assert.InDelta(t, 2.5, all[2].CustomWeight, 1e-9)
}

func TestLoadFileFailureLeavesRosterIntact(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "traders.yaml")

	m := newTestManager(t)
	require.NoError(t, m.Add(&types.TraderRecord{Address: "0xaaa", IsActive: true}))
	require.NoError(t, m.Add(&types.TraderRecord{Address: "0xbbb", IsActive: true}))
	version := m.Version()

	bad := `traders:
  - address: "0xccc"
  - address: "0xCCC"
`
	require.NoError(t, os.WriteFile(path, []byte(bad), 0o644))
	require.Error(t, m.LoadFile(path))

	assert.Equal(t, version, m.Version(), "failed load must not mutate the roster")
	active := m.Active()
	require.Len(t, active, 2)
	assert.Equal(t, "0xaaa", active[0].Address)
	assert.Equal(t, "0xbbb", active[1].Address)
	for _, tr := range active {
		assert.InDelta(t, 50.0, tr.AllocationPercent, allocation.SumTolerance)
	}
}

func TestLoadFileRejectsBadInput(t *testing.T) {
	dir := t.TempDir()

	cases := map[string]string{
		"empty roster": `traders: []`,
		"duplicate address": `traders:
  - address: "0xaaa"
  - address: "0xAAA"
`,
		"blank address": `traders:
  - address: ""
`,
		"over limit": `traders:
  - address: "0xaaa"
  - address: "0xbbb"
  - address: "0xccc"
  - address: "0xddd"
`,
	}

	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, "bad.yaml")
			require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
			m := newTestManager(t)
			require.Error(t, m.LoadFile(path))
		})
	}
}
