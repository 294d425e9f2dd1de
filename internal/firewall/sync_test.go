package firewall

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func addr(t *testing.T, s string) netip.Addr {
	t.Helper()
	a, err := netip.ParseAddr(s)
	require.NoError(t, err)
	return a
}

func key(t *testing.T, s string) string {
	a4 := addr(t, s).As4()
	return string(a4[:])
}

func newTestSync(t *testing.T) (*Synchronizer, *FakeConn, *TableStore) {
	t.Helper()
	conn := NewFakeConn()
	tables := NewTableStore(conn, DefaultTableConfig(), nil)
	require.NoError(t, tables.Init())
	sync := NewSynchronizer(tables, nil, nil)
	sync.backoff = time.Microsecond
	return sync, conn, tables
}

func TestInitInstallsRules(t *testing.T) {
	conn := NewFakeConn()
	tables := NewTableStore(conn, DefaultTableConfig(), nil)
	require.NoError(t, tables.Init())
	assert.Equal(t, 3, conn.Rules())

	// Re-init must not stack duplicate rules.
	require.NoError(t, tables.Init())
	assert.Equal(t, 3, conn.Rules())
}

func TestSyncConverges(t *testing.T) {
	sync, conn, _ := newTestSync(t)

	res := sync.Sync(
		[]netip.Addr{addr(t, "10.0.0.5"), addr(t, "10.0.0.6")},
		[]netip.Addr{addr(t, "10.0.0.7")},
	)
	assert.Empty(t, res.Errors)
	assert.Equal(t, 3, res.Added)
	assert.Equal(t, 0, res.Removed)

	blocked := conn.Contents("curfew_blocked")
	assert.True(t, blocked[key(t, "10.0.0.5")])
	assert.True(t, blocked[key(t, "10.0.0.6")])
	assert.True(t, conn.Contents("curfew_monitored")[key(t, "10.0.0.7")])

	// Shrink the desired block set.
	res = sync.Sync([]netip.Addr{addr(t, "10.0.0.5")}, nil)
	assert.Equal(t, 0, res.Added)
	assert.Equal(t, 2, res.Removed)
	blocked = conn.Contents("curfew_blocked")
	assert.True(t, blocked[key(t, "10.0.0.5")])
	assert.False(t, blocked[key(t, "10.0.0.6")])
}

func TestSyncIdempotent(t *testing.T) {
	sync, conn, _ := newTestSync(t)
	desired := []netip.Addr{addr(t, "10.0.0.5")}

	sync.Sync(desired, nil)
	flushes := conn.Flushes()

	// Converged: the second pass stages nothing and commits nothing.
	res := sync.Sync(desired, nil)
	assert.Equal(t, 0, res.Added)
	assert.Equal(t, 0, res.Removed)
	assert.Equal(t, flushes, conn.Flushes())
}

func TestSyncAdoptsExistingElements(t *testing.T) {
	sync, conn, tables := newTestSync(t)

	// Another process left elements behind.
	conn.sets["curfew_blocked"] = map[string]bool{
		key(t, "10.0.0.9"): true,
	}

	res := sync.Sync([]netip.Addr{addr(t, "10.0.0.9")}, nil)
	assert.Equal(t, 0, res.Added, "existing element adopted, not re-added")

	current, err := tables.Show(BlockSet)
	require.NoError(t, err)
	require.Len(t, current, 1)
	assert.Equal(t, "10.0.0.9", current[0].String())
}

func TestSyncIsolatesBadElement(t *testing.T) {
	sync, conn, _ := newTestSync(t)
	conn.RejectKey = key(t, "10.0.0.6")

	res := sync.Sync(
		[]netip.Addr{addr(t, "10.0.0.5"), addr(t, "10.0.0.6"), addr(t, "10.0.0.7")},
		nil,
	)
	assert.True(t, res.Degraded())
	assert.Equal(t, 2, res.Added, "good elements applied despite the bad one")

	blocked := conn.Contents("curfew_blocked")
	assert.True(t, blocked[key(t, "10.0.0.5")])
	assert.False(t, blocked[key(t, "10.0.0.6")])
	assert.True(t, blocked[key(t, "10.0.0.7")])
}

func TestSyncCountsOnlyStagedOps(t *testing.T) {
	sync, conn, _ := newTestSync(t)
	conn.FailStageKey = key(t, "10.0.0.5")

	res := sync.Sync(
		[]netip.Addr{addr(t, "10.0.0.5")},
		[]netip.Addr{addr(t, "10.0.0.7")},
	)
	assert.True(t, res.Degraded())
	assert.Equal(t, 1, res.Added, "the failed stage is not counted as applied")
	assert.Equal(t, 0, res.Removed)

	assert.False(t, conn.Contents("curfew_blocked")[key(t, "10.0.0.5")])
	assert.True(t, conn.Contents("curfew_monitored")[key(t, "10.0.0.7")])
}

func TestSyncRecoversFromTransientFailure(t *testing.T) {
	sync, conn, _ := newTestSync(t)
	conn.FailFlushes = 1

	// First batch fails, element-wise fallback retries and succeeds.
	res := sync.Sync([]netip.Addr{addr(t, "10.0.0.5")}, nil)
	assert.Empty(t, res.Errors)
	assert.True(t, conn.Contents("curfew_blocked")[key(t, "10.0.0.5")])
}

func TestSyncSkipsNonIPv4(t *testing.T) {
	sync, conn, _ := newTestSync(t)

	res := sync.Sync([]netip.Addr{addr(t, "fd00::1"), addr(t, "10.0.0.5")}, nil)
	assert.Equal(t, 1, res.Added)
	assert.Len(t, conn.Contents("curfew_blocked"), 1)
}
