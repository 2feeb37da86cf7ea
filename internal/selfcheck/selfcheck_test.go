package selfcheck

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/holger24/AFD-sub018/internal/fra"
	"github.com/holger24/AFD-sub018/internal/fsa"
)

func newFSATable(t *testing.T) *fsa.Table {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fsa")
	require.NoError(t, fsa.Create(path))
	tbl, err := fsa.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { tbl.Close() })
	return tbl
}

func newFRATable(t *testing.T) *fra.Table {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fra")
	require.NoError(t, fra.Create(path))
	tbl, err := fra.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { tbl.Close() })
	return tbl
}

func appendHost(t *testing.T, tbl *fsa.Table, h *fsa.Host) int {
	t.Helper()
	n := tbl.Len()
	require.NoError(t, tbl.Resize(n+1))
	tbl.Set(n, h)
	return n
}

func noQueued(int) bool          { return false }
func allQueued(int) bool         { return true }
func noRetriableErrors(int) bool { return false }

func TestRunSkipsHostsWithQueuedWork(t *testing.T) {
	fsaTable := newFSATable(t)
	fraTable := newFRATable(t)
	h := &fsa.Host{ActiveTransfers: 2, TotalFileCounter: 5}
	h.SetAlias("busy")
	appendHost(t, fsaTable, h)

	rep, err := Run(fsaTable, fraTable, allQueued, noRetriableErrors, nil)
	require.NoError(t, err)
	require.Equal(t, 0, rep.HostsChecked)
	require.Equal(t, 0, rep.HostsCorrected)

	got, err := fsaTable.Get(0)
	require.NoError(t, err)
	require.Equal(t, int32(2), got.ActiveTransfers)
}

func TestRunCorrectsDriftedCounters(t *testing.T) {
	fsaTable := newFSATable(t)
	fraTable := newFRATable(t)
	h := &fsa.Host{ActiveTransfers: 1, TotalFileCounter: 3, TotalFileSize: 1024, ErrorCounter: 2}
	h.SetAlias("idle-host")
	appendHost(t, fsaTable, h)

	rep, err := Run(fsaTable, fraTable, noQueued, noRetriableErrors, nil)
	require.NoError(t, err)
	require.Equal(t, 1, rep.HostsChecked)
	require.Equal(t, 1, rep.HostsCorrected)

	got, err := fsaTable.Get(0)
	require.NoError(t, err)
	require.Equal(t, int32(0), got.ActiveTransfers)
	require.Equal(t, int32(0), got.TotalFileCounter)
	require.Equal(t, int64(0), got.TotalFileSize)
	require.Equal(t, int32(0), got.ErrorCounter)
}

func TestRunClearsErrorQueueBitWhenNoRetriableWork(t *testing.T) {
	fsaTable := newFSATable(t)
	fraTable := newFRATable(t)
	h := &fsa.Host{HostStatus: fsa.StatusErrorQueueSet}
	h.SetAlias("drained")
	appendHost(t, fsaTable, h)

	rep, err := Run(fsaTable, fraTable, noQueued, noRetriableErrors, nil)
	require.NoError(t, err)
	require.Equal(t, 1, rep.ErrorQueueBitsCleared)

	got, err := fsaTable.Get(0)
	require.NoError(t, err)
	require.Equal(t, uint32(0), got.HostStatus&fsa.StatusErrorQueueSet)
}

func TestRunKeepsErrorQueueBitWhenRetriableWorkRemains(t *testing.T) {
	fsaTable := newFSATable(t)
	fraTable := newFRATable(t)
	h := &fsa.Host{HostStatus: fsa.StatusErrorQueueSet}
	h.SetAlias("still-retrying")
	appendHost(t, fsaTable, h)

	hasRetriable := func(int) bool { return true }
	rep, err := Run(fsaTable, fraTable, noQueued, hasRetriable, nil)
	require.NoError(t, err)
	require.Equal(t, 0, rep.ErrorQueueBitsCleared)

	got, err := fsaTable.Get(0)
	require.NoError(t, err)
	require.NotEqual(t, uint32(0), got.HostStatus&fsa.StatusErrorQueueSet)
}

func TestRunSkipsGroupIdentifiers(t *testing.T) {
	fsaTable := newFSATable(t)
	fraTable := newFRATable(t)
	h := &fsa.Host{ActiveTransfers: 1}
	h.RealHostname[0][0] = fsa.GroupIdentifier
	appendHost(t, fsaTable, h)

	rep, err := Run(fsaTable, fraTable, noQueued, noRetriableErrors, nil)
	require.NoError(t, err)
	require.Equal(t, 0, rep.HostsChecked)
}
