package connection

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewTableStartsAllIdle(t *testing.T) {
	tbl := NewTable(3)
	require.Equal(t, 3, tbl.Cap())
	require.Equal(t, 0, tbl.InUse())

	s, err := tbl.Get(0)
	require.NoError(t, err)
	require.True(t, s.Empty())
	require.Equal(t, -1, s.FSAPos)
	require.Equal(t, -1, s.FRAPos)
	require.Equal(t, -1, s.JobNo)
}

func TestAllocateFindsSmallestFreeIndex(t *testing.T) {
	tbl := NewTable(2)
	idx, err := tbl.Allocate(Slot{PID: 100, HostID: 1, JobNo: 0, FSAPos: 0, FRAPos: -1})
	require.NoError(t, err)
	require.Equal(t, 0, idx)
	require.Equal(t, 1, tbl.InUse())

	idx2, err := tbl.Allocate(Slot{PID: 200, HostID: 2, JobNo: 0, FSAPos: 1, FRAPos: -1})
	require.NoError(t, err)
	require.Equal(t, 1, idx2)
}

func TestAllocateFullTableErrors(t *testing.T) {
	tbl := NewTable(1)
	_, err := tbl.Allocate(Slot{PID: 100})
	require.NoError(t, err)

	_, err = tbl.Allocate(Slot{PID: 200})
	require.Error(t, err)
}

func TestReleaseResetsSlot(t *testing.T) {
	tbl := NewTable(1)
	idx, err := tbl.Allocate(Slot{PID: 100, FSAPos: 0, FRAPos: 2, JobNo: 5})
	require.NoError(t, err)

	require.NoError(t, tbl.Release(idx))
	s, err := tbl.Get(idx)
	require.NoError(t, err)
	require.True(t, s.Empty())
	require.Equal(t, -1, s.FSAPos)
	require.Equal(t, -1, s.FRAPos)
	require.Equal(t, -1, s.JobNo)
	require.Equal(t, 0, tbl.InUse())
}

func TestFindByPID(t *testing.T) {
	tbl := NewTable(2)
	_, err := tbl.Allocate(Slot{PID: 100})
	require.NoError(t, err)
	_, err = tbl.Allocate(Slot{PID: 200})
	require.NoError(t, err)

	require.Equal(t, 1, tbl.FindByPID(200))
	require.Equal(t, -1, tbl.FindByPID(999))
}

func TestGetSetOutOfRange(t *testing.T) {
	tbl := NewTable(1)
	_, err := tbl.Get(5)
	require.Error(t, err)
	require.Error(t, tbl.Set(5, Slot{}))
	require.Error(t, tbl.Release(-1))
}

func TestEachVisitsOnlyOccupiedSlots(t *testing.T) {
	tbl := NewTable(3)
	_, err := tbl.Allocate(Slot{PID: 100})
	require.NoError(t, err)

	visited := 0
	tbl.Each(func(i int, s Slot) {
		visited++
		require.Equal(t, 100, s.PID)
	})
	require.Equal(t, 1, visited)
}
