package afdstatus

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDecrementTransfersClampsAtZero(t *testing.T) {
	p := &ProcessState{NoOfTransfers: 1}
	p.DecrementTransfers()
	require.Equal(t, int32(0), p.NoOfTransfers)
	p.DecrementTransfers()
	require.Equal(t, int32(0), p.NoOfTransfers)
}

func TestWriteHeartbeatReadCounterRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "AFD_ACTIVE")
	h := Heartbeat{Counter: 7}
	h.PIDs[0] = 1234
	require.NoError(t, WriteHeartbeat(path, h))

	got, err := ReadCounter(path)
	require.NoError(t, err)
	require.Equal(t, uint32(7), got)
}

func TestIsAliveDeadWhenFileMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing")
	p, err := IsAlive(path, time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, Dead, p)
}

func TestIsAliveAliveWhenCounterAdvances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "AFD_ACTIVE")
	require.NoError(t, WriteHeartbeat(path, Heartbeat{Counter: 1}))

	done := make(chan struct{})
	go func() {
		time.Sleep(5 * time.Millisecond)
		_ = WriteHeartbeat(path, Heartbeat{Counter: 2})
		close(done)
	}()

	p, err := IsAlive(path, 20*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, Alive, p)
	<-done
}

// TestIsAliveTimeoutWhenCounterStuck verifies that a heartbeat counter
// which does not advance is reported as Timeout, distinct from Dead.
func TestIsAliveTimeoutWhenCounterStuck(t *testing.T) {
	path := filepath.Join(t.TempDir(), "AFD_ACTIVE")
	require.NoError(t, WriteHeartbeat(path, Heartbeat{Counter: 5}))

	p, err := IsAlive(path, 5*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, Timeout, p)
}
