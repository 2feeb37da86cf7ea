package ftp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/holger24/AFD-sub018/internal/worker"
)

func TestBlockSizeFallsBackToDefault(t *testing.T) {
	require.Equal(t, int32(4096), blockSize(worker.Job{}))
	require.Equal(t, int32(8192), blockSize(worker.Job{BlockSize: 8192}))
}

func TestTimeoutFallsBackToDefault(t *testing.T) {
	require.Equal(t, 2*time.Minute, timeout(worker.Job{}))
	require.Equal(t, 15*time.Second, timeout(worker.Job{TimeoutSecs: 15}))
}
