package wmo

import (
	"bytes"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/holger24/AFD-sub018/internal/worker"
)

func TestWriteReadFrameRoundTrips(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, 7, []byte("hello wmo")))

	hdr, payload, err := ReadFrame(&buf)
	require.NoError(t, err)
	require.Equal(t, byte(7), hdr.MessageType)
	require.Equal(t, uint32(len("hello wmo")), hdr.Length)
	require.Equal(t, "hello wmo", string(payload))
}

func TestReadFrameRejectsShortHeader(t *testing.T) {
	_, _, err := ReadFrame(bytes.NewReader([]byte{1, 2}))
	require.Error(t, err)
}

func TestReadFrameRejectsTruncatedPayload(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, 1, []byte("0123456789")))
	truncated := buf.Bytes()[:headerSize+3]
	_, _, err := ReadFrame(bytes.NewReader(truncated))
	require.Error(t, err)
}

func TestServeUntilDisconnectEndsOnElapsedWindow(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	go func() {
		buf := make([]byte, 16)
		for {
			if _, err := server.Read(buf); err != nil {
				return
			}
		}
	}()

	start := time.Now()
	err := serveUntilDisconnect(client, 150*time.Millisecond)
	require.NoError(t, err)
	require.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
}

func TestTimeoutFallsBackToDefault(t *testing.T) {
	require.Equal(t, 2*time.Minute, timeout(worker.Job{}))
	require.Equal(t, 5*time.Second, timeout(worker.Job{TimeoutSecs: 5}))
}
