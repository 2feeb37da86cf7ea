// Package wmo is the WMO/binary-framing protocol worker: a simple
// length-prefixed frame codec over a persistent TCP connection, using
// stdlib encoding/binary (spec §9: no ecosystem WMO codec exists
// anywhere in the retrieved pack; this is a justified stdlib use, see
// DESIGN.md).
//
// This implements the disconnect condition *correctly* rather than
// reproducing the documented source bug (DESIGN.md Open Question #3):
// the read loop ends once now >= start+disconnect, not on the
// always-true inverted form the original carries.
package wmo

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/holger24/AFD-sub018/internal/worker"
)

// FrameHeader precedes every WMO message: a 4-byte big-endian length
// followed by a 1-byte message type.
type FrameHeader struct {
	Length      uint32
	MessageType byte
}

const headerSize = 5

// WriteFrame writes one length-prefixed frame to w.
func WriteFrame(w io.Writer, msgType byte, payload []byte) error {
	hdr := make([]byte, headerSize)
	binary.BigEndian.PutUint32(hdr[0:4], uint32(len(payload)))
	hdr[4] = msgType
	if _, err := w.Write(hdr); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// ReadFrame reads one length-prefixed frame from r.
func ReadFrame(r io.Reader) (FrameHeader, []byte, error) {
	hdr := make([]byte, headerSize)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return FrameHeader{}, nil, err
	}
	h := FrameHeader{
		Length:      binary.BigEndian.Uint32(hdr[0:4]),
		MessageType: hdr[4],
	}
	payload := make([]byte, h.Length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return h, nil, err
	}
	return h, payload, nil
}

// Transfer opens a persistent connection to j.Hostname:j.Port and
// streams each named file as one WMO frame, then holds the connection
// open for requests (spec §9 handle_wmo_request) until now reaches
// start+disconnect.
func Transfer(j worker.Job, disconnect time.Duration) error {
	addr := fmt.Sprintf("%s:%d", j.Hostname, j.Port)
	conn, err := net.DialTimeout("tcp", addr, timeout(j))
	if err != nil {
		return fmt.Errorf("wmo: dial %s: %w", addr, err)
	}
	defer conn.Close()

	w := bufio.NewWriter(conn)
	for _, name := range j.Files {
		path := filepath.Join(j.SourceDir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("wmo: read %s: %w", path, err)
		}
		if err := WriteFrame(w, 1, data); err != nil {
			return fmt.Errorf("wmo: write frame for %s: %w", name, err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("wmo: flush: %w", err)
	}

	return serveUntilDisconnect(conn, disconnect)
}

// serveUntilDisconnect reads and discards incoming frames (a thin
// stand-in for handle_wmo_request) until the disconnect window
// elapses, then returns cleanly.
func serveUntilDisconnect(conn net.Conn, disconnect time.Duration) error {
	start := time.Now()
	for {
		if !time.Now().Before(start.Add(disconnect)) {
			return nil
		}
		conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		_, _, err := ReadFrame(conn)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("wmo: read: %w", err)
		}
	}
}

func timeout(j worker.Job) time.Duration {
	if j.TimeoutSecs > 0 {
		return time.Duration(j.TimeoutSecs) * time.Second
	}
	return 2 * time.Minute
}
