// Package afdstatus implements the AFD_ACTIVE heartbeat file and the
// ProcessState counters of spec §3/§6: a pid table followed by a
// heartbeat counter bumped once per tick, plus the global
// no_of_transfers/jobs_in_queue health counters.
package afdstatus

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"
)

// NoOfProcess bounds the pid table (NO_OF_PROCESS).
const NoOfProcess = 16

// ProcessState mirrors spec §3 "ProcessState (AFD status)".
type ProcessState struct {
	NoOfTransfers int32
	JobsInQueue   int32
}

// DecrementTransfers decrements no_of_transfers, clamped at 0 per spec
// §4.5 step 5 ("never below 0").
func (p *ProcessState) DecrementTransfers() {
	if p.NoOfTransfers > 0 {
		p.NoOfTransfers--
	}
}

// Heartbeat is the decoded AFD_ACTIVE file: NoOfProcess pids followed
// by a heartbeat counter.
type Heartbeat struct {
	PIDs    [NoOfProcess]int32
	Counter uint32
}

const heartbeatRecordSize = NoOfProcess*4 + 4

// WriteHeartbeat writes h to path, truncating/creating as needed.
func WriteHeartbeat(path string, h Heartbeat) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return fmt.Errorf("afdstatus: open %s: %w", path, err)
	}
	defer f.Close()
	buf := make([]byte, heartbeatRecordSize)
	for i, pid := range h.PIDs {
		binary.LittleEndian.PutUint32(buf[i*4:], uint32(pid))
	}
	binary.LittleEndian.PutUint32(buf[NoOfProcess*4:], h.Counter)
	_, err = f.WriteAt(buf, 0)
	return err
}

// ReadCounter re-opens path, seeks past the pid table, and reads the
// heartbeat counter — the first half of the presence-detector
// protocol of spec §6.
func ReadCounter(path string) (uint32, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("afdstatus: open %s: %w", path, err)
	}
	defer f.Close()
	var buf [4]byte
	if _, err := f.ReadAt(buf[:], NoOfProcess*4); err != nil {
		return 0, fmt.Errorf("afdstatus: read counter: %w", err)
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

// Presence is the outcome of IsAlive.
type Presence int

const (
	Dead Presence = iota
	Alive
	Timeout // distinct from "no AFD at all" per spec §6
)

// IsAlive reads the heartbeat counter twice, up to wait apart, per
// spec §6: a change means alive; no change means the process exists
// but is stuck, reported as Timeout — distinct from Dead, which means
// AFD_ACTIVE does not exist at all.
func IsAlive(path string, wait time.Duration) (Presence, error) {
	first, err := ReadCounter(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Dead, nil
	}
	if err != nil {
		return Dead, err
	}
	time.Sleep(wait)
	second, err := ReadCounter(path)
	if err != nil {
		return Timeout, err
	}
	if second != first {
		return Alive, nil
	}
	return Timeout, nil
}
