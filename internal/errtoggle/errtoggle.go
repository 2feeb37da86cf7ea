// Package errtoggle implements remove_connection (spec §4.5): the
// per-worker-exit error accounting, retry scheduling and auto-toggle
// decision that is the heart of the dispatcher's health tracking.
package errtoggle

import (
	"os"
	"time"

	"github.com/holger24/AFD-sub018/internal/afdstatus"
	"github.com/holger24/AFD-sub018/internal/connection"
	"github.com/holger24/AFD-sub018/internal/fra"
	"github.com/holger24/AFD-sub018/internal/fsa"
	"github.com/holger24/AFD-sub018/internal/logging"
)

// Faulty is the tri-state exit classification spec §4.5 is called
// with.
type Faulty int

const (
	Neither Faulty = iota
	No
	Yes
)

// ReceiveLogOpener opens (or no-ops on) RECEIVE_LOG_FIFO. spec §9
// records two known variants of remove_connection that disagree on
// whether the FRA-side handling opens this fifo; DESIGN.md resolves
// the ambiguity in favor of the variant that does (the documented
// production behavior), so this engine calls it on the faulty path
// whenever Engine.OpenReceiveLog is set; a nil opener skips the fifo.
type ReceiveLogOpener func() (*os.File, error)

// FSATable is the slice of *fsa.Table RemoveConnection needs; an
// interface so tests can exercise the algorithm without a real
// shm-backed file.
type FSATable interface {
	Len() int
	Get(i int) (*fsa.Host, error)
	Set(i int, h *fsa.Host)
}

// FRATable is the corresponding slice of *fra.Table.
type FRATable interface {
	Len() int
	Get(i int) (*fra.Dir, error)
	Set(i int, d *fra.Dir)
}

// Engine runs remove_connection against live FSA/FRA/Connection/
// afdstatus state.
type Engine struct {
	FSA            FSATable
	FRA            FRATable
	Conns          *connection.Table
	Status         *afdstatus.ProcessState
	OpenReceiveLog ReceiveLogOpener
	Log            *logging.Logger
}

// Outcome reports what remove_connection did, for tests and metrics.
type Outcome struct {
	Toggled        bool
	NewToggle      fsa.HostToggle
	ErrorQueueSet  bool
	Resynced       bool
}

// RemoveConnection runs the full §4.5 algorithm for the worker that
// owned connIndex, exiting with classification faulty at time now.
func (e *Engine) RemoveConnection(connIndex int, faulty Faulty, now time.Time) (Outcome, error) {
	var out Outcome

	slot, err := e.Conns.Get(connIndex)
	if err != nil {
		return out, err
	}

	// Step 1: verify fsa_pos still resolves; when it does not, return
	// an error. §4.6 resync is not run here: cmd/dispatcher runs
	// resync.Resync on its own ticker, independent of this call.
	if slot.FSAPos < 0 || slot.FSAPos >= e.FSA.Len() {
		return out, errNoFSA(slot.FSAPos)
	}

	host, err := e.FSA.Get(slot.FSAPos)
	if err != nil {
		return out, err
	}

	switch faulty {
	case Yes:
		if e.FRA != nil && slot.FRAPos >= 0 && slot.FRAPos < e.FRA.Len() {
			dir, err := e.FRA.Get(slot.FRAPos)
			if err == nil {
				dir.ErrorCounter++
				if changed := dir.SyncDirErrorSet(); changed {
					if e.Log != nil {
						e.Log.Dir(dir.Alias()).Info("dir error start")
					}
				}
				e.FRA.Set(slot.FRAPos, dir)
			}
		}

		if e.OpenReceiveLog != nil {
			if f, err := e.OpenReceiveLog(); err == nil && f != nil {
				f.Close()
			}
		}

		host.ErrorCounter++
		host.TotalErrors++
		host.LastErrorTime = now.Unix()

		// Error-history ring (spec §4.5: head [0] is the most recent,
		// the tail decays). Shift everything one slot towards the tail
		// and write the new error at the head.
		for i := len(host.ErrorHistory) - 1; i > 0; i-- {
			host.ErrorHistory[i] = host.ErrorHistory[i-1]
		}
		host.ErrorHistory[0] = 1

		if host.ErrorCounter == 1 {
			// first crossing: nothing to toggle yet, but remember the
			// pre-escalation toggle position so a later crossing of
			// max_errors can restore it.
			host.OriginalTogglePos = host.HostToggle
		}

		if host.MaxErrors > 0 && host.ErrorCounter >= host.MaxErrors {
			// Sustained failure: spec §7 marks the host NOT_WORKING so
			// the dispatcher stops forking new workers for it until
			// retry_interval has elapsed (spec §4.4 step 4).
			host.HostStatus |= fsa.StatusNotWorking
		}

		if host.MaxErrors > 0 && host.ErrorCounter%host.MaxErrors == 0 {
			if host.ErrorCounter == host.MaxErrors {
				host.OriginalTogglePos = host.HostToggle
			}
			if host.AutoToggle == fsa.ToggleOn {
				if host.HostToggle == fsa.HostOne {
					host.HostToggle = fsa.HostTwo
				} else {
					host.HostToggle = fsa.HostOne
				}
				out.Toggled = true
				out.NewToggle = host.HostToggle
				if e.Log != nil {
					e.Log.Host(host.Alias()).Warn("Automatic host switch initiated")
				}
			}
		}

	case No:
		if host.ErrorCounter > 0 && !slot.TempToggle {
			host.ErrorCounter = 0
			host.HostStatus &^= fsa.StatusNotWorking
			for i := range host.JobStatusSlots {
				if host.JobStatusSlots[i].ConnectStatus == fsa.NotWorking {
					host.JobStatusSlots[i].ConnectStatus = fsa.Disconnect
				}
			}
			host.ErrorHistory[0] = 0
			if len(host.ErrorHistory) > 1 {
				host.ErrorHistory[1] = 0
			}
		}

	case Neither:
		// no error accounting change.
	}

	// Step 4: clamp and decrement active_transfers.
	if host.ActiveTransfers > host.AllowedTransfers {
		host.ActiveTransfers = host.AllowedTransfers
	}
	if host.ActiveTransfers < 0 {
		host.ActiveTransfers = 0
	}
	if host.ActiveTransfers > 0 {
		host.ActiveTransfers--
	}

	// WITH_ERROR_QUEUE / error-queue bookkeeping: cleared on
	// successful transfer (DESIGN.md Open Question #4).
	if faulty == No && host.HostStatus&fsa.StatusErrorQueueSet != 0 {
		host.HostStatus &^= fsa.StatusErrorQueueSet
		out.ErrorQueueSet = false
	}

	if slot.JobNo >= 0 && slot.JobNo < fsa.MaxNoParallelJobs {
		host.JobStatusSlots[slot.JobNo].Reset()
	}

	e.FSA.Set(slot.FSAPos, host)

	// Step 5: decrement no_of_transfers, never below 0.
	if e.Status != nil {
		e.Status.DecrementTransfers()
	}

	// Step 6: zero the connection slot.
	if err := e.Conns.Release(connIndex); err != nil {
		return out, err
	}

	return out, nil
}

type noFSAError struct{ pos int }

func (e noFSAError) Error() string {
	return "errtoggle: connection's fsa_pos does not resolve; resync required"
}

func errNoFSA(pos int) error { return noFSAError{pos: pos} }
