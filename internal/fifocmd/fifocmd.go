// Package fifocmd implements the command-fifo opcode protocol and the
// DELETE_MESSAGE cancellation semantics of spec §2.10, §4.4 and §6:
// both the fifo-mediated path used while the dispatcher is running and
// the direct-removal fallback used by a standalone tool when it is
// not.
package fifocmd

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"syscall"
	"time"

	"github.com/holger24/AFD-sub018/internal/fra"
	"github.com/holger24/AFD-sub018/internal/fsa"
	"github.com/holger24/AFD-sub018/internal/logging"
	"github.com/holger24/AFD-sub018/internal/qb"
	"github.com/holger24/AFD-sub018/pkg/afdpath"
)

// Opcode is the one-byte command-fifo opcode (spec §4.4 step 1).
type Opcode byte

const (
	OpStart Opcode = iota + 1
	OpStop
	OpShutdown
	OpDeleteMessage
	OpFlushMsgFifo
)

// EncodeDeleteMessage builds the wire form spec §4.4/§6 describes for
// FD_DELETE_FIFO: one opcode byte plus the 0-terminated msg_name.
func EncodeDeleteMessage(msgName string) []byte {
	buf := make([]byte, 0, len(msgName)+2)
	buf = append(buf, byte(OpDeleteMessage))
	buf = append(buf, msgName...)
	buf = append(buf, 0)
	return buf
}

// DecodeDeleteMessage parses one EncodeDeleteMessage frame.
func DecodeDeleteMessage(b []byte) (string, error) {
	if len(b) < 2 || Opcode(b[0]) != OpDeleteMessage {
		return "", fmt.Errorf("fifocmd: not a DELETE_MESSAGE frame")
	}
	nul := bytes.IndexByte(b[1:], 0)
	if nul < 0 {
		return "", fmt.Errorf("fifocmd: DELETE_MESSAGE frame missing NUL terminator")
	}
	return string(b[1 : 1+nul]), nil
}

// SubmitDelete implements the dispatcher-active cancellation path: it
// writes the opcode frame to w (FD_DELETE_FIFO) and returns — the
// dispatcher picks it up on its own next tick.
func SubmitDelete(w io.Writer, msgName string) error {
	_, err := w.Write(EncodeDeleteMessage(msgName))
	return err
}

// SignalGrace is the window between SIGINT and SIGKILL in the
// best-effort-immediate kill sequence (spec §4.4 "Cancellation
// semantics").
const SignalGrace = 200 * time.Millisecond

// ErrorQueueRemover removes msgName from the error queue, if present
// (spec §4.4 "removes the job from the error queue if present").
type ErrorQueueRemover func(msgName string) bool

// FSATable is the slice of *fsa.Table Remover needs.
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

// Remover executes DELETE_MESSAGE's full removal algorithm, used both
// by the dispatcher after draining FD_DELETE_FIFO and directly by a
// standalone tool when the dispatcher is not running.
type Remover struct {
	Layout        *afdpath.Layout
	QB            *qb.Table
	FRA           FRATable
	FSA           FSATable
	ErrorQueue    ErrorQueueRemover
	Log           *logging.Logger
	OccurrencesAfter func(te fra.TimeEntry, now int64) int64
	Now           func() time.Time
}

func (r *Remover) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// Result reports what one removal did.
type Result struct {
	Found           bool
	WorkerSignaled  bool
	FilesRemoved    int64
	BytesRemoved    int64
	ErrorQueueEntry bool
}

// Remove finds msgName in the QB, signals its owning worker if one is
// running (SIGINT, then after SignalGrace, SIGKILL), removes the QB
// entry (with its FRA/next_check_time side effects), removes
// files/outgoing/<msgName>/ after counting its files and bytes into
// Result, and removes the job from the error queue if present. Remove
// leaves the owning host's total_file_counter/total_file_size alone;
// the caller applies Result's counts with DecrementHostCounters.
// Remove does not take locks itself so the dispatcher can fold it into
// its own already-held lock scope (spec §4.4).
func (r *Remover) Remove(msgName string) (Result, error) {
	var res Result

	pos := r.QB.Find(msgName)
	if pos < 0 {
		return res, nil
	}
	res.Found = true

	item, err := r.QB.Get(pos)
	if err != nil {
		return res, err
	}

	if item.PID > 0 {
		res.WorkerSignaled = true
		_ = syscall.Kill(int(item.PID), syscall.SIGINT)
		time.Sleep(SignalGrace)
		_ = syscall.Kill(int(item.PID), syscall.SIGKILL)
	}

	if item.IsFetchJob() && r.FRA != nil && int(item.Pos) < r.FRA.Len() {
		dir, err := r.FRA.Get(int(item.Pos))
		if err == nil {
			if dir.Queued > 0 {
				dir.Queued--
			}
			if dir.ErrorCounter > 0 && dir.DirFlag&fra.FlagErrorSet != 0 {
				dir.DirFlag &^= fra.FlagErrorSet
				if r.Log != nil {
					r.Log.Dir(dir.Alias()).Info("dir error end")
				}
			}
			if r.OccurrencesAfter != nil {
				dir.RecomputeNextCheckTime(r.now().Unix(), r.OccurrencesAfter)
			}
			r.FRA.Set(int(item.Pos), dir)
		}
	}

	outgoingDir := r.Layout.OutgoingDir(msgName)
	files, bytesN := countFiles(outgoingDir)
	res.FilesRemoved = files
	res.BytesRemoved = bytesN
	_ = os.RemoveAll(outgoingDir)

	if err := r.QB.RemoveAt(pos); err != nil {
		return res, err
	}

	if r.ErrorQueue != nil {
		res.ErrorQueueEntry = r.ErrorQueue(msgName)
	}

	return res, nil
}

// DecrementHostCounters applies the files/bytes removed by a delete to
// hostFSAPos's total_file_counter/total_file_size, clamped at 0. The
// dispatcher calls this under LOCK_TFC (spec §4.2 lock order) since it
// alone knows which host owned the deleted job.
func (r *Remover) DecrementHostCounters(hostFSAPos int, files int32, bytesN int64) error {
	if r.FSA == nil {
		return nil
	}
	h, err := r.FSA.Get(hostFSAPos)
	if err != nil {
		return err
	}
	h.TotalFileCounter -= files
	if h.TotalFileCounter < 0 {
		h.TotalFileCounter = 0
	}
	h.TotalFileSize -= bytesN
	if h.TotalFileSize < 0 {
		h.TotalFileSize = 0
	}
	r.FSA.Set(hostFSAPos, h)
	return nil
}

func countFiles(dir string) (count int64, size int64) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, 0
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		count++
		size += info.Size()
	}
	return count, size
}
