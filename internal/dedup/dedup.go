// Package dedup implements the duplicate-check delete/warn/store
// handling of spec §4.8: on every transferred file, one of three
// dispositions fires depending on the configured flag set.
package dedup

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/holger24/AFD-sub018/internal/logging"
)

// Flag is the duplicate-check action bitset (dupcheck_flag).
type Flag uint32

const (
	DCDelete Flag = 1 << iota
	DCWarn
	DCStore
)

// Record is one delete-log entry written to the delete-log fifo on
// DCDelete.
type Record struct {
	Filename        string
	Host            string
	Size            int64
	JobID           int64
	DirID           uint32
	InputTime       time.Time
	SplitJobCounter int32
	UniqueNumber    uint32
	NameLength      int32
	Proc            string
}

// String renders Record the way the delete-log fifo expects it:
// "...%s>diff_time (file line)".
func (r Record) String() string {
	diff := time.Since(r.InputTime)
	if diff < 0 {
		diff = 0
	}
	return fmt.Sprintf("%s>%s (%s)", r.Proc, diff, r.Filename)
}

// DeleteLogWriter appends a rendered Record to the delete-log fifo (or
// any sink the caller wires up).
type DeleteLogWriter func(Record) error

// Handler applies the configured Flag to one transferred file.
type Handler struct {
	WorkDir    string
	WriteLog   DeleteLogWriter
	Log        *logging.Logger
}

// Handle dispatches path per flag, returning the disposition taken.
// jobIDHex names the per-job store subdirectory for DCStore.
func (h *Handler) Handle(flag Flag, path string, rec Record, jobIDHex string) (string, error) {
	switch {
	case flag&DCDelete != 0:
		return "deleted", h.delete(path, rec)
	case flag&DCWarn != 0:
		if h.Log != nil {
			h.Log.Msg(rec.Filename).Warnf("File '%s' is duplicate. #%d", path, rec.JobID)
		}
		return "warned", nil
	case flag&DCStore != 0:
		return h.store(path, jobIDHex, rec)
	default:
		return "none", nil
	}
}

func (h *Handler) delete(path string, rec Record) error {
	info, statErr := os.Stat(path)
	if statErr == nil {
		rec.Size = info.Size()
		rec.InputTime = info.ModTime()
	}
	if h.WriteLog != nil {
		if err := h.WriteLog(rec); err != nil && h.Log != nil {
			h.Log.Msg(rec.Filename).Warnf("delete-log write failed: %v", err)
		}
	}
	return os.Remove(path)
}

// store implements DC_STORE per spec §4.8: ensure
// files/store/<jobid_hex>/ exists (mkdir tolerates EEXIST), rename the
// file under it; on rename failure, or on a non-EEXIST mkdir failure,
// fall back to delete.
func (h *Handler) store(path, jobIDHex string, rec Record) (string, error) {
	storeDir := filepath.Join(h.WorkDir, "files", "store", jobIDHex)
	if err := os.MkdirAll(storeDir, 0755); err != nil && !errors.Is(err, os.ErrExist) {
		if h.Log != nil {
			h.Log.Msg(rec.Filename).Warnf("store dir %s: %v, falling back to delete", storeDir, err)
		}
		return "deleted", h.delete(path, rec)
	}

	dest := filepath.Join(storeDir, filepath.Base(path))
	if err := os.Rename(path, dest); err != nil {
		if h.Log != nil {
			h.Log.Msg(rec.Filename).Warnf("store rename %s -> %s failed: %v, falling back to delete", path, dest, err)
		}
		return "deleted", h.delete(path, rec)
	}
	return "stored", nil
}
