// Package resync implements get_new_positions (spec §4.6): when the
// configuration compiler rebuilds the FSA/FRA layout, every live
// Connection's fsa_pos/fra_pos may no longer refer to the same
// host/directory. Policy B (the implemented default) moves an orphaned
// job behind the live table rather than killing it, preserving the
// data path across host renames.
package resync

import (
	"github.com/holger24/AFD-sub018/internal/connection"
	"github.com/holger24/AFD-sub018/internal/fra"
	"github.com/holger24/AFD-sub018/internal/fsa"
	"github.com/holger24/AFD-sub018/internal/msgname"
)

// Result records, for one connection, how its position was resolved.
type Result struct {
	ConnIndex    int
	FSAPos       int
	FSAPlaceholder bool
	FRAPos       int
	FRAPlaceholder bool
}

// Resync walks every occupied connection slot and resolves its
// fsa_pos/fra_pos against the current FSA/FRA tables, per spec §4.6.
func Resync(conns *connection.Table, fsaTable *fsa.Table, fraTable *fra.Table) ([]Result, error) {
	var results []Result

	conns.Each(func(i int, s connection.Slot) {
		r := Result{ConnIndex: i}

		// fsa_pos resolution.
		if idx, ok := fsaTable.IndexByHostID(s.HostID); ok {
			r.FSAPos = idx
			s.FSAPos = idx
		} else {
			oldPos := s.FSAPos
			r.FSAPos = fsaTable.Len()
			r.FSAPlaceholder = true
			s.FSAPos = r.FSAPos
			placeholder := placeholderHost(s)
			_ = fsaTable.Resize(fsaTable.Len() + 1)
			fsaTable.Set(r.FSAPos, placeholder)
			// Free the old slot's job_status sub-slot so new work can
			// be dispatched there (spec §4.6 step 2, last sentence).
			if old, err := fsaTable.Get(oldPos); err == nil && s.JobNo >= 0 && s.JobNo < fsa.MaxNoParallelJobs {
				old.JobStatusSlots[s.JobNo].Reset()
				fsaTable.Set(oldPos, old)
			}
		}

		// fra_pos resolution: the dir-ID is parsed out of msg_name's
		// first hex component.
		dirID, ok := parseDirIDFromMsgName(s.MsgName)
		if ok {
			if idx, found := fraTable.IndexByDirID(dirID); found {
				r.FRAPos = idx
				s.FRAPos = idx
			} else {
				r.FRAPos = fraTable.Len()
				r.FRAPlaceholder = true
				s.FRAPos = r.FRAPos
				d := &fra.Dir{DirID: dirID}
				_ = fraTable.Resize(fraTable.Len() + 1)
				fraTable.Set(r.FRAPos, d)
			}
		} else {
			r.FRAPos = -1
		}

		conns.Set(i, s)
		results = append(results, r)
	})

	return results, nil
}

// placeholderHost builds the out-of-range FSA slot policy B writes
// when a host disappears: preserved host_alias/host_id/pid plus sane
// defaults. The worker's msg_name is not stored on the placeholder.
func placeholderHost(s connection.Slot) *fsa.Host {
	h := &fsa.Host{
		HostID:           s.HostID,
		AllowedTransfers: fsa.MaxNoParallelJobs,
		MaxErrors:        fsa.DefaultMaxErrors,
		RetryInterval:    fsa.DefaultRetryInterval,
		BlockSize:        fsa.DefaultTransferBlocksize,
		TransferTimeout:  fsa.DefaultTransferTimeout,
		ActiveTransfers:  1,
	}
	h.SetAlias(s.Hostname)
	for i := range h.JobStatusSlots {
		h.JobStatusSlots[i].Reset()
	}
	if s.JobNo >= 0 && s.JobNo < fsa.MaxNoParallelJobs {
		h.JobStatusSlots[s.JobNo].ProcID = int32(s.PID)
	}
	return h
}

// parseDirIDFromMsgName extracts the creation-time hex component of a
// "<creation_time_hex>_<unique_hex>_<split_hex>" msg_name and reports
// whether it parsed. The dir ID is carried in the msg_name by
// convention of the out-of-scope deposit path; a msg_name that does
// not carry one gives ok==false, and Resync then sets fra_pos to -1
// without faking an FRA slot. A parsed dir ID that is not in the FRA
// gets a faked slot at fra[no_of_dirs].
func parseDirIDFromMsgName(msgNameStr string) (uint32, bool) {
	return msgname.CreationTime(msgNameStr)
}
