// Package selfcheck implements check_fsa_entries (spec §4.7): a
// periodic sanity sweep, run under LOCK_CHECK_FSA_ENTRIES, that
// corrects drifted counters on hosts with no queued work.
package selfcheck

import (
	"github.com/holger24/AFD-sub018/internal/fra"
	"github.com/holger24/AFD-sub018/internal/fsa"
	"github.com/holger24/AFD-sub018/internal/logging"
)

// QueuedCounter reports whether any QB entry currently references
// host index i, so the sweep only touches hosts with no queued
// messages (spec §4.7 precondition).
type QueuedCounter func(hostIndex int) bool

// Report summarizes what the sweep corrected, for tests and logging.
type Report struct {
	HostsChecked   int
	HostsCorrected int
	ErrorQueueBitsCleared int
}

// Run sweeps every FSA host with no queued messages and corrects
// drift per spec §4.7.
func Run(fsaTable *fsa.Table, fraTable *fra.Table, hasQueued QueuedCounter, errorQueueHasRetriable func(hostIndex int) bool, log *logging.Logger) (Report, error) {
	var rep Report

	for i := 0; i < fsaTable.Len(); i++ {
		h, err := fsaTable.Get(i)
		if err != nil {
			return rep, err
		}
		if h.IsGroupIdentifier() {
			continue
		}
		if hasQueued(i) {
			continue
		}
		rep.HostsChecked++

		corrected := false

		if h.ActiveTransfers != 0 {
			h.ActiveTransfers = 0
			corrected = true
			if h.IsRetrieveHost() {
				clearMatchingFRAQueued(fraTable, h.Alias())
			}
		}
		if h.TotalFileCounter != 0 {
			h.TotalFileCounter = 0
			corrected = true
		}
		if h.TotalFileSize != 0 {
			h.TotalFileSize = 0
			corrected = true
		}
		if h.ErrorCounter != 0 {
			h.ErrorCounter = 0
			corrected = true
		}
		for j := 0; j < fsa.ErrorHistoryLength && j < 3; j++ {
			if h.ErrorHistory[j] != 0 {
				h.ErrorHistory[j] = 0
				corrected = true
			}
		}
		for j := range h.JobStatusSlots {
			if !h.JobStatusSlots[j].Idle() {
				h.JobStatusSlots[j].Reset()
				corrected = true
			}
		}

		if h.AllowedTransfers > fsa.MaxNoParallelJobs {
			for j := 0; j < fsa.MaxNoParallelJobs; j++ {
				h.JobStatusSlots[j].Reset()
			}
			corrected = true
			if log != nil {
				log.Host(h.Alias()).Warnf("allowed_transfers %d exceeds MAX_NO_PARALLEL_JOBS %d, slots reset", h.AllowedTransfers, fsa.MaxNoParallelJobs)
			}
		}

		if h.HostStatus&fsa.StatusErrorQueueSet != 0 && !errorQueueHasRetriable(i) {
			h.HostStatus &^= fsa.StatusErrorQueueSet
			corrected = true
			rep.ErrorQueueBitsCleared++
		}

		if corrected {
			rep.HostsCorrected++
			fsaTable.Set(i, h)
			if log != nil {
				log.Host(h.Alias()).Warn("fsa self-check corrected drifted counters")
			}
		}
	}

	return rep, nil
}

func clearMatchingFRAQueued(fraTable *fra.Table, hostAlias string) {
	for i := 0; i < fraTable.Len(); i++ {
		d, err := fraTable.Get(i)
		if err != nil {
			continue
		}
		if d.HostAliasStr() == hostAlias && d.Queued != 0 {
			d.Queued = 0
			fraTable.Set(i, d)
		}
	}
}
