// Package fsa implements the Filetransfer Status Area of spec §3/§4.1:
// the per-host shared-memory table of transfer state. Host records
// are plain-old-data (no pointers) so they can be packed directly onto
// the internal/shm backing array and shared by every cooperating
// process.
package fsa

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/holger24/AFD-sub018/internal/shm"
)

// Version is CURRENT_FSA_VERSION: bump whenever the Host layout
// changes incompatibly.
const Version byte = 1

// Fixed-width field lengths (spec §3 "Host (FSA slot)").
const (
	HostAliasLen    = 32
	HostDspNameLen  = 24
	RealHostnameLen = 64
	UniqueNameLen   = 64
	FileNameLen     = 256

	// MaxNoParallelJobs is MAX_NO_PARALLEL_JOBS.
	MaxNoParallelJobs = 10
	// ErrorHistoryLength is ERROR_HISTORY_LENGTH.
	ErrorHistoryLength = 5

	// GroupIdentifier marks a grouping pseudo-host: RealHostname[0][0]
	// holding this sentinel means the slot carries no traffic.
	GroupIdentifier byte = '#'

	NoID int64 = -1
)

// HostToggle selects between the two configured real hostnames.
type HostToggle byte

const (
	HostOne HostToggle = 1
	HostTwo HostToggle = 2
)

// ConnectStatus is the per-job-slot connection state machine.
type ConnectStatus int32

const (
	Disconnect ConnectStatus = iota
	NotWorking
	Connecting
	FTPActive
	SFTPActive
	SCPActive
	HTTPActive
	SMTPActive
	WMOActive
)

// Host status bits (host_status bitset).
const (
	StatusPauseQueue      uint32 = 1 << iota // PAUSE_QUEUE_STAT
	StatusAutoPauseQueue                     // AUTO_PAUSE_QUEUE_STAT
	StatusDangerPauseSpeed                   // DANGER_PAUSE_SPEED_STAT
	StatusNotWorking                         // NOT_WORKING_STAT
	StatusWithErrorQueue                     // WITH_ERROR_QUEUE
	StatusErrorQueueSet                      // ERROR_QUEUE_SET
)

// Defaults used by resync (spec §4.6) and configuration seeding.
const (
	DefaultMaxErrors           int32 = 10
	DefaultRetryInterval       int32 = 120
	DefaultTransferBlocksize   int32 = 4096
	DefaultTransferTimeout     int32 = 120
)

// On toggles
const (
	ToggleOff byte = 0
	ToggleOn  byte = 1
)

// JobStatus is one parallel worker slot of a host (spec §3 "JobStatus").
type JobStatus struct {
	ConnectStatus ConnectStatus
	ProcID        int32
	JobID         int64
	UniqueName    [UniqueNameLen]byte
	NoOfFiles     int32
	NoOfFilesDone int32
	FileSize      int64
	FileSizeDone  int64
	FileNameInUse [FileNameLen]byte
}

// Idle reports whether the slot is unowned, per the spec's invariant:
// proc_id==-1, job_id==NO_ID, unique_name empty, connect_status==DISCONNECT.
func (j *JobStatus) Idle() bool {
	return j.ProcID == -1 && j.JobID == NoID && j.UniqueName[0] == 0 && j.ConnectStatus == Disconnect
}

// Reset idles the slot.
func (j *JobStatus) Reset() {
	*j = JobStatus{ProcID: -1, JobID: NoID, ConnectStatus: Disconnect}
}

// Host is one FSA slot (spec §3 "Host").
type Host struct {
	HostID           uint32
	HostAlias        [HostAliasLen]byte
	HostDspName      [HostDspNameLen]byte
	RealHostname     [2][RealHostnameLen]byte
	HostToggle       HostToggle
	OriginalTogglePos HostToggle
	AllowedTransfers int32
	ActiveTransfers  int32
	ErrorCounter     int32
	TotalErrors      int64
	ErrorHistory     [ErrorHistoryLength]byte
	MaxErrors        int32
	RetryInterval    int32
	LastErrorTime    int64
	HostStatus       uint32
	AutoToggle       byte
	TransferRateLimit int64
	BlockSize        int32
	TransferTimeout  int32
	TotalFileCounter int32
	TotalFileSize    int64
	Protocol         uint32
	JobStatusSlots   [MaxNoParallelJobs]JobStatus
}

// RetrieveFlag marks a host whose protocol includes the pull-style
// retrieve path (spec §4.7: "if the host is a retrieve host").
const RetrieveFlag uint32 = 1 << 30

// IsRetrieveHost reports whether this host's protocol carries the
// retrieve flag.
func (h *Host) IsRetrieveHost() bool { return h.Protocol&RetrieveFlag != 0 }

// RecordSize is the fixed on-disk/on-wire size of one Host record.
var RecordSize = binary.Size(Host{})

func init() {
	if RecordSize <= 0 {
		panic("fsa: Host is not a fixed-size record")
	}
}

// IsGroupIdentifier reports whether this slot is a grouping pseudo-host
// carrying no traffic (spec §3 invariant).
func (h *Host) IsGroupIdentifier() bool {
	return h.RealHostname[0][0] == GroupIdentifier
}

// RetryBlocked reports whether dispatch must be skipped for this host
// because error_counter has crossed max_errors and next_retry
// (last_error_time + retry_interval) has not yet arrived (spec §4.4
// step 4).
func (h *Host) RetryBlocked(now int64) bool {
	if h.MaxErrors <= 0 || h.ErrorCounter < h.MaxErrors {
		return false
	}
	nextRetry := h.LastErrorTime + int64(h.RetryInterval)
	return now < nextRetry
}

// Alias returns the NUL-terminated host_alias as a string.
func (h *Host) Alias() string { return cstr(h.HostAlias[:]) }

// SetAlias writes s into host_alias, truncating to fit.
func (h *Host) SetAlias(s string) { setCStr(h.HostAlias[:], s) }

func cstr(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

func setCStr(b []byte, s string) {
	n := copy(b, s)
	if n < len(b) {
		b[n] = 0
	}
}

// Encode serializes h into its fixed-size wire form.
func (h *Host) Encode() []byte {
	buf := new(bytes.Buffer)
	buf.Grow(RecordSize)
	if err := binary.Write(buf, binary.LittleEndian, h); err != nil {
		panic(fmt.Sprintf("fsa: encode: %v", err))
	}
	return buf.Bytes()
}

// Decode populates h from a RecordSize-length byte slice, such as one
// returned by shm.Map.Record.
func (h *Host) Decode(rec []byte) error {
	if len(rec) != RecordSize {
		return fmt.Errorf("fsa: decode: record is %d bytes, want %d", len(rec), RecordSize)
	}
	return binary.Read(bytes.NewReader(rec), binary.LittleEndian, h)
}

// Table is the attached FSA array.
type Table struct {
	m *shm.Map
}

// Open attaches the FSA backing file.
func Open(path string) (*Table, error) {
	m, err := shm.Attach(path, RecordSize, Version)
	if err != nil {
		return nil, err
	}
	return &Table{m: m}, nil
}

// Create initializes a new, empty FSA backing file.
func Create(path string) error {
	return shm.Create(path, RecordSize, Version)
}

// Close detaches the table.
func (t *Table) Close() error { return t.m.Detach() }

// Fd returns the backing file descriptor, for internal/region locks.
func (t *Table) Fd() int { return t.m.Fd() }

// Len returns the current number of hosts (no_of_hosts).
func (t *Table) Len() int { return t.m.NumElements() }

// Get decodes host i.
func (t *Table) Get(i int) (*Host, error) {
	h := &Host{}
	if err := h.Decode(t.m.Record(i)); err != nil {
		return nil, err
	}
	return h, nil
}

// Set encodes host i in place.
func (t *Table) Set(i int, h *Host) {
	copy(t.m.Record(i), h.Encode())
}

// Resize grows or shrinks the table to n hosts.
func (t *Table) Resize(n int) error { return t.m.Resize(n) }

// IndexByHostID linear-scans for the slot whose HostID matches id,
// mirroring get_host_id_position. A full rewrite would maintain a
// side index, but the FSA is small (tens to low hundreds of hosts) and
// the spec only requires that the lookup resolve, not that it be O(1).
func (t *Table) IndexByHostID(id uint32) (int, bool) {
	for i := 0; i < t.Len(); i++ {
		h, err := t.Get(i)
		if err != nil {
			continue
		}
		if h.HostID == id {
			return i, true
		}
	}
	return 0, false
}

// IndexByAlias is the alias-keyed analogue of IndexByHostID, used by
// the self-check sweep to cross-reference FRA host_alias fields.
func (t *Table) IndexByAlias(alias string) (int, bool) {
	for i := 0; i < t.Len(); i++ {
		h, err := t.Get(i)
		if err != nil {
			continue
		}
		if h.Alias() == alias {
			return i, true
		}
	}
	return 0, false
}
